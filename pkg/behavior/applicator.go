// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package behavior

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jllopis/ensemble/pkg/errors"
	"github.com/jllopis/ensemble/pkg/player"
)

// Binding tells the Applicator how and for whom a behavior is composed.
type Binding struct {
	Strategy Strategy
	// Scope resolves sibling roles for operations of extended and wrapped players.
	Scope player.Scope
	// Owner identifies the composing context. Extension layers are keyed by
	// behavior name and owner so one player can be extended by nested contexts.
	Owner string
}

// Applicator composes behaviors onto players and removes them again.
type Applicator struct {
	Logger *slog.Logger
}

// NewApplicator returns an Applicator logging to logger, or slog.Default() when nil.
func NewApplicator(logger *slog.Logger) *Applicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applicator{Logger: logger}
}

func (a *Applicator) logger() *slog.Logger {
	if a == nil || a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// Apply composes b onto p. A nil behavior leaves p untouched. The only error
// is an INVALID_ROLE_TYPE raised when a behavior's constructor fails.
func (a *Applicator) Apply(ctx context.Context, p any, b *Behavior, bind Binding) (any, error) {
	if b == nil || p == nil {
		return p, nil
	}
	strategy := Resolve(bind.Strategy, Unset)
	if b.Construct != nil && strategy == Wrap {
		composed, err := b.Construct(ctx, p)
		if err != nil {
			return p, errors.New(errors.CodeInvalidRoleType,
				fmt.Sprintf("behavior '%s' could not construct its player", b.Name), err).
				WithContext("behavior", b.Name)
		}
		return composed, nil
	}

	switch strategy {
	case Extend:
		ext, ok := p.(player.Extensible)
		if !ok {
			a.logger().Debug("player is not extensible, behavior skipped",
				"behavior", b.Name, "player_type", fmt.Sprintf("%T", p))
			return p, nil
		}
		ext.Extend(a.layer(ext, b, bind))
		return p, nil
	case Wrap:
		return NewWrapper(p, b, bind.Scope), nil
	case Negotiate:
		return NewNegotiator(p, b), nil
	}
	return p, nil
}

// Remove reverses Apply and returns the restored player.
func (a *Applicator) Remove(composed any, b *Behavior, bind Binding) any {
	if b == nil || composed == nil {
		return composed
	}
	switch c := composed.(type) {
	case *Wrapper:
		return c.Unwrap()
	case *Negotiator:
		return c.Unwrap()
	}
	if ext, ok := composed.(player.Extensible); ok && Resolve(bind.Strategy, Unset) == Extend {
		ext.Retract(layerID(b, bind.Owner))
		return composed
	}
	return player.Unwrap(composed)
}

func layerID(b *Behavior, owner string) string {
	if owner == "" {
		return b.Name
	}
	return b.Name + "@" + owner
}

func (a *Applicator) layer(self player.Extensible, b *Behavior, bind Binding) player.Layer {
	methods := make(map[string]player.LayerMethod, len(b.Ops))
	for name, op := range b.Ops {
		methods[name] = func(ctx context.Context, next player.Next, args ...any) (any, error) {
			return op(&Call{
				Context: ctx,
				Op:      name,
				Args:    args,
				Self:    self,
				Player:  self,
				super:   next,
				scope:   bind.Scope,
			})
		}
	}
	return player.Layer{ID: layerID(b, bind.Owner), Methods: methods}
}
