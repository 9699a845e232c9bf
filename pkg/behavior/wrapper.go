// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package behavior

import (
	"context"
	"fmt"
	"sort"

	"github.com/jllopis/ensemble/pkg/player"
)

// Wrapper answers a behavior's operations and delegates every other
// operation to the player it holds. The player itself is never modified.
type Wrapper struct {
	base     any
	behavior *Behavior
	scope    player.Scope
}

var (
	_ player.Receiver  = (*Wrapper)(nil)
	_ player.Unwrapper = (*Wrapper)(nil)
)

// NewWrapper wraps p with b. scope may be nil.
func NewWrapper(p any, b *Behavior, scope player.Scope) *Wrapper {
	if scope == nil {
		scope = player.NullScope{}
	}
	return &Wrapper{base: p, behavior: b, scope: scope}
}

// Send runs the behavior's operation for op, or delegates to the player.
func (w *Wrapper) Send(ctx context.Context, op string, args ...any) (any, error) {
	fn, ok := w.behavior.Ops[op]
	if !ok {
		return player.Send(ctx, w.base, op, args...)
	}
	return fn(&Call{
		Context: ctx,
		Op:      op,
		Args:    args,
		Self:    w,
		Player:  w.base,
		super: func(ctx context.Context, args ...any) (any, error) {
			return player.Send(ctx, w.base, op, args...)
		},
		scope: w.scope,
	})
}

// RespondsTo reports whether op is a behavior operation or answered by the player.
func (w *Wrapper) RespondsTo(op string) bool {
	return w.behavior.Has(op) || player.RespondsTo(w.base, op)
}

// Unwrap returns the wrapped player.
func (w *Wrapper) Unwrap() any { return w.base }

// Behavior returns the behavior name.
func (w *Wrapper) Behavior() string { return w.behavior.Name }

// Operations lists the behavior operations together with the player's own
// surface when the player can enumerate it.
func (w *Wrapper) Operations() []string {
	seen := make(map[string]struct{})
	for _, op := range w.behavior.Operations() {
		seen[op] = struct{}{}
	}
	if lister, ok := w.base.(interface{ Operations() []string }); ok {
		for _, op := range lister.Operations() {
			seen[op] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for op := range seen {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

func (w *Wrapper) String() string {
	return fmt.Sprintf("%s(%v)", w.behavior.Name, w.base)
}
