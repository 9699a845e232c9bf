// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package behavior

import (
	"context"
	"fmt"

	"github.com/jllopis/ensemble/pkg/player"
)

// Negotiator is a minimal proxy exposing only a behavior's operations, each
// bound to one player when the proxy is built. Other operations fall through
// to the player. A Negotiator holds no reference to any context, so its
// operations cannot resolve sibling roles.
type Negotiator struct {
	player   any
	behavior string
	bound    map[string]player.Next
}

var (
	_ player.Receiver  = (*Negotiator)(nil)
	_ player.Unwrapper = (*Negotiator)(nil)
)

// NewNegotiator binds every operation of b to p.
func NewNegotiator(p any, b *Behavior) *Negotiator {
	n := &Negotiator{
		player:   p,
		behavior: b.Name,
		bound:    make(map[string]player.Next, len(b.Ops)),
	}
	for name, op := range b.Ops {
		n.bound[name] = func(ctx context.Context, args ...any) (any, error) {
			return op(&Call{
				Context: ctx,
				Op:      name,
				Args:    args,
				Self:    p,
				Player:  p,
				super: func(ctx context.Context, args ...any) (any, error) {
					return player.Send(ctx, p, name, args...)
				},
				scope: player.NullScope{},
			})
		}
	}
	return n
}

// Send runs the bound operation for op, or forwards op to the player.
func (n *Negotiator) Send(ctx context.Context, op string, args ...any) (any, error) {
	if fn, ok := n.bound[op]; ok {
		return fn(ctx, args...)
	}
	return player.Send(ctx, n.player, op, args...)
}

// RespondsTo reports whether op is bound or answered by the player.
func (n *Negotiator) RespondsTo(op string) bool {
	if _, ok := n.bound[op]; ok {
		return true
	}
	return player.RespondsTo(n.player, op)
}

// Unwrap returns the player.
func (n *Negotiator) Unwrap() any { return n.player }

// Behavior returns the negotiated behavior name.
func (n *Negotiator) Behavior() string { return n.behavior }

func (n *Negotiator) String() string {
	return fmt.Sprintf("%sInterface(%v)", n.behavior, n.player)
}
