// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package dci

import (
	"context"

	"github.com/jllopis/ensemble/pkg/player"
)

type stackKey struct{}

type frame struct {
	ctx  *Context
	next *frame
}

// WithActive pushes c onto the active-context stack carried by ctx. The stack
// is immutable: the parent ctx keeps seeing its own stack, so leaving the
// scope of the returned context is the pop.
func WithActive(ctx context.Context, c *Context) context.Context {
	if c == nil {
		return ctx
	}
	top, _ := ctx.Value(stackKey{}).(*frame)
	return context.WithValue(ctx, stackKey{}, &frame{ctx: c, next: top})
}

// Active returns the most recently pushed context of ctx, or a scope that
// never finds a role when no context is active.
func Active(ctx context.Context) player.Scope {
	if ctx == nil {
		return player.NullScope{}
	}
	if top, ok := ctx.Value(stackKey{}).(*frame); ok && top != nil {
		return top.ctx
	}
	return player.NullScope{}
}

// Stack lists the active contexts of ctx, most recent first.
func Stack(ctx context.Context) []*Context {
	if ctx == nil {
		return nil
	}
	var out []*Context
	top, _ := ctx.Value(stackKey{}).(*frame)
	for f := top; f != nil; f = f.next {
		out = append(out, f.ctx)
	}
	return out
}

// Resolve asks the active context of ctx for role name on behalf of asker.
func Resolve(ctx context.Context, asker any, name string) (any, bool) {
	return Active(ctx).Role(ctx, asker, name)
}
