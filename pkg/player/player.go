// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

// Package player defines the protocol the engine uses to talk to role players.
//
// A player is any value supplied by the host application. Values that
// implement Receiver answer operations by name; every other value is driven
// through its exported method set. Players that implement Extensible can be
// extended in place, everything else is composed by wrapping or negotiation.
package player

import (
	"context"
	"reflect"

	"github.com/jllopis/ensemble/pkg/errors"
)

// Receiver answers operations by name.
type Receiver interface {
	Send(ctx context.Context, op string, args ...any) (any, error)
	RespondsTo(op string) bool
}

// Unwrapper is implemented by composed players that hold an original player.
type Unwrapper interface {
	Unwrap() any
}

// Scope resolves sibling roles for an asking object. Implementations must
// refuse askers that are not current role players of the scope.
type Scope interface {
	Role(ctx context.Context, asker any, name string) (any, bool)
}

// NullScope is the scope seen when no context is active. It never finds a role.
type NullScope struct{}

// Role always reports not found.
func (NullScope) Role(context.Context, any, string) (any, bool) { return nil, false }

// maxUnwrap bounds Unwrap chains so a cyclic composition cannot spin forever.
const maxUnwrap = 64

// Send invokes op on target. Receivers handle the call themselves; other
// values are dispatched to the exported method matching op.
func Send(ctx context.Context, target any, op string, args ...any) (any, error) {
	if target == nil {
		return nil, errors.New(errors.CodeNoMethod, "undefined operation '"+op+"' for nil", nil).
			WithContext("operation", op)
	}
	if r, ok := target.(Receiver); ok {
		return r.Send(ctx, op, args...)
	}
	return callMethod(ctx, target, op, args)
}

// RespondsTo reports whether target answers op.
func RespondsTo(target any, op string) bool {
	if target == nil {
		return false
	}
	if r, ok := target.(Receiver); ok {
		return r.RespondsTo(op)
	}
	return hasMethod(target, op)
}

// Unwrap follows the Unwrapper chain of v and returns the innermost player.
func Unwrap(v any) any {
	for i := 0; i < maxUnwrap; i++ {
		u, ok := v.(Unwrapper)
		if !ok {
			return v
		}
		next := u.Unwrap()
		if next == nil {
			return v
		}
		v = next
	}
	return v
}

// Same reports whether a and b are the same player. Pointers, maps, channels,
// funcs and slices compare by identity, other comparable values by equality.
// It never panics.
func Same(a, b any) (same bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	switch ta.Kind() {
	case reflect.Slice:
		va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	case reflect.Map, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	if !ta.Comparable() {
		return false
	}
	return a == b
}

// Members returns the elements of a collection player (slice or array) and
// true, or nil and false when v is not a collection.
func Members(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
	default:
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
