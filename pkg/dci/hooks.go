// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package dci

import (
	"context"
	"fmt"

	"github.com/jllopis/ensemble/pkg/behavior"
	"github.com/jllopis/ensemble/pkg/errors"
)

// MapFunc returns the player recorded for a role in place of the one assigned.
type MapFunc func(ctx context.Context, c *Context, p any) (any, error)

// ApplyFunc composes b onto p in place of the role's strategy.
type ApplyFunc func(ctx context.Context, c *Context, b *behavior.Behavior, p any) (any, error)

// RemoveFunc undoes an ApplyFunc and returns the restored player.
type RemoveFunc func(ctx context.Context, c *Context, b *behavior.Behavior, composed any) any

// RoleHooks customizes how one role is mapped, composed and restored. Nil
// fields keep the default behavior. Expanded collection members use the
// hooks of their singular role.
type RoleHooks struct {
	Map    MapFunc
	Apply  ApplyFunc
	Remove RemoveFunc
}

// Initializer runs once a context's roles are mapped, before any behavior is
// composed. It runs again on Rebind.
type Initializer func(ctx context.Context, c *Context) error

// WithInitializer adds fn to the initializers run when a context is built.
func WithInitializer(fn Initializer) Option {
	return func(t *Type) error {
		if fn != nil {
			t.initializers = append(t.initializers, fn)
		}
		return nil
	}
}

// WithStrictRoles rejects contexts built without an assignment for every
// declared role.
func WithStrictRoles() Option {
	return func(t *Type) error {
		t.strictRoles = true
		return nil
	}
}

// Hooks installs h for role. Hooks on an undeclared role are an error when the
// type declares roles.
func (t *Type) Hooks(role string, h RoleHooks) error {
	if role == "" {
		return t.scope(errors.New(errors.CodeInvalidInput, "role name is required", nil))
	}
	if len(t.roles) > 0 && !t.declares(role) {
		return t.scope(errors.New(errors.CodeInvalidRole,
			fmt.Sprintf("role '%s' is not declared by %s", role, t.name), nil).WithContext("role", role))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks[role] = h
	return nil
}

func (t *Type) declares(role string) bool {
	for _, r := range t.roles {
		if r == role {
			return true
		}
	}
	return false
}

func (t *Type) hooksFor(role string) RoleHooks {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hooks[role]
}

func (c *Context) hooksFor(role string) RoleHooks {
	if singular, ok := c.members[role]; ok {
		return c.typ.hooksFor(singular)
	}
	return c.typ.hooksFor(role)
}

// mapPlayer runs the role's Map hook, if any.
func (c *Context) mapPlayer(ctx context.Context, role string, p any) (any, error) {
	h := c.hooksFor(role)
	if h.Map == nil {
		return p, nil
	}
	mapped, err := h.Map(ctx, c, p)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidRole, fmt.Sprintf("mapping role '%s' failed", role), err).
			WithContext("role", role)
	}
	return mapped, nil
}

func (c *Context) apply(ctx context.Context, role string, p any, b *behavior.Behavior, s behavior.Strategy) (any, error) {
	if h := c.hooksFor(role); h.Apply != nil {
		composed, err := h.Apply(ctx, c, b, p)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidRoleType,
				fmt.Sprintf("applying '%s' to role '%s' failed", b.Name, role), err).
				WithContext("role", role)
		}
		return composed, nil
	}
	return c.typ.applicator.Apply(ctx, p, b, c.binding(s))
}

func (c *Context) remove(ctx context.Context, role string, composed any, b *behavior.Behavior, s behavior.Strategy) any {
	if h := c.hooksFor(role); h.Remove != nil {
		return h.Remove(ctx, c, b, composed)
	}
	return c.typ.applicator.Remove(composed, b, c.binding(s))
}

// SetValue stores v under key for the life of the context. Initializers use
// it to prepare state for actions.
func (c *Context) SetValue(key string, v any) {
	c.valuesMu.Lock()
	defer c.valuesMu.Unlock()
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = v
}

// Value returns the value stored under key.
func (c *Context) Value(key string) (any, bool) {
	c.valuesMu.RLock()
	defer c.valuesMu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}
