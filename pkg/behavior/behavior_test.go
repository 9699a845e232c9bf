// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package behavior

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	ensembleerrors "github.com/jllopis/ensemble/pkg/errors"
	"github.com/jllopis/ensemble/pkg/player"
)

type frozenUser struct{ name string }

func (u frozenUser) Name() string { return u.name }

// fixedScope authorizes exactly one asker.
type fixedScope struct {
	asker any
	roles map[string]any
}

func (s *fixedScope) Role(_ context.Context, asker any, name string) (any, bool) {
	if !player.Same(asker, s.asker) {
		return nil, false
	}
	v, ok := s.roles[name]
	return v, ok
}

func adminBehavior() *Behavior {
	return New("Admin").
		Op("admin_method", func(c *Call) (any, error) {
			name, err := c.SendSelf("name")
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("hello from %v, the admin", name), nil
		}).
		Op("name", func(c *Call) (any, error) {
			base, err := c.Super()
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Admin %v", base), nil
		}).
		Build()
}

func TestParseStrategy(t *testing.T) {
	tests := map[string]Strategy{
		"":          Unset,
		"extend":    Extend,
		"module":    Extend,
		"Wrap":      Wrap,
		"wrapper":   Wrap,
		"negotiate": Negotiate,
		"interface": Negotiate,
	}
	for in, want := range tests {
		got, err := ParseStrategy(in)
		if err != nil {
			t.Fatalf("ParseStrategy(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseStrategy(%q) = %v, want %v", in, got, want)
		}
	}

	_, err := ParseStrategy("barf")
	if !errors.Is(err, ensembleerrors.ErrInvalidRoleType) {
		t.Fatalf("expected INVALID_ROLE_TYPE, got %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Fatalf("INVALID_ROLE_TYPE must carry its cause")
	}
}

func TestResolveAndDefault(t *testing.T) {
	if got := Resolve(Wrap, Negotiate); got != Wrap {
		t.Fatalf("override must win, got %v", got)
	}
	if got := Resolve(Unset, Negotiate); got != Negotiate {
		t.Fatalf("type default must win over global, got %v", got)
	}
	if got := Resolve(Unset, Unset); got != DefaultStrategy() {
		t.Fatalf("expected global default, got %v", got)
	}

	prev := DefaultStrategy()
	t.Cleanup(func() { _ = SetDefaultStrategy(prev) })
	if err := SetDefaultStrategy(Wrap); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if got := Resolve(Unset, Unset); got != Wrap {
		t.Fatalf("expected wrap after changing the default, got %v", got)
	}
	if err := SetDefaultStrategy("bogus"); !errors.Is(err, ensembleerrors.ErrInvalidRoleType) {
		t.Fatalf("expected INVALID_ROLE_TYPE, got %v", err)
	}
}

func TestExtendRoundTrip(t *testing.T) {
	ctx := context.Background()
	app := NewApplicator(nil)
	obj := player.NewObject(map[string]any{"name": "Jim"})
	before := obj.Operations()

	b := adminBehavior()
	bind := Binding{Strategy: Extend, Owner: "ctx-1"}
	composed, err := app.Apply(ctx, obj, b, bind)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if composed != any(obj) {
		t.Fatalf("extension must keep the player's identity")
	}

	got, err := player.Send(ctx, composed, "admin_method")
	if err != nil {
		t.Fatalf("admin_method: %v", err)
	}
	if got != "hello from Admin Jim, the admin" {
		t.Fatalf("unexpected result: %v", got)
	}

	restored := app.Remove(composed, b, bind)
	if restored != any(obj) {
		t.Fatalf("remove must return the same player")
	}
	if diff := cmp.Diff(before, obj.Operations()); diff != "" {
		t.Fatalf("surface not restored (-want +got):\n%s", diff)
	}
	if got, _ := player.Send(ctx, obj, "name"); got != "Jim" {
		t.Fatalf("expected base name after removal, got %v", got)
	}
}

func TestExtendNonExtensibleIsNoop(t *testing.T) {
	app := NewApplicator(nil)
	u := frozenUser{name: "Jim"}
	composed, err := app.Apply(context.Background(), u, adminBehavior(), Binding{Strategy: Extend})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if composed != any(u) {
		t.Fatalf("non-extensible players must be returned unchanged")
	}
	if player.RespondsTo(composed, "admin_method") {
		t.Fatalf("no-op composition must not add operations")
	}
}

func TestWrapRoundTrip(t *testing.T) {
	ctx := context.Background()
	app := NewApplicator(nil)
	u := &frozenUser{name: "Jim"}
	b := adminBehavior()
	bind := Binding{Strategy: Wrap}

	composed, err := app.Apply(ctx, u, b, bind)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	w, ok := composed.(*Wrapper)
	if !ok {
		t.Fatalf("expected *Wrapper, got %T", composed)
	}
	if w.Behavior() != "Admin" {
		t.Fatalf("unexpected behavior name %q", w.Behavior())
	}

	got, err := player.Send(ctx, w, "admin_method")
	if err != nil {
		t.Fatalf("admin_method: %v", err)
	}
	if got != "hello from Admin Jim, the admin" {
		t.Fatalf("unexpected result: %v", got)
	}
	if player.RespondsTo(u, "admin_method") {
		t.Fatalf("wrapping must not touch the player")
	}

	restored := app.Remove(composed, b, bind)
	if restored != any(u) {
		t.Fatalf("remove must return the original player")
	}
}

func TestWrapperDelegatesUnknownOperations(t *testing.T) {
	w := NewWrapper(&frozenUser{name: "Amy"}, New("Empty").Build(), nil)
	got, err := w.Send(context.Background(), "name")
	if err != nil {
		t.Fatalf("delegated name: %v", err)
	}
	if got != "Amy" {
		t.Fatalf("expected Amy, got %v", got)
	}
	if _, err := w.Send(context.Background(), "missing"); !errors.Is(err, ensembleerrors.ErrNoMethod) {
		t.Fatalf("expected NO_METHOD, got %v", err)
	}
}

func TestWrapperResolvesSiblingsAsItself(t *testing.T) {
	task := &frozenUser{name: "GTD"}
	b := New("Admin").Op("talking_to_others", func(c *Call) (any, error) {
		return c.SendRole("task", "name")
	}).Build()

	scope := &fixedScope{roles: map[string]any{"task": task}}
	w := NewWrapper(&frozenUser{name: "Jim"}, b, scope)
	scope.asker = w

	got, err := w.Send(context.Background(), "talking_to_others")
	if err != nil {
		t.Fatalf("talking_to_others: %v", err)
	}
	if got != "GTD" {
		t.Fatalf("expected GTD, got %v", got)
	}

	scope.asker = "someone else"
	if _, err := w.Send(context.Background(), "talking_to_others"); !errors.Is(err, ensembleerrors.ErrInvalidRole) {
		t.Fatalf("unauthorized asker must not reach siblings, got %v", err)
	}
}

func TestNegotiator(t *testing.T) {
	ctx := context.Background()
	u := &frozenUser{name: "Jim"}
	b := New("Admin").
		Op("some_admin_method", func(c *Call) (any, error) {
			name, err := c.SendSelf("name")
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("hello from %v, the admin interface!", name), nil
		}).
		Op("talking_to_others", func(c *Call) (any, error) {
			return c.SendRole("task", "name")
		}).
		Build()

	app := NewApplicator(nil)
	composed, err := app.Apply(ctx, u, b, Binding{
		Strategy: Negotiate,
		Scope:    &fixedScope{asker: u, roles: map[string]any{"task": u}},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	n, ok := composed.(*Negotiator)
	if !ok {
		t.Fatalf("expected *Negotiator, got %T", composed)
	}

	got, err := n.Send(ctx, "some_admin_method")
	if err != nil {
		t.Fatalf("some_admin_method: %v", err)
	}
	if got != "hello from Jim, the admin interface!" {
		t.Fatalf("unexpected result: %v", got)
	}
	if got, _ := n.Send(ctx, "name"); got != "Jim" {
		t.Fatalf("negotiator must forward player operations, got %v", got)
	}
	if _, err := n.Send(ctx, "method_that_does_not_exist"); !errors.Is(err, ensembleerrors.ErrNoMethod) {
		t.Fatalf("expected NO_METHOD, got %v", err)
	}
	if _, err := n.Send(ctx, "talking_to_others"); !errors.Is(err, ensembleerrors.ErrInvalidRole) {
		t.Fatalf("negotiated operations must be blind to the context, got %v", err)
	}
	if !n.RespondsTo("some_admin_method") || !n.RespondsTo("name") || n.RespondsTo("fly") {
		t.Fatalf("unexpected negotiator surface")
	}
	if app.Remove(n, b, Binding{Strategy: Negotiate}) != any(u) {
		t.Fatalf("remove must discard the negotiator")
	}
}

func TestConstruct(t *testing.T) {
	ctx := context.Background()
	app := NewApplicator(nil)
	type badge struct{ holder any }

	ok := New("Badge").Strategy(Wrap).Construct(func(_ context.Context, p any) (any, error) {
		return &badge{holder: p}, nil
	}).Build()
	composed, err := app.Apply(ctx, "Jim", ok, Binding{Strategy: Wrap})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if b, isBadge := composed.(*badge); !isBadge || b.holder != "Jim" {
		t.Fatalf("expected constructed badge, got %#v", composed)
	}

	cause := errors.New("cannot build")
	failing := New("Broken").Strategy(Wrap).Construct(func(context.Context, any) (any, error) {
		return nil, cause
	}).Build()
	composed, err = app.Apply(ctx, "Jim", failing, Binding{Strategy: Wrap})
	if !errors.Is(err, ensembleerrors.ErrInvalidRoleType) || !errors.Is(err, cause) {
		t.Fatalf("expected INVALID_ROLE_TYPE wrapping the cause, got %v", err)
	}
	if composed != "Jim" {
		t.Fatalf("failed construction must leave the player untouched")
	}
}

func TestApplyNilBehavior(t *testing.T) {
	app := NewApplicator(nil)
	got, err := app.Apply(context.Background(), "bare", nil, Binding{Strategy: Wrap})
	if err != nil || got != "bare" {
		t.Fatalf("bare roles must be returned as-is, got %v, %v", got, err)
	}
	if app.Remove("bare", nil, Binding{}) != "bare" {
		t.Fatalf("removing nothing must return the player")
	}
}

func TestCallHelpers(t *testing.T) {
	c := &Call{Context: context.Background(), Op: "x", Args: []any{1, "two"}}
	if c.Arg(1) != "two" || c.Arg(5) != nil || c.Arg(-1) != nil {
		t.Fatalf("unexpected Arg results")
	}
	if _, err := c.Super(); !errors.Is(err, ensembleerrors.ErrNoMethod) {
		t.Fatalf("expected NO_METHOD for missing super, got %v", err)
	}
	if _, ok := c.Role("anything"); ok {
		t.Fatalf("a call without scope resolves nothing")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(adminBehavior(), New("Member").Build()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(New("Admin").Build()); !errors.Is(err, ensembleerrors.ErrInvalidInput) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := r.Register(&Behavior{}); !errors.Is(err, ensembleerrors.ErrInvalidInput) {
		t.Fatalf("expected missing-name error, got %v", err)
	}
	if b, ok := r.Get("Admin"); !ok || !b.Has("admin_method") {
		t.Fatalf("expected Admin behavior")
	}
	if diff := cmp.Diff([]string{"Admin", "Member"}, r.Names()); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}
	var nilRegistry *Registry
	if _, ok := nilRegistry.Get("Admin"); ok {
		t.Fatalf("nil registry holds nothing")
	}
}
