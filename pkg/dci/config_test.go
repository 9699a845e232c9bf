// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package dci

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/ensemble/pkg/behavior"
	"github.com/jllopis/ensemble/pkg/collision"
	"github.com/jllopis/ensemble/pkg/config"
	"github.com/jllopis/ensemble/pkg/errors"
)

func greeterRegistry(t *testing.T) *behavior.Registry {
	t.Helper()
	reg := behavior.NewRegistry()
	if err := reg.Register(greeterBehavior()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func TestFromConfig(t *testing.T) {
	def := config.ContextConfig{
		Name:            "Greeting",
		Policy:          "on_trigger",
		OnNameCollision: "raise",
		Roles: []config.RoleConfig{
			{Name: "user", Behavior: "User", Strategy: "wrap"},
			{Name: "other"},
		},
		Forward: []config.ForwardConfig{
			{Trigger: "greet", Role: "user", Op: "say_hello_to"},
			{Trigger: "name", Role: "other"},
		},
	}
	typ, err := FromConfig(def, greeterRegistry(t), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if diff := cmp.Diff([]string{"user", "other"}, typ.Roles()); diff != "" {
		t.Fatalf("unexpected roles (-want +got):\n%s", diff)
	}
	if _, s, ok := typ.Behavior("user"); !ok || s != behavior.Wrap {
		t.Fatalf("expected wrap override, got %v %v", s, ok)
	}
	if target, _ := typ.Forwarded("name"); target != "other.name" {
		t.Fatalf("op must default to the trigger name, got %q", target)
	}

	ctx := context.Background()
	c, err := typ.New(ctx, Assign("user", &frozen{name: "Jim"}), Assign("other", &frozen{name: "Guille"}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, err := c.Invoke(ctx, "greet"); err != nil || got != "Hi Guille, I am Jim" {
		t.Fatalf("greet: %v, %v", got, err)
	}
	if got, err := c.Invoke(ctx, "name"); err != nil || got != "Guille" {
		t.Fatalf("name: %v, %v", got, err)
	}

	_, err = typ.New(ctx, Assign("user", person("Jim").Define("other", nil)))
	if !errors.Is(err, typ.Errors().NameCollision) {
		t.Fatalf("raise policy must be installed, got %v", err)
	}
}

func TestFromConfigCallerOptionsWin(t *testing.T) {
	def := config.ContextConfig{
		Name:            "Greeting",
		OnNameCollision: "ignore",
		StrictRoles:     true,
		Roles:           []config.RoleConfig{{Name: "user", Behavior: "User"}, {Name: "other"}},
	}
	var handled []string
	h := collision.HandlerFunc(func(role string, collisions []string) error {
		handled = append(handled, collision.Message(role, collisions))
		return nil
	})
	typ, err := FromConfig(def, greeterRegistry(t), WithLogger(quietLogger()), WithCollisionHandler(h))
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if !typ.StrictRoles() {
		t.Fatalf("strict_roles must be applied")
	}

	ctx := context.Background()
	user := person("Jim").Define("other", nil)
	if _, err := typ.New(ctx, Assign("user", user), Assign("other", person("Guille"))); err != nil {
		t.Fatalf("New: %v", err)
	}
	if diff := cmp.Diff([]string{"user has name collisions with [other]"}, handled); diff != "" {
		t.Fatalf("the caller's collision handler must run (-want +got):\n%s", diff)
	}
}

func TestFromConfigCollisionPolicyLogsThroughTypeLogger(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	def := config.ContextConfig{
		Name:            "Greeting",
		OnNameCollision: "warn",
		Roles:           []config.RoleConfig{{Name: "user", Behavior: "User"}, {Name: "other"}},
	}
	typ, err := FromConfig(def, greeterRegistry(t), WithLogger(logger))
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, err := typ.New(context.Background(), Assign("user", person("Jim").Define("other", nil))); err != nil {
		t.Fatalf("warn must not fail construction, got %v", err)
	}
	if !strings.Contains(buf.String(), "user has name collisions with [other]") {
		t.Fatalf("warning not logged through the type logger: %q", buf.String())
	}
}

func TestFromConfigErrors(t *testing.T) {
	reg := greeterRegistry(t)
	tests := []struct {
		name string
		def  config.ContextConfig
		want *errors.EnsembleError
		msg  string
	}{
		{
			name: "bad policy",
			def:  config.ContextConfig{Name: "A", Policy: "sometimes"},
			want: errors.Scoped(errors.CodeInvalidInput, "A"),
		},
		{
			name: "bad strategy",
			def:  config.ContextConfig{Name: "B", Strategy: "inheritance"},
			want: errors.Scoped(errors.CodeInvalidRoleType, "B"),
		},
		{
			name: "unknown behavior",
			def:  config.ContextConfig{Name: "C", Roles: []config.RoleConfig{{Name: "user", Behavior: "Ghost"}}},
			want: errors.Scoped(errors.CodeInvalidRoleType, "C"),
			msg:  "unknown behavior 'Ghost'",
		},
		{
			name: "bad collision handler",
			def:  config.ContextConfig{Name: "D", OnNameCollision: "explode"},
			want: errors.Scoped(errors.CodeInvalidInput, "D"),
			msg:  "no handler of that name",
		},
		{
			name: "reserved forward",
			def:  config.ContextConfig{Name: "E", Forward: []config.ForwardConfig{{Trigger: "id", Role: "user", Op: "__id__"}}},
			want: errors.Scoped(errors.CodeInvalidInput, "E"),
			msg:  "you may not forward",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromConfig(tt.def, reg, WithLogger(quietLogger()))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want.Code, err)
			}
			if tt.msg != "" && !strings.Contains(err.Error(), tt.msg) {
				t.Fatalf("expected message containing %q, got %v", tt.msg, err)
			}
		})
	}
}

func TestTypesFromConfig(t *testing.T) {
	cfg := &config.Config{Contexts: []config.ContextConfig{
		{Name: "Greeting", Roles: []config.RoleConfig{{Name: "user", Behavior: "User"}, {Name: "other"}}},
		{Name: "Meeting", Policy: "on_initialize", EastOriented: true},
	}}
	types, err := TypesFromConfig(cfg, greeterRegistry(t), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("TypesFromConfig: %v", err)
	}
	if len(types) != 2 || types["Meeting"].Policy() != OnInitialize || !types["Meeting"].EastOriented() {
		t.Fatalf("unexpected types %v", types)
	}

	cfg.Contexts = append(cfg.Contexts, config.ContextConfig{Name: "Broken", Policy: "never"})
	if _, err := TypesFromConfig(cfg, greeterRegistry(t)); err == nil || !strings.Contains(err.Error(), "context Broken") {
		t.Fatalf("expected error naming the context, got %v", err)
	}
}

func TestApplyEngine(t *testing.T) {
	prev := behavior.DefaultStrategy()
	t.Cleanup(func() { _ = behavior.SetDefaultStrategy(prev) })

	if err := ApplyEngine(config.EngineConfig{DefaultStrategy: "negotiate"}); err != nil {
		t.Fatalf("ApplyEngine: %v", err)
	}
	if behavior.DefaultStrategy() != behavior.Negotiate {
		t.Fatalf("default strategy not applied")
	}
	if err := ApplyEngine(config.EngineConfig{}); err != nil || behavior.DefaultStrategy() != behavior.Negotiate {
		t.Fatalf("empty engine config must keep the current default")
	}
	if err := ApplyEngine(config.EngineConfig{DefaultStrategy: "inheritance"}); !errors.Is(err, errors.ErrInvalidRoleType) {
		t.Fatalf("expected INVALID_ROLE_TYPE, got %v", err)
	}
}
