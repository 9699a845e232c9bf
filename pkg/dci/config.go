// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package dci

import (
	"fmt"

	"github.com/jllopis/ensemble/pkg/behavior"
	"github.com/jllopis/ensemble/pkg/collision"
	"github.com/jllopis/ensemble/pkg/config"
	"github.com/jllopis/ensemble/pkg/errors"
)

// FromConfig builds a Type from a declarative context definition. Role
// behaviors are looked up by name in registry; a role without a behavior is
// bare. opts are applied after the definition's own settings.
func FromConfig(def config.ContextConfig, registry *behavior.Registry, opts ...Option) (*Type, error) {
	policy, err := ParsePolicy(def.Policy)
	if err != nil {
		return nil, scopeTo(def.Name, err)
	}
	strategy, err := behavior.ParseStrategy(def.Strategy)
	if err != nil {
		return nil, scopeTo(def.Name, err)
	}

	roles := make([]string, len(def.Roles))
	for i, r := range def.Roles {
		roles[i] = r.Name
	}

	base := []Option{
		WithRoles(roles...),
		WithPolicy(policy),
		WithStrategy(strategy),
	}
	if def.EastOriented {
		base = append(base, WithEastOriented())
	}
	if def.StrictRoles {
		base = append(base, WithStrictRoles())
	}
	if def.OnNameCollision != "" {
		base = append(base, withCollisionPolicy(def.OnNameCollision))
	}
	t, err := NewType(def.Name, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	for _, r := range def.Roles {
		if r.Behavior == "" {
			continue
		}
		b, ok := registry.Get(r.Behavior)
		if !ok {
			return nil, t.scope(errors.New(errors.CodeInvalidRoleType,
				fmt.Sprintf("role '%s' refers to unknown behavior '%s'", r.Name, r.Behavior),
				fmt.Errorf("behavior %q is not registered", r.Behavior)).
				WithContext("role", r.Name))
		}
		s, err := behavior.ParseStrategy(r.Strategy)
		if err != nil {
			return nil, t.scope(err)
		}
		if s == behavior.Unset {
			s = b.Strategy
		}
		if err := t.RoleWithStrategy(r.Name, b, s); err != nil {
			return nil, err
		}
	}

	for _, f := range def.Forward {
		op := f.Op
		if op == "" {
			op = f.Trigger
		}
		if err := t.Forward(f.Trigger, f.Role, op); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// withCollisionPolicy installs the named collision policy. The handler logs
// through the type's logger as it is when the collision is handled, so a
// later WithLogger still applies.
func withCollisionPolicy(name string) Option {
	return func(t *Type) error {
		if _, err := collision.ParsePolicy(name, t.logger); err != nil {
			return err
		}
		t.collisions = collision.HandlerFunc(func(role string, collisions []string) error {
			h, err := collision.ParsePolicy(name, t.logger)
			if err != nil {
				return err
			}
			return h.Handle(role, collisions)
		})
		return nil
	}
}

// TypesFromConfig builds every context type declared in cfg.
func TypesFromConfig(cfg *config.Config, registry *behavior.Registry, opts ...Option) (map[string]*Type, error) {
	out := make(map[string]*Type, len(cfg.Contexts))
	for _, def := range cfg.Contexts {
		t, err := FromConfig(def, registry, opts...)
		if err != nil {
			return nil, fmt.Errorf("context %s: %w", def.Name, err)
		}
		out[def.Name] = t
	}
	return out, nil
}

// ApplyEngine installs the process-wide engine settings.
func ApplyEngine(cfg config.EngineConfig) error {
	s, err := behavior.ParseStrategy(cfg.DefaultStrategy)
	if err != nil {
		return err
	}
	if s == behavior.Unset {
		return nil
	}
	return behavior.SetDefaultStrategy(s)
}

func scopeTo(name string, err error) error {
	if err == nil {
		return nil
	}
	var ee *errors.EnsembleError
	if errors.As(err, &ee) && ee.ContextType == "" {
		ee.WithContextType(name)
	}
	return err
}
