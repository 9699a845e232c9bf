// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package dci

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/ensemble/pkg/behavior"
	"github.com/jllopis/ensemble/pkg/collision"
	"github.com/jllopis/ensemble/pkg/errors"
	"github.com/jllopis/ensemble/pkg/telemetry"
)

// reservedOps may never be forwarded.
var reservedOps = map[string]struct{}{"__id__": {}, "__send__": {}}

type roleDecl struct {
	behavior *behavior.Behavior
	strategy behavior.Strategy
}

type triggerDecl struct {
	name    string
	action  Action
	guard   Guard
	forward string
}

// Type declares the roles, behaviors and triggers of an interaction. Declare
// everything before building contexts; declarations are safe for concurrent
// use but contexts see them as they are when they run.
type Type struct {
	name         string
	roles        []string
	policy       Policy
	strategy     behavior.Strategy
	collisions   collision.Handler
	eastOriented bool
	logger       *slog.Logger
	observers    []Observer
	metrics      *telemetry.TriggerMetrics
	tracer       trace.Tracer
	applicator   *behavior.Applicator
	initializers []Initializer
	strictRoles  bool

	mu        sync.RWMutex
	behaviors map[string]roleDecl
	triggers  map[string]*triggerDecl
	hooks     map[string]RoleHooks
}

// Option configures a Type.
type Option func(*Type) error

// NewType creates a context type named name.
func NewType(name string, opts ...Option) (*Type, error) {
	if name == "" {
		return nil, errors.New(errors.CodeInvalidInput, "context type name is required", nil)
	}
	t := &Type{
		name:       name,
		policy:     OnTrigger,
		collisions: collision.Ignore,
		logger:     slog.Default(),
		tracer:     otel.Tracer("ensemble/dci"),
		behaviors:  make(map[string]roleDecl),
		triggers:   make(map[string]*triggerDecl),
		hooks:      make(map[string]RoleHooks),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, t.scope(err)
		}
	}
	t.applicator = behavior.NewApplicator(t.logger)
	return t, nil
}

// WithRoles declares the role names in positional order.
func WithRoles(names ...string) Option {
	return func(t *Type) error {
		seen := make(map[string]struct{}, len(names))
		for _, name := range names {
			if name == "" {
				return errors.New(errors.CodeInvalidInput, "role name is required", nil)
			}
			if _, dup := seen[name]; dup {
				return errors.New(errors.CodeInvalidInput, fmt.Sprintf("role '%s' declared twice", name), nil).
					WithContext("role", name)
			}
			seen[name] = struct{}{}
		}
		t.roles = append([]string(nil), names...)
		return nil
	}
}

// WithPolicy sets when behaviors are composed.
func WithPolicy(p Policy) Option {
	return func(t *Type) error {
		if p != OnTrigger && p != OnInitialize {
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown role policy '%s'", p), nil)
		}
		t.policy = p
		return nil
	}
}

// WithStrategy sets the type's default composition strategy.
func WithStrategy(s behavior.Strategy) Option {
	return func(t *Type) error {
		if s != behavior.Unset && !s.Valid() {
			return errors.New(errors.CodeInvalidRoleType, fmt.Sprintf("unknown composition strategy '%s'", s), nil)
		}
		t.strategy = s
		return nil
	}
}

// WithCollisionHandler sets the handler run over name collisions found when a
// context is built.
func WithCollisionHandler(h collision.Handler) Option {
	return func(t *Type) error {
		if h == nil {
			h = collision.Ignore
		}
		t.collisions = h
		return nil
	}
}

// WithEastOriented makes every trigger return its context instead of the
// action's result.
func WithEastOriented() Option {
	return func(t *Type) error {
		t.eastOriented = true
		return nil
	}
}

// WithLogger sets the logger used by the type and its contexts.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Type) error {
		if logger != nil {
			t.logger = logger
		}
		return nil
	}
}

// WithObserver adds an observer notified around every trigger.
func WithObserver(o Observer) Option {
	return func(t *Type) error {
		if o != nil {
			t.observers = append(t.observers, o)
		}
		return nil
	}
}

// WithMetrics records trigger and composition metrics.
func WithMetrics(m *telemetry.TriggerMetrics) Option {
	return func(t *Type) error {
		t.metrics = m
		return nil
	}
}

// WithTracer replaces the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(t *Type) error {
		if tracer != nil {
			t.tracer = tracer
		}
		return nil
	}
}

// Name returns the type name.
func (t *Type) Name() string { return t.name }

// Policy returns the composition policy.
func (t *Type) Policy() Policy { return t.policy }

// Strategy returns the type's default strategy, which may be unset.
func (t *Type) Strategy() behavior.Strategy { return t.strategy }

// EastOriented reports whether triggers return their context.
func (t *Type) EastOriented() bool { return t.eastOriented }

// StrictRoles reports whether every declared role must be assigned.
func (t *Type) StrictRoles() bool { return t.strictRoles }

// Roles returns the declared role names in positional order.
func (t *Type) Roles() []string { return append([]string(nil), t.roles...) }

// Role binds behavior b to role name. The behavior's own strategy, if set,
// overrides the type default.
func (t *Type) Role(name string, b *behavior.Behavior) error {
	var s behavior.Strategy
	if b != nil {
		s = b.Strategy
	}
	return t.RoleWithStrategy(name, b, s)
}

// RoleWithStrategy binds b to role name with an explicit strategy override.
func (t *Type) RoleWithStrategy(name string, b *behavior.Behavior, s behavior.Strategy) error {
	if name == "" {
		return t.scope(errors.New(errors.CodeInvalidInput, "role name is required", nil))
	}
	if b == nil {
		return t.scope(errors.New(errors.CodeInvalidInput, fmt.Sprintf("role '%s' has no behavior", name), nil).
			WithContext("role", name))
	}
	if s != behavior.Unset && !s.Valid() {
		_, cause := behavior.ParseStrategy(string(s))
		return t.scope(errors.New(errors.CodeInvalidRoleType,
			fmt.Sprintf("role '%s' uses unknown composition strategy '%s'", name, s), cause).
			WithContext("role", name))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.behaviors[name] = roleDecl{behavior: b, strategy: s}
	return nil
}

// Behavior returns the behavior bound to role and its resolved strategy.
func (t *Type) Behavior(role string) (*behavior.Behavior, behavior.Strategy, bool) {
	t.mu.RLock()
	decl, ok := t.behaviors[role]
	t.mu.RUnlock()
	if !ok {
		return nil, behavior.Unset, false
	}
	return decl.behavior, behavior.Resolve(decl.strategy, t.strategy), true
}

// BehaviorRoles lists the roles with a bound behavior, sorted.
func (t *Type) BehaviorRoles() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.behaviors))
	for role := range t.behaviors {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// Trigger declares a trigger running action.
func (t *Type) Trigger(name string, action Action) error {
	return t.addTrigger(&triggerDecl{name: name, action: action})
}

func (t *Type) addTrigger(d *triggerDecl) error {
	if d.name == "" {
		return t.scope(errors.New(errors.CodeInvalidInput, "trigger name is required", nil))
	}
	if d.action == nil {
		return t.scope(errors.New(errors.CodeInvalidInput, fmt.Sprintf("trigger '%s' has no action", d.name), nil).
			WithContext("trigger", d.name))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.triggers[d.name]; dup {
		return t.scope(errors.New(errors.CodeInvalidInput, fmt.Sprintf("trigger '%s' already declared", d.name), nil).
			WithContext("trigger", d.name))
	}
	t.triggers[d.name] = d
	return nil
}

// Guard installs a guard on a declared trigger. While the guard returns true
// the trigger is refused with an ACCESS_DENIED error. A second guard replaces
// the first.
func (t *Type) Guard(trigger string, g Guard) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.triggers[trigger]
	if !ok {
		return t.unknownTrigger(trigger)
	}
	d.guard = g
	return nil
}

// GuardFor returns the guard installed on trigger, or nil.
func (t *Type) GuardFor(trigger string) Guard {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if d, ok := t.triggers[trigger]; ok {
		return d.guard
	}
	return nil
}

// Disallow is an alias of Guard.
func (t *Type) Disallow(trigger string, g Guard) error {
	return t.Guard(trigger, g)
}

// Forward declares a trigger that sends op, with the trigger's arguments, to
// the player of role.
func (t *Type) Forward(trigger, role, op string) error {
	if _, reserved := reservedOps[op]; reserved {
		return t.scope(errors.New(errors.CodeInvalidInput, fmt.Sprintf("you may not forward '%s'", op), nil).
			WithContext("operation", op))
	}
	if role == "" || op == "" {
		return t.scope(errors.New(errors.CodeInvalidInput, "forwarding needs a role and an operation", nil))
	}
	return t.addTrigger(&triggerDecl{
		name:    trigger,
		forward: role + "." + op,
		action: func(ctx context.Context, c *Context, args ...any) (any, error) {
			return c.Send(ctx, role, op, args...)
		},
	})
}

// Forwarding declares one forwarding trigger per op, each named like its op.
func (t *Type) Forwarding(role string, ops ...string) error {
	for _, op := range ops {
		if err := t.Forward(op, role, op); err != nil {
			return err
		}
	}
	return nil
}

// Forwarded returns the "role.op" target of a forwarding trigger.
func (t *Type) Forwarded(trigger string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.triggers[trigger]
	if !ok || d.forward == "" {
		return "", false
	}
	return d.forward, true
}

// Triggers returns every declared trigger name, sorted. The slice is a copy.
func (t *Type) Triggers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.triggers))
	for name := range t.triggers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Guarded reports whether trigger has a guard.
func (t *Type) Guarded(trigger string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.triggers[trigger]
	return ok && d.guard != nil
}

func (t *Type) trigger(name string) (triggerDecl, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.triggers[name]
	if !ok {
		return triggerDecl{}, false
	}
	return *d, true
}

// Errors returns the errors.Is targets matching only errors raised by this type.
func (t *Type) Errors() ErrorSet {
	return ErrorSet{
		InvalidRole:     errors.Scoped(errors.CodeInvalidRole, t.name),
		InvalidRoleType: errors.Scoped(errors.CodeInvalidRoleType, t.name),
		Access:          errors.Scoped(errors.CodeAccessDenied, t.name),
		NameCollision:   errors.Scoped(errors.CodeNameCollision, t.name),
		UnknownTrigger:  errors.Scoped(errors.CodeUnknownTrigger, t.name),
	}
}

// New builds a context from named assignments.
func (t *Type) New(ctx context.Context, assignments ...Assignment) (*Context, error) {
	c := newContext(t)
	if err := c.construct(ctx, assignments); err != nil {
		return nil, err
	}
	return c, nil
}

// NewMap builds a context from a role → player map. Declared roles are
// mapped in declaration order, any others in name order.
func (t *Type) NewMap(ctx context.Context, players map[string]any) (*Context, error) {
	return t.New(ctx, t.fromMap(players)...)
}

// NewPositional builds a context assigning players to the declared roles in order.
func (t *Type) NewPositional(ctx context.Context, players ...any) (*Context, error) {
	if len(players) > len(t.roles) {
		return nil, t.scope(errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("%s declares %d roles but got %d players", t.name, len(t.roles), len(players)), nil))
	}
	assignments := make([]Assignment, len(players))
	for i, p := range players {
		assignments[i] = Assignment{Role: t.roles[i], Player: p}
	}
	return t.New(ctx, assignments...)
}

// Run builds a context and invokes trigger on it.
func (t *Type) Run(ctx context.Context, trigger string, assignments []Assignment, args ...any) (any, error) {
	c, err := t.New(ctx, assignments...)
	if err != nil {
		return nil, err
	}
	return c.Invoke(ctx, trigger, args...)
}

func (t *Type) fromMap(players map[string]any) []Assignment {
	out := make([]Assignment, 0, len(players))
	declared := make(map[string]struct{}, len(t.roles))
	for _, role := range t.roles {
		declared[role] = struct{}{}
		if p, ok := players[role]; ok {
			out = append(out, Assignment{Role: role, Player: p})
		}
	}
	var rest []string
	for role := range players {
		if _, ok := declared[role]; !ok {
			rest = append(rest, role)
		}
	}
	sort.Strings(rest)
	for _, role := range rest {
		out = append(out, Assignment{Role: role, Player: players[role]})
	}
	return out
}

// scope tags an engine error with this type's name.
func (t *Type) scope(err error) error {
	return scopeTo(t.name, err)
}

func (t *Type) unknownTrigger(name string) error {
	return errors.New(errors.CodeUnknownTrigger, fmt.Sprintf("undefined trigger '%s' for %s", name, t.name), nil).
		WithContextType(t.name).
		WithContext("trigger", name)
}
