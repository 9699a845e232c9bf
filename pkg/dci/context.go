// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package dci

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jllopis/ensemble/pkg/behavior"
	"github.com/jllopis/ensemble/pkg/collision"
	"github.com/jllopis/ensemble/pkg/errors"
	"github.com/jllopis/ensemble/pkg/player"
	"github.com/jllopis/ensemble/pkg/rolemap"
)

// Context is one interaction between role players. A Context is not meant to
// run triggers from several goroutines at once; use one Context per request.
type Context struct {
	typ   *Type
	id    string
	roles *rolemap.Map

	// originals holds the uncomposed player of every role.
	originals map[string]any
	// collections maps a collection role to its expanded member roles and
	// members maps each expanded role back to its singular name.
	collections map[string][]string
	members     map[string]string

	mu      sync.Mutex
	depth   int
	applied []string

	valuesMu sync.RWMutex
	values   map[string]any
}

var _ player.Scope = (*Context)(nil)

func newContext(t *Type) *Context {
	return &Context{
		typ:         t,
		id:          uuid.NewString(),
		roles:       rolemap.New(),
		originals:   make(map[string]any),
		collections: make(map[string][]string),
		members:     make(map[string]string),
	}
}

// ID returns the context instance identifier. It changes on Rebind.
func (c *Context) ID() string { return c.id }

// Type returns the context's type.
func (c *Context) Type() *Type { return c.typ }

// Roles returns the mapped role names in mapping order, expanded member
// roles included.
func (c *Context) Roles() []string { return c.roles.Roles() }

// Entries returns a snapshot of the role map.
func (c *Context) Entries() []rolemap.Entry { return c.roles.Entries() }

// Composed reports whether behaviors are currently composed.
func (c *Context) Composed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied != nil
}

func (c *Context) String() string {
	return fmt.Sprintf("%s(%s)", c.typ.name, c.id)
}

// construct maps assignments to roles, expands collections, checks name
// collisions, runs the initializers and, under OnInitialize, composes
// behaviors.
func (c *Context) construct(ctx context.Context, assignments []Assignment) error {
	t := c.typ
	mapped, err := c.order(assignments)
	if err != nil {
		return err
	}
	mapped = c.expand(mapped)
	for i, a := range mapped {
		if a.Player == nil {
			continue
		}
		p, err := c.mapPlayer(ctx, a.Role, a.Player)
		if err != nil {
			return t.scope(err)
		}
		mapped[i].Player = p
	}

	checks := make([]collision.Assignment, len(mapped))
	for i, a := range mapped {
		checks[i] = collision.Assignment{Role: a.Role, Player: a.Player}
	}
	if err := collision.Apply(collision.Detect(checks), t.collisions); err != nil {
		return t.scope(err)
	}

	for _, a := range mapped {
		c.originals[a.Role] = a.Player
		c.roles.Update(a.Role, "", a.Player)
	}
	for _, fn := range t.initializers {
		if err := fn(ctx, c); err != nil {
			return t.scope(err)
		}
	}

	if t.policy == OnInitialize {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.compose(ctx); err != nil {
			return err
		}
	}
	t.logger.DebugContext(ctx, "context built",
		"context_type", t.name, "context_id", c.id, "roles", c.roles.Roles())
	return nil
}

// order places declared roles first, in declaration order, with nil players
// for the ones left out unless the type is strict. Undeclared roles are
// rejected when the type declares any role.
func (c *Context) order(assignments []Assignment) ([]Assignment, error) {
	t := c.typ
	given := make(map[string]any, len(assignments))
	var extra []string
	declared := make(map[string]struct{}, len(t.roles))
	for _, role := range t.roles {
		declared[role] = struct{}{}
	}
	for _, a := range assignments {
		if a.Role == "" {
			return nil, t.scope(errors.New(errors.CodeInvalidInput, "role name is required", nil))
		}
		if _, seen := given[a.Role]; !seen {
			if _, ok := declared[a.Role]; !ok {
				if len(t.roles) > 0 {
					return nil, t.scope(errors.New(errors.CodeInvalidRole,
						fmt.Sprintf("role '%s' is not declared by %s", a.Role, t.name), nil).
						WithContext("role", a.Role))
				}
				extra = append(extra, a.Role)
			}
		}
		given[a.Role] = a.Player
	}
	if t.strictRoles {
		var missing []string
		for _, role := range t.roles {
			if _, ok := given[role]; !ok {
				missing = append(missing, role)
			}
		}
		if len(missing) > 0 {
			return nil, t.scope(errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("missing roles for %s: %s", t.name, strings.Join(missing, ", ")), nil).
				WithContext("missing", missing))
		}
	}
	out := make([]Assignment, 0, len(t.roles)+len(extra))
	for _, role := range t.roles {
		out = append(out, Assignment{Role: role, Player: given[role]})
	}
	for _, role := range extra {
		out = append(out, Assignment{Role: role, Player: given[role]})
	}
	return out, nil
}

// expand adds member_1..member_n roles for every collection role whose
// singular name has a behavior.
func (c *Context) expand(assignments []Assignment) []Assignment {
	out := append([]Assignment(nil), assignments...)
	for _, a := range assignments {
		singular, ok := singularOf(a.Role)
		if !ok {
			continue
		}
		if _, _, has := c.typ.Behavior(singular); !has {
			continue
		}
		members, isCollection := player.Members(a.Player)
		if !isCollection {
			continue
		}
		names := make([]string, len(members))
		for i, m := range members {
			names[i] = singular + "_" + strconv.Itoa(i+1)
			c.members[names[i]] = singular
			out = append(out, Assignment{Role: names[i], Player: m})
		}
		c.collections[a.Role] = names
	}
	return out
}

func singularOf(role string) (string, bool) {
	if len(role) < 2 || !strings.HasSuffix(role, "s") {
		return "", false
	}
	return strings.TrimSuffix(role, "s"), true
}

// behaviorFor returns the behavior of role. Expanded member roles use the
// behavior of their singular name.
func (c *Context) behaviorFor(role string) (*behavior.Behavior, behavior.Strategy, bool) {
	if singular, ok := c.members[role]; ok {
		return c.typ.Behavior(singular)
	}
	return c.typ.Behavior(role)
}

// compose applies every role behavior. On failure, panics included, the
// behaviors applied so far are removed again. c.mu must be held.
func (c *Context) compose(ctx context.Context) (err error) {
	t := c.typ
	applied := make([]string, 0, c.roles.Len())
	done := false
	defer func() {
		if done {
			return
		}
		r := recover()
		c.applied = applied
		c.decompose(ctx)
		if r != nil {
			panic(r)
		}
	}()
	for _, e := range c.roles.Entries() {
		b, strategy, ok := c.behaviorFor(e.Role)
		if !ok || e.Player == nil {
			continue
		}
		composed, err := c.apply(ctx, e.Role, e.Player, b, strategy)
		if err != nil {
			return t.scope(err)
		}
		c.roles.Update(e.Role, b.Name, composed)
		applied = append(applied, e.Role)
		t.metrics.RecordBehaviorApplied(ctx, t.name, e.Role, b.Name, strategy.String())
		t.logger.DebugContext(ctx, "behavior applied",
			"context_type", t.name, "role", e.Role, "behavior", b.Name, "strategy", strategy.String())
	}
	c.applied = applied
	done = true
	return nil
}

// decompose removes composed behaviors in reverse order and restores the
// original players. c.mu must be held.
func (c *Context) decompose(ctx context.Context) {
	t := c.typ
	for i := len(c.applied) - 1; i >= 0; i-- {
		role := c.applied[i]
		e, err := c.roles.Entry(role)
		if err != nil {
			continue
		}
		b, strategy, _ := c.behaviorFor(role)
		restored := c.remove(ctx, role, e.Player, b, strategy)
		original := c.originals[role]
		if !player.Same(restored, original) {
			restored = original
		}
		c.roles.Update(role, "", restored)
		t.logger.DebugContext(ctx, "behavior removed", "context_type", t.name, "role", role)
	}
	c.applied = nil
}

func (c *Context) binding(s behavior.Strategy) behavior.Binding {
	return behavior.Binding{Strategy: s, Scope: c, Owner: c.id}
}

// acquire composes behaviors for a trigger under OnTrigger. Nested triggers
// on the same context reuse the outer composition.
func (c *Context) acquire(ctx context.Context) error {
	if c.typ.policy != OnTrigger {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.depth == 0 {
		if err := c.compose(ctx); err != nil {
			return err
		}
	}
	c.depth++
	return nil
}

func (c *Context) release(ctx context.Context) {
	if c.typ.policy != OnTrigger {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depth--
	if c.depth == 0 {
		c.decompose(ctx)
	}
}

// Role resolves role name for asker. Only current role players get an
// answer; anyone else, or a request for an unknown or empty role, gets
// (nil, false).
func (c *Context) Role(_ context.Context, asker any, name string) (any, bool) {
	if !c.roles.IsRolePlayer(asker) {
		return nil, false
	}
	p, err := c.roles.AssignedPlayer(name)
	if err != nil || p == nil {
		return nil, false
	}
	return p, true
}

// HasRole reports whether role is mapped.
func (c *Context) HasRole(role string) bool { return c.roles.HasRole(role) }

// IsRolePlayer reports whether obj currently plays a role.
func (c *Context) IsRolePlayer(obj any) bool { return c.roles.IsRolePlayer(obj) }

// Player returns the current occupant of role for use inside actions and guards.
func (c *Context) Player(role string) (any, error) {
	p, err := c.roles.AssignedPlayer(role)
	if err != nil {
		return nil, c.typ.scope(err)
	}
	return p, nil
}

// Players returns the current occupants of a collection role: its expanded
// member roles when it has them, otherwise the elements of its player.
func (c *Context) Players(role string) ([]any, error) {
	if names, ok := c.collections[role]; ok {
		out := make([]any, 0, len(names))
		for _, name := range names {
			p, err := c.Player(name)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	}
	p, err := c.Player(role)
	if err != nil {
		return nil, err
	}
	members, ok := player.Members(player.Unwrap(p))
	if !ok {
		return nil, c.typ.scope(errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("role '%s' is not a collection", role), nil).WithContext("role", role))
	}
	return members, nil
}

// Send invokes op on the current occupant of role.
func (c *Context) Send(ctx context.Context, role, op string, args ...any) (any, error) {
	p, err := c.Player(role)
	if err != nil {
		return nil, err
	}
	return player.Send(ctx, p, op, args...)
}

// Rebind discards every assignment and stored value and builds the context
// again from assignments. Behaviors composed under OnInitialize are removed
// from the old players first. Rebinding while a trigger runs is refused.
func (c *Context) Rebind(ctx context.Context, assignments ...Assignment) error {
	c.mu.Lock()
	if c.depth > 0 {
		c.mu.Unlock()
		return c.typ.scope(errors.New(errors.CodeInvalidInput, "cannot rebind while a trigger is running", nil))
	}
	c.decompose(ctx)
	c.roles.Reset()
	c.originals = make(map[string]any)
	c.collections = make(map[string][]string)
	c.members = make(map[string]string)
	c.id = uuid.NewString()
	c.mu.Unlock()
	c.valuesMu.Lock()
	c.values = nil
	c.valuesMu.Unlock()
	return c.construct(ctx, assignments)
}

// RebindMap is Rebind with a role → player map.
func (c *Context) RebindMap(ctx context.Context, players map[string]any) error {
	return c.Rebind(ctx, c.typ.fromMap(players)...)
}
