// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

// Package behavior describes role behaviors and composes them onto players.
//
// A Behavior is a named bundle of operations. The Applicator attaches it to a
// player with one of three strategies:
//
//   - Extend merges the operations into an Extensible player's own dispatch.
//     Players that cannot be extended are left untouched.
//   - Wrap substitutes a Wrapper that answers the behavior's operations and
//     delegates everything else to the player.
//   - Negotiate substitutes a Negotiator whose operations are bound to the
//     player at construction and which cannot see the rest of the context.
//
// Remove reverses Apply and returns the original player.
package behavior

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jllopis/ensemble/pkg/errors"
	"github.com/jllopis/ensemble/pkg/player"
)

// Strategy selects how a behavior is composed onto a player.
type Strategy string

const (
	// Unset defers to the context type default, then the global default.
	Unset Strategy = ""
	// Extend merges operations into the player's own dispatch.
	Extend Strategy = "extend"
	// Wrap substitutes a delegating wrapper.
	Wrap Strategy = "wrap"
	// Negotiate substitutes an isolated proxy.
	Negotiate Strategy = "negotiate"
)

// ParseStrategy accepts extend (module), wrap (wrapper) and negotiate
// (interface). Unknown selectors are INVALID_ROLE_TYPE errors.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return Unset, nil
	case "extend", "module":
		return Extend, nil
	case "wrap", "wrapper":
		return Wrap, nil
	case "negotiate", "interface":
		return Negotiate, nil
	}
	return Unset, errors.New(errors.CodeInvalidRoleType,
		fmt.Sprintf("unknown composition strategy '%s'", s),
		fmt.Errorf("no role builder named %q", s)).
		WithContext("strategy", s)
}

// Valid reports whether s is a concrete strategy.
func (s Strategy) Valid() bool {
	switch s {
	case Extend, Wrap, Negotiate:
		return true
	}
	return false
}

func (s Strategy) String() string {
	if s == Unset {
		return "unset"
	}
	return string(s)
}

var defaultStrategy atomic.Value

func init() {
	defaultStrategy.Store(Extend)
}

// DefaultStrategy returns the process-wide default strategy.
func DefaultStrategy() Strategy {
	return defaultStrategy.Load().(Strategy)
}

// SetDefaultStrategy changes the process-wide default strategy.
func SetDefaultStrategy(s Strategy) error {
	if !s.Valid() {
		return errors.New(errors.CodeInvalidRoleType, fmt.Sprintf("unknown composition strategy '%s'", s), nil)
	}
	defaultStrategy.Store(s)
	return nil
}

// Resolve picks the first concrete strategy of override, typeDefault and the
// global default.
func Resolve(override, typeDefault Strategy) Strategy {
	if override.Valid() {
		return override
	}
	if typeDefault.Valid() {
		return typeDefault
	}
	return DefaultStrategy()
}

// Operation is a behavior operation. It runs with an explicit Call.
type Operation func(c *Call) (any, error)

// ConstructFunc builds the composed player from the original one instead of
// the generic wrapper.
type ConstructFunc func(ctx context.Context, p any) (any, error)

// Behavior is a named bundle of operations attachable to a role's player.
type Behavior struct {
	Name      string
	Strategy  Strategy
	Ops       map[string]Operation
	Construct ConstructFunc
}

// Has reports whether the behavior declares op.
func (b *Behavior) Has(op string) bool {
	if b == nil {
		return false
	}
	_, ok := b.Ops[op]
	return ok
}

// Operations lists the declared operations, sorted.
func (b *Behavior) Operations() []string {
	if b == nil {
		return nil
	}
	out := make([]string, 0, len(b.Ops))
	for name := range b.Ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Builder assembles a Behavior.
type Builder struct {
	b *Behavior
}

// New starts a behavior named name.
func New(name string) *Builder {
	return &Builder{b: &Behavior{Name: name, Ops: make(map[string]Operation)}}
}

// Strategy sets the behavior's strategy override.
func (bb *Builder) Strategy(s Strategy) *Builder {
	bb.b.Strategy = s
	return bb
}

// Op declares an operation.
func (bb *Builder) Op(name string, fn Operation) *Builder {
	bb.b.Ops[name] = fn
	return bb
}

// Construct installs a constructor replacing the generic wrapper.
func (bb *Builder) Construct(fn ConstructFunc) *Builder {
	bb.b.Construct = fn
	return bb
}

// Build returns the behavior.
func (bb *Builder) Build() *Behavior {
	return bb.b
}

// Registry maps behavior names to behaviors. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	behaviors map[string]*Behavior
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{behaviors: make(map[string]*Behavior)}
}

// Register adds behaviors. Duplicate names are rejected.
func (r *Registry) Register(behaviors ...*Behavior) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range behaviors {
		if b == nil || b.Name == "" {
			return errors.New(errors.CodeInvalidInput, "behavior name is required", nil)
		}
		if _, dup := r.behaviors[b.Name]; dup {
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("behavior '%s' already registered", b.Name), nil)
		}
		r.behaviors[b.Name] = b
	}
	return nil
}

// Get returns the behavior registered under name.
func (r *Registry) Get(name string) (*Behavior, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.behaviors[name]
	return b, ok
}

// Names lists registered behavior names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.behaviors))
	for name := range r.behaviors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Call is the explicit handle every operation runs with.
type Call struct {
	Context context.Context
	Op      string
	Args    []any
	// Self is the object that answers the call: the extended player, the
	// wrapper, or for negotiated behaviors the original player.
	Self any
	// Player is the original, uncomposed player.
	Player any

	super player.Next
	scope player.Scope
}

// Arg returns argument i or nil when absent.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// Super calls the same operation on what lies beneath the behavior.
func (c *Call) Super(args ...any) (any, error) {
	if c.super == nil {
		return nil, errors.New(errors.CodeNoMethod, fmt.Sprintf("no super operation '%s'", c.Op), nil)
	}
	return c.super(c.Context, args...)
}

// Role resolves a sibling role through the owning context, asking as Self.
func (c *Call) Role(name string) (any, bool) {
	if c.scope == nil {
		return nil, false
	}
	return c.scope.Role(c.Context, c.Self, name)
}

// Send invokes op on target.
func (c *Call) Send(target any, op string, args ...any) (any, error) {
	return player.Send(c.Context, target, op, args...)
}

// SendSelf invokes op on Self.
func (c *Call) SendSelf(op string, args ...any) (any, error) {
	return player.Send(c.Context, c.Self, op, args...)
}

// SendRole resolves a sibling role and invokes op on it.
func (c *Call) SendRole(role, op string, args ...any) (any, error) {
	target, ok := c.Role(role)
	if !ok {
		return nil, errors.New(errors.CodeInvalidRole, fmt.Sprintf("role '%s' is not reachable", role), nil).
			WithContext("role", role)
	}
	return player.Send(c.Context, target, op, args...)
}
