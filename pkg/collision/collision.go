// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

// Package collision detects players that already expose an operation named
// like a sibling role of the same context.
//
// When role names double as accessor names, such a player answers the role
// name with its own operation and silently shadows the sibling. Detection runs
// once, at assignment time, and a Handler decides what to do about it.
package collision

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jllopis/ensemble/pkg/errors"
	"github.com/jllopis/ensemble/pkg/player"
)

// Assignment pairs a role name with the object assigned to it.
type Assignment struct {
	Role   string
	Player any
}

// Report maps every role to the sibling role names its player answers.
type Report struct {
	roles      []string
	collisions map[string][]string
}

// Detect checks every player against every sibling role name.
func Detect(assignments []Assignment) Report {
	r := Report{
		roles:      make([]string, 0, len(assignments)),
		collisions: make(map[string][]string, len(assignments)),
	}
	for _, a := range assignments {
		if _, dup := r.collisions[a.Role]; dup {
			continue
		}
		r.roles = append(r.roles, a.Role)
		r.collisions[a.Role] = []string{}
	}
	for _, a := range assignments {
		for _, sibling := range r.roles {
			if sibling == a.Role {
				continue
			}
			if player.RespondsTo(a.Player, sibling) {
				r.collisions[a.Role] = append(r.collisions[a.Role], sibling)
			}
		}
	}
	return r
}

// Roles returns the checked role names in assignment order.
func (r Report) Roles() []string {
	return append([]string(nil), r.roles...)
}

// For returns the sibling names role collides with.
func (r Report) For(role string) []string {
	return append([]string(nil), r.collisions[role]...)
}

// Any reports whether at least one collision was found.
func (r Report) Any() bool {
	for _, c := range r.collisions {
		if len(c) > 0 {
			return true
		}
	}
	return false
}

// Map returns a copy of the full role → collisions mapping.
func (r Report) Map() map[string][]string {
	out := make(map[string][]string, len(r.collisions))
	for k, v := range r.collisions {
		out[k] = append([]string{}, v...)
	}
	return out
}

// Each calls fn for every role with at least one collision, in role order,
// and stops at the first error.
func (r Report) Each(fn func(role string, collisions []string) error) error {
	for _, role := range r.roles {
		c := r.collisions[role]
		if len(c) == 0 {
			continue
		}
		if err := fn(role, append([]string(nil), c...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler reacts to the collisions of a single role.
type Handler interface {
	Handle(role string, collisions []string) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(role string, collisions []string) error

// Handle calls f.
func (f HandlerFunc) Handle(role string, collisions []string) error { return f(role, collisions) }

// Message renders the diagnostic shared by the built-in handlers.
func Message(role string, collisions []string) string {
	return fmt.Sprintf("%s has name collisions with [%s]", role, strings.Join(collisions, ", "))
}

type ignore struct{}

func (ignore) Handle(string, []string) error { return nil }

// Ignore discards collisions.
var Ignore Handler = ignore{}

type warn struct{ logger *slog.Logger }

func (w warn) Handle(role string, collisions []string) error {
	w.logger.Warn(Message(role, collisions), "role", role, "collisions", collisions)
	return nil
}

// Warn logs every collision and continues. A nil logger uses slog.Default().
func Warn(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return warn{logger: logger}
}

type raise struct{}

func (raise) Handle(role string, collisions []string) error {
	return NewError(role, collisions)
}

// Raise aborts context construction with a NAME_COLLISION error.
var Raise Handler = raise{}

// NewError builds the NAME_COLLISION error for role.
func NewError(role string, collisions []string) *errors.EnsembleError {
	return errors.New(errors.CodeNameCollision, Message(role, collisions), nil).
		WithContext("role", role).
		WithContext("collisions", append([]string(nil), collisions...))
}

// ParsePolicy returns the built-in handler named by policy: ignore (or
// nothing), warn, or raise. An empty policy means ignore.
func ParsePolicy(policy string, logger *slog.Logger) (Handler, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "", "ignore", "nothing":
		return Ignore, nil
	case "warn":
		return Warn(logger), nil
	case "raise":
		return Raise, nil
	default:
		return nil, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("name collision handler was set to '%s' but there is no handler of that name", policy), nil).
			WithContext("policy", policy)
	}
}

// Apply runs h over every colliding role of r.
func Apply(r Report, h Handler) error {
	if h == nil {
		return nil
	}
	return r.Each(h.Handle)
}
