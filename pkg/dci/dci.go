// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

// Package dci runs interactions between role players.
//
// A Type declares roles, the behaviors composed onto the players of those
// roles, and triggers: the named entry points of an interaction. A Context is
// one interaction. It maps players to roles when it is built and composes the
// role behaviors either once at construction (OnInitialize) or around every
// trigger invocation (OnTrigger), removing them again afterwards even when the
// trigger fails.
//
// Behavior operations resolve sibling roles through their explicit
// behavior.Call, which asks the owning Context. Only current role players are
// answered. Host code without a composed handle can consult the task-local
// stack carried by the trigger's context.Context through Active.
package dci

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/ensemble/pkg/errors"
)

// Policy decides when behaviors are composed onto role players.
type Policy string

const (
	// OnTrigger composes behaviors before every trigger and removes them after.
	OnTrigger Policy = "on_trigger"
	// OnInitialize composes behaviors once, when the context is built.
	OnInitialize Policy = "on_initialize"
)

// ParsePolicy accepts on_trigger (trigger) and on_initialize (initialize),
// with either hyphens or underscores. An empty value is OnTrigger.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "on_trigger", "trigger":
		return OnTrigger, nil
	case "on_initialize", "initialize":
		return OnInitialize, nil
	}
	return "", errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown role policy '%s'", s), nil).
		WithContext("policy", s)
}

// Action is the body of a trigger. ctx carries c on its active stack.
type Action func(ctx context.Context, c *Context, args ...any) (any, error)

// Guard reports whether a trigger must be refused. It runs with behaviors
// composed.
type Guard func(ctx context.Context, c *Context) bool

// Assignment pairs a role with the player filling it.
type Assignment struct {
	Role   string
	Player any
}

// Assign is shorthand for an Assignment.
func Assign(role string, p any) Assignment {
	return Assignment{Role: role, Player: p}
}

// TriggerEvent describes one trigger invocation.
type TriggerEvent struct {
	ContextType string
	ContextID   string
	Trigger     string
	Forwarded   bool
	StartedAt   time.Time
	// FinishedAt and Err are set only for finished triggers.
	FinishedAt time.Time
	Err        error
}

// Duration returns the elapsed time of a finished trigger.
func (e TriggerEvent) Duration() time.Duration {
	if e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Observer is notified around every trigger invocation. Errors are logged and
// never change the trigger's outcome.
type Observer interface {
	TriggerStarted(ctx context.Context, ev TriggerEvent) error
	TriggerFinished(ctx context.Context, ev TriggerEvent) error
}

// ErrorSet holds the match targets for errors raised on behalf of one
// context type. Use them with errors.Is.
type ErrorSet struct {
	InvalidRole     error
	InvalidRoleType error
	Access          error
	NameCollision   error
	UnknownTrigger  error
}
