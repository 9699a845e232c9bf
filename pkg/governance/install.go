// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/ensemble/pkg/dci"
	"github.com/jllopis/ensemble/pkg/errors"
	"github.com/jllopis/ensemble/pkg/telemetry"
)

// InstallOption configures Install.
type InstallOption func(*installer)

type installer struct {
	engine PolicyEngine
	hook   ApprovalHook
	logger *slog.Logger
}

// WithApprovalHook resolves pending decisions. Without a hook a pending
// decision denies the trigger.
func WithApprovalHook(h ApprovalHook) InstallOption {
	return func(in *installer) { in.hook = h }
}

// WithLogger sets the logger used to report denials.
func WithLogger(logger *slog.Logger) InstallOption {
	return func(in *installer) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// Install guards every trigger declared on t with engine. A guard already
// present runs first and keeps its veto. Triggers declared after Install are
// not governed.
func Install(t *dci.Type, engine PolicyEngine, opts ...InstallOption) error {
	if t == nil {
		return errors.New(errors.CodeInvalidInput, "context type is nil", nil)
	}
	if engine == nil {
		return errors.New(errors.CodeInvalidInput, "policy engine is nil", nil).WithContextType(t.Name())
	}
	in := &installer{engine: engine, logger: slog.Default()}
	for _, opt := range opts {
		opt(in)
	}
	for _, name := range t.Triggers() {
		if err := t.Guard(name, in.guard(t.Name(), name, t.GuardFor(name))); err != nil {
			return fmt.Errorf("govern %s.%s: %w", t.Name(), name, err)
		}
	}
	return nil
}

func (in *installer) guard(contextType, trigger string, prev dci.Guard) dci.Guard {
	return func(ctx context.Context, c *dci.Context) bool {
		if prev != nil && prev(ctx, c) {
			return true
		}
		decision := in.decide(ctx, TriggerAction(contextType, c.ID(), trigger))
		allowed := decision.IsAllowed()
		trace.SpanFromContext(ctx).SetAttributes(telemetry.PolicyAttributes(true, allowed, decision.Reason)...)
		if !allowed {
			in.logger.InfoContext(ctx, "trigger denied by policy",
				"context_type", contextType,
				"trigger", trigger,
				"rule_id", decision.RuleID,
				"reason", decision.Reason,
			)
		}
		return !allowed
	}
}

// decide evaluates action and asks the approval hook about pending decisions.
func (in *installer) decide(ctx context.Context, action Action) Decision {
	decision := in.engine.Evaluate(ctx, action)
	if !decision.IsPending() {
		return decision
	}
	if in.hook == nil {
		return Decision{Status: DecisionStatusDeny, RuleID: decision.RuleID, Reason: "approval required"}
	}
	action.Metadata["policy_rule_id"] = decision.RuleID
	action.Metadata["policy_reason"] = decision.Reason
	approved := in.hook.Request(ctx, action)
	if approved.RuleID == "" {
		approved.RuleID = decision.RuleID
	}
	return approved
}
