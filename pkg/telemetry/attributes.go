// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration for the ensemble
// engine: exporter setup, trace-aware logging, trigger metrics and the
// attribute names shared by spans and metrics.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for ensemble telemetry.
const (
	// Context attributes
	AttrContextType   = "ensemble.context.type"
	AttrContextID     = "ensemble.context.id"
	AttrContextPolicy = "ensemble.context.policy"
	AttrContextRoles  = "ensemble.context.roles"

	// Trigger attributes
	AttrTriggerName       = "ensemble.trigger.name"
	AttrTriggerStatus     = "ensemble.trigger.status"
	AttrTriggerDurationMs = "ensemble.trigger.duration_ms"
	AttrTriggerForwarded  = "ensemble.trigger.forwarded"

	// Role and behavior attributes
	AttrRoleName         = "ensemble.role.name"
	AttrBehaviorName     = "ensemble.behavior.name"
	AttrBehaviorStrategy = "ensemble.behavior.strategy"

	// Governance attributes
	AttrPolicyEvaluated = "ensemble.policy.evaluated"
	AttrPolicyAllowed   = "ensemble.policy.allowed"
	AttrPolicyReason    = "ensemble.policy.reason"
)

// Trigger outcome values for AttrTriggerStatus.
const (
	StatusOK     = "ok"
	StatusDenied = "denied"
	StatusFailed = "failed"
)

// ContextAttributes returns common attributes for context spans.
func ContextAttributes(contextType, contextID, policy string, roles []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrContextType, contextType),
	}
	if contextID != "" {
		attrs = append(attrs, attribute.String(AttrContextID, contextID))
	}
	if policy != "" {
		attrs = append(attrs, attribute.String(AttrContextPolicy, policy))
	}
	if len(roles) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrContextRoles, roles))
	}
	return attrs
}

// TriggerAttributes returns attributes for a trigger span.
func TriggerAttributes(contextType, trigger string, forwarded bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrContextType, contextType),
		attribute.String(AttrTriggerName, trigger),
	}
	if forwarded {
		attrs = append(attrs, attribute.Bool(AttrTriggerForwarded, true))
	}
	return attrs
}

// TriggerResultAttributes returns the outcome attributes set when a trigger finishes.
func TriggerResultAttributes(status string, durationMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTriggerStatus, status),
		attribute.Float64(AttrTriggerDurationMs, durationMs),
	}
}

// BehaviorAttributes returns attributes describing a behavior composition.
func BehaviorAttributes(role, behavior, strategy string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRoleName, role),
	}
	if behavior != "" {
		attrs = append(attrs, attribute.String(AttrBehaviorName, behavior))
	}
	if strategy != "" {
		attrs = append(attrs, attribute.String(AttrBehaviorStrategy, strategy))
	}
	return attrs
}

// PolicyAttributes returns attributes for policy evaluation.
func PolicyAttributes(evaluated, allowed bool, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Bool(AttrPolicyEvaluated, evaluated),
	}
	if evaluated {
		attrs = append(attrs, attribute.Bool(AttrPolicyAllowed, allowed))
		if reason != "" {
			attrs = append(attrs, attribute.String(AttrPolicyReason, reason))
		}
	}
	return attrs
}
