// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/ensemble/pkg/errors"
)

// TriggerMetrics tracks trigger invocations, outcomes and behavior composition.
type TriggerMetrics struct {
	// invocations counts every trigger call by context type and trigger
	invocations metric.Int64Counter

	// denied counts guard denials
	denied metric.Int64Counter

	// failures counts triggers whose action returned an error or panicked
	failures metric.Int64Counter

	// duration records trigger latency including composition
	duration metric.Float64Histogram

	// applied counts behaviors composed onto players
	applied metric.Int64Counter
}

// NewTriggerMetrics creates trigger metrics on the global meter provider.
func NewTriggerMetrics() (*TriggerMetrics, error) {
	meter := otel.Meter("ensemble/dci")

	invocations, err := meter.Int64Counter(
		"ensemble.trigger.invocations",
		metric.WithDescription("Trigger invocations by context type and trigger"),
	)
	if err != nil {
		return nil, err
	}

	denied, err := meter.Int64Counter(
		"ensemble.trigger.denied",
		metric.WithDescription("Trigger invocations denied by an access guard"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"ensemble.trigger.failures",
		metric.WithDescription("Trigger invocations whose action failed"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"ensemble.trigger.duration_ms",
		metric.WithDescription("Trigger latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	applied, err := meter.Int64Counter(
		"ensemble.behavior.applied",
		metric.WithDescription("Behaviors composed onto role players by strategy"),
	)
	if err != nil {
		return nil, err
	}

	return &TriggerMetrics{
		invocations: invocations,
		denied:      denied,
		failures:    failures,
		duration:    duration,
		applied:     applied,
	}, nil
}

// RecordTrigger records one finished trigger invocation. err classifies the
// outcome: nil is ok, an ACCESS_DENIED error is a denial, anything else a failure.
func (m *TriggerMetrics) RecordTrigger(ctx context.Context, contextType, trigger string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := TriggerStatus(err)
	attrs := metric.WithAttributes(
		attribute.String(AttrContextType, contextType),
		attribute.String(AttrTriggerName, trigger),
		attribute.String(AttrTriggerStatus, status),
	)
	m.invocations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)

	switch status {
	case StatusDenied:
		m.denied.Add(ctx, 1, attrs)
	case StatusFailed:
		code := "UNKNOWN"
		if ee := errors.AsEnsembleError(err); ee != nil {
			code = string(ee.Code)
		}
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String(AttrContextType, contextType),
			attribute.String(AttrTriggerName, trigger),
			attribute.String("error.code", code),
		))
	}
}

// RecordBehaviorApplied counts one behavior composition.
func (m *TriggerMetrics) RecordBehaviorApplied(ctx context.Context, contextType, role, behavior, strategy string) {
	if m == nil {
		return
	}
	attrs := append(BehaviorAttributes(role, behavior, strategy), attribute.String(AttrContextType, contextType))
	m.applied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// TriggerStatus classifies a trigger error as ok, denied or failed.
func TriggerStatus(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.HasCode(err, errors.CodeAccessDenied):
		return StatusDenied
	default:
		return StatusFailed
	}
}
