// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"

	"github.com/jllopis/ensemble/pkg/dci"
	"github.com/jllopis/ensemble/pkg/errors"
	"github.com/jllopis/ensemble/pkg/telemetry"
)

// Recorder writes every finished trigger to a Store.
type Recorder struct {
	store Store
}

var _ dci.Observer = (*Recorder)(nil)

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// TriggerStarted does nothing; only outcomes are recorded.
func (r *Recorder) TriggerStarted(context.Context, dci.TriggerEvent) error { return nil }

// TriggerFinished records the outcome of ev.
func (r *Recorder) TriggerFinished(ctx context.Context, ev dci.TriggerEvent) error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Record(ctx, FromTriggerEvent(ev))
}

// FromTriggerEvent converts an engine event to an audit event.
func FromTriggerEvent(ev dci.TriggerEvent) Event {
	out := Event{
		ContextType: ev.ContextType,
		ContextID:   ev.ContextID,
		Trigger:     ev.Trigger,
		Forwarded:   ev.Forwarded,
		Status:      telemetry.TriggerStatus(ev.Err),
		StartedAt:   normalizeTime(ev.StartedAt),
		FinishedAt:  normalizeTime(ev.FinishedAt),
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
		var ee *errors.EnsembleError
		if errors.As(ev.Err, &ee) {
			out.Code = string(ee.Code)
		}
	}
	return out
}
