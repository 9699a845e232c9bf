// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package dci

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/ensemble/pkg/errors"
	"github.com/jllopis/ensemble/pkg/telemetry"
)

// Invoke runs trigger name: it composes behaviors under OnTrigger, checks the
// guard, runs the action with c pushed on the active stack of ctx and removes
// the behaviors again. Removal runs whatever the action does, panics
// included; a panic is re-raised after cleanup.
func (c *Context) Invoke(ctx context.Context, name string, args ...any) (result any, err error) {
	t := c.typ
	d, ok := t.trigger(name)
	if !ok {
		return nil, t.unknownTrigger(name)
	}

	ctx, span := t.tracer.Start(ctx, "dci.trigger "+t.name+"."+name,
		trace.WithAttributes(telemetry.TriggerAttributes(t.name, name, d.forward != "")...),
		trace.WithAttributes(telemetry.ContextAttributes(t.name, c.id, string(t.policy), nil)...),
	)
	ev := TriggerEvent{
		ContextType: t.name,
		ContextID:   c.id,
		Trigger:     name,
		Forwarded:   d.forward != "",
		StartedAt:   time.Now(),
	}
	c.notifyStarted(ctx, ev)

	defer func() {
		r := recover()
		if r != nil {
			err = errors.New(errors.CodeInternal, fmt.Sprintf("trigger '%s' panicked", name), fmt.Errorf("%v", r)).
				WithContextType(t.name).
				WithContext("trigger", name)
		}
		ev.FinishedAt = time.Now()
		ev.Err = err
		status := telemetry.TriggerStatus(err)
		span.SetAttributes(telemetry.TriggerResultAttributes(status, float64(ev.Duration().Microseconds())/1000)...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		t.metrics.RecordTrigger(ctx, t.name, name, ev.Duration(), err)
		c.notifyFinished(ctx, ev)
		if r != nil {
			panic(r)
		}
	}()

	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release(ctx)

	if d.guard != nil && d.guard(ctx, c) {
		return nil, c.accessError(name)
	}

	result, err = d.action(WithActive(ctx, c), c, args...)
	if err != nil {
		return nil, err
	}
	if t.eastOriented {
		return c, nil
	}
	return result, nil
}

// Triggers returns the triggers currently permitted, sorted. Guards are
// evaluated with behaviors composed, as a real invocation would. Every call
// returns a fresh slice.
func (c *Context) Triggers(ctx context.Context) ([]string, error) {
	names := c.typ.Triggers()
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release(ctx)

	out := make([]string, 0, len(names))
	for _, name := range names {
		d, ok := c.typ.trigger(name)
		if !ok {
			continue
		}
		if d.guard == nil || !d.guard(ctx, c) {
			out = append(out, name)
		}
	}
	return out, nil
}

// AllTriggers returns every declared trigger, guarded or not, sorted.
func (c *Context) AllTriggers() []string {
	return c.typ.Triggers()
}

// Allow reports whether trigger name is currently permitted.
func (c *Context) Allow(ctx context.Context, name string) (bool, error) {
	d, ok := c.typ.trigger(name)
	if !ok {
		return false, c.typ.unknownTrigger(name)
	}
	if d.guard == nil {
		return true, nil
	}
	if err := c.acquire(ctx); err != nil {
		return false, err
	}
	defer c.release(ctx)
	return !d.guard(ctx, c), nil
}

// FanOut calls fn concurrently for every player of collection role and
// returns the results in member order. Each branch runs with c pushed on its
// own active stack. FanOut returns only after every branch has finished; the
// first error cancels the context passed to the remaining branches.
func (c *Context) FanOut(ctx context.Context, role string, fn func(ctx context.Context, member any) (any, error)) ([]any, error) {
	members, err := c.Players(role)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(members))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range members {
		g.Go(func() error {
			res, err := fn(WithActive(gctx, c), m)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Context) accessError(trigger string) error {
	return errors.New(errors.CodeAccessDenied,
		fmt.Sprintf("access to %s#%s is not allowed", c.typ.name, trigger), nil).
		WithContextType(c.typ.name).
		WithContext("trigger", trigger)
}

func (c *Context) notifyStarted(ctx context.Context, ev TriggerEvent) {
	for _, o := range c.typ.observers {
		if err := o.TriggerStarted(ctx, ev); err != nil {
			c.typ.logger.ErrorContext(ctx, "trigger observer failed",
				"context_type", ev.ContextType, "trigger", ev.Trigger, "phase", "started", "error", err)
		}
	}
}

func (c *Context) notifyFinished(ctx context.Context, ev TriggerEvent) {
	for _, o := range c.typ.observers {
		if err := o.TriggerFinished(ctx, ev); err != nil {
			c.typ.logger.ErrorContext(ctx, "trigger observer failed",
				"context_type", ev.ContextType, "trigger", ev.Trigger, "phase", "finished", "error", err)
		}
	}
}
