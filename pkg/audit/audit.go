// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit persists trigger outcomes. It records which trigger ran on
// which context instance and how it ended; it never stores role assignments.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jllopis/ensemble/pkg/config"
)

// Event is one finished trigger.
type Event struct {
	ContextType string    `json:"context_type" yaml:"context_type"`
	ContextID   string    `json:"context_id" yaml:"context_id"`
	Trigger     string    `json:"trigger" yaml:"trigger"`
	Forwarded   bool      `json:"forwarded" yaml:"forwarded"`
	Status      string    `json:"status" yaml:"status"`
	Code        string    `json:"code,omitempty" yaml:"code,omitempty"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time `json:"finished_at" yaml:"finished_at"`
}

// Duration returns how long the trigger ran.
func (e Event) Duration() time.Duration {
	if e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Store persists trigger outcomes.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter limits event queries. Empty fields match everything.
type Filter struct {
	ContextType string
	ContextID   string
	Trigger     string
	Status      string
	Limit       int
}

func (f Filter) match(ev Event) bool {
	switch {
	case f.ContextType != "" && ev.ContextType != f.ContextType:
		return false
	case f.ContextID != "" && ev.ContextID != f.ContextID:
		return false
	case f.Trigger != "" && ev.Trigger != f.Trigger:
		return false
	case f.Status != "" && ev.Status != f.Status:
		return false
	}
	return true
}

// MemoryStore keeps events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	event.StartedAt = normalizeTime(event.StartedAt)
	event.FinishedAt = normalizeTime(event.FinishedAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns matching events in recording order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Open returns the store selected by cfg and a function releasing it. A
// disabled audit config yields a nil store.
func Open(cfg config.AuditConfig) (Store, func() error, error) {
	noop := func() error { return nil }
	if !cfg.Enabled {
		return nil, noop, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemoryStore(), noop, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open audit db: %w", err)
		}
		store, err := NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return store, db.Close, nil
	default:
		return nil, noop, fmt.Errorf("audit: unknown driver %q", cfg.Driver)
	}
}

// normalizeTime keeps timestamps in UTC.
func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
