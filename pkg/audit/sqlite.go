// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists events in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store and ensures its schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Record stores a single event.
func (s *SQLiteStore) Record(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trigger_audit_events (
			context_type, context_id, trigger_name, forwarded, status, code, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ContextType,
		event.ContextID,
		event.Trigger,
		event.Forwarded,
		event.Status,
		event.Code,
		event.Error,
		normalizeTime(event.StartedAt),
		normalizeTime(event.FinishedAt),
	)
	return err
}

// List returns events matching the filter, oldest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT context_type, context_id, trigger_name, forwarded, status, code, error_text, started_at, finished_at
		FROM trigger_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.ContextType != "" {
		addFilter("context_type = ?", filter.ContextType)
	}
	if filter.ContextID != "" {
		addFilter("context_id = ?", filter.ContextID)
	}
	if filter.Trigger != "" {
		addFilter("trigger_name = ?", filter.Trigger)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY started_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event    Event
			code     sql.NullString
			errText  sql.NullString
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&event.ContextType,
			&event.ContextID,
			&event.Trigger,
			&event.Forwarded,
			&event.Status,
			&code,
			&errText,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		event.Code = code.String
		event.Error = errText.String
		if started.Valid {
			event.StartedAt = started.Time.UTC()
		}
		if finished.Valid {
			event.FinishedAt = finished.Time.UTC()
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trigger_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			context_type TEXT NOT NULL,
			context_id TEXT NOT NULL,
			trigger_name TEXT NOT NULL,
			forwarded BOOLEAN NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			code TEXT,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_trigger_audit_type ON trigger_audit_events(context_type);
		CREATE INDEX IF NOT EXISTS idx_trigger_audit_context ON trigger_audit_events(context_id);
		CREATE INDEX IF NOT EXISTS idx_trigger_audit_status ON trigger_audit_events(status);
	`)
	return err
}
