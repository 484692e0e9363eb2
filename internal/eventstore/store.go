// Package eventstore persists the append-only audit trail of a build run:
// phase lifecycle events, classified error events and recovery attempts.
// Rows are only ever inserted; the report command reads them back after the
// fact.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/isoforge/internal/failure"
	"git.home.luguber.info/inful/isoforge/internal/recovery"
)

// Store is a SQLite-backed audit log. Use ":memory:" for tests.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS phase_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		event_type TEXT NOT NULL,
		detail TEXT,
		at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS error_events (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		command TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		output TEXT,
		kind TEXT NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS recovery_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		action TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_phase_run ON phase_events(run_id);
	CREATE INDEX IF NOT EXISTS idx_error_run ON error_events(run_id);
	CREATE INDEX IF NOT EXISTS idx_attempt_run ON recovery_attempts(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// AppendPhaseEvent records a phase lifecycle transition.
func (s *Store) AppendPhaseEvent(ctx context.Context, runID, phase, eventType, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO phase_events (run_id, phase, event_type, detail, at) VALUES (?, ?, ?, ?, ?)",
		runID, phase, eventType, detail, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert phase event: %w", err)
	}
	return nil
}

// AppendErrorEvent records a classified failure.
func (s *Store) AppendErrorEvent(ctx context.Context, runID string, ev failure.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO error_events (id, run_id, operation, command, exit_code, output, kind, at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		ev.ID, runID, ev.Operation, ev.Command, ev.ExitCode, ev.Output, ev.Kind.String(), ev.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert error event: %w", err)
	}
	return nil
}

// recoveryRecorder binds a store to one run so it satisfies
// recovery.Recorder without every attempt carrying the run ID.
type recoveryRecorder struct {
	store *Store
	runID string
}

// RecorderFor returns a recovery.Recorder scoped to the run.
func (s *Store) RecorderFor(runID string) recovery.Recorder {
	return &recoveryRecorder{store: s, runID: runID}
}

func (r *recoveryRecorder) RecordRecoveryAttempt(ctx context.Context, a recovery.Attempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	_, err := r.store.db.ExecContext(ctx,
		"INSERT INTO recovery_attempts (run_id, event_id, action, attempt, outcome, at) VALUES (?, ?, ?, ?, ?, ?)",
		r.runID, a.EventID, a.Action, a.Number, a.Outcome, a.At.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert recovery attempt: %w", err)
	}
	return nil
}
