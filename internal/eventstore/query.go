package eventstore

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/isoforge/internal/failure"
	"git.home.luguber.info/inful/isoforge/internal/recovery"
)

// PhaseEvent is one stored lifecycle row.
type PhaseEvent struct {
	Phase     string
	EventType string
	Detail    string
	At        time.Time
}

// RunHistory is everything recorded for one run.
type RunHistory struct {
	RunID    string
	Phases   []PhaseEvent
	Errors   []failure.Event
	Attempts []recovery.Attempt
}

// History loads the full audit trail for a run, in insertion order.
func (s *Store) History(ctx context.Context, runID string) (*RunHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := &RunHistory{RunID: runID}

	rows, err := s.db.QueryContext(ctx,
		"SELECT phase, event_type, detail, at FROM phase_events WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("query phase events: %w", err)
	}
	for rows.Next() {
		var pe PhaseEvent
		var at int64
		if err := rows.Scan(&pe.Phase, &pe.EventType, &pe.Detail, &at); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan phase event: %w", err)
		}
		pe.At = time.Unix(at, 0)
		h.Phases = append(h.Phases, pe)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT id, operation, command, exit_code, output, kind, at FROM error_events WHERE run_id = ? ORDER BY at", runID)
	if err != nil {
		return nil, fmt.Errorf("query error events: %w", err)
	}
	for rows.Next() {
		var ev failure.Event
		var kind string
		var at int64
		if err := rows.Scan(&ev.ID, &ev.Operation, &ev.Command, &ev.ExitCode, &ev.Output, &kind, &at); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan error event: %w", err)
		}
		ev.Kind = failure.ParseKind(kind)
		ev.Timestamp = time.Unix(at, 0)
		h.Errors = append(h.Errors, ev)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT event_id, action, attempt, outcome, at FROM recovery_attempts WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("query recovery attempts: %w", err)
	}
	for rows.Next() {
		var a recovery.Attempt
		var at int64
		if err := rows.Scan(&a.EventID, &a.Action, &a.Number, &a.Outcome, &at); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan recovery attempt: %w", err)
		}
		a.At = time.Unix(at, 0)
		h.Attempts = append(h.Attempts, a)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	return h, nil
}

// Runs lists known run IDs, most recent first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id FROM phase_events GROUP BY run_id ORDER BY MAX(at) DESC")
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
