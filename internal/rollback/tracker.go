// Package rollback tracks reversible actions on a push-down stack and
// undoes them in reverse chronological order when a build fails.
package rollback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/isoforge/internal/session"
)

// UndoFunc reverses one recorded action. Implementations receive whether
// destructive work (recursive deletes, forced kills) is currently allowed;
// when it is not they must fall back to their least destructive form or
// skip entirely.
type UndoFunc func(ctx context.Context, destructiveAllowed bool) error

// Operation is one reversible action awaiting potential rollback.
type Operation struct {
	ID          string
	Kind        string
	Description string
	Undo        UndoFunc
	At          time.Time
}

// Result summarizes one Rollback invocation.
type Result struct {
	Undone     []string // descriptions, most recent first
	Failed     []string
	Downgraded bool // true when the session verdict forced passive undo
}

// Tracker is the push-down stack of operations. Rollback consumes entries
// as it executes them, so calling it again with nothing new recorded is a
// no-op.
type Tracker struct {
	mu      sync.Mutex
	ops     []Operation
	session session.Checker
	log     *slog.Logger
}

// NewTracker builds a tracker gated by the given session checker.
func NewTracker(sess session.Checker, log *slog.Logger) *Tracker {
	if sess == nil {
		sess = session.AlwaysAlive{}
	}
	return &Tracker{session: sess, log: log}
}

// Record pushes an operation before the risky action it reverses runs.
// Returns the operation ID.
func (t *Tracker) Record(kind, description string, undo UndoFunc) string {
	op := Operation{
		ID:          uuid.NewString(),
		Kind:        kind,
		Description: description,
		Undo:        undo,
		At:          time.Now(),
	}
	t.mu.Lock()
	t.ops = append(t.ops, op)
	t.mu.Unlock()
	if t.log != nil {
		t.log.Debug("Recorded reversible operation", "kind", kind, "description", description, "id", op.ID)
	}
	return op.ID
}

// Forget drops the most recent operation with the given ID without running
// its undo, for actions that completed and no longer need reversal.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.ops) - 1; i >= 0; i-- {
		if t.ops[i].ID == id {
			t.ops = append(t.ops[:i], t.ops[i+1:]...)
			return
		}
	}
}

// Len returns the number of pending operations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// Rollback pops and executes undo closures in reverse order. Individual
// undo failures are logged and skipped; rollback is best-effort, not
// transactional. The session verdict is consulted before and after every
// undo; a compromised session downgrades all remaining undos to passive
// mode.
func (t *Tracker) Rollback(ctx context.Context) Result {
	var result Result
	for {
		t.mu.Lock()
		n := len(t.ops)
		if n == 0 {
			t.mu.Unlock()
			return result
		}
		op := t.ops[n-1]
		t.ops = t.ops[:n-1]
		t.mu.Unlock()

		destructive := t.session.Check() == session.Alive
		if !destructive {
			result.Downgraded = true
		}
		if t.log != nil {
			t.log.Info("Rolling back operation", "kind", op.Kind, "description", op.Description, "destructive_allowed", destructive)
		}
		if err := op.Undo(ctx, destructive); err != nil {
			result.Failed = append(result.Failed, op.Description)
			if t.log != nil {
				t.log.Error("Undo failed, continuing rollback", "description", op.Description, "error", err)
			}
			continue
		}
		result.Undone = append(result.Undone, op.Description)

		if t.session.Check() == session.Compromised {
			result.Downgraded = true
		}
	}
}
