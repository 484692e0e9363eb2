// Package sequencer runs named build phases in order, applying per-phase
// failure policy. Critical failures trigger global rollback and mount
// teardown, gated by the session monitor; optional failures log a warning
// and the run continues. The sequencer never retries a phase; bounded
// retry happens inside a phase, in the recovery engine.
package sequencer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/isoforge/internal/command"
	"git.home.luguber.info/inful/isoforge/internal/config"
	"git.home.luguber.info/inful/isoforge/internal/events"
	"git.home.luguber.info/inful/isoforge/internal/failure"
	"git.home.luguber.info/inful/isoforge/internal/mount"
	"git.home.luguber.info/inful/isoforge/internal/recovery"
	"git.home.luguber.info/inful/isoforge/internal/rollback"
	"git.home.luguber.info/inful/isoforge/internal/runlog"
	"git.home.luguber.info/inful/isoforge/internal/session"
)

// Policy is the per-phase failure policy.
type Policy int

const (
	PolicyCritical Policy = iota
	PolicyOptional
)

func (p Policy) String() string {
	if p == PolicyOptional {
		return "optional"
	}
	return "critical"
}

// Phase is one named, ordered unit of the build.
type Phase struct {
	Name        string
	Description string
	Policy      Policy
	Run         func(ctx context.Context, pc *Context) error
}

// Status is where a phase ended up.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusWarned    Status = "warned" // optional phase failed, run continued
	StatusSkipped   Status = "skipped"
)

// PhaseResult records one phase execution for the report.
type PhaseResult struct {
	Name     string
	Status   Status
	Detail   string
	Duration time.Duration
}

// Outcome is the terminal result of a run.
type Outcome struct {
	RunID       string
	Failed      bool
	FailedPhase string
	Phases      []PhaseResult
	RolledBack  rollback.Result
	Teardown    mount.TeardownResult
	Interrupted bool
}

// ExitCode maps the outcome to the single process-level exit decision.
func (o Outcome) ExitCode() int {
	if o.Failed {
		return 1
	}
	return 0
}

// Context hands phase executors everything they may touch.
type Context struct {
	RunID    string
	Config   *config.Config
	Runner   command.Runner
	Tracker  *rollback.Tracker
	Mounts   *mount.Manager
	Recovery *recovery.Engine
	Session  session.Checker
	Bus      *events.Bus
	Log      *slog.Logger

	// Errors receives classified failure events; nil disables persistence.
	Errors ErrorSink
}

// ErrorSink receives classified failure events for the audit log. The
// event store satisfies it.
type ErrorSink interface {
	AppendErrorEvent(ctx context.Context, runID string, ev failure.Event) error
}

// Runner drives the ordered phase list.
type Runner struct {
	pc   *Context
	stop atomic.Bool
}

// NewRunner wires a sequencer around a prepared phase context.
func NewRunner(pc *Context) *Runner {
	return &Runner{pc: pc}
}

// RequestStop sets the stop flag. It is checked only at phase boundaries,
// never mid-phase, so a phase always finishes or fails on its own terms.
func (r *Runner) RequestStop() {
	r.stop.Store(true)
}

// Context exposes the phase context, mainly for tests.
func (r *Runner) Context() *Context { return r.pc }

// Run executes the phases in order and returns the run outcome. A failed
// critical phase or a stop request triggers rollback and full mount
// teardown before returning; both are skipped when the configuration says
// so. The invoking session is never signalled from here.
func (r *Runner) Run(ctx context.Context, phases []Phase) Outcome {
	pc := r.pc
	outcome := Outcome{RunID: pc.RunID}

	for i, phase := range phases {
		if r.stop.Load() || ctx.Err() != nil {
			outcome.Interrupted = true
			pc.Log.Warn("Stop requested, abandoning remaining phases", "next_phase", phase.Name)
			for _, rest := range phases[i:] {
				outcome.Phases = append(outcome.Phases, PhaseResult{Name: rest.Name, Status: StatusSkipped})
			}
			outcome.Failed = true
			outcome.FailedPhase = phase.Name
			r.cleanup(ctx, &outcome)
			return outcome
		}

		pc.Log.Info("Phase starting", "phase", phase.Name, "description", phase.Description, "policy", phase.Policy.String())
		pc.Bus.Publish(events.PhaseStarted{RunID: pc.RunID, Phase: phase.Name, Index: i, At: time.Now()})

		started := time.Now()
		err := phase.Run(ctx, pc)
		elapsed := time.Since(started)

		result := PhaseResult{Name: phase.Name, Duration: elapsed}
		switch {
		case err == nil:
			result.Status = StatusCompleted
			runlog.Success(pc.Log, "Phase completed", "phase", phase.Name, "duration", elapsed)
		case phase.Policy == PolicyOptional && !IsFatal(err):
			result.Status = StatusWarned
			result.Detail = err.Error()
			pc.Log.Warn("Optional phase failed, continuing", "phase", phase.Name, "error", err)
		default:
			result.Status = StatusFailed
			result.Detail = err.Error()
			pc.Log.Error("Critical phase failed", "phase", phase.Name, "error", err)
		}
		outcome.Phases = append(outcome.Phases, result)
		pc.Bus.Publish(events.PhaseFinished{
			RunID:    pc.RunID,
			Phase:    phase.Name,
			Status:   string(result.Status),
			Detail:   result.Detail,
			Duration: elapsed,
			At:       time.Now(),
		})

		if result.Status == StatusFailed {
			outcome.Failed = true
			outcome.FailedPhase = phase.Name
			for _, rest := range phases[i+1:] {
				outcome.Phases = append(outcome.Phases, PhaseResult{Name: rest.Name, Status: StatusSkipped})
			}
			r.cleanup(ctx, &outcome)
			return outcome
		}
	}

	// A teardown phase may have left stuck mounts behind without failing
	// the run; the outcome still has to carry them.
	outcome.Teardown.Stuck = pc.Mounts.StuckTargets()
	return outcome
}

// cleanup performs global rollback and mount teardown after a failed or
// interrupted run. Session integrity is checked before and after; the
// tracker and mount manager downgrade their own destructive steps.
func (r *Runner) cleanup(ctx context.Context, outcome *Outcome) {
	pc := r.pc
	if pc.Config.SkipCleanup {
		outcome.Teardown.Stuck = pc.Mounts.StuckTargets()
		pc.Log.Warn("Cleanup skipped by configuration", "pending_operations", pc.Tracker.Len(), "mounts", len(pc.Mounts.Mounted()))
		return
	}

	if pc.Session.Check() == session.Compromised {
		runlog.Critical(pc.Log, "Session compromised before cleanup, destructive steps disabled")
	}

	// Mounts first: undoing directory creation under a live mount would
	// cross filesystem boundaries.
	outcome.Teardown = pc.Mounts.UnmountAll(ctx)
	// Points stuck before this pass (an earlier teardown phase) are not
	// retried by UnmountAll, so fold them in from the manager's state.
	outcome.Teardown.Stuck = pc.Mounts.StuckTargets()
	outcome.RolledBack = pc.Tracker.Rollback(ctx)

	if pc.Session.Check() == session.Compromised {
		runlog.Critical(pc.Log, "Session compromised after cleanup", "reason", sessionReason(pc.Session))
	}
}

func sessionReason(c session.Checker) string {
	if m, ok := c.(*session.Monitor); ok {
		return m.Reason()
	}
	return ""
}
