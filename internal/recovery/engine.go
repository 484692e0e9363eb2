// Package recovery drives bounded-retry recovery for classified failures.
// Each error kind has one recovery action; the handling mode decides how
// many attempts are made and what an exhausted operation means for the run.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/isoforge/internal/command"
	"git.home.luguber.info/inful/isoforge/internal/config"
	"git.home.luguber.info/inful/isoforge/internal/failure"
)

// Outcome is the terminal result of a recovery cycle.
type Outcome int

const (
	Recovered Outcome = iota
	ExhaustedRetries
	NotRecoverable
)

func (o Outcome) String() string {
	switch o {
	case Recovered:
		return "recovered"
	case ExhaustedRetries:
		return "exhausted_retries"
	case NotRecoverable:
		return "not_recoverable"
	}
	return "invalid"
}

// Attempt records one recovery try for the audit log.
type Attempt struct {
	EventID string
	Kind    string
	Action  string
	Number  int
	Outcome string
	At      time.Time
}

// Recorder persists recovery attempts. The event store implements it.
type Recorder interface {
	RecordRecoveryAttempt(ctx context.Context, a Attempt) error
}

// RetryFunc re-runs the failed operation. The elevate hint is set when the
// permission action asks for a privileged re-invocation.
type RetryFunc func(ctx context.Context, elevate bool) error

// Engine applies the configured handling mode to classified failures.
type Engine struct {
	mode      config.HandlingMode
	policy    Policy
	runner    command.Runner
	recorder  Recorder
	log       *slog.Logger
	purgeDirs []string
	chrootDir string
	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewEngine constructs an engine. purgeDirs are candidate cache/temp
// directories cleared by the disk-space action; chrootDir locates the
// package index for the package-manager action.
func NewEngine(mode config.HandlingMode, policy Policy, runner command.Runner, recorder Recorder, log *slog.Logger) *Engine {
	return &Engine{
		mode:     mode,
		policy:   policy,
		runner:   runner,
		recorder: recorder,
		log:      log,
		sleep:    time.Sleep,
	}
}

// WithPurgeDirs sets the directories the disk-space action may clear.
func (e *Engine) WithPurgeDirs(dirs ...string) *Engine {
	e.purgeDirs = dirs
	return e
}

// WithChroot points the package-manager action at the chroot.
func (e *Engine) WithChroot(dir string) *Engine {
	e.chrootDir = dir
	return e
}

// Mode returns the engine's handling mode.
func (e *Engine) Mode() config.HandlingMode { return e.mode }

// Recover runs the recovery cycle for a classified failure. retry re-runs
// the failed operation; it must be safe to call repeatedly.
//
//   - permissive: the kind action and one retry run exactly once; the
//     caller treats the operation as non-fatal whatever happens here.
//   - strict and graceful: up to MaxAttempts cycles of action+retry with
//     backoff; exhaustion yields ExhaustedRetries.
//
// Kinds with no defined action (interrupted, session compromised) return
// NotRecoverable immediately.
func (e *Engine) Recover(ctx context.Context, ev failure.Event, retry RetryFunc) Outcome {
	action, elevate := e.actionFor(ev.Kind)
	if action == nil {
		e.record(ctx, ev, "none", 1, NotRecoverable.String())
		return NotRecoverable
	}

	attempts := e.policy.MaxAttempts
	if e.mode == config.HandlingPermissive {
		attempts = 1
	}

	for n := 1; n <= attempts; n++ {
		if n > 1 {
			delay := e.policy.Delay(n)
			if e.log != nil {
				e.log.Info("Backing off before recovery attempt", "operation", ev.Operation, "attempt", n, "delay", delay)
			}
			e.sleep(delay)
		}
		if ctx.Err() != nil {
			e.record(ctx, ev, action.name, n, NotRecoverable.String())
			return NotRecoverable
		}

		if e.log != nil {
			e.log.Info("Recovery attempt", "operation", ev.Operation, "kind", ev.Kind.String(), "action", action.name, "attempt", n, "max", attempts)
		}
		action.run(ctx)

		if err := retry(ctx, elevate); err == nil {
			e.record(ctx, ev, action.name, n, Recovered.String())
			return Recovered
		}
		// Only the terminal row carries the cycle's outcome; earlier
		// rows are plain failures with retries still pending.
		if n < attempts {
			e.record(ctx, ev, action.name, n, attemptFailed)
		}
	}

	if e.mode == config.HandlingPermissive {
		// One shot, outcome tolerated by the caller either way.
		e.record(ctx, ev, action.name, attempts, NotRecoverable.String())
		return NotRecoverable
	}
	e.record(ctx, ev, action.name, attempts, ExhaustedRetries.String())
	if e.log != nil {
		e.log.Error("Recovery exhausted", "operation", ev.Operation, "kind", ev.Kind.String(), "attempts", attempts)
	}
	return ExhaustedRetries
}

// Continuable decides whether the run may proceed past an unrecovered
// operation, applying the one consistent mode precedence.
func (e *Engine) Continuable(cfg *config.Config, opName string, out Outcome) bool {
	if out == Recovered {
		return true
	}
	switch e.mode {
	case config.HandlingPermissive:
		return true
	case config.HandlingStrict:
		return false
	default: // graceful
		return !cfg.IsNonContinuable(opName)
	}
}

// attemptFailed marks a non-terminal failed attempt in the audit trail.
const attemptFailed = "failed"

func (e *Engine) record(ctx context.Context, ev failure.Event, action string, n int, outcome string) {
	if e.recorder == nil {
		return
	}
	a := Attempt{
		EventID: ev.ID,
		Kind:    ev.Kind.String(),
		Action:  action,
		Number:  n,
		Outcome: outcome,
		At:      time.Now(),
	}
	if err := e.recorder.RecordRecoveryAttempt(ctx, a); err != nil && e.log != nil {
		e.log.Warn("Failed to persist recovery attempt", "error", err)
	}
}
