package sequencer

import (
	"context"
	"errors"
	"fmt"

	"git.home.luguber.info/inful/isoforge/internal/command"
	"git.home.luguber.info/inful/isoforge/internal/failure"
	"git.home.luguber.info/inful/isoforge/internal/recovery"
)

// Exec runs one external command on behalf of a named operation. On failure
// the captured output is classified, the error event is persisted, and the
// recovery engine takes over: the retry closure re-runs the same command,
// elevated when the permission action asks for it. The returned error is
// nil when the operation ultimately succeeded or when the handling mode
// tolerates the unresolved failure.
func (pc *Context) Exec(ctx context.Context, opName string, cmd command.Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("%s: %w", opName, err)
	}

	res, err := pc.Runner.Run(ctx, cmd)
	if err == nil {
		return nil
	}

	ev := failure.NewEvent(opName, cmd.String(), res.ExitCode, res.Output)
	pc.Log.Error("Operation failed",
		"operation", opName,
		"command", cmd.String(),
		"exit_code", res.ExitCode,
		"kind", ev.Kind.String(),
		"timed_out", res.TimedOut,
	)
	if pc.Errors != nil {
		if storeErr := pc.Errors.AppendErrorEvent(ctx, pc.RunID, ev); storeErr != nil {
			pc.Log.Warn("Failed to persist error event", "error", storeErr)
		}
	}

	retry := func(ctx context.Context, elevate bool) error {
		run := cmd
		if elevate {
			run = cmd.Elevated()
		}
		_, retryErr := pc.Runner.Run(ctx, run)
		return retryErr
	}

	outcome := pc.Recovery.Recover(ctx, ev, retry)
	if pc.Recovery.Continuable(pc.Config, opName, outcome) {
		if outcome != recovery.Recovered {
			pc.Log.Warn("Unresolved failure tolerated by handling mode",
				"operation", opName,
				"mode", string(pc.Recovery.Mode()),
				"outcome", outcome.String(),
			)
		}
		return nil
	}

	// Non-continuable verdicts must fail the run even from an optional
	// phase, so the error escalates past the phase's own policy.
	return &FatalError{Err: fmt.Errorf("%s unrecovered (%s): %w", opName, outcome, ev)}
}

// FatalError wraps an operation failure the handling mode refuses to
// tolerate. The sequencer fails the run on it regardless of phase policy.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether the error chain carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
