// Package command runs external OS tools through typed argument lists,
// capturing exit codes and combined output. No shell is ever involved, so
// there is nothing to quote and nothing to inject into.
package command

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command is a fully specified process invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string // appended to the inherited environment
}

// String renders the invocation for logging and audit records.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Elevated returns a copy of the command re-invoked through sudo.
// Already-elevated commands are returned unchanged.
func (c Command) Elevated() Command {
	if c.Path == "sudo" {
		return c
	}
	out := c
	out.Path = "sudo"
	out.Args = append([]string{c.Path}, c.Args...)
	return out
}

// Result captures what the core is allowed to observe about an external
// tool: its exit code, combined output and timing.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
	TimedOut bool
}

// Runner executes commands. The production implementation spawns processes;
// the dry-run implementation only logs.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner spawns real processes under a hard timeout ceiling.
type ExecRunner struct {
	Timeout time.Duration
	Log     *slog.Logger
}

// NewExecRunner builds a runner with the given per-command ceiling.
func NewExecRunner(timeout time.Duration, log *slog.Logger) *ExecRunner {
	return &ExecRunner{Timeout: timeout, Log: log}
}

// Run executes cmd, capturing combined stdout/stderr. A non-zero exit,
// start failure or timeout returns a non-nil error alongside the populated
// Result. Timed-out commands report ExitCode -1 with TimedOut set; the
// classifier maps them to the unknown kind.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	if r.Log != nil {
		r.Log.Debug("Executing command", "command", cmd.String(), "dir", cmd.Dir)
	}

	started := time.Now()
	proc := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	proc.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		proc.Env = append(os.Environ(), cmd.Env...)
	}
	out, err := proc.CombinedOutput()

	result := Result{
		Output:   string(out),
		Duration: time.Since(started),
	}

	if err == nil {
		result.ExitCode = 0
		return result, nil
	}

	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.TimedOut = true
		return result, &ExitError{Cmd: cmd, Result: result, Cause: runCtx.Err()}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{Cmd: cmd, Result: result, Cause: err}
	}

	// Start failure: no exit code exists. 127 keeps the POSIX
	// command-not-found convention where it applies.
	result.ExitCode = startFailureExitCode(err)
	result.Output = err.Error()
	return result, &ExitError{Cmd: cmd, Result: result, Cause: err}
}

func startFailureExitCode(err error) int {
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return 127
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, exec.ErrNotFound) {
		return 127
	}
	return 1
}

// ExitError wraps a failed invocation with its captured result.
type ExitError struct {
	Cmd    Command
	Result Result
	Cause  error
}

func (e *ExitError) Error() string {
	if e.Result.TimedOut {
		return "command timed out: " + e.Cmd.String()
	}
	return "command failed: " + e.Cmd.String()
}

func (e *ExitError) Unwrap() error { return e.Cause }

// DryRunner logs invocations without executing anything and reports success.
type DryRunner struct {
	Log *slog.Logger
}

// Run implements Runner.
func (r *DryRunner) Run(_ context.Context, cmd Command) (Result, error) {
	if r.Log != nil {
		r.Log.Info("Dry-run: would execute", "command", cmd.String(), "dir", cmd.Dir)
	}
	return Result{ExitCode: 0}, nil
}

// Passive reports that this runner executes nothing, so its exit codes
// carry no information about the host.
func (r *DryRunner) Passive() bool { return true }
