package sequencer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/isoforge/internal/command"
	"git.home.luguber.info/inful/isoforge/internal/config"
	"git.home.luguber.info/inful/isoforge/internal/events"
	"git.home.luguber.info/inful/isoforge/internal/mount"
	"git.home.luguber.info/inful/isoforge/internal/recovery"
	"git.home.luguber.info/inful/isoforge/internal/rollback"
	"git.home.luguber.info/inful/isoforge/internal/session"
)

// scriptedRunner fails a command a fixed number of times before letting it
// succeed, with scripted exit code and output.
type scriptedRunner struct {
	failures int
	exitCode int
	output   string
	runs     int
}

func (s *scriptedRunner) Run(_ context.Context, cmd command.Command) (command.Result, error) {
	s.runs++
	if s.runs <= s.failures {
		res := command.Result{ExitCode: s.exitCode, Output: s.output}
		return res, &command.ExitError{Cmd: cmd, Result: res}
	}
	return command.Result{ExitCode: 0}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestContext(t *testing.T, mode config.HandlingMode, runner command.Runner) *Context {
	t.Helper()
	cfg := &config.Config{
		Mode:           mode,
		NonContinuable: []string{"bootstrap"},
	}
	log := testLogger()
	eng := recovery.NewEngine(mode, recovery.Policy{
		Mode:        config.RetryBackoffFixed,
		Initial:     time.Millisecond,
		Max:         time.Millisecond,
		MaxAttempts: 3,
	}, runner, nil, log)
	return &Context{
		RunID:    "test-run",
		Config:   cfg,
		Runner:   runner,
		Tracker:  rollback.NewTracker(session.AlwaysAlive{}, log),
		Mounts:   mount.NewManager(runner, session.AlwaysAlive{}, log),
		Recovery: eng,
		Session:  session.AlwaysAlive{},
		Bus:      events.NewBus(log),
		Log:      log,
	}
}

func TestOptionalPhaseFailureContinues(t *testing.T) {
	pc := newTestContext(t, config.HandlingGraceful, &scriptedRunner{})
	r := NewRunner(pc)

	var ranLast bool
	outcome := r.Run(context.Background(), []Phase{
		{Name: "flaky", Policy: PolicyOptional, Run: func(context.Context, *Context) error {
			return errors.New("cosmetic problem")
		}},
		{Name: "final", Policy: PolicyCritical, Run: func(context.Context, *Context) error {
			ranLast = true
			return nil
		}},
	})

	assert.False(t, outcome.Failed)
	assert.True(t, ranLast)
	require.Len(t, outcome.Phases, 2)
	assert.Equal(t, StatusWarned, outcome.Phases[0].Status)
	assert.Equal(t, StatusCompleted, outcome.Phases[1].Status)
}

func TestCriticalPhaseFailureRollsBackAndSkipsRest(t *testing.T) {
	pc := newTestContext(t, config.HandlingGraceful, &scriptedRunner{})
	r := NewRunner(pc)

	var undone, ranLater bool
	outcome := r.Run(context.Background(), []Phase{
		{Name: "prepare", Policy: PolicyCritical, Run: func(_ context.Context, pc *Context) error {
			pc.Tracker.Record("workdir", "remove workdir", func(context.Context, bool) error {
				undone = true
				return nil
			})
			return nil
		}},
		{Name: "explode", Policy: PolicyCritical, Run: func(context.Context, *Context) error {
			return errors.New("boom")
		}},
		{Name: "never", Policy: PolicyCritical, Run: func(context.Context, *Context) error {
			ranLater = true
			return nil
		}},
	})

	assert.True(t, outcome.Failed)
	assert.Equal(t, "explode", outcome.FailedPhase)
	assert.True(t, undone, "rollback must run recorded undo actions")
	assert.False(t, ranLater)
	assert.Equal(t, StatusSkipped, outcome.Phases[2].Status)
	assert.Equal(t, []string{"remove workdir"}, outcome.RolledBack.Undone)
}

func TestStopRequestedChecksOnlyPhaseBoundary(t *testing.T) {
	pc := newTestContext(t, config.HandlingGraceful, &scriptedRunner{})
	r := NewRunner(pc)

	var firstFinished bool
	outcome := r.Run(context.Background(), []Phase{
		{Name: "working", Policy: PolicyCritical, Run: func(context.Context, *Context) error {
			r.RequestStop() // mid-phase: must not abort this phase
			firstFinished = true
			return nil
		}},
		{Name: "after-stop", Policy: PolicyCritical, Run: func(context.Context, *Context) error {
			t.Fatal("phase must not start after stop request")
			return nil
		}},
	})

	assert.True(t, firstFinished)
	assert.True(t, outcome.Interrupted)
	assert.True(t, outcome.Failed)
	assert.Equal(t, StatusCompleted, outcome.Phases[0].Status)
	assert.Equal(t, StatusSkipped, outcome.Phases[1].Status)
}

func TestSkipCleanupLeavesOperationsPending(t *testing.T) {
	pc := newTestContext(t, config.HandlingGraceful, &scriptedRunner{})
	pc.Config.SkipCleanup = true
	r := NewRunner(pc)

	undone := false
	outcome := r.Run(context.Background(), []Phase{
		{Name: "prepare", Policy: PolicyCritical, Run: func(_ context.Context, pc *Context) error {
			pc.Tracker.Record("workdir", "remove workdir", func(context.Context, bool) error {
				undone = true
				return nil
			})
			return nil
		}},
		{Name: "explode", Policy: PolicyCritical, Run: func(context.Context, *Context) error {
			return errors.New("boom")
		}},
	})

	assert.True(t, outcome.Failed)
	assert.False(t, undone, "skip-cleanup must leave the tracker untouched")
	assert.Equal(t, 1, pc.Tracker.Len())
}

// TestGracefulBootstrapDiskSpaceRecovers is the end-to-end recovery
// scenario: bootstrap fails once with ENOSPC, the disk-space action runs
// and the retry succeeds, so the phase completes.
func TestGracefulBootstrapDiskSpaceRecovers(t *testing.T) {
	runner := &scriptedRunner{failures: 1, exitCode: 1, output: "No space left on device"}
	pc := newTestContext(t, config.HandlingGraceful, runner)
	r := NewRunner(pc)

	outcome := r.Run(context.Background(), []Phase{
		{Name: "bootstrap", Policy: PolicyCritical, Run: func(ctx context.Context, pc *Context) error {
			return pc.Exec(ctx, "bootstrap", command.Debootstrap("amd64", "bookworm", "/chroot", "http://mirror", nil))
		}},
	})

	assert.False(t, outcome.Failed)
	assert.Equal(t, StatusCompleted, outcome.Phases[0].Status)
}

// TestGracefulBootstrapDiskSpaceExhausts is the failure arm: every retry
// keeps failing, bootstrap is non-continuable, so the run fails and rolls
// back.
func TestGracefulBootstrapDiskSpaceExhausts(t *testing.T) {
	runner := &scriptedRunner{failures: 1 << 10, exitCode: 1, output: "No space left on device"}
	pc := newTestContext(t, config.HandlingGraceful, runner)
	r := NewRunner(pc)

	undone := false
	outcome := r.Run(context.Background(), []Phase{
		{Name: "prepare", Policy: PolicyCritical, Run: func(_ context.Context, pc *Context) error {
			pc.Tracker.Record("workdir", "remove workdir", func(context.Context, bool) error {
				undone = true
				return nil
			})
			return nil
		}},
		{Name: "bootstrap", Policy: PolicyCritical, Run: func(ctx context.Context, pc *Context) error {
			return pc.Exec(ctx, "bootstrap", command.Debootstrap("amd64", "bookworm", "/chroot", "http://mirror", nil))
		}},
	})

	assert.True(t, outcome.Failed)
	assert.Equal(t, "bootstrap", outcome.FailedPhase)
	assert.True(t, undone)
}

// TestPermissiveToleratesFailure verifies a permissive run proceeds past a
// failed operation regardless of the recovery action's own outcome.
func TestPermissiveToleratesFailure(t *testing.T) {
	runner := &scriptedRunner{failures: 1 << 10, exitCode: 1, output: "No space left on device"}
	pc := newTestContext(t, config.HandlingPermissive, runner)
	r := NewRunner(pc)

	var ranNext bool
	outcome := r.Run(context.Background(), []Phase{
		{Name: "bootstrap", Policy: PolicyCritical, Run: func(ctx context.Context, pc *Context) error {
			return pc.Exec(ctx, "bootstrap", command.Debootstrap("amd64", "bookworm", "/chroot", "http://mirror", nil))
		}},
		{Name: "next", Policy: PolicyCritical, Run: func(context.Context, *Context) error {
			ranNext = true
			return nil
		}},
	})

	assert.False(t, outcome.Failed)
	assert.True(t, ranNext, "permissive mode must proceed to the next phase")
}

// toolRunner responds per command name: mountpoint probes say "not
// mounted", umount always fails, everything else succeeds.
type toolRunner struct {
	calls []command.Command
}

func (tr *toolRunner) Run(_ context.Context, cmd command.Command) (command.Result, error) {
	tr.calls = append(tr.calls, cmd)
	switch cmd.Path {
	case "mountpoint":
		res := command.Result{ExitCode: 1}
		return res, &command.ExitError{Cmd: cmd, Result: res}
	case "umount":
		res := command.Result{ExitCode: 32, Output: "target is busy"}
		return res, &command.ExitError{Cmd: cmd, Result: res}
	default:
		return command.Result{ExitCode: 0}, nil
	}
}

// TestStuckMountsSurfaceOnSuccessfulRun verifies that mounts left stuck by
// an optional teardown phase still land in the outcome when the run as a
// whole succeeds.
func TestStuckMountsSurfaceOnSuccessfulRun(t *testing.T) {
	runner := &toolRunner{}
	pc := newTestContext(t, config.HandlingGraceful, runner)
	r := NewRunner(pc)

	target := t.TempDir()
	outcome := r.Run(context.Background(), []Phase{
		{Name: "chroot-mounts", Policy: PolicyCritical, Run: func(ctx context.Context, pc *Context) error {
			return pc.Mounts.Mount(ctx, mount.Spec{Source: "proc", Target: target, FSType: "proc"})
		}},
		{Name: "teardown", Policy: PolicyOptional, Run: func(ctx context.Context, pc *Context) error {
			res := pc.Mounts.UnmountAll(ctx)
			if len(res.Stuck) > 0 {
				return fmt.Errorf("%d mount(s) could not be released", len(res.Stuck))
			}
			return nil
		}},
	})

	assert.False(t, outcome.Failed, "a warned teardown must not fail the run")
	require.Len(t, outcome.Phases, 2)
	assert.Equal(t, StatusWarned, outcome.Phases[1].Status)
	assert.Equal(t, []string{target}, outcome.Teardown.Stuck,
		"stuck mounts must reach the outcome even on success")
}

// TestStrictExhaustionFailsOptionalPhase verifies that a strict-mode
// operation out of retries takes the run down even when the phase that
// issued it is merely optional.
func TestStrictExhaustionFailsOptionalPhase(t *testing.T) {
	runner := &scriptedRunner{failures: 1 << 10, exitCode: 1, output: "No space left on device"}
	pc := newTestContext(t, config.HandlingStrict, runner)
	r := NewRunner(pc)

	var undone, ranLater bool
	outcome := r.Run(context.Background(), []Phase{
		{Name: "prepare", Policy: PolicyCritical, Run: func(_ context.Context, pc *Context) error {
			pc.Tracker.Record("workdir", "remove workdir", func(context.Context, bool) error {
				undone = true
				return nil
			})
			return nil
		}},
		{Name: "docs", Policy: PolicyOptional, Run: func(ctx context.Context, pc *Context) error {
			return pc.Exec(ctx, "docs", command.Command{Path: "pandoc", Args: []string{"README.md"}})
		}},
		{Name: "never", Policy: PolicyCritical, Run: func(context.Context, *Context) error {
			ranLater = true
			return nil
		}},
	})

	assert.True(t, outcome.Failed)
	assert.Equal(t, "docs", outcome.FailedPhase)
	assert.Equal(t, StatusFailed, outcome.Phases[1].Status)
	assert.True(t, undone, "exhaustion in strict mode must trigger rollback")
	assert.False(t, ranLater)
}
