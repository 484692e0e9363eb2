package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/isoforge/internal/command"
	"git.home.luguber.info/inful/isoforge/internal/config"
	"git.home.luguber.info/inful/isoforge/internal/events"
	"git.home.luguber.info/inful/isoforge/internal/eventstore"
	"git.home.luguber.info/inful/isoforge/internal/foundation"
	"git.home.luguber.info/inful/isoforge/internal/metrics"
	"git.home.luguber.info/inful/isoforge/internal/mount"
	"git.home.luguber.info/inful/isoforge/internal/phases"
	"git.home.luguber.info/inful/isoforge/internal/recovery"
	"git.home.luguber.info/inful/isoforge/internal/report"
	"git.home.luguber.info/inful/isoforge/internal/rollback"
	"git.home.luguber.info/inful/isoforge/internal/runlog"
	"git.home.luguber.info/inful/isoforge/internal/sequencer"
	"git.home.luguber.info/inful/isoforge/internal/session"
	"git.home.luguber.info/inful/isoforge/internal/workspace"
)

// runBuild is the single boundary that turns a build result into a process
// exit code. Everything below it returns values.
func runBuild() int {
	result := executeBuild()
	if result.IsErr() {
		slog.Error("Build failed", "error", result.UnwrapErr())
		return 1
	}
	return result.Unwrap().ExitCode()
}

func executeBuild() foundation.Result[sequencer.Outcome, error] {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return foundation.Err[sequencer.Outcome](err)
	}
	if CLI.Build.DryRun {
		cfg.DryRun = true
	}
	if CLI.Build.SkipCleanup {
		cfg.SkipCleanup = true
	}
	if CLI.Build.Mode != "" {
		mode := config.NormalizeHandlingMode(CLI.Build.Mode)
		if mode == "" {
			return foundation.Err[sequencer.Outcome](fmt.Errorf("invalid --mode %q", CLI.Build.Mode))
		}
		cfg.Mode = mode
	}

	started := time.Now()
	runID := uuid.NewString()[:8] + "-" + runlog.Timestamp(started)

	level := runlog.LevelInfo
	if CLI.Verbose {
		level = runlog.LevelDebug
	}
	log, err := runlog.Open(cfg.LogDir, runID, level, os.Stderr)
	if err != nil {
		return foundation.Err[sequencer.Outcome](err)
	}
	defer log.Close()
	logger := log.Logger()
	slog.SetDefault(logger)

	logger.Info("Build starting",
		"run_id", runID,
		"suite", cfg.Image.Suite,
		"mode", string(cfg.Mode),
		"dry_run", cfg.DryRun,
	)

	monitor := session.NewMonitor(log.Path(), cfg.MonitorInterval.Std(), logger)
	if err := monitor.Start(); err != nil {
		return foundation.Err[sequencer.Outcome](err)
	}
	defer monitor.Stop()

	store, err := eventstore.Open(filepath.Join(cfg.LogDir, "isoforge.db"))
	if err != nil {
		return foundation.Err[sequencer.Outcome](err)
	}
	defer store.Close()

	bus := events.NewBus(logger)
	bus.SubscribeAll(func(e events.Event) error {
		switch ev := e.(type) {
		case events.PhaseStarted:
			return store.AppendPhaseEvent(context.Background(), ev.RunID, ev.Phase, "started", "")
		case events.PhaseFinished:
			return store.AppendPhaseEvent(context.Background(), ev.RunID, ev.Phase, ev.Status, ev.Detail)
		case events.BuildFinished:
			return store.AppendPhaseEvent(context.Background(), ev.RunID, "-", "build."+ev.Outcome, ev.Detail)
		}
		return nil
	})

	runMetrics := metrics.New()
	bus.SubscribeAll(runMetrics.PhaseHandler())

	var sink *events.NATSSink
	if cfg.Events.NATSURL != "" {
		sink, err = events.NewNATSSink(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("Event sink unavailable, continuing without it", "error", err)
		} else {
			bus.SubscribeAll(sink.Handler())
			defer sink.Close()
		}
	}

	var runner command.Runner
	if cfg.DryRun {
		runner = &command.DryRunner{Log: logger}
	} else {
		runner = command.NewExecRunner(cfg.CommandTimeout.Std(), logger)
	}

	ws := workspace.NewManager(cfg.WorkDir, logger)

	recorder := &countingRecorder{next: store.RecorderFor(runID), metrics: runMetrics}
	engine := recovery.NewEngine(cfg.Mode, recovery.PolicyFromConfig(cfg.Retry), runner, recorder, logger).
		WithChroot(ws.ChrootDir()).
		WithPurgeDirs(ws.ScratchDir())

	tracker := rollback.NewTracker(monitor, logger)
	mounts := mount.NewManager(runner, monitor, logger)

	pc := &sequencer.Context{
		RunID:    runID,
		Config:   cfg,
		Runner:   runner,
		Tracker:  tracker,
		Mounts:   mounts,
		Recovery: engine,
		Session:  monitor,
		Bus:      bus,
		Log:      logger,
		Errors:   store,
	}
	seq := sequencer.NewRunner(pc)

	// The interrupt path only requests a stop; the sequencer checks the
	// flag at phase boundaries and unwinds cleanly. Nothing here ever
	// signals the parent session.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	go func() {
		<-sigCtx.Done()
		seq.RequestStop()
	}()

	outcome := seq.Run(context.Background(), phases.Standard(ws))

	buildStatus := "succeeded"
	if outcome.Failed {
		buildStatus = "failed"
	}
	bus.Publish(events.BuildFinished{RunID: runID, Outcome: buildStatus, Detail: outcome.FailedPhase, At: time.Now()})

	runMetrics.ObserveStuckMounts(len(outcome.Teardown.Stuck))
	runMetrics.ObserveRolledBack(len(outcome.RolledBack.Undone))
	runMetrics.ObserveDuration(time.Since(started).Seconds())
	if cfg.Metrics.PushgatewayURL != "" {
		if err := runMetrics.Push(cfg.Metrics.PushgatewayURL, runID); err != nil {
			logger.Warn("Metrics push failed", "error", err)
		}
	}

	// The report is always written, success or failure.
	history, histErr := store.History(context.Background(), runID)
	if histErr != nil {
		logger.Warn("Cannot load run history for report", "error", histErr)
	}
	data := report.FromOutcome(outcome, started, history)
	written, repErr := report.Write(cfg.LogDir, data, cfg.Report.Formats)
	if repErr != nil {
		logger.Warn("Report write incomplete", "error", repErr)
	}
	for _, p := range written {
		logger.Info("Report written", "path", p)
	}

	if outcome.Failed {
		logger.Error("Build failed", "phase", outcome.FailedPhase, "interrupted", outcome.Interrupted)
	} else {
		runlog.Success(logger, "Build succeeded", "iso", cfg.Image.OutputISO, "duration", time.Since(started).Round(time.Second))
	}
	return foundation.Ok[sequencer.Outcome, error](outcome)
}

// countingRecorder feeds recovery attempts to both the audit store and the
// metrics registry.
type countingRecorder struct {
	next    recovery.Recorder
	metrics *metrics.Metrics
}

func (c *countingRecorder) RecordRecoveryAttempt(ctx context.Context, a recovery.Attempt) error {
	c.metrics.ObserveRecovery(a.Kind, a.Outcome)
	return c.next.RecordRecoveryAttempt(ctx, a)
}
