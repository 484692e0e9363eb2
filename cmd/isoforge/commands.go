package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/isoforge/internal/config"
	"git.home.luguber.info/inful/isoforge/internal/eventstore"
	"git.home.luguber.info/inful/isoforge/internal/report"
	"git.home.luguber.info/inful/isoforge/internal/sequencer"
	"git.home.luguber.info/inful/isoforge/internal/version"
)

func runInit() int {
	if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
		slog.Error("Init failed", "error", err)
		return 1
	}
	fmt.Printf("Wrote starter configuration to %s\n", CLI.Config)
	return 0
}

// runReport re-renders a past run's report from the audit database.
func runReport() int {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	store, err := eventstore.Open(filepath.Join(cfg.LogDir, "isoforge.db"))
	if err != nil {
		slog.Error("Failed to open event store", "error", err)
		return 1
	}
	defer store.Close()

	ctx := context.Background()
	runID := CLI.Report.RunID
	if runID == "" {
		runs, err := store.Runs(ctx)
		if err != nil || len(runs) == 0 {
			slog.Error("No recorded runs found", "error", err)
			return 1
		}
		runID = runs[0]
	}

	history, err := store.History(ctx, runID)
	if err != nil {
		slog.Error("Failed to load run history", "run_id", runID, "error", err)
		return 1
	}

	data := historicalReport(runID, history)
	switch CLI.Report.Format {
	case "text":
		fmt.Print(data.Text())
	case "markdown":
		fmt.Print(data.Markdown())
	case "html":
		written, err := report.Write(cfg.LogDir, data, []string{"html"})
		if err != nil {
			slog.Error("Failed to write HTML report", "error", err)
			return 1
		}
		fmt.Printf("Wrote %s\n", written[0])
	default:
		slog.Error("Unknown report format", "format", CLI.Report.Format)
		return 1
	}
	return 0
}

// historicalReport reconstructs report data from stored phase events.
func historicalReport(runID string, history *eventstore.RunHistory) *report.Data {
	data := &report.Data{
		RunID:   runID,
		Outcome: "unknown",
		History: history,
	}
	for _, pe := range history.Phases {
		switch pe.EventType {
		case "started":
			if data.Started.IsZero() {
				data.Started = pe.At
			}
		case "build.succeeded":
			data.Outcome = "succeeded"
			data.Finished = pe.At
		case "build.failed":
			data.Outcome = "failed"
			data.Failed = pe.Detail
			data.Finished = pe.At
		default:
			data.Phases = append(data.Phases, sequencer.PhaseResult{
				Name:   pe.Phase,
				Status: sequencer.Status(pe.EventType),
				Detail: pe.Detail,
			})
		}
	}
	if data.Finished.IsZero() {
		data.Finished = time.Now()
	}
	return data
}

func runVersion() int {
	fmt.Fprintf(os.Stdout, "isoforge %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	return 0
}
