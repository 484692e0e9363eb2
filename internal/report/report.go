// Package report renders the end-of-run build report: phases executed,
// operations rolled back, stuck mount points and recovery attempts. A
// report is always written, success or failure.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/isoforge/internal/eventstore"
	"git.home.luguber.info/inful/isoforge/internal/sequencer"
)

// Data is everything a report renders.
type Data struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Outcome  string // succeeded, failed
	Failed   string // failed phase name, if any

	Phases     []sequencer.PhaseResult
	RolledBack []string
	UndoFailed []string
	Stuck      []string
	Downgraded bool

	History *eventstore.RunHistory // may be nil when the store is unavailable
}

// FromOutcome assembles report data from a finished run.
func FromOutcome(out sequencer.Outcome, started time.Time, history *eventstore.RunHistory) *Data {
	d := &Data{
		RunID:      out.RunID,
		Started:    started,
		Finished:   time.Now(),
		Outcome:    "succeeded",
		Phases:     out.Phases,
		RolledBack: out.RolledBack.Undone,
		UndoFailed: out.RolledBack.Failed,
		Stuck:      out.Teardown.Stuck,
		Downgraded: out.RolledBack.Downgraded,
		History:    history,
	}
	if out.Failed {
		d.Outcome = "failed"
		d.Failed = out.FailedPhase
	}
	return d
}

// Text renders the plain-text report.
func (d *Data) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "isoforge build report\n")
	fmt.Fprintf(&b, "run:      %s\n", d.RunID)
	fmt.Fprintf(&b, "outcome:  %s", d.Outcome)
	if d.Failed != "" {
		fmt.Fprintf(&b, " (phase %s)", d.Failed)
	}
	fmt.Fprintf(&b, "\nduration: %s\n\n", d.Finished.Sub(d.Started).Round(time.Second))

	b.WriteString("phases:\n")
	for _, p := range d.Phases {
		fmt.Fprintf(&b, "  %-12s %-10s %s", p.Name, p.Status, p.Duration.Round(time.Millisecond))
		if p.Detail != "" {
			fmt.Fprintf(&b, "  (%s)", p.Detail)
		}
		b.WriteString("\n")
	}

	if len(d.RolledBack) > 0 || len(d.UndoFailed) > 0 {
		b.WriteString("\nrolled back:\n")
		for _, op := range d.RolledBack {
			fmt.Fprintf(&b, "  - %s\n", op)
		}
		for _, op := range d.UndoFailed {
			fmt.Fprintf(&b, "  - %s (undo FAILED)\n", op)
		}
		if d.Downgraded {
			b.WriteString("  note: cleanup ran in downgraded (non-destructive) mode\n")
		}
	}

	if len(d.Stuck) > 0 {
		b.WriteString("\nstuck mount points:\n")
		for _, m := range d.Stuck {
			fmt.Fprintf(&b, "  - %s\n", m)
		}
	}

	if d.History != nil {
		if len(d.History.Errors) > 0 {
			b.WriteString("\nerror events:\n")
			for _, ev := range d.History.Errors {
				fmt.Fprintf(&b, "  [%s] %s: exit %d (%s)\n", ev.Timestamp.Format(time.TimeOnly), ev.Operation, ev.ExitCode, ev.Kind)
			}
		}
		if len(d.History.Attempts) > 0 {
			b.WriteString("\nrecovery attempts:\n")
			for _, a := range d.History.Attempts {
				fmt.Fprintf(&b, "  attempt %d action=%s outcome=%s\n", a.Number, a.Action, a.Outcome)
			}
		}
	}
	return b.String()
}

// Markdown renders the report as Markdown.
func (d *Data) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# isoforge build report: run %s\n\n", d.RunID)
	fmt.Fprintf(&b, "- **Outcome**: %s", d.Outcome)
	if d.Failed != "" {
		fmt.Fprintf(&b, " (failed phase: `%s`)", d.Failed)
	}
	fmt.Fprintf(&b, "\n- **Duration**: %s\n\n", d.Finished.Sub(d.Started).Round(time.Second))

	b.WriteString("## Phases\n\n| Phase | Status | Duration | Detail |\n|---|---|---|---|\n")
	for _, p := range d.Phases {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", p.Name, p.Status, p.Duration.Round(time.Millisecond), p.Detail)
	}

	if len(d.RolledBack) > 0 || len(d.UndoFailed) > 0 {
		b.WriteString("\n## Rolled back operations\n\n")
		for _, op := range d.RolledBack {
			fmt.Fprintf(&b, "- %s\n", op)
		}
		for _, op := range d.UndoFailed {
			fmt.Fprintf(&b, "- %s (**undo failed**)\n", op)
		}
		if d.Downgraded {
			b.WriteString("\n> Cleanup ran in downgraded (non-destructive) mode.\n")
		}
	}

	if len(d.Stuck) > 0 {
		b.WriteString("\n## Stuck mount points\n\n")
		for _, m := range d.Stuck {
			fmt.Fprintf(&b, "- `%s`\n", m)
		}
	}

	if d.History != nil && len(d.History.Attempts) > 0 {
		b.WriteString("\n## Recovery attempts\n\n| # | Action | Outcome |\n|---|---|---|\n")
		for _, a := range d.History.Attempts {
			fmt.Fprintf(&b, "| %d | %s | %s |\n", a.Number, a.Action, a.Outcome)
		}
	}
	return b.String()
}

// Write renders the requested formats into dir, named after the run.
// Returns the written paths.
func Write(dir string, d *Data, formats []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	var written []string
	for _, format := range formats {
		var (
			content []byte
			ext     string
			err     error
		)
		switch format {
		case "text":
			content, ext = []byte(d.Text()), "txt"
		case "markdown":
			content, ext = []byte(d.Markdown()), "md"
		case "html":
			content, err = renderHTML(d.Markdown())
			ext = "html"
			if err != nil {
				return written, err
			}
		default:
			return written, fmt.Errorf("unknown report format %q", format)
		}
		path := filepath.Join(dir, fmt.Sprintf("report-%s.%s", d.RunID, ext))
		if err := os.WriteFile(path, content, 0o640); err != nil {
			return written, fmt.Errorf("write report %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
