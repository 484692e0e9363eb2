package phases

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"git.home.luguber.info/inful/isoforge/internal/command"
	"git.home.luguber.info/inful/isoforge/internal/config"
	"git.home.luguber.info/inful/isoforge/internal/events"
	"git.home.luguber.info/inful/isoforge/internal/mount"
	"git.home.luguber.info/inful/isoforge/internal/recovery"
	"git.home.luguber.info/inful/isoforge/internal/rollback"
	"git.home.luguber.info/inful/isoforge/internal/sequencer"
	"git.home.luguber.info/inful/isoforge/internal/session"
	"git.home.luguber.info/inful/isoforge/internal/workspace"
)

func TestStandardPhaseOrder(t *testing.T) {
	ws := workspace.NewManager(t.TempDir(), nil)
	list := Standard(ws)

	want := []string{"prepare", "bootstrap", "mount", "configure", "squashfs", "iso", "teardown"}
	if len(list) != len(want) {
		t.Fatalf("got %d phases, want %d", len(list), len(want))
	}
	for i, name := range want {
		if list[i].Name != name {
			t.Errorf("phase[%d] = %q, want %q", i, list[i].Name, name)
		}
	}
}

func TestStandardPoliciesOnlyTeardownOptional(t *testing.T) {
	ws := workspace.NewManager(t.TempDir(), nil)
	for _, p := range Standard(ws) {
		want := sequencer.PolicyCritical
		if p.Name == "teardown" {
			want = sequencer.PolicyOptional
		}
		if p.Policy != want {
			t.Errorf("phase %q policy = %v, want %v", p.Name, p.Policy, want)
		}
	}
}

func TestPseudoMountOrder(t *testing.T) {
	specs := pseudoMounts("/work/chroot")
	if len(specs) != 4 {
		t.Fatalf("got %d pseudo mounts, want 4", len(specs))
	}
	// /dev must precede /dev/pts so reverse teardown releases pts first.
	if specs[0].Target != filepath.Join("/work/chroot", "dev") {
		t.Errorf("first mount = %q, want chroot /dev", specs[0].Target)
	}
	if specs[1].Target != filepath.Join("/work/chroot", "dev", "pts") {
		t.Errorf("second mount = %q, want chroot /dev/pts", specs[1].Target)
	}
	if !specs[0].Bind || !specs[1].Bind {
		t.Error("/dev and /dev/pts must be bind mounts")
	}
	if specs[2].FSType != "proc" || specs[3].FSType != "sysfs" {
		t.Errorf("pseudo fs types = %q, %q", specs[2].FSType, specs[3].FSType)
	}
}

// TestDryRunFullBuild drives the complete standard phase list with the
// dry runner; no external tool exists on the test host, so every command
// must go through untouched.
func TestDryRunFullBuild(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tmp := t.TempDir()
	ws := workspace.NewManager(tmp, log)
	runner := &command.DryRunner{}

	cfg := &config.Config{
		Image: config.ImageConfig{
			Suite:     "bookworm",
			Mirror:    "http://deb.debian.org/debian",
			Arch:      "amd64",
			Packages:  []string{"live-boot"},
			VolumeID:  "TEST",
			OutputISO: filepath.Join(tmp, "out", "test.iso"),
		},
		Mode:           config.HandlingGraceful,
		DryRun:         true,
		NonContinuable: []string{"bootstrap", "squashfs", "iso"},
	}

	pc := &sequencer.Context{
		RunID:   "dry-run",
		Config:  cfg,
		Runner:  runner,
		Tracker: rollback.NewTracker(session.AlwaysAlive{}, log),
		Mounts:  mount.NewManager(runner, session.AlwaysAlive{}, log),
		Recovery: recovery.NewEngine(cfg.Mode, recovery.Policy{
			Mode:        config.RetryBackoffFixed,
			Initial:     time.Millisecond,
			Max:         time.Millisecond,
			MaxAttempts: 1,
		}, runner, nil, log),
		Session: session.AlwaysAlive{},
		Bus:     events.NewBus(log),
		Log:     log,
	}

	outcome := sequencer.NewRunner(pc).Run(context.Background(), Standard(ws))

	if outcome.Failed {
		t.Fatalf("dry run failed at phase %q: %+v", outcome.FailedPhase, outcome.Phases)
	}
	for _, p := range outcome.Phases {
		if p.Status != sequencer.StatusCompleted {
			t.Errorf("phase %q status = %q, want completed", p.Name, p.Status)
		}
	}
}

// recordingRunner accepts every command and remembers it.
type recordingRunner struct {
	calls []command.Command
}

func (rr *recordingRunner) Run(_ context.Context, cmd command.Command) (command.Result, error) {
	rr.calls = append(rr.calls, cmd)
	return command.Result{ExitCode: 0}, nil
}

func TestISOToolSelection(t *testing.T) {
	cases := []struct {
		tool string
		want string
	}{
		{"grub-mkrescue", "grub-mkrescue"},
		{"xorriso", "xorriso"},
	}
	for _, tc := range cases {
		t.Run(tc.tool, func(t *testing.T) {
			log := slog.New(slog.NewTextHandler(io.Discard, nil))
			tmp := t.TempDir()
			ws := workspace.NewManager(tmp, log)
			runner := &recordingRunner{}

			pc := &sequencer.Context{
				RunID: "tool-select",
				Config: &config.Config{
					Image: config.ImageConfig{
						Suite:     "bookworm",
						VolumeID:  "TEST",
						OutputISO: filepath.Join(tmp, "out", "test.iso"),
						ISOTool:   tc.tool,
					},
				},
				Runner:  runner,
				Tracker: rollback.NewTracker(session.AlwaysAlive{}, log),
				Log:     log,
			}

			var iso sequencer.Phase
			for _, p := range Standard(ws) {
				if p.Name == "iso" {
					iso = p
				}
			}
			if iso.Run == nil {
				t.Fatal("standard phase list has no iso phase")
			}
			if err := iso.Run(context.Background(), pc); err != nil {
				t.Fatalf("iso phase: %v", err)
			}

			last := runner.calls[len(runner.calls)-1]
			if last.Path != tc.want {
				t.Errorf("assembly tool = %q, want %q", last.Path, tc.want)
			}
		})
	}
}
