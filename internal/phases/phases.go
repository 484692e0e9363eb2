// Package phases defines the standard ISO build phase list. Each executor
// is a thin wrapper over the typed tool builders; risky actions record undo
// operations and mounts as they go so the sequencer can unwind a failed
// run.
package phases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/isoforge/internal/command"
	"git.home.luguber.info/inful/isoforge/internal/mount"
	"git.home.luguber.info/inful/isoforge/internal/sequencer"
	"git.home.luguber.info/inful/isoforge/internal/workspace"
)

// Standard returns the ordered phase list for a full build.
func Standard(ws *workspace.Manager) []sequencer.Phase {
	return []sequencer.Phase{
		{
			Name:        "prepare",
			Description: "create build workspace",
			Policy:      sequencer.PolicyCritical,
			Run:         prepare(ws),
		},
		{
			Name:        "bootstrap",
			Description: "bootstrap base system into chroot",
			Policy:      sequencer.PolicyCritical,
			Run:         bootstrap(ws),
		},
		{
			Name:        "mount",
			Description: "mount pseudo-filesystems into chroot",
			Policy:      sequencer.PolicyCritical,
			Run:         mountPseudoFS(ws),
		},
		{
			Name:        "configure",
			Description: "install packages inside chroot",
			Policy:      sequencer.PolicyCritical,
			Run:         configure(ws),
		},
		{
			Name:        "squashfs",
			Description: "compress chroot into squashfs",
			Policy:      sequencer.PolicyCritical,
			Run:         squashfs(ws),
		},
		{
			Name:        "iso",
			Description: "assemble bootable ISO",
			Policy:      sequencer.PolicyCritical,
			Run:         assembleISO(ws),
		},
		{
			Name:        "teardown",
			Description: "unmount pseudo-filesystems",
			Policy:      sequencer.PolicyOptional,
			Run:         teardown,
		},
	}
}

func prepare(ws *workspace.Manager) func(context.Context, *sequencer.Context) error {
	return func(ctx context.Context, pc *sequencer.Context) error {
		if err := ws.Create(); err != nil {
			return err
		}
		pc.Tracker.Record("workdir", "remove workspace "+ws.Path(), func(ctx context.Context, destructive bool) error {
			if pc.Config.SkipCleanup {
				return nil
			}
			return ws.Cleanup(destructive)
		})
		return nil
	}
}

func bootstrap(ws *workspace.Manager) func(context.Context, *sequencer.Context) error {
	return func(ctx context.Context, pc *sequencer.Context) error {
		img := pc.Config.Image
		cmd := command.Debootstrap(img.Arch, img.Suite, ws.ChrootDir(), img.Mirror, nil)
		return pc.Exec(ctx, "bootstrap", cmd)
	}
}

// pseudoMounts is the fixed mount order; /dev before /dev/pts so teardown
// (reverse order) releases the child first.
func pseudoMounts(chroot string) []mount.Spec {
	return []mount.Spec{
		{Source: "/dev", Target: filepath.Join(chroot, "dev"), Bind: true},
		{Source: "/dev/pts", Target: filepath.Join(chroot, "dev", "pts"), Bind: true},
		{Source: "proc", Target: filepath.Join(chroot, "proc"), FSType: "proc"},
		{Source: "sysfs", Target: filepath.Join(chroot, "sys"), FSType: "sysfs"},
	}
}

func mountPseudoFS(ws *workspace.Manager) func(context.Context, *sequencer.Context) error {
	return func(ctx context.Context, pc *sequencer.Context) error {
		for _, spec := range pseudoMounts(ws.ChrootDir()) {
			if err := ensureDir(spec.Target); err != nil {
				return err
			}
			// The manager handles dry-run itself: a passive runner skips
			// the probes but the stack is still tracked for teardown.
			if err := pc.Mounts.Mount(ctx, spec); err != nil {
				return err
			}
		}
		return nil
	}
}

func configure(ws *workspace.Manager) func(context.Context, *sequencer.Context) error {
	return func(ctx context.Context, pc *sequencer.Context) error {
		chroot := ws.ChrootDir()

		// The index mutation marker lets rollback know apt state changed
		// in a chroot we may be about to discard.
		marker := filepath.Join(ws.ScratchDir(), "apt-index-updated")
		pc.Tracker.Record("pkg-index", "remove package index marker", func(ctx context.Context, _ bool) error {
			return os.Remove(marker)
		})
		if err := pc.Exec(ctx, "apt-update", command.ChrootAptUpdate(chroot)); err != nil {
			return err
		}
		if !pc.Config.DryRun {
			if err := os.WriteFile(marker, []byte("1\n"), 0o640); err != nil {
				pc.Log.Warn("Cannot write package index marker", "error", err)
			}
		}

		if len(pc.Config.Image.Packages) == 0 {
			return nil
		}
		installArgs := append([]string{"install"}, pc.Config.Image.Packages...)
		return pc.Exec(ctx, "apt-install", command.ChrootAptGet(chroot, installArgs...))
	}
}

func squashfs(ws *workspace.Manager) func(context.Context, *sequencer.Context) error {
	return func(ctx context.Context, pc *sequencer.Context) error {
		liveDir := filepath.Join(ws.StagingDir(), "live")
		if err := ensureDir(liveDir); err != nil {
			return err
		}
		outFile := filepath.Join(liveDir, "filesystem.squashfs")

		// A partial squashfs is worse than none: record its removal
		// before the compressor starts.
		id := pc.Tracker.Record("artifact", "remove partial squashfs "+outFile, func(ctx context.Context, destructive bool) error {
			if !destructive {
				return nil
			}
			return os.Remove(outFile)
		})

		if err := pc.Exec(ctx, "squashfs", command.Mksquashfs(ws.ChrootDir(), outFile, "xz")); err != nil {
			return err
		}
		pc.Tracker.Forget(id)
		return nil
	}
}

func assembleISO(ws *workspace.Manager) func(context.Context, *sequencer.Context) error {
	return func(ctx context.Context, pc *sequencer.Context) error {
		img := pc.Config.Image
		if err := ensureDir(filepath.Dir(img.OutputISO)); err != nil {
			return err
		}

		id := pc.Tracker.Record("artifact", "remove partial ISO "+img.OutputISO, func(ctx context.Context, destructive bool) error {
			if !destructive {
				return nil
			}
			return os.Remove(img.OutputISO)
		})

		assemble := command.GrubMkrescue(ws.StagingDir(), img.OutputISO, img.VolumeID)
		if img.ISOTool == "xorriso" {
			assemble = command.Xorriso(ws.StagingDir(), img.OutputISO, img.VolumeID)
		}
		if err := pc.Exec(ctx, "iso", assemble); err != nil {
			return err
		}
		pc.Tracker.Forget(id)
		return nil
	}
}

func teardown(ctx context.Context, pc *sequencer.Context) error {
	result := pc.Mounts.UnmountAll(ctx)
	if len(result.Stuck) > 0 {
		return fmt.Errorf("%d mount point(s) stuck: %v", len(result.Stuck), result.Stuck)
	}
	return nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}
