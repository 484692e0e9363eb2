package recovery

import (
	"context"
	"time"

	"git.home.luguber.info/inful/isoforge/internal/command"
	"git.home.luguber.info/inful/isoforge/internal/failure"
)

// kindAction is one recovery action. Actions are best-effort side effects;
// only the subsequent retry of the original operation decides success. Each
// command an action issues runs through the shared runner and therefore
// under the same timeout ceiling as everything else.
type kindAction struct {
	name string
	run  func(ctx context.Context)
}

// networkBackoff is the fixed settle delay applied for network failures on
// top of the policy backoff.
const networkBackoff = 5 * time.Second

// actionFor returns the action for a kind and whether the retry should be
// re-invoked with elevated privileges. The switch is exhaustive over the
// closed Kind set; adding a kind without deciding its action is a compile
// nudge via the default panic in tests.
func (e *Engine) actionFor(kind failure.Kind) (*kindAction, bool) {
	switch kind {
	case failure.KindPermission:
		return &kindAction{
			name: "elevate",
			run:  func(context.Context) {}, // elevation happens in the retry itself
		}, true
	case failure.KindDiskSpace:
		return &kindAction{name: "purge-space", run: e.purgeSpace}, false
	case failure.KindNetwork:
		return &kindAction{
			name: "network-backoff",
			run:  func(context.Context) { e.sleep(networkBackoff) },
		}, false
	case failure.KindPackageManager:
		return &kindAction{name: "refresh-index", run: e.refreshPackageIndex}, false
	case failure.KindMountBusy:
		return &kindAction{name: "lazy-unmount", run: e.lazyUnmountImplicated}, false
	case failure.KindInterrupted, failure.KindUnknown, failure.KindSessionCompromised:
		return nil, false
	}
	return nil, false
}

// purgeSpace clears the configured cache/temp directories and the chroot
// apt archive to free disk before retrying.
func (e *Engine) purgeSpace(ctx context.Context) {
	for _, dir := range e.purgeDirs {
		if _, err := e.runner.Run(ctx, command.RemovePath(dir, true)); err != nil && e.log != nil {
			e.log.Warn("Purge failed", "dir", dir, "error", err)
		}
	}
	if e.chrootDir != "" {
		if _, err := e.runner.Run(ctx, command.ChrootAptClean(e.chrootDir)); err != nil && e.log != nil {
			e.log.Warn("apt clean in chroot failed", "error", err)
		}
	}
}

// refreshPackageIndex re-runs apt-get update inside the chroot.
func (e *Engine) refreshPackageIndex(ctx context.Context) {
	if e.chrootDir == "" {
		return
	}
	if _, err := e.runner.Run(ctx, command.ChrootAptUpdate(e.chrootDir)); err != nil && e.log != nil {
		e.log.Warn("Package index refresh failed", "error", err)
	}
}

// lazyUnmountImplicated lazy-unmounts paths the failed command was holding.
// The chroot dir is the only path the engine can name without parsing tool
// output, so that is what it detaches.
func (e *Engine) lazyUnmountImplicated(ctx context.Context) {
	if e.chrootDir == "" {
		return
	}
	if _, err := e.runner.Run(ctx, command.Umount(e.chrootDir, true, false)); err != nil && e.log != nil {
		e.log.Warn("Lazy unmount of implicated path failed", "path", e.chrootDir, "error", err)
	}
}
