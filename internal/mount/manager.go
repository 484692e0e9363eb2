// Package mount tracks pseudo-filesystem mounts into the chroot target and
// tears them down in strict reverse order with an escalating ladder of
// unmount strategies. A mount that survives every rung is reported as stuck
// and skipped; teardown never blocks the run.
package mount

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"git.home.luguber.info/inful/isoforge/internal/command"
	"git.home.luguber.info/inful/isoforge/internal/session"
)

// Spec describes one mount into the chroot.
type Spec struct {
	Source  string
	Target  string
	FSType  string
	Options []string
	Bind    bool
}

// State tracks where a mount point is in its lifecycle.
type State int

const (
	StateMounted State = iota
	StateUnmounted
	StateStuck
)

func (s State) String() string {
	switch s {
	case StateMounted:
		return "mounted"
	case StateUnmounted:
		return "unmounted"
	case StateStuck:
		return "stuck"
	}
	return "invalid"
}

// Point is a tracked mount point.
type Point struct {
	Spec
	State     State
	MountedAt time.Time
}

// TeardownResult reports what UnmountAll achieved.
type TeardownResult struct {
	Unmounted []string // targets, teardown order
	Stuck     []string
}

// defaultStepTimeout bounds each rung of the escalation ladder.
const defaultStepTimeout = 15 * time.Second

// Manager owns the ordered mount stack. Mounts append; UnmountAll walks in
// reverse, so a child mount (/dev/pts under /dev) is always gone before its
// parent is touched.
type Manager struct {
	mu          sync.Mutex
	stack       []*Point
	runner      command.Runner
	session     session.Checker
	log         *slog.Logger
	stepTimeout time.Duration
}

// NewManager builds a manager using the given runner for mount/umount
// invocations, gated by the session checker.
func NewManager(runner command.Runner, sess session.Checker, log *slog.Logger) *Manager {
	if sess == nil {
		sess = session.AlwaysAlive{}
	}
	return &Manager{
		runner:      runner,
		session:     sess,
		log:         log,
		stepTimeout: defaultStepTimeout,
	}
}

// passiveRunner is implemented by runners that never execute anything, so
// probe results carry no information.
type passiveRunner interface {
	Passive() bool
}

// Mount validates and performs the mount, then appends it to the stack.
// A target that is already a mountpoint is a logged no-op, not an error.
// Under a passive runner the stat and mountpoint probes are skipped; the
// mount is still tracked so teardown walks the same stack a real run would.
func (m *Manager) Mount(ctx context.Context, spec Spec) error {
	passive := false
	if p, ok := m.runner.(passiveRunner); ok && p.Passive() {
		passive = true
	}

	if !passive {
		if _, err := os.Stat(spec.Target); err != nil {
			return fmt.Errorf("mount target %s: %w", spec.Target, err)
		}
		if res, err := m.runner.Run(ctx, command.Mountpoint(spec.Target)); err == nil && res.ExitCode == 0 {
			if m.log != nil {
				m.log.Info("Target already mounted, skipping", "target", spec.Target)
			}
			return nil
		}
	}

	if _, err := m.runner.Run(ctx, command.Mount(spec.Source, spec.Target, spec.FSType, spec.Options, spec.Bind)); err != nil {
		return fmt.Errorf("mount %s on %s: %w", spec.Source, spec.Target, err)
	}

	m.mu.Lock()
	m.stack = append(m.stack, &Point{Spec: spec, State: StateMounted, MountedAt: time.Now()})
	m.mu.Unlock()

	if m.log != nil {
		m.log.Info("Mounted", "source", spec.Source, "target", spec.Target, "fstype", spec.FSType)
	}
	return nil
}

// Mounted returns the targets still held, in mount order.
func (m *Manager) Mounted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.stack {
		if p.State == StateMounted {
			out = append(out, p.Target)
		}
	}
	return out
}

// StuckTargets returns every target that has resisted all teardown
// strategies so far, in mount order. State persists across UnmountAll
// calls, so this is the cumulative view for the run report.
func (m *Manager) StuckTargets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.stack {
		if p.State == StateStuck {
			out = append(out, p.Target)
		}
	}
	return out
}

// UnmountAll walks the stack in reverse, applying the escalation ladder to
// each entry: plain unmount, lazy unmount, terminate holders, forced
// unmount, each under a short timeout. When the session is compromised the
// terminate and force rungs are skipped. An entry that survives every rung
// is marked stuck and the walk continues.
func (m *Manager) UnmountAll(ctx context.Context) TeardownResult {
	m.mu.Lock()
	stack := make([]*Point, len(m.stack))
	copy(stack, m.stack)
	m.mu.Unlock()

	var result TeardownResult
	for i := len(stack) - 1; i >= 0; i-- {
		p := stack[i]
		if p.State != StateMounted {
			continue
		}
		if m.unmountOne(ctx, p) {
			p.State = StateUnmounted
			result.Unmounted = append(result.Unmounted, p.Target)
		} else {
			p.State = StateStuck
			result.Stuck = append(result.Stuck, p.Target)
			if m.log != nil {
				m.log.Error("Mount point stuck after all teardown strategies", "target", p.Target)
			}
		}
	}
	return result
}

type rung struct {
	name        string
	destructive bool
	cmds        func(target string) []command.Command
}

// ladder is the fixed teardown escalation order.
var ladder = []rung{
	{"plain", false, func(t string) []command.Command {
		return []command.Command{command.Umount(t, false, false)}
	}},
	{"lazy", false, func(t string) []command.Command {
		return []command.Command{command.Umount(t, true, false)}
	}},
	{"kill-holders", true, func(t string) []command.Command {
		return []command.Command{command.FuserKill(t), command.Umount(t, false, false)}
	}},
	{"force", true, func(t string) []command.Command {
		return []command.Command{command.Umount(t, false, true)}
	}},
}

func (m *Manager) unmountOne(ctx context.Context, p *Point) bool {
	for _, r := range ladder {
		if r.destructive && m.session.Check() == session.Compromised {
			if m.log != nil {
				m.log.Warn("Skipping destructive teardown step, session compromised", "target", p.Target, "step", r.name)
			}
			continue
		}

		stepCtx, cancel := context.WithTimeout(ctx, m.stepTimeout)
		ok := m.runRung(stepCtx, r, p.Target)
		cancel()
		if ok {
			if m.log != nil {
				m.log.Info("Unmounted", "target", p.Target, "step", r.name)
			}
			return true
		}
		if m.log != nil {
			m.log.Warn("Unmount step failed, escalating", "target", p.Target, "step", r.name)
		}
	}
	return false
}

func (m *Manager) runRung(ctx context.Context, r rung, target string) bool {
	for _, cmd := range r.cmds(target) {
		// fuser exits non-zero when nothing holds the path; only the
		// final unmount in a rung decides success.
		res, err := m.runner.Run(ctx, cmd)
		if cmd.Path == "fuser" {
			_ = res
			continue
		}
		if err != nil {
			return false
		}
	}
	return true
}
