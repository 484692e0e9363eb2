// Package session watches the health of the invoking shell/SSH session.
// Destructive cleanup consults the monitor before and after each step: once
// the session is judged compromised, cleanup downgrades to its least
// destructive form so the terminal that launched the build is never harmed.
package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/isoforge/internal/runlog"
)

// Verdict is the outcome of an integrity check.
type Verdict int

const (
	Alive Verdict = iota
	Compromised
)

func (v Verdict) String() string {
	if v == Compromised {
		return "compromised"
	}
	return "alive"
}

// Checker is the read side of the monitor handed to cleanup code.
type Checker interface {
	Check() Verdict
}

// Monitor verifies the recorded parent process still exists and the run log
// is still writable. The verdict is sticky: once Compromised it never
// reverts, because a session that vanished mid-run cannot be trusted again.
type Monitor struct {
	parentPID   int
	logPath     string
	interval    time.Duration
	log         *slog.Logger
	compromised atomic.Bool
	reason      atomic.Value // string

	scheduler gocron.Scheduler
	watcher   *fsnotify.Watcher
}

// NewMonitor records the current parent PID and the run log path.
func NewMonitor(logPath string, interval time.Duration, log *slog.Logger) *Monitor {
	return &Monitor{
		parentPID: os.Getppid(),
		logPath:   logPath,
		interval:  interval,
		log:       log,
	}
}

// ParentPID returns the PID recorded at startup.
func (m *Monitor) ParentPID() int { return m.parentPID }

// Check re-runs the integrity probes and returns the current verdict.
// Safe to call from any goroutine.
func (m *Monitor) Check() Verdict {
	if m.compromised.Load() {
		return Compromised
	}
	if !processExists(m.parentPID) {
		m.compromise(fmt.Sprintf("parent process %d is gone", m.parentPID))
		return Compromised
	}
	if err := probeWritable(m.logPath); err != nil {
		m.compromise(fmt.Sprintf("run log not writable: %v", err))
		return Compromised
	}
	return Alive
}

// Reason returns why the session was judged compromised, if it was.
func (m *Monitor) Reason() string {
	if r, ok := m.reason.Load().(string); ok {
		return r
	}
	return ""
}

func (m *Monitor) compromise(reason string) {
	if m.compromised.CompareAndSwap(false, true) {
		m.reason.Store(reason)
		if m.log != nil {
			runlog.Critical(m.log, "SessionCompromised: downgrading all further cleanup", "reason", reason)
		}
	}
}

// Start launches the fixed-interval background check plus an fsnotify watch
// on the run log file, which flags deletion or renaming without waiting for
// the next tick. The background loop only reads state and writes log lines.
func (m *Monitor) Start() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create monitor scheduler: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() {
			if m.Check() == Alive && m.log != nil {
				m.log.Debug("Session integrity check passed", "parent_pid", m.parentPID)
			}
		}),
	); err != nil {
		return fmt.Errorf("schedule monitor job: %w", err)
	}
	m.scheduler = scheduler
	scheduler.Start()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// The interval check still covers writability; degrade quietly.
		if m.log != nil {
			m.log.Warn("Log file watcher unavailable, relying on interval checks", "error", err)
		}
		return nil
	}
	if err := watcher.Add(filepath.Dir(m.logPath)); err != nil {
		_ = watcher.Close()
		if m.log != nil {
			m.log.Warn("Cannot watch log directory, relying on interval checks", "error", err)
		}
		return nil
	}
	m.watcher = watcher
	go m.watchLoop()
	return nil
}

func (m *Monitor) watchLoop() {
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Name == m.logPath && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				m.compromise(fmt.Sprintf("run log %s removed or renamed", m.logPath))
			}
		case _, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Stop shuts the background loop and watcher down.
func (m *Monitor) Stop() {
	if m.scheduler != nil {
		_ = m.scheduler.Shutdown()
		m.scheduler = nil
	}
	if m.watcher != nil {
		_ = m.watcher.Close()
		m.watcher = nil
	}
}

// processExists reports whether pid is alive. Signal 0 probes without
// delivering; EPERM still means the process exists.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// probeWritable confirms the log file can still be opened for append.
func probeWritable(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

// AlwaysAlive is a Checker for tests and dry runs.
type AlwaysAlive struct{}

func (AlwaysAlive) Check() Verdict { return Alive }
