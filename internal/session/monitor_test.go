package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writableLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.log")
	if err := os.WriteFile(path, []byte("log\n"), 0o640); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestCheckAliveWithHealthySession(t *testing.T) {
	m := NewMonitor(writableLog(t), time.Second, nil)
	if got := m.Check(); got != Alive {
		t.Fatalf("Check() = %v, want alive (parent is the test runner)", got)
	}
	if m.Reason() != "" {
		t.Errorf("Reason() = %q, want empty while alive", m.Reason())
	}
}

func TestCheckCompromisedWhenLogRemoved(t *testing.T) {
	path := writableLog(t)
	m := NewMonitor(path, time.Second, nil)

	if m.Check() != Alive {
		t.Fatal("precondition: session must start alive")
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove log: %v", err)
	}

	if got := m.Check(); got != Compromised {
		t.Fatalf("Check() after log removal = %v, want compromised", got)
	}
	if m.Reason() == "" {
		t.Error("Reason() must explain the compromise")
	}
}

func TestVerdictIsSticky(t *testing.T) {
	path := writableLog(t)
	m := NewMonitor(path, time.Second, nil)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove log: %v", err)
	}
	if m.Check() != Compromised {
		t.Fatal("expected compromised after log removal")
	}

	// Restoring the file must not restore trust.
	if err := os.WriteFile(path, []byte("back\n"), 0o640); err != nil {
		t.Fatalf("restore log: %v", err)
	}
	if got := m.Check(); got != Compromised {
		t.Errorf("Check() after restore = %v, verdict must stay compromised", got)
	}
}

func TestCheckCompromisedWhenParentGone(t *testing.T) {
	m := NewMonitor(writableLog(t), time.Second, nil)
	m.parentPID = 1 << 30 // no such process

	if got := m.Check(); got != Compromised {
		t.Fatalf("Check() with missing parent = %v, want compromised", got)
	}
}

func TestProcessExists(t *testing.T) {
	if !processExists(os.Getpid()) {
		t.Error("processExists(self) = false")
	}
	if processExists(0) || processExists(-1) {
		t.Error("processExists must reject non-positive pids")
	}
}

func TestWatcherFlagsLogRemoval(t *testing.T) {
	path := writableLog(t)
	m := NewMonitor(path, time.Hour, nil) // interval too long to matter
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove log: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if m.compromised.Load() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("watcher did not flag log removal")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAlwaysAlive(t *testing.T) {
	if (AlwaysAlive{}).Check() != Alive {
		t.Error("AlwaysAlive.Check() != Alive")
	}
}
