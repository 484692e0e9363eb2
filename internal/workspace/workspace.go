// Package workspace manages the on-disk layout of a build run: the chroot
// target, the ISO staging tree and scratch space, all under one
// timestamped directory.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Manager owns one run's working directory tree.
type Manager struct {
	baseDir string
	runDir  string
	log     *slog.Logger
}

// NewManager creates a manager rooted at baseDir; empty means the system
// temp directory.
func NewManager(baseDir string, log *slog.Logger) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir, log: log}
}

// Create makes the timestamped run directory with its chroot, staging and
// scratch subdirectories.
func (m *Manager) Create() error {
	timestamp := time.Now().Format("20060102-150405")
	runDir := filepath.Join(m.baseDir, fmt.Sprintf("isoforge-%s", timestamp))

	for _, dir := range []string{
		runDir,
		filepath.Join(runDir, "chroot"),
		filepath.Join(runDir, "staging"),
		filepath.Join(runDir, "scratch"),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create workspace directory %s: %w", dir, err)
		}
	}

	m.runDir = runDir
	if m.log != nil {
		m.log.Info("Created workspace", "path", runDir)
	}
	return nil
}

// Path returns the run directory.
func (m *Manager) Path() string { return m.runDir }

// ChrootDir returns the chroot target directory.
func (m *Manager) ChrootDir() string { return filepath.Join(m.runDir, "chroot") }

// StagingDir returns the ISO staging directory.
func (m *Manager) StagingDir() string { return filepath.Join(m.runDir, "staging") }

// ScratchDir returns scratch space, the first candidate for a disk-space
// purge.
func (m *Manager) ScratchDir() string { return filepath.Join(m.runDir, "scratch") }

// Cleanup removes the run directory. Callers decide whether destructive
// removal is currently allowed; when it is not, the tree is left in place
// and only reported.
func (m *Manager) Cleanup(destructiveAllowed bool) error {
	if m.runDir == "" {
		return nil
	}
	if !destructiveAllowed {
		if m.log != nil {
			m.log.Warn("Leaving workspace in place, destructive cleanup disabled", "path", m.runDir)
		}
		return nil
	}
	if err := os.RemoveAll(m.runDir); err != nil {
		return fmt.Errorf("cleanup workspace: %w", err)
	}
	if m.log != nil {
		m.log.Info("Cleaned up workspace", "path", m.runDir)
	}
	m.runDir = ""
	return nil
}
