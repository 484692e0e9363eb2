package runlog

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestLevelName(t *testing.T) {
	cases := map[slog.Level]string{
		LevelDebug:    "DEBUG",
		LevelInfo:     "INFO",
		LevelSuccess:  "SUCCESS",
		LevelWarn:     "WARN",
		LevelError:    "ERROR",
		LevelCritical: "CRITICAL",
	}
	for lvl, want := range cases {
		if got := LevelName(lvl); got != want {
			t.Errorf("LevelName(%v) = %q, want %q", lvl, got, want)
		}
	}
}

func TestOpenWritesToFileAndMirror(t *testing.T) {
	dir := t.TempDir()
	var mirror bytes.Buffer

	l, err := Open(dir, "test-run", LevelDebug, &mirror)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.Logger().Info("Phase starting", "phase", "bootstrap")
	Success(l.Logger(), "Phase completed", "phase", "bootstrap")
	Critical(l.Logger(), "Session compromised")

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)

	for _, want := range []string{"level=INFO", "level=SUCCESS", "level=CRITICAL", "phase=bootstrap"} {
		if !strings.Contains(content, want) {
			t.Errorf("log missing %q:\n%s", want, content)
		}
	}
	if mirror.String() != content {
		t.Error("mirror output differs from the log file")
	}
	if !strings.Contains(l.Path(), "isoforge-test-run.log") {
		t.Errorf("unexpected log path %q", l.Path())
	}
}

func TestOpenRespectsLevel(t *testing.T) {
	l, err := Open(t.TempDir(), "lvl", LevelWarn, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.Logger().Info("filtered out")
	Success(l.Logger(), "also filtered")
	l.Logger().Warn("kept")

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "filtered") {
		t.Errorf("below-level lines written:\n%s", data)
	}
	if !strings.Contains(string(data), "kept") {
		t.Errorf("warn line missing:\n%s", data)
	}
}

func TestOpenAppends(t *testing.T) {
	dir := t.TempDir()
	l1, err := Open(dir, "same", LevelInfo, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l1.Logger().Info("first")
	l1.Close()

	l2, err := Open(dir, "same", LevelInfo, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l2.Logger().Info("second")
	l2.Close()

	data, _ := os.ReadFile(l2.Path())
	if !strings.Contains(string(data), "first") || !strings.Contains(string(data), "second") {
		t.Errorf("reopen truncated the log:\n%s", data)
	}
}
