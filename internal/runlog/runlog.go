// Package runlog provides the per-run, append-only log file. Lines are
// written through log/slog with two extra levels (SUCCESS, CRITICAL) beyond
// the standard set, mirrored to stderr for the interactive session.
package runlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Custom levels slot between the standard slog levels: SUCCESS sits above
// INFO, CRITICAL above ERROR.
const (
	LevelDebug    = slog.LevelDebug
	LevelInfo     = slog.LevelInfo
	LevelSuccess  = slog.Level(2)
	LevelWarn     = slog.LevelWarn
	LevelError    = slog.LevelError
	LevelCritical = slog.Level(12)
)

// LevelName renders a level the way it appears in the run log.
func LevelName(l slog.Level) string {
	switch {
	case l >= LevelCritical:
		return "CRITICAL"
	case l >= LevelError:
		return "ERROR"
	case l >= LevelWarn:
		return "WARN"
	case l >= LevelSuccess && l < LevelWarn:
		return "SUCCESS"
	case l >= LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// Log owns the run log file and its slog logger.
type Log struct {
	path   string
	file   *os.File
	logger *slog.Logger
}

// Open creates the run log file under dir, named after the run ID, and
// returns a Log whose logger writes to both the file and mirror (typically
// stderr). The file is opened append-only and never truncated.
func Open(dir, runID string, level slog.Level, mirror io.Writer) (*Log, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("isoforge-%s.log", runID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	out := io.Writer(file)
	if mirror != nil {
		out = io.MultiWriter(file, mirror)
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	return &Log{
		path:   path,
		file:   file,
		logger: slog.New(handler),
	}, nil
}

func replaceLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(LevelName(lvl))
		}
	}
	return a
}

// Path returns the run log file path. The session monitor probes it for
// writability.
func (l *Log) Path() string { return l.path }

// Logger returns the slog logger bound to the run log.
func (l *Log) Logger() *slog.Logger { return l.logger }

// Close flushes and closes the underlying file.
func (l *Log) Close() error { return l.file.Close() }

// Success logs at the SUCCESS level.
func Success(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelSuccess, msg, args...)
}

// Critical logs at the CRITICAL level.
func Critical(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelCritical, msg, args...)
}

// Timestamp formats a run ID timestamp component.
func Timestamp(t time.Time) string { return t.Format("20060102-150405") }
