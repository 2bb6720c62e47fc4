// Package logging is the process-wide structured logger, built on log/slog.
// It is distinct from the per-request Logs buffer in internal/reqmodel,
// which is captured into the log record (see internal/logrecord) rather
// than written to process output.
package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

func init() {
	SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// SetDefault replaces the process-wide logger. Safe for concurrent use;
// intended to be called once at startup (e.g. to switch level or sink).
func SetDefault(l *slog.Logger) {
	current.Store(l)
}

func logger() *slog.Logger {
	return current.Load()
}

func Debug(msg string, args ...any) { logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { logger().Warn(msg, args...) }
func Error(msg string, args ...any) { logger().Error(msg, args...) }

// Level mirrors the loglevel argument recognized by the embedding API (spec
// section 6): debug, info, warn|warning, err|error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// ParseLevel parses the embedding API's loglevel argument.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarning, true
	case "err", "error":
		return LevelError, true
	default:
		return 0, false
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Enabled reports whether a message at this level would be emitted by the
// process-wide logger - used by the per-request Logs buffer to decide
// whether to retain a deferred log line.
func (l Level) Enabled() bool {
	return logger().Enabled(nil, l.slogLevel())
}
