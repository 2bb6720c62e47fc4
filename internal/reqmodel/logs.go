package reqmodel

import (
	"fmt"

	"github.com/curiefense/curiefense-go/internal/logging"
)

// LogLine is one entry captured into the per-request log buffer that ends
// up in the "logs" field of the serialized record (spec section 4.8). It is
// independent of the process-wide structured logger in internal/logging.
type LogLine struct {
	Level   logging.Level `json:"-"`
	Message string        `json:"message"`
}

// MarshalJSON renders the line the way the original "[LEVEL] message" log
// entries read, since the captured buffer is meant for a human scanning the
// record, not for structured log aggregation.
func (l LogLine) MarshalJSON() ([]byte, error) {
	levelName := [...]string{"DEBUG", "INFO", "WARNING", "ERROR"}[l.Level]
	return []byte(fmt.Sprintf("%q", "["+levelName+"] "+l.Message)), nil
}

// Logs is the request-scoped log buffer. Unlike internal/logging, building
// the message is deferred via a closure only when the corresponding level
// is actually enabled, avoiding allocation on hot paths at a quiet level.
// The threshold is per-request (spec section 6's loglevel argument), not
// tied to the process-wide logger's level.
type Logs struct {
	threshold logging.Level
	lines     []LogLine
}

// NewLogs builds a buffer that retains lines at level or above. embedapi
// takes level from the required loglevel argument and rejects a call
// without a valid one.
func NewLogs(level logging.Level) *Logs { return &Logs{threshold: level} }

func (l *Logs) add(level logging.Level, msg func() string) {
	if level < l.threshold {
		return
	}
	l.lines = append(l.lines, LogLine{Level: level, Message: msg()})
}

func (l *Logs) Debug(msg func() string)   { l.add(logging.LevelDebug, msg) }
func (l *Logs) Info(msg func() string)    { l.add(logging.LevelInfo, msg) }
func (l *Logs) Warning(msg func() string) { l.add(logging.LevelWarning, msg) }
func (l *Logs) Error(msg func() string)   { l.add(logging.LevelError, msg) }

func (l *Logs) DebugS(msg string)   { l.Debug(func() string { return msg }) }
func (l *Logs) InfoS(msg string)    { l.Info(func() string { return msg }) }
func (l *Logs) WarningS(msg string) { l.Warning(func() string { return msg }) }
func (l *Logs) ErrorS(msg string)   { l.Error(func() string { return msg }) }

// Lines returns the captured entries for serialization.
func (l *Logs) Lines() []LogLine { return l.lines }
