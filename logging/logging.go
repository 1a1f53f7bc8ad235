// Package logging writes structured log records to the console and, in
// parallel, appends them to the durable store so item histories survive
// restarts.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"

	"github.com/LeMikaelF/turso-bugfix-workflow-sub000/model"
)

// SystemLocation labels records not tied to a specific work-item.
const SystemLocation = "system"

// LogSink persists log records. *sqlite.Store satisfies this.
type LogSink interface {
	InsertLog(rec *model.LogRecord) error
}

// Logger fans each record out to a leveled console handler and an optional
// durable sink. Sink failures are reported on the console and never block
// the caller.
type Logger struct {
	console *slog.Logger
	sink    LogSink
	level   slog.Level
	now     func() time.Time
}

// New creates a Logger writing console output to w. level is one of
// debug, info, warn, error. sink may be nil for console-only logging.
func New(w io.Writer, level string, sink LogSink) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
	})
	return &Logger{
		console: slog.New(handler),
		sink:    sink,
		level:   lvl,
		now:     time.Now,
	}, nil
}

// ParseLevel maps a config-file level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func (l *Logger) Debug(loc, phase, msg string, metadata map[string]string) {
	l.log(slog.LevelDebug, loc, phase, msg, metadata)
}

func (l *Logger) Info(loc, phase, msg string, metadata map[string]string) {
	l.log(slog.LevelInfo, loc, phase, msg, metadata)
}

func (l *Logger) Warn(loc, phase, msg string, metadata map[string]string) {
	l.log(slog.LevelWarn, loc, phase, msg, metadata)
}

func (l *Logger) Error(loc, phase, msg string, metadata map[string]string) {
	l.log(slog.LevelError, loc, phase, msg, metadata)
}

func (l *Logger) log(level slog.Level, loc, phase, msg string, metadata map[string]string) {
	if level < l.level {
		return
	}
	if loc == "" {
		loc = SystemLocation
	}

	attrs := []any{"panic", loc}
	if phase != "" {
		attrs = append(attrs, "phase", phase)
	}
	for k, v := range metadata {
		attrs = append(attrs, k, v)
	}
	l.console.Log(context.Background(), level, msg, attrs...)

	if l.sink == nil {
		return
	}
	rec := &model.LogRecord{
		Timestamp:     l.now().UTC(),
		Level:         levelName(level),
		PanicLocation: loc,
		Phase:         phase,
		Message:       msg,
		Metadata:      metadata,
	}
	if err := l.sink.InsertLog(rec); err != nil {
		l.console.Warn("persisting log record", "err", err)
	}
}

func levelName(level slog.Level) string {
	switch {
	case level <= slog.LevelDebug:
		return "debug"
	case level <= slog.LevelInfo:
		return "info"
	case level <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}
