// Package observability provides structured logging and metrics collection.
//
// Logger wraps log/slog with a persistent component field.
// Metrics counts gateway requests, response statuses, latency and sweeps.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LevelTrace sits below slog's Debug for very chatty output.
const LevelTrace = slog.Level(-8)

// Logger wraps slog with a persistent component name.
type Logger struct {
	base      *slog.Logger // without the component field
	inner     *slog.Logger
	component string
}

// NewLogger creates a debug-level JSON logger for a component.
// Output defaults to os.Stderr if w is nil.
func NewLogger(component string, w io.Writer) *Logger {
	return NewLeveled(component, w, slog.LevelDebug)
}

// NewLeveled creates a JSON logger that drops records below level.
func NewLeveled(component string, w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	})
	return NewLoggerWithHandler(component, handler)
}

// NewLoggerWithHandler creates a logger with a custom slog handler.
func NewLoggerWithHandler(component string, h slog.Handler) *Logger {
	base := slog.New(h)
	return &Logger{
		base:      base,
		inner:     base.With(slog.String("component", component)),
		component: component,
	}
}

// Discard returns a logger that writes nowhere.
func Discard() *Logger {
	return NewLeveled("discard", io.Discard, slog.LevelError+1)
}

// ParseLevel maps trace|debug|info|warn|error (any case) to a level.
func ParseLevel(raw string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// With returns a new Logger with an additional persistent field.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{
		base:      l.base.With(slog.Any(key, value)),
		inner:     l.inner.With(slog.Any(key, value)),
		component: l.component,
	}
}

// Named returns a logger for a sub-component sharing the same handler.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		base:      l.base,
		inner:     l.base.With(slog.String("component", component)),
		component: component,
	}
}

// Trace logs below DEBUG.
func (l *Logger) Trace(msg string, args ...any) {
	l.inner.Log(context.Background(), LevelTrace, msg, args...)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...any) {
	l.inner.Debug(msg, args...)
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...any) {
	l.inner.Info(msg, args...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...any) {
	l.inner.Warn(msg, args...)
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...any) {
	l.inner.Error(msg, args...)
}

// Request logs one served HTTP request.
func (l *Logger) Request(id, method, path string, status int, elapsed time.Duration, args ...any) {
	allArgs := append([]any{
		slog.String("request_id", id),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Int64("elapsed_us", elapsed.Microseconds()),
	}, args...)
	if status >= 500 {
		l.inner.Error("request", allArgs...)
		return
	}
	l.inner.Info("request", allArgs...)
}

// Component returns the component name associated with this logger.
func (l *Logger) Component() string {
	return l.component
}
