package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Logger is a structured logger for driver lifecycle components
type Logger struct {
	*slog.Logger
}

type contextKey struct{}

// New creates a JSON logger writing to w. A nil writer discards output.
func New(w io.Writer, component string, level slog.Level) *Logger {
	if w == nil {
		w = io.Discard
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "arsenic"),
	)

	return &Logger{Logger: logger}
}

// Nop returns a logger that drops everything.
func Nop() *Logger {
	return New(io.Discard, "nop", slog.LevelError+1)
}

// ParseLevel maps a config string onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewContext returns a copy of ctx carrying l.
func NewContext(ctx context.Context, l *Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*Logger); ok && l != nil {
			return l
		}
	}
	return Nop()
}

// WithService returns a logger with service-specific fields
func (l *Logger) WithService(kind string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("service", kind))}
}

// WithDriver returns a logger with driver-specific fields
func (l *Logger) WithDriver(driverID, baseURL string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("driver_id", driverID),
			slog.String("base_url", baseURL),
		),
	}
}

// StepAcquired logs a successful acquisition step
func (l *Logger) StepAcquired(step string, held int) {
	l.Debug("resource acquired",
		slog.String("step", step),
		slog.Int("held", held),
	)
}

// RollbackFailed logs a closer that failed during rollback
func (l *Logger) RollbackFailed(index int, err error) {
	l.Warn("rollback closer failed",
		slog.Int("index", index),
		slog.String("error", err.Error()),
	)
}

// ProbeAttempt logs a failed readiness probe attempt
func (l *Logger) ProbeAttempt(url string, attempt int, err error) {
	l.Debug("driver not ready",
		slog.String("url", url),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// ServiceStarted logs a successful service start
func (l *Logger) ServiceStarted(driverID, baseURL string, elapsed time.Duration) {
	l.Info("service started",
		slog.String("driver_id", driverID),
		slog.String("base_url", baseURL),
		slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
	)
}

// ServiceFailed logs a failed service start
func (l *Logger) ServiceFailed(err error, elapsed time.Duration) {
	l.Error("service failed to start",
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
	)
}
