// Package logger builds the process-wide slog logger and carries
// request-scoped loggers through a context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures the root logger.
type Options struct {
	// Level is debug, info, warn or error. Unknown values mean info.
	Level string

	// Format is json or text.
	Format string

	Output io.Writer

	// Service and Version are attached to every record when set.
	Service string
	Version string

	// AddSource adds file:line to every record.
	AddSource bool
}

// ParseLevel parses a level name.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger. JSON is the default format.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	return log
}

// Setup creates a logger and installs it as slog's default.
func Setup(opts Options) *slog.Logger {
	log := New(opts)
	slog.SetDefault(log)
	return log
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Common attribute keys.
const (
	KeyRollNo    = "roll_no"
	KeyOperation = "operation"
	KeyRunID     = "run_id"
)

// WithOperation attaches the operation and student to the context logger.
func WithOperation(ctx context.Context, operation, rollNo string) context.Context {
	l := FromContext(ctx).With(KeyOperation, operation)
	if rollNo != "" {
		l = l.With(KeyRollNo, rollNo)
	}
	return WithContext(ctx, l)
}
