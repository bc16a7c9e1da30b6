// Package obslog provides the structured logger used across the pipeline.
package obslog

import (
	"context"
	"log/slog"
	"os"
)

// New builds the process-wide logger. JSON in production, text when
// LOG_FORMAT=text is set for local development.
func New() *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level()}
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func level() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation ID to the context so that every
// logger call made through this package during a job's execution carries it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation ID attached to ctx, or "" if none.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// FromContext returns a logger with the correlation ID (if any) bound as a
// field, so callers never have to thread it through every log call by hand.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := CorrelationID(ctx); id != "" {
		return logger.With(slog.String("correlation_id", id))
	}
	return logger
}
