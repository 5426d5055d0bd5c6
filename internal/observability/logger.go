package observability

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyOperatorID
)

var logger = slog.Default()

// InitLogger configures the process-wide structured logger. format is
// "json" or "text"; the debug level also records source positions.
func InitLogger(level, format string) {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: level == "debug",
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// WithRequestID tags ctx so log lines carry the loopback request's ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// WithOperatorID tags ctx with the logged-in operator's ID.
func WithOperatorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyOperatorID, id)
}

// FromContext returns the process logger enriched with whatever request
// and operator tags ctx carries.
func FromContext(ctx context.Context) *slog.Logger {
	l := logger
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok && id != "" {
		l = l.With(slog.String("request_id", id))
	}
	if id, ok := ctx.Value(ctxKeyOperatorID).(string); ok && id != "" {
		l = l.With(slog.String("operator_id", id))
	}
	return l
}

func parseLevel(level string) slog.Level {
	switch level {
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

func Info(msg string, args ...any)  { logger.Info(msg, args...) }
func Warn(msg string, args ...any)  { logger.Warn(msg, args...) }
func Error(msg string, args ...any) { logger.Error(msg, args...) }
func Debug(msg string, args ...any) { logger.Debug(msg, args...) }
