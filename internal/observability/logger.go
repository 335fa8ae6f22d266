package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/sqlgate/sqlgate/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// RunIDHeader carries the run id on run submission responses.
const RunIDHeader = "X-Sqlgate-Run-ID"

// NewLogger builds the service logger. Every record carries the service,
// the profile and the engine driver runs are admitted against.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	options := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler = slog.NewTextHandler(writer, options)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, options)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
		slog.String("engine", cfg.Engine.Driver),
	)
}

// RunLogger scopes logger to one run.
func RunLogger(logger *slog.Logger, runID, caseID string) *slog.Logger {
	return logger.With(slog.String("run_id", runID), slog.String("case_id", caseID))
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
