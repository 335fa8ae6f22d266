package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlgate/sqlgate/internal/archive"
	"github.com/sqlgate/sqlgate/internal/audit"
	"github.com/sqlgate/sqlgate/internal/config"
	"github.com/sqlgate/sqlgate/internal/observability"
	"github.com/sqlgate/sqlgate/internal/pipeline"
	"github.com/sqlgate/sqlgate/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

// RunExecutor runs one script through the admission pipeline.
type RunExecutor interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type ArchiveStore interface {
	Save(ctx context.Context, ref storage.ArchiveRef, data []byte) (storage.ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Runner            RunExecutor
	Packager          archive.Packager
	Archives          ArchiveStore
	Audit             audit.Store
	// DefaultScript loads the script used when a submission carries none.
	DefaultScript func() (string, error)
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	runs := &runsHandler{
		deps:         deps,
		maxBytes:     cfg.Script.MaxBytes,
		excerptLimit: cfg.Archive.ExcerptLimit,
		casePattern:  regexp.MustCompile(cfg.Script.CasePattern),
	}
	if runs.deps.Logger == nil {
		runs.deps.Logger = slog.New(slog.DiscardHandler)
	}

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/runs", runs.submit)
	protected.HandleFunc("POST /execute_queries", runs.submit)
	protected.HandleFunc("GET /v1/runs", runs.list)
	protected.HandleFunc("GET /v1/runs/{run_id}", runs.get)
	protected.HandleFunc("GET /v1/runs/{run_id}/archive", runs.archive)

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/runs", protectedHandler)
	mux.Handle("POST /execute_queries", protectedHandler)
	mux.Handle("GET /v1/runs", protectedHandler)
	mux.Handle("GET /v1/runs/{run_id}", protectedHandler)
	mux.Handle("GET /v1/runs/{run_id}/archive", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckEngine(ping func(ctx context.Context) error) ReadinessCheck {
	return func(ctx context.Context) error {
		if ping == nil {
			return errors.New("engine is not configured")
		}
		if err := ping(ctx); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	}
}

func CheckAudit(store audit.Store) ReadinessCheck {
	return func(ctx context.Context) error {
		if store == nil {
			return nil
		}
		if err := store.HealthCheck(ctx); err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, errorPayload(ctx, code, message, retryable, extra))
}

// writeRunError reports a run that produced no archive, with its log.
func writeRunError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, result pipeline.Result) {
	payload := errorPayload(ctx, code, message, retryable, map[string]any{
		"run_id":      result.RunID,
		"case_number": result.CaseID,
	})
	payload["log"] = result.Log
	writeJSON(w, status, payload)
}

func errorPayload(ctx context.Context, code, message string, retryable bool, extra map[string]any) map[string]any {
	return map[string]any{
		"error_code": code,
		"error":      message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	}
}
