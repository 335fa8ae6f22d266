package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sqlgate/sqlgate/internal/observability"
)

type contextKey string

const identityKey contextKey = "sqlgate_identity"

// credentialError is a rejected credential: reason labels the metric and
// message is returned to the caller.
type credentialError struct {
	reason  string
	message string
}

var (
	errMissingKey        = credentialError{reason: "missing_key", message: "missing API key: send X-API-Key or Authorization: Bearer"}
	errUnsupportedScheme = credentialError{reason: "unsupported_scheme", message: "unsupported authorization scheme: use Bearer"}
	errInvalidKey        = credentialError{reason: "invalid_key", message: "invalid API key"}
)

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Middleware admits requests carrying the operator key. Rejections are
// counted by reason and answered with the run API error payload.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, failure := authenticate(r, validator)
			if failure != nil {
				observability.ObserveAuthFailure(failure.reason)
				if logger != nil && failure.reason != errMissingKey.reason {
					logger.WarnContext(r.Context(), "api credential rejected",
						slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
						slog.String("reason", failure.reason),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
					)
				}
				writeUnauthorized(w, r, *failure)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func authenticate(r *http.Request, validator APIKeyValidator) (Identity, *credentialError) {
	apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if apiKey == "" {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if authorization == "" {
			return Identity{}, &errMissingKey
		}
		scheme, token, _ := strings.Cut(authorization, " ")
		if !strings.EqualFold(scheme, "Bearer") {
			return Identity{}, &errUnsupportedScheme
		}
		apiKey = strings.TrimSpace(token)
		if apiKey == "" {
			return Identity{}, &errMissingKey
		}
	}
	identity, ok := validator.Validate(r.Context(), apiKey)
	if !ok {
		return Identity{}, &errInvalidKey
	}
	return identity, nil
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, failure credentialError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="sqlgate"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"error":      failure.message,
		"retryable":  false,
		"context":    map[string]any{"reason": failure.reason},
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
