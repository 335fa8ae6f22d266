package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFixedKeyValidator(t *testing.T) {
	validator, err := NewFixedKeyValidator("s3cret", "")
	if err != nil {
		t.Fatalf("NewFixedKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "s3cret")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Subject != "operator" {
		t.Fatalf("Subject = %q", identity.Subject)
	}
	if _, ok := validator.Validate(context.Background(), "s3cret "); ok {
		t.Fatal("expected near-miss key to be rejected")
	}
	if _, ok := validator.Validate(context.Background(), ""); ok {
		t.Fatal("expected empty key to be rejected")
	}
}

func TestFixedKeyValidatorRequiresKey(t *testing.T) {
	if _, err := NewFixedKeyValidator("  ", "ops"); err == nil {
		t.Fatal("expected error for blank key")
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewFixedKeyValidator("k1", "ops")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["error_code"] != "UNAUTHORIZED" {
		t.Fatalf("payload = %v", payload)
	}
	if reason := payload["context"].(map[string]any)["reason"]; reason != "missing_key" {
		t.Fatalf("reason = %v", reason)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate challenge")
	}
}

func TestMiddlewareRejectionReasons(t *testing.T) {
	validator, err := NewFixedKeyValidator("k1", "ops")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}
	handler := Middleware(nil, validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	tests := []struct {
		header string
		value  string
		reason string
	}{
		{header: "Authorization", value: "Basic azE6", reason: "unsupported_scheme"},
		{header: "Authorization", value: "Bearer ", reason: "missing_key"},
		{header: "Authorization", value: "Bearer k2", reason: "invalid_key"},
		{header: "X-API-Key", value: "k2", reason: "invalid_key"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
		req.Header.Set(tt.header, tt.value)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %q: status = %d", tt.header, tt.value, rr.Code)
		}
		var payload map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		details, _ := payload["context"].(map[string]any)
		if details["reason"] != tt.reason {
			t.Fatalf("%s %q: reason = %v, want %s", tt.header, tt.value, details["reason"], tt.reason)
		}
	}
}

func TestMiddlewareRejectsWrongKey(t *testing.T) {
	validator, _ := NewFixedKeyValidator("k1", "ops")
	handler := Middleware(nil, validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer k2")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewFixedKeyValidator("k1", "ops")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.Subject != "ops" {
			t.Fatalf("Subject = %q", identity.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", nil)
	req.Header.Set("Authorization", "bearer k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}
