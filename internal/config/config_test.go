package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("sqlgate-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Engine.Driver != "mysql" {
		t.Fatalf("Engine.Driver = %q", cfg.Engine.Driver)
	}
	if !strings.Contains(cfg.Engine.DSN, "charset=utf8mb4") || !strings.Contains(cfg.Engine.DSN, "parseTime=true") {
		t.Fatalf("Engine.DSN = %q", cfg.Engine.DSN)
	}
	if cfg.Engine.MaxOpenConns != 8 {
		t.Fatalf("Engine.MaxOpenConns = %d", cfg.Engine.MaxOpenConns)
	}
	if cfg.Admission.RowLimit != 100000 {
		t.Fatalf("Admission.RowLimit = %v", cfg.Admission.RowLimit)
	}
	if cfg.Script.Placeholder != "?" {
		t.Fatalf("Script.Placeholder = %q", cfg.Script.Placeholder)
	}
	if cfg.Script.BlockTerminator != "//" {
		t.Fatalf("Script.BlockTerminator = %q", cfg.Script.BlockTerminator)
	}
	if cfg.Archive.Format != "csv" {
		t.Fatalf("Archive.Format = %q", cfg.Archive.Format)
	}
	if cfg.Archive.ExcerptLimit != 500 {
		t.Fatalf("Archive.ExcerptLimit = %d", cfg.Archive.ExcerptLimit)
	}
	if cfg.ObjectStore.Enabled {
		t.Fatal("ObjectStore.Enabled should default to false")
	}
	if cfg.Audit.Enabled {
		t.Fatal("Audit.Enabled should default to false")
	}
}

func TestLoadTestProfileUsesEmbeddedEngine(t *testing.T) {
	cfg, err := Load("sqlgate-api", mapLookup(map[string]string{"SQLGATE_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Driver != "duckdb" {
		t.Fatalf("Engine.Driver = %q", cfg.Engine.Driver)
	}
	if cfg.Script.BlockTerminator != "" {
		t.Fatalf("Script.BlockTerminator = %q, want none for duckdb", cfg.Script.BlockTerminator)
	}
	if cfg.Observability.LogLevel != slog.LevelWarn {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"SQLGATE_PROFILE":      "prod",
		"SQLGATE_AUTH_API_KEY": "k1",
	})
	cfg, err := Load("sqlgate-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadProdProfileRequiresAPIKey(t *testing.T) {
	_, err := Load("sqlgate-api", mapLookup(map[string]string{"SQLGATE_PROFILE": "prod"}))
	if err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"SQLGATE_PROFILE":                        "test",
		"SQLGATE_SERVICE_NAME":                   "sqlgate-custom",
		"SQLGATE_HTTP_ADDR":                      ":9999",
		"SQLGATE_HTTP_READ_TIMEOUT":              "2s",
		"SQLGATE_HTTP_WRITE_TIMEOUT":             "3s",
		"SQLGATE_LOG_LEVEL":                      "error",
		"SQLGATE_AUTH_REQUIRED":                  "true",
		"SQLGATE_AUTH_API_KEY":                   "secret",
		"SQLGATE_ENGINE_DRIVER":                  "postgres",
		"SQLGATE_ENGINE_DSN":                     "postgres://example",
		"SQLGATE_ENGINE_MAX_OPEN_CONNS":          "42",
		"SQLGATE_ENGINE_MAX_IDLE_CONNS":          "17",
		"SQLGATE_ENGINE_ESTIMATE_FIELD":          "9",
		"SQLGATE_ADMISSION_ROW_LIMIT":            "2500.5",
		"SQLGATE_SCRIPT_PLACEHOLDER":             "{case}",
		"SQLGATE_SCRIPT_BLOCK_TERMINATOR":        "$$",
		"SQLGATE_SCRIPT_DEFAULT_PATH":            "/etc/sqlgate/case.sql",
		"SQLGATE_SCRIPT_MAX_BYTES":               "2048",
		"SQLGATE_ARCHIVE_FORMAT":                 "parquet",
		"SQLGATE_ARCHIVE_EXCERPT_LIMIT":          "80",
		"SQLGATE_OBJECTSTORE_ENABLED":            "true",
		"SQLGATE_OBJECTSTORE_ENDPOINT":           "s3.example.com",
		"SQLGATE_OBJECTSTORE_BUCKET":             "sqlgate-prod",
		"SQLGATE_OBJECTSTORE_USE_SSL":            "true",
		"SQLGATE_OBJECTSTORE_AUTO_CREATE_BUCKET": "false",
		"SQLGATE_AUDIT_ENABLED":                  "true",
		"SQLGATE_AUDIT_DSN":                      "postgres://audit",
		"SQLGATE_AUDIT_MAX_OPEN_CONNS":           "3",
		"SQLGATE_AUDIT_CONN_MAX_LIFETIME":        "1h",
	})
	cfg, err := Load("sqlgate-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "sqlgate-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.APIKey != "secret" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.Engine.Driver != "postgres" || cfg.Engine.DSN != "postgres://example" {
		t.Fatalf("Engine = %+v", cfg.Engine)
	}
	if cfg.Engine.MaxOpenConns != 42 || cfg.Engine.MaxIdleConns != 17 {
		t.Fatalf("Engine pool = %d/%d", cfg.Engine.MaxOpenConns, cfg.Engine.MaxIdleConns)
	}
	if cfg.Engine.EstimateField != "9" {
		t.Fatalf("Engine.EstimateField = %q", cfg.Engine.EstimateField)
	}
	if cfg.Admission.RowLimit != 2500.5 {
		t.Fatalf("Admission.RowLimit = %v", cfg.Admission.RowLimit)
	}
	if cfg.Script.Placeholder != "{case}" {
		t.Fatalf("Script.Placeholder = %q", cfg.Script.Placeholder)
	}
	if cfg.Script.BlockTerminator != "$$" {
		t.Fatalf("Script.BlockTerminator = %q", cfg.Script.BlockTerminator)
	}
	if cfg.Script.DefaultScriptPath != "/etc/sqlgate/case.sql" {
		t.Fatalf("Script.DefaultScriptPath = %q", cfg.Script.DefaultScriptPath)
	}
	if cfg.Script.MaxBytes != 2048 {
		t.Fatalf("Script.MaxBytes = %d", cfg.Script.MaxBytes)
	}
	if cfg.Archive.Format != "parquet" || cfg.Archive.ExcerptLimit != 80 {
		t.Fatalf("Archive = %+v", cfg.Archive)
	}
	if !cfg.ObjectStore.Enabled || cfg.ObjectStore.Bucket != "sqlgate-prod" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL = false, want true")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket = true, want false")
	}
	if !cfg.Audit.Enabled || cfg.Audit.DSN != "postgres://audit" {
		t.Fatalf("Audit = %+v", cfg.Audit)
	}
	if cfg.Audit.MaxOpenConns != 3 || cfg.Audit.ConnMaxLifetime != time.Hour {
		t.Fatalf("Audit pool = %+v", cfg.Audit)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"SQLGATE_PROFILE": "oops"},
		{"SQLGATE_HTTP_READ_TIMEOUT": "NaN"},
		{"SQLGATE_ENGINE_MAX_OPEN_CONNS": "oops"},
		{"SQLGATE_ENGINE_DRIVER": "oracle"},
		{"SQLGATE_ADMISSION_ROW_LIMIT": "lots"},
		{"SQLGATE_ADMISSION_ROW_LIMIT": "-1"},
		{"SQLGATE_SCRIPT_PLACEHOLDER": ""},
		{"SQLGATE_SCRIPT_MAX_BYTES": "0"},
		{"SQLGATE_ENGINE_DRIVER": "duckdb", "SQLGATE_SCRIPT_BLOCK_TERMINATOR": "//"},
		{"SQLGATE_SCRIPT_CASE_PATTERN": "("},
		{"SQLGATE_ARCHIVE_FORMAT": "xlsx"},
		{"SQLGATE_ARCHIVE_EXCERPT_LIMIT": "0"},
		{"SQLGATE_AUTH_REQUIRED": "not-bool"},
		{"SQLGATE_AUTH_REQUIRED": "true"},
		{"SQLGATE_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("sqlgate-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestBlockTerminatorFollowsDriverUnlessSet(t *testing.T) {
	cfg, err := Load("sqlgate-api", mapLookup(map[string]string{"SQLGATE_ENGINE_DRIVER": "postgres"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Script.BlockTerminator != "" {
		t.Fatalf("Script.BlockTerminator = %q, want none for postgres", cfg.Script.BlockTerminator)
	}

	cfg, err = Load("sqlgate-api", mapLookup(map[string]string{"SQLGATE_SCRIPT_BLOCK_TERMINATOR": ""}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Driver != "mysql" || cfg.Script.BlockTerminator != "" {
		t.Fatalf("explicit empty terminator not kept: %+v", cfg.Script)
	}

	for driver, want := range map[string]string{"mysql": "//", "postgres": "", "duckdb": ""} {
		if got := DefaultBlockTerminator(driver); got != want {
			t.Fatalf("DefaultBlockTerminator(%q) = %q, want %q", driver, got, want)
		}
	}
}

func TestDefaultEstimateField(t *testing.T) {
	cases := map[string]string{
		"mysql":    "rows",
		"postgres": "Plan Rows",
		"duckdb":   "Estimated Cardinality",
	}
	for driver, want := range cases {
		if got := DefaultEstimateField(driver); got != want {
			t.Fatalf("DefaultEstimateField(%q) = %q, want %q", driver, got, want)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
