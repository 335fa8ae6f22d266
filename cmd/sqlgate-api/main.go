package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sqlgate/sqlgate/internal/api"
	"github.com/sqlgate/sqlgate/internal/archive"
	"github.com/sqlgate/sqlgate/internal/audit"
	auditpostgres "github.com/sqlgate/sqlgate/internal/audit/postgres"
	"github.com/sqlgate/sqlgate/internal/auth"
	"github.com/sqlgate/sqlgate/internal/config"
	"github.com/sqlgate/sqlgate/internal/engine/sqldb"
	"github.com/sqlgate/sqlgate/internal/observability"
	"github.com/sqlgate/sqlgate/internal/pipeline"
	"github.com/sqlgate/sqlgate/internal/script"
	"github.com/sqlgate/sqlgate/internal/storage"
	s3store "github.com/sqlgate/sqlgate/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlgate-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	engineDB, err := sqldb.Open(context.Background(), sqldb.DBConfig{
		Driver:          cfg.Engine.Driver,
		DSN:             cfg.Engine.DSN,
		MaxOpenConns:    cfg.Engine.MaxOpenConns,
		MaxIdleConns:    cfg.Engine.MaxIdleConns,
		ConnMaxIdleTime: cfg.Engine.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Engine.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open engine db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = engineDB.Close() }()

	estimateField := cfg.Engine.EstimateField
	if estimateField == "" {
		estimateField = config.DefaultEstimateField(cfg.Engine.Driver)
	}
	dialect, err := sqldb.NewDialect(cfg.Engine.Driver, sqldb.ParseEstimateField(estimateField))
	if err != nil {
		logger.Error("failed to configure engine dialect", slog.Any("error", err))
		os.Exit(1)
	}
	provider, err := sqldb.NewProvider(engineDB, dialect)
	if err != nil {
		logger.Error("failed to initialize engine provider", slog.Any("error", err))
		os.Exit(1)
	}

	rules := script.RulesFor(cfg.Engine.Driver)
	rules.Placeholder = cfg.Script.Placeholder
	rules.BlockTerminator = cfg.Script.BlockTerminator
	runner, err := pipeline.NewRunner(provider, rules, pipeline.Controller{RowLimit: cfg.Admission.RowLimit}, logger)
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	packager, err := archive.NewPackager(archive.Format(cfg.Archive.Format), cfg.Archive.ExcerptLimit)
	if err != nil {
		logger.Error("failed to initialize archive packager", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Runner:            runner,
		Packager:          packager,
		DependencyTimeout: time.Second,
	}
	if cfg.Script.DefaultScriptPath != "" {
		deps.DefaultScript = api.ScriptFile(cfg.Script.DefaultScriptPath, cfg.Script.MaxBytes)
	}

	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		archives, err := storage.NewArchiveStore(objectStore)
		if err != nil {
			logger.Error("failed to initialize archive store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Archives = archives
	}

	var auditStore audit.Store
	if cfg.Audit.Enabled {
		auditDB, err := auditpostgres.Open(context.Background(), auditpostgres.DBConfig{
			DSN:             cfg.Audit.DSN,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open audit db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = auditDB.Close() }()
		auditStore = auditpostgres.NewRepository(auditDB)
		deps.Audit = auditStore
	}

	deps.Readiness = api.CombineReadinessChecks(
		api.CheckEngine(provider.HealthCheck),
		api.CheckAudit(auditStore),
		api.CheckObjectStoreConfig(cfg),
	)
	if cfg.Auth.Required {
		validator, err := auth.NewFixedKeyValidator(cfg.Auth.APIKey, "operator")
		if err != nil {
			logger.Error("failed to configure api key", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("engine", dialect.Name()),
			slog.Float64("row_limit", cfg.Admission.RowLimit),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
