// Package pipeline runs a script against the data engine: every statement is
// estimated, admitted or rejected, executed when admitted and recorded as
// exactly one outcome.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sqlgate/sqlgate/internal/engine"
	"github.com/sqlgate/sqlgate/internal/execlog"
	"github.com/sqlgate/sqlgate/internal/observability"
	"github.com/sqlgate/sqlgate/internal/script"
)

type Request struct {
	CaseID string
	Script string
}

type Result struct {
	RunID      string
	CaseID     string
	Outcomes   []Outcome
	Log        []execlog.Entry
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r Result) Summary() Summary {
	return Summarize(r.Outcomes)
}

type Runner struct {
	provider   engine.Provider
	rules      script.Rules
	controller Controller
	logger     *slog.Logger
	now        func() time.Time
}

func NewRunner(provider engine.Provider, rules script.Rules, controller Controller, logger *slog.Logger) (*Runner, error) {
	if provider == nil {
		return nil, fmt.Errorf("engine provider is required")
	}
	if rules.Placeholder == "" {
		return nil, fmt.Errorf("script rules require a placeholder")
	}
	if controller.RowLimit < 0 {
		return nil, fmt.Errorf("row limit must be >= 0")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		provider:   provider,
		rules:      rules,
		controller: controller,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Statements returns the statements req would run, without touching the
// engine.
func (r *Runner) Statements(req Request) []script.Statement {
	return script.Prepare(req.Script, req.CaseID, r.rules)
}

// Run processes every statement of req in order on one engine connection.
// The connection is acquired with ctx; once acquired the run is not
// cancelled and always releases the connection. A *ConnectionError is the
// only returned error, and the Result carries the log in every case.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	result := Result{
		RunID:     uuid.NewString(),
		CaseID:    req.CaseID,
		Outcomes:  []Outcome{},
		StartedAt: r.now().UTC(),
	}
	logger := observability.RunLogger(r.logger, result.RunID, req.CaseID)
	log := execlog.New()
	log.Observer = func(entry execlog.Entry) {
		logger.DebugContext(ctx, "execution_log",
			slog.Int("statement", entry.Statement),
			slog.String("stage", string(entry.Stage)),
			slog.String("message", entry.Message),
		)
	}
	finish := func() {
		result.Log = log.Snapshot()
		result.FinishedAt = r.now().UTC()
	}

	log.Add(0, execlog.StageRun, "run %s started for case %q", result.RunID, req.CaseID)

	conn, err := r.provider.Acquire(ctx)
	if err != nil {
		connErr := &ConnectionError{Err: err}
		log.Add(0, execlog.StageConnect, "connection failed: %v; no statements attempted", err)
		logger.ErrorContext(ctx, "engine connection failed", slog.Any("error", err))
		finish()
		return result, connErr
	}
	log.Add(0, execlog.StageConnect, "connection acquired")

	runCtx := context.WithoutCancel(ctx)
	statements := r.Statements(req)
	func() {
		defer r.release(runCtx, conn, log, logger)
		if len(statements) == 0 {
			log.Add(0, execlog.StageRun, "script contains no executable statements")
			return
		}
		log.Add(0, execlog.StageRun, "script prepared into %d statements", len(statements))
		for _, stmt := range statements {
			result.Outcomes = append(result.Outcomes, r.runStatement(runCtx, conn, stmt, log))
		}
	}()

	summary := Summarize(result.Outcomes)
	log.Add(0, execlog.StageRun, "run finished: %d statements, %d tables, %d empty, %d errors (%d rejected)",
		summary.Statements, summary.Tables, summary.Empty, summary.Errors, summary.Rejected)
	finish()
	logger.InfoContext(ctx, "run finished",
		slog.Int("statements", summary.Statements),
		slog.Int("rejected", summary.Rejected),
		slog.Int("errors", summary.Errors),
		slog.String("duration", result.Duration().String()),
	)
	return result, nil
}

func (r *Runner) runStatement(ctx context.Context, conn engine.Conn, stmt script.Statement, log *execlog.Log) Outcome {
	start := time.Now()

	if stmt.Kind == script.KindDefinition {
		log.Add(stmt.Index, execlog.StageAdmission, "definition statement, admitted without estimate")
		outcome := ExecuteStatement(ctx, conn, stmt, log)
		outcome.Duration = time.Since(start)
		return outcome
	}

	estimate, err := EstimateStatement(ctx, conn, stmt, log)
	decision := r.controller.Decide(estimate, err)
	var estimated *Estimate
	if err == nil {
		estimated = &estimate
	}

	if !decision.Admitted {
		log.Add(stmt.Index, execlog.StageAdmission, "rejected: %s", decision.Reason)
		var cause error = &AdmissionRejection{Statement: stmt.Index, Reason: decision.Reason}
		if err != nil {
			cause = err
		}
		return Outcome{
			Index:         stmt.Index,
			Statement:     stmt.Text,
			StatementKind: stmt.Kind,
			Kind:          OutcomeError,
			Message:       "statement not executed: " + decision.Reason,
			Rejected:      true,
			Estimate:      estimated,
			Duration:      time.Since(start),
			Err:           cause,
		}
	}

	log.Add(stmt.Index, execlog.StageAdmission, "admitted: %s", decision.Reason)
	outcome := ExecuteStatement(ctx, conn, stmt, log)
	outcome.Estimate = estimated
	outcome.Duration = time.Since(start)
	return outcome
}

func (r *Runner) release(ctx context.Context, conn engine.Conn, log *execlog.Log, logger *slog.Logger) {
	if err := conn.Close(); err != nil {
		log.Add(0, execlog.StageConnect, "connection release failed: %v", err)
		logger.WarnContext(ctx, "engine connection release failed", slog.Any("error", err))
		return
	}
	log.Add(0, execlog.StageConnect, "connection released")
}
