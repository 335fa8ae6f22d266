// Package audit keeps a durable record of every run: its summary, the
// admission decision and outcome of each statement, and the full log.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/sqlgate/sqlgate/internal/archive"
	"github.com/sqlgate/sqlgate/internal/execlog"
	"github.com/sqlgate/sqlgate/internal/pipeline"
)

var ErrNotFound = errors.New("audit: not found")

const (
	StatusCompleted        = "completed"
	StatusConnectionFailed = "connection_failed"
)

type Store interface {
	HealthCheck(ctx context.Context) error
	RecordRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRunsByCase(ctx context.Context, caseID string, limit int) ([]Run, error)
}

type Run struct {
	RunID         string      `json:"run_id"`
	CaseID        string      `json:"case_number"`
	Status        string      `json:"status"`
	Statements    int         `json:"statement_count"`
	Tables        int         `json:"table_count"`
	Empty         int         `json:"empty_count"`
	Errors        int         `json:"error_count"`
	Rejected      int         `json:"rejected_count"`
	ArchiveKey    string      `json:"archive_key,omitempty"`
	TraceID       string      `json:"trace_id,omitempty"`
	ExecutionLog  string      `json:"execution_log,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
	FinishedAt    time.Time   `json:"finished_at"`
	StatementRows []Statement `json:"statements,omitempty"`
}

type Statement struct {
	Index             int      `json:"index"`
	Kind              string   `json:"kind"`
	Outcome           string   `json:"outcome"`
	Rejected          bool     `json:"rejected"`
	EstimatedRows     *float64 `json:"estimated_rows,omitempty"`
	EstimateUnbounded bool     `json:"estimate_unbounded"`
	RowCount          int      `json:"row_count"`
	Message           string   `json:"message,omitempty"`
	DurationMs        int64    `json:"duration_ms"`
	Excerpt           string   `json:"statement"`
}

// FromResult converts a finished run into its audit record.
func FromResult(result pipeline.Result, status, archiveKey, traceID string, excerptLimit int) Run {
	if excerptLimit <= 0 {
		excerptLimit = archive.DefaultExcerptLimit
	}
	summary := result.Summary()
	run := Run{
		RunID:         result.RunID,
		CaseID:        result.CaseID,
		Status:        status,
		Statements:    summary.Statements,
		Tables:        summary.Tables,
		Empty:         summary.Empty,
		Errors:        summary.Errors,
		Rejected:      summary.Rejected,
		ArchiveKey:    archiveKey,
		TraceID:       traceID,
		ExecutionLog:  execlog.Text(result.Log),
		StartedAt:     result.StartedAt,
		FinishedAt:    result.FinishedAt,
		StatementRows: make([]Statement, 0, len(result.Outcomes)),
	}
	for _, outcome := range result.Outcomes {
		statement := Statement{
			Index:      outcome.Index,
			Kind:       string(outcome.StatementKind),
			Outcome:    string(outcome.Kind),
			Rejected:   outcome.Rejected,
			RowCount:   outcome.RowCount(),
			Message:    outcome.Message,
			DurationMs: outcome.Duration.Milliseconds(),
			Excerpt:    archive.Excerpt(outcome.Statement, excerptLimit),
		}
		if outcome.Estimate != nil {
			statement.EstimateUnbounded = outcome.Estimate.Unbounded
			if !outcome.Estimate.Unbounded {
				rows := outcome.Estimate.Rows
				statement.EstimatedRows = &rows
			}
		}
		run.StatementRows = append(run.StatementRows, statement)
	}
	return run
}
