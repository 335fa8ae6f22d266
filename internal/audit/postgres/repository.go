package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sqlgate/sqlgate/internal/audit"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	return nil
}

// RecordRun stores the run and all of its statements atomically.
func (r *Repository) RecordRun(ctx context.Context, run audit.Run) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runQuery := `
INSERT INTO run_audit (
    run_id, case_id, status, statement_count, table_count, empty_count, error_count, rejected_count,
    archive_key, trace_id, execution_log, started_at, finished_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13)`
	if _, err := tx.ExecContext(ctx, runQuery,
		run.RunID,
		run.CaseID,
		run.Status,
		run.Statements,
		run.Tables,
		run.Empty,
		run.Errors,
		run.Rejected,
		run.ArchiveKey,
		run.TraceID,
		run.ExecutionLog,
		run.StartedAt,
		run.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert run audit: %w", err)
	}

	statementQuery := `
INSERT INTO run_statement (
    run_id, statement_index, statement_kind, outcome, rejected, estimated_rows, estimate_unbounded,
    row_count, message, duration_ms, statement_excerpt
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for _, statement := range run.StatementRows {
		var estimatedRows any
		if statement.EstimatedRows != nil {
			estimatedRows = *statement.EstimatedRows
		}
		if _, err := tx.ExecContext(ctx, statementQuery,
			run.RunID,
			statement.Index,
			statement.Kind,
			statement.Outcome,
			statement.Rejected,
			estimatedRows,
			statement.EstimateUnbounded,
			statement.RowCount,
			statement.Message,
			statement.DurationMs,
			statement.Excerpt,
		); err != nil {
			return fmt.Errorf("insert run statement %d: %w", statement.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *Repository) GetRun(ctx context.Context, runID string) (audit.Run, error) {
	query := `
SELECT run_id::text, case_id, status, statement_count, table_count, empty_count, error_count, rejected_count,
       COALESCE(archive_key, ''), COALESCE(trace_id, ''), execution_log, started_at, finished_at
FROM run_audit
WHERE run_id = $1`

	var run audit.Run
	if err := r.db.QueryRowContext(ctx, query, runID).Scan(
		&run.RunID,
		&run.CaseID,
		&run.Status,
		&run.Statements,
		&run.Tables,
		&run.Empty,
		&run.Errors,
		&run.Rejected,
		&run.ArchiveKey,
		&run.TraceID,
		&run.ExecutionLog,
		&run.StartedAt,
		&run.FinishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Run{}, audit.ErrNotFound
		}
		return audit.Run{}, fmt.Errorf("get run audit: %w", err)
	}

	statements, err := r.listStatements(ctx, runID)
	if err != nil {
		return audit.Run{}, err
	}
	run.StatementRows = statements
	return run, nil
}

// ListRunsByCase returns the newest runs for a case without their logs or
// statements.
func (r *Repository) ListRunsByCase(ctx context.Context, caseID string, limit int) ([]audit.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id::text, case_id, status, statement_count, table_count, empty_count, error_count, rejected_count,
       COALESCE(archive_key, ''), COALESCE(trace_id, ''), started_at, finished_at
FROM run_audit
WHERE case_id = $1
ORDER BY started_at DESC
LIMIT $2`, caseID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by case: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]audit.Run, 0)
	for rows.Next() {
		var run audit.Run
		if err := rows.Scan(
			&run.RunID,
			&run.CaseID,
			&run.Status,
			&run.Statements,
			&run.Tables,
			&run.Empty,
			&run.Errors,
			&run.Rejected,
			&run.ArchiveKey,
			&run.TraceID,
			&run.StartedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run audit row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run audit rows: %w", err)
	}
	return runs, nil
}

func (r *Repository) listStatements(ctx context.Context, runID string) ([]audit.Statement, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT statement_index, statement_kind, outcome, rejected, estimated_rows, estimate_unbounded,
       row_count, message, duration_ms, statement_excerpt
FROM run_statement
WHERE run_id = $1
ORDER BY statement_index ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run statements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	statements := make([]audit.Statement, 0)
	for rows.Next() {
		var (
			statement     audit.Statement
			estimatedRows sql.NullFloat64
		)
		if err := rows.Scan(
			&statement.Index,
			&statement.Kind,
			&statement.Outcome,
			&statement.Rejected,
			&estimatedRows,
			&statement.EstimateUnbounded,
			&statement.RowCount,
			&statement.Message,
			&statement.DurationMs,
			&statement.Excerpt,
		); err != nil {
			return nil, fmt.Errorf("scan run statement row: %w", err)
		}
		if estimatedRows.Valid {
			value := estimatedRows.Float64
			statement.EstimatedRows = &value
		}
		statements = append(statements, statement)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run statement rows: %w", err)
	}
	return statements, nil
}
