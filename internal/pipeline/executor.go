package pipeline

import (
	"context"

	"github.com/sqlgate/sqlgate/internal/engine"
	"github.com/sqlgate/sqlgate/internal/execlog"
	"github.com/sqlgate/sqlgate/internal/script"
)

// ExecuteStatement runs one admitted statement and converts whatever the
// engine returns into an outcome. Engine errors are recorded, not returned.
func ExecuteStatement(ctx context.Context, conn engine.Conn, stmt script.Statement, log *execlog.Log) Outcome {
	outcome := Outcome{
		Index:         stmt.Index,
		Statement:     stmt.Text,
		StatementKind: stmt.Kind,
	}

	log.Add(stmt.Index, execlog.StageExecute, "executing %s statement", stmt.Kind)
	result, err := conn.Execute(ctx, stmt.Text)
	if err != nil {
		execErr := &ExecutionError{Statement: stmt.Index, Err: err}
		outcome.Kind = OutcomeError
		outcome.Message = err.Error()
		outcome.Err = execErr
		log.Add(stmt.Index, execlog.StageResult, "execution failed: %v", err)
		return outcome
	}

	if len(result.Rows) == 0 {
		outcome.Kind = OutcomeEmpty
		outcome.Columns = result.Columns
		log.Add(stmt.Index, execlog.StageResult, "statement returned no rows")
		return outcome
	}

	outcome.Kind = OutcomeTable
	outcome.Columns = result.Columns
	outcome.Rows = result.Rows
	log.Add(stmt.Index, execlog.StageResult, "statement returned %d rows with %d columns", len(result.Rows), len(result.Columns))
	return outcome
}
