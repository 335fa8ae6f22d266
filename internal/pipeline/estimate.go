package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sqlgate/sqlgate/internal/engine"
	"github.com/sqlgate/sqlgate/internal/execlog"
	"github.com/sqlgate/sqlgate/internal/script"
)

// Estimate is the summed row estimate of a plan. Unbounded marks a plan that
// could not be trusted and must be treated as maximal cost.
type Estimate struct {
	Rows      float64 `json:"rows"`
	Unbounded bool    `json:"unbounded"`
}

func (e Estimate) String() string {
	if e.Unbounded {
		return "unbounded"
	}
	return strconv.FormatFloat(e.Rows, 'f', -1, 64)
}

// EstimateStatement asks the engine for the statement's plan and sums the
// per-step row estimates. It never executes the statement.
func EstimateStatement(ctx context.Context, conn engine.Conn, stmt script.Statement, log *execlog.Log) (Estimate, error) {
	log.Add(stmt.Index, execlog.StageEstimate, "requesting plan explanation")

	plan, err := conn.Explain(ctx, stmt.Text)
	if err != nil {
		log.Add(stmt.Index, execlog.StageEstimate, "plan explanation failed: %v", err)
		return Estimate{}, &EstimationError{Statement: stmt.Index, Err: err}
	}
	if len(plan) == 0 {
		log.Add(stmt.Index, execlog.StageEstimate, "plan explanation returned no steps")
		return Estimate{}, &EstimationError{Statement: stmt.Index, Err: ErrEmptyPlan}
	}

	var estimate Estimate
	for _, step := range plan {
		rows, ok := parseRowEstimate(step.RowEstimate)
		if !ok {
			estimate.Unbounded = true
			log.Add(stmt.Index, execlog.StageEstimate, "step %d %s: row estimate %s is not numeric, statement treated as unbounded",
				step.Step, describeStep(step), describeValue(step.RowEstimate))
			continue
		}
		estimate.Rows += rows
		log.Add(stmt.Index, execlog.StageEstimate, "step %d %s: estimated rows %s",
			step.Step, describeStep(step), strconv.FormatFloat(rows, 'f', -1, 64))
	}
	if estimate.Unbounded {
		estimate.Rows = 0
	}
	log.Add(stmt.Index, execlog.StageEstimate, "total estimated rows: %s", estimate)
	return estimate, nil
}

func parseRowEstimate(value any) (float64, bool) {
	var rows float64
	switch typed := value.(type) {
	case nil:
		return 0, false
	case int:
		rows = float64(typed)
	case int8:
		rows = float64(typed)
	case int16:
		rows = float64(typed)
	case int32:
		rows = float64(typed)
	case int64:
		rows = float64(typed)
	case uint:
		rows = float64(typed)
	case uint8:
		rows = float64(typed)
	case uint16:
		rows = float64(typed)
	case uint32:
		rows = float64(typed)
	case uint64:
		rows = float64(typed)
	case float32:
		rows = float64(typed)
	case float64:
		rows = typed
	case json.Number:
		return parseNumericText(typed.String())
	case string:
		return parseNumericText(typed)
	case []byte:
		return parseNumericText(string(typed))
	case fmt.Stringer:
		return parseNumericText(typed.String())
	default:
		return 0, false
	}
	return validRows(rows)
}

func parseNumericText(text string) (float64, bool) {
	rows, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, false
	}
	return validRows(rows)
}

func validRows(rows float64) (float64, bool) {
	if math.IsNaN(rows) || math.IsInf(rows, 0) || rows < 0 {
		return 0, false
	}
	return rows, true
}

func describeStep(step engine.PlanRow) string {
	operation := step.Operation
	if operation == "" {
		operation = "step"
	}
	if step.Object == "" {
		return operation
	}
	return operation + " on " + step.Object
}

func describeValue(value any) string {
	if value == nil {
		return "missing"
	}
	if raw, ok := value.([]byte); ok {
		return strconv.Quote(string(raw))
	}
	return strconv.Quote(fmt.Sprint(value))
}
