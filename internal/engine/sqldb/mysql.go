package sqldb

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/sqlgate/sqlgate/internal/engine"
)

// MySQL reads the tabular EXPLAIN output of MySQL and MariaDB. The position
// of the rows column differs between server versions, so Field can address
// it by name or by position.
type MySQL struct {
	Field EstimateField
}

func (d *MySQL) Name() string { return "mysql" }

func (d *MySQL) ExplainSQL(statement string) string {
	return "EXPLAIN " + statement
}

func (d *MySQL) ParsePlan(rows *sql.Rows) ([]engine.PlanRow, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("plan columns: %w", err)
	}
	estimateAt := d.Field.Position
	if d.Field.Name != "" {
		estimateAt = columnIndex(columns, d.Field.Name)
	}
	idAt := columnIndex(columns, "id")
	typeAt := columnIndex(columns, "select_type")
	tableAt := columnIndex(columns, "table")

	plan := make([]engine.PlanRow, 0)
	for rows.Next() {
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return nil, err
		}
		values = normalizeValues(values)

		row := engine.PlanRow{
			Step:      len(plan) + 1,
			Operation: stringAt(values, typeAt),
			Object:    stringAt(values, tableAt),
		}
		if step, err := strconv.Atoi(stringAt(values, idAt)); err == nil {
			row.Step = step
		}
		if estimateAt >= 0 && estimateAt < len(values) {
			row.RowEstimate = values[estimateAt]
		}
		// A step with neither a table nor a row count reads no table
		// ("No tables used", "Impossible WHERE").
		if row.RowEstimate == nil && tableAt >= 0 && values[tableAt] == nil && estimateAt >= 0 && estimateAt < len(values) {
			row.RowEstimate = int64(0)
		}
		plan = append(plan, row)
	}
	return plan, nil
}

func columnIndex(columns []string, name string) int {
	for i, column := range columns {
		if strings.EqualFold(column, name) {
			return i
		}
	}
	return -1
}

func stringAt(values []any, index int) string {
	if index < 0 || index >= len(values) || values[index] == nil {
		return ""
	}
	return fmt.Sprint(values[index])
}
