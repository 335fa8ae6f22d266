package sqldb

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/sqlgate/sqlgate/internal/engine"
)

// Dialect knows how to ask one engine for a plan and how to read the plan
// it returns into named-field plan rows.
type Dialect interface {
	Name() string
	ExplainSQL(statement string) string
	ParsePlan(rows *sql.Rows) ([]engine.PlanRow, error)
}

// EstimateField selects the plan field carrying row estimates, either by
// name or, when Position >= 0, by 0-based column position.
type EstimateField struct {
	Name     string
	Position int
}

// ParseEstimateField treats a purely numeric value as a column position.
func ParseEstimateField(raw string) EstimateField {
	raw = strings.TrimSpace(raw)
	if position, err := strconv.Atoi(raw); err == nil && position >= 0 {
		return EstimateField{Position: position}
	}
	return EstimateField{Name: raw, Position: -1}
}

func NewDialect(driver string, field EstimateField) (Dialect, error) {
	switch driver {
	case "mysql":
		if field.Name == "" && field.Position < 0 {
			field.Name = "rows"
		}
		return &MySQL{Field: field}, nil
	case "postgres":
		if field.Name == "" {
			field.Name = "Plan Rows"
		}
		return &Postgres{Field: field.Name}, nil
	case "duckdb":
		if field.Name == "" {
			field.Name = "Estimated Cardinality"
		}
		return &DuckDB{Field: field.Name}, nil
	default:
		return nil, fmt.Errorf("unsupported engine driver %q", driver)
	}
}
