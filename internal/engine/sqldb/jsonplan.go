package sqldb

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sqlgate/sqlgate/internal/engine"
)

// Postgres reads EXPLAIN (FORMAT JSON). Every plan node is one step.
type Postgres struct {
	Field string
}

func (d *Postgres) Name() string { return "postgres" }

func (d *Postgres) ExplainSQL(statement string) string {
	return "EXPLAIN (FORMAT JSON) " + statement
}

func (d *Postgres) ParsePlan(rows *sql.Rows) ([]engine.PlanRow, error) {
	documents, err := scanJSONDocuments(rows)
	if err != nil {
		return nil, err
	}

	plan := make([]engine.PlanRow, 0)
	var visit func(node map[string]any)
	visit = func(node map[string]any) {
		row := engine.PlanRow{
			Step:      len(plan) + 1,
			Operation: stringField(node, "Node Type"),
			Object:    stringField(node, "Relation Name"),
		}
		if value, ok := node[d.Field]; ok {
			row.RowEstimate = value
		}
		plan = append(plan, row)
		for _, child := range objectList(node["Plans"]) {
			visit(child)
		}
	}

	for _, document := range documents {
		for _, entry := range objectList(document) {
			if root, ok := entry["Plan"].(map[string]any); ok {
				visit(root)
			}
		}
	}
	return plan, nil
}

// DuckDB reads EXPLAIN (FORMAT JSON). Estimates live in each operator's
// extra_info map.
type DuckDB struct {
	Field string
}

func (d *DuckDB) Name() string { return "duckdb" }

func (d *DuckDB) ExplainSQL(statement string) string {
	return "EXPLAIN (FORMAT JSON) " + statement
}

func (d *DuckDB) ParsePlan(rows *sql.Rows) ([]engine.PlanRow, error) {
	documents, err := scanJSONDocuments(rows)
	if err != nil {
		return nil, err
	}

	plan := make([]engine.PlanRow, 0)
	var visit func(node map[string]any)
	visit = func(node map[string]any) {
		extra, _ := node["extra_info"].(map[string]any)
		row := engine.PlanRow{
			Step:      len(plan) + 1,
			Operation: stringField(node, "name"),
			Object:    stringField(extra, "Table"),
		}
		if value, ok := extra[d.Field]; ok {
			row.RowEstimate = value
		} else if value, ok := node[d.Field]; ok {
			row.RowEstimate = value
		}
		plan = append(plan, row)
		for _, child := range objectList(node["children"]) {
			visit(child)
		}
	}

	for _, document := range documents {
		for _, root := range objectList(document) {
			visit(root)
		}
	}
	return plan, nil
}

// scanJSONDocuments decodes the last column of every explain row as JSON.
// Numbers stay json.Number so estimates keep their textual form.
func scanJSONDocuments(rows *sql.Rows) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("plan columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, nil
	}

	documents := make([]any, 0, 1)
	for rows.Next() {
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return nil, err
		}
		document, err := decodeJSONValue(values[len(values)-1])
		if err != nil {
			return nil, err
		}
		documents = append(documents, document)
	}
	return documents, nil
}

func decodeJSONValue(value any) (any, error) {
	var raw []byte
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		// Drivers that decode json columns themselves.
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, fmt.Errorf("re-encode plan document: %w", err)
		}
		raw = encoded
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var document any
	if err := decoder.Decode(&document); err != nil {
		return nil, fmt.Errorf("decode plan document: %w", err)
	}
	return document, nil
}

func objectList(value any) []map[string]any {
	switch typed := value.(type) {
	case map[string]any:
		return []map[string]any{typed}
	case []any:
		out := make([]map[string]any, 0, len(typed))
		for _, item := range typed {
			if object, ok := item.(map[string]any); ok {
				out = append(out, object)
			}
		}
		return out
	default:
		return nil
	}
}

func stringField(object map[string]any, key string) string {
	if object == nil {
		return ""
	}
	value, ok := object[key].(string)
	if !ok {
		return ""
	}
	return value
}
