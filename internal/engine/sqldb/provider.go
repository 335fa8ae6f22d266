package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sqlgate/sqlgate/internal/engine"
)

type Provider struct {
	db      *sql.DB
	dialect Dialect
}

func NewProvider(db *sql.DB, dialect Dialect) (*Provider, error) {
	if db == nil {
		return nil, fmt.Errorf("engine db is required")
	}
	if dialect == nil {
		return nil, fmt.Errorf("dialect is required")
	}
	return &Provider{db: db, dialect: dialect}, nil
}

// Acquire pins one pooled connection. It blocks while every pooled
// connection is held by another run.
func (p *Provider) Acquire(ctx context.Context) (engine.Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire %s connection: %w", p.dialect.Name(), err)
	}
	return &conn{conn: c, dialect: p.dialect}, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping engine db: %w", err)
	}
	return nil
}

type conn struct {
	conn    *sql.Conn
	dialect Dialect
}

func (c *conn) Explain(ctx context.Context, statement string) ([]engine.PlanRow, error) {
	rows, err := c.conn.QueryContext(ctx, c.dialect.ExplainSQL(statement))
	if err != nil {
		return nil, fmt.Errorf("explain statement: %w", err)
	}
	defer func() { _ = rows.Close() }()

	plan, err := c.dialect.ParsePlan(rows)
	if err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan rows: %w", err)
	}
	return plan, nil
}

func (c *conn) Execute(ctx context.Context, statement string) (engine.Result, error) {
	rows, err := c.conn.QueryContext(ctx, statement)
	if err != nil {
		return engine.Result{}, fmt.Errorf("execute statement: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return engine.Result{}, fmt.Errorf("result columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return engine.Result{}, err
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return engine.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return engine.Result{Columns: columns, Rows: resultRows}, nil
}

func (c *conn) Close() error {
	return c.conn.Close()
}

func scanRow(rows *sql.Rows, width int) ([]any, error) {
	values := make([]any, width)
	scanTargets := make([]any, width)
	for i := range values {
		scanTargets[i] = &values[i]
	}
	if err := rows.Scan(scanTargets...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return values, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
