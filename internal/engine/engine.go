// Package engine defines the boundary between the pipeline and the data
// engine that explains and executes statements.
package engine

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("engine: connection closed")

// PlanRow is one step of a plan explanation. RowEstimate holds the raw
// value of the configured estimate field, or nil when the step has none.
type PlanRow struct {
	Step        int
	Operation   string
	Object      string
	RowEstimate any
}

type Result struct {
	Columns []string
	Rows    [][]any
}

// Conn is a single engine session. It is owned by one run and must not be
// shared across goroutines.
type Conn interface {
	Explain(ctx context.Context, statement string) ([]PlanRow, error)
	Execute(ctx context.Context, statement string) (Result, error)
	Close() error
}

// Provider hands out connections from a bounded pool. Acquire blocks until a
// connection is free or ctx is done.
type Provider interface {
	Acquire(ctx context.Context) (Conn, error)
}
