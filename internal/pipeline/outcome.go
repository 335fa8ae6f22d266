package pipeline

import (
	"time"

	"github.com/sqlgate/sqlgate/internal/script"
)

type OutcomeKind string

const (
	OutcomeTable OutcomeKind = "table"
	OutcomeEmpty OutcomeKind = "empty"
	OutcomeError OutcomeKind = "error"
)

// Outcome is the single record kept for one statement. Rejected outcomes are
// errors that never reached the engine; Err carries the typed cause.
type Outcome struct {
	Index         int
	Statement     string
	StatementKind script.Kind
	Kind          OutcomeKind
	Columns       []string
	Rows          [][]any
	Message       string
	Rejected      bool
	Estimate      *Estimate
	Duration      time.Duration
	Err           error
}

func (o Outcome) RowCount() int {
	return len(o.Rows)
}

// Summary counts outcomes by kind.
type Summary struct {
	Statements int `json:"statements"`
	Tables     int `json:"tables"`
	Empty      int `json:"empty"`
	Errors     int `json:"errors"`
	Rejected   int `json:"rejected"`
}

func Summarize(outcomes []Outcome) Summary {
	summary := Summary{Statements: len(outcomes)}
	for _, outcome := range outcomes {
		switch outcome.Kind {
		case OutcomeTable:
			summary.Tables++
		case OutcomeEmpty:
			summary.Empty++
		case OutcomeError:
			summary.Errors++
			if outcome.Rejected {
				summary.Rejected++
			}
		}
	}
	return summary
}
