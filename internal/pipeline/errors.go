package pipeline

import (
	"errors"
	"fmt"
)

// ErrEmptyPlan reports a plan explanation that returned no steps.
var ErrEmptyPlan = errors.New("empty plan")

// ConnectionError aborts a run before any statement is attempted. It is the
// only error Runner.Run returns.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("acquire engine connection: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type EstimationError struct {
	Statement int
	Err       error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("estimate statement %d: %v", e.Statement, e.Err)
}

func (e *EstimationError) Unwrap() error { return e.Err }

type AdmissionRejection struct {
	Statement int
	Reason    string
}

func (e *AdmissionRejection) Error() string {
	return fmt.Sprintf("statement %d rejected: %s", e.Statement, e.Reason)
}

type ExecutionError struct {
	Statement int
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute statement %d: %v", e.Statement, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
