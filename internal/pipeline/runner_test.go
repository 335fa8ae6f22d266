package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sqlgate/sqlgate/internal/engine"
	"github.com/sqlgate/sqlgate/internal/engine/enginetest"
	"github.com/sqlgate/sqlgate/internal/execlog"
	"github.com/sqlgate/sqlgate/internal/script"
)

func TestRunExampleScript(t *testing.T) {
	provider := enginetest.NewProvider(map[string]enginetest.Response{
		"SELECT 1": {
			Plan:   []engine.PlanRow{{Step: 1, Operation: "SIMPLE", RowEstimate: int64(1)}},
			Result: engine.Result{Columns: []string{"1"}, Rows: [][]any{{int64(1)}}},
		},
		"SELECT 2 WHERE 1>5": {
			Plan:   []engine.PlanRow{{Step: 1, Operation: "SIMPLE", RowEstimate: int64(0)}},
			Result: engine.Result{Columns: []string{"2"}},
		},
	})
	runner := newTestRunner(t, provider, 100)

	result, err := runner.Run(context.Background(), Request{CaseID: "5", Script: "SELECT 1; SELECT 2 WHERE 1>?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("len(Outcomes) = %d, want 2", len(result.Outcomes))
	}
	if result.Outcomes[0].Kind != OutcomeTable {
		t.Fatalf("Outcomes[0].Kind = %q, want table", result.Outcomes[0].Kind)
	}
	if result.Outcomes[1].Kind != OutcomeEmpty {
		t.Fatalf("Outcomes[1].Kind = %q, want empty", result.Outcomes[1].Kind)
	}
	if result.Outcomes[1].Statement != "SELECT 2 WHERE 1>5" {
		t.Fatalf("placeholder not substituted: %q", result.Outcomes[1].Statement)
	}
	if len(result.Log) < 4 {
		t.Fatalf("len(Log) = %d, want >= 4", len(result.Log))
	}
	if result.RunID == "" || result.CaseID != "5" {
		t.Fatalf("RunID = %q CaseID = %q", result.RunID, result.CaseID)
	}
	if provider.Acquired() != 1 || provider.Closed() != 1 {
		t.Fatalf("acquired = %d closed = %d", provider.Acquired(), provider.Closed())
	}
}

func TestRunPreservesOrderAndCount(t *testing.T) {
	provider := enginetest.NewProvider(map[string]enginetest.Response{
		"SELECT c FROM t3": {ExplainErr: errors.New("table t3 does not exist")},
		"SELECT d FROM t4": {
			Plan:       []engine.PlanRow{{Step: 1, RowEstimate: int64(2)}},
			ExecuteErr: errors.New("lock wait timeout"),
		},
	})
	provider.Default.Result = engine.Result{Columns: []string{"v"}, Rows: [][]any{{"x"}}}
	runner := newTestRunner(t, provider, 10)

	scriptText := "SELECT a FROM t1;\nSELECT b FROM t2;\n\nSELECT c FROM t3; SELECT d FROM t4;   ;SELECT e FROM t5"
	result, err := runner.Run(context.Background(), Request{CaseID: "c-1", Script: scriptText})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"SELECT a FROM t1", "SELECT b FROM t2", "SELECT c FROM t3", "SELECT d FROM t4", "SELECT e FROM t5"}
	if len(result.Outcomes) != len(want) {
		t.Fatalf("len(Outcomes) = %d, want %d", len(result.Outcomes), len(want))
	}
	for i, outcome := range result.Outcomes {
		if outcome.Index != i+1 || outcome.Statement != want[i] {
			t.Fatalf("Outcomes[%d] = %d %q, want %d %q", i, outcome.Index, outcome.Statement, i+1, want[i])
		}
	}
	if result.Outcomes[4].Kind != OutcomeTable {
		t.Fatalf("statement after failures not executed: %q", result.Outcomes[4].Kind)
	}

	execErr := result.Outcomes[3]
	if execErr.Kind != OutcomeError || execErr.Rejected {
		t.Fatalf("Outcomes[3] = %+v, want execution error", execErr)
	}
	var typed *ExecutionError
	if !errors.As(execErr.Err, &typed) || typed.Statement != 4 {
		t.Fatalf("Outcomes[3].Err = %v, want ExecutionError", execErr.Err)
	}

	summary := result.Summary()
	if summary.Statements != 5 || summary.Tables != 3 || summary.Errors != 2 || summary.Rejected != 1 {
		t.Fatalf("Summary() = %+v", summary)
	}
}

func TestRunOverLimitNeverExecutes(t *testing.T) {
	const oversized = "SELECT * FROM huge a CROSS JOIN huge b"
	provider := enginetest.NewProvider(map[string]enginetest.Response{
		oversized: {
			Plan: []engine.PlanRow{
				{Step: 1, Operation: "SIMPLE", Object: "a", RowEstimate: int64(90000)},
				{Step: 1, Operation: "SIMPLE", Object: "b", RowEstimate: int64(90000)},
			},
			ForbidExecute: true,
		},
	})
	runner := newTestRunner(t, provider, 100000)

	result, err := runner.Run(context.Background(), Request{CaseID: "1", Script: oversized})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if violations := provider.Violations(); len(violations) != 0 {
		t.Fatalf("executor reached for %v", violations)
	}
	explains, executes := provider.CallsFor(oversized)
	if explains != 1 || executes != 0 {
		t.Fatalf("explains = %d executes = %d", explains, executes)
	}

	outcome := result.Outcomes[0]
	if outcome.Kind != OutcomeError || !outcome.Rejected {
		t.Fatalf("outcome = %+v, want rejected error", outcome)
	}
	if outcome.Estimate == nil || outcome.Estimate.Rows != 180000 {
		t.Fatalf("Estimate = %+v", outcome.Estimate)
	}
	var rejection *AdmissionRejection
	if !errors.As(outcome.Err, &rejection) {
		t.Fatalf("Err = %v, want AdmissionRejection", outcome.Err)
	}
	if !logContains(result.Log, execlog.StageAdmission, "exceed limit 100000") {
		t.Fatalf("log does not explain rejection: %v", result.Log)
	}
}

func TestRunEstimationFailureIsRejected(t *testing.T) {
	tests := []struct {
		name     string
		response enginetest.Response
		wantErr  error
	}{
		{
			name:     "explain error",
			response: enginetest.Response{ExplainErr: errors.New("syntax error"), ForbidExecute: true},
		},
		{
			name:     "empty plan",
			response: enginetest.Response{Plan: []engine.PlanRow{}, ForbidExecute: true},
			wantErr:  ErrEmptyPlan,
		},
		{
			name: "non-numeric step",
			response: enginetest.Response{
				Plan: []engine.PlanRow{
					{Step: 1, RowEstimate: int64(1)},
					{Step: 2, RowEstimate: nil},
				},
				ForbidExecute: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := enginetest.NewProvider(map[string]enginetest.Response{"SELECT x": tt.response})
			runner := newTestRunner(t, provider, 1e9)

			result, err := runner.Run(context.Background(), Request{CaseID: "1", Script: "SELECT x; SELECT y"})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(result.Outcomes) != 2 {
				t.Fatalf("len(Outcomes) = %d, want 2", len(result.Outcomes))
			}
			first := result.Outcomes[0]
			if first.Kind != OutcomeError || !first.Rejected {
				t.Fatalf("Outcomes[0] = %+v, want rejected", first)
			}
			if tt.wantErr != nil && !errors.Is(first.Err, tt.wantErr) {
				t.Fatalf("Err = %v, want %v", first.Err, tt.wantErr)
			}
			if result.Outcomes[1].Kind == OutcomeError {
				t.Fatalf("Outcomes[1] = %+v, want executed", result.Outcomes[1])
			}
			if len(provider.Violations()) != 0 {
				t.Fatalf("rejected statement executed")
			}
		})
	}
}

func TestRunConnectionFailure(t *testing.T) {
	provider := enginetest.NewProvider(nil)
	provider.AcquireErr = errors.New("dial tcp 127.0.0.1:3307: connection refused")
	runner := newTestRunner(t, provider, 10)

	result, err := runner.Run(context.Background(), Request{CaseID: "1", Script: "SELECT 1; SELECT 2"})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Run() error = %v, want ConnectionError", err)
	}
	if len(result.Outcomes) != 0 {
		t.Fatalf("len(Outcomes) = %d, want 0", len(result.Outcomes))
	}
	if !logContains(result.Log, execlog.StageConnect, "connection refused") {
		t.Fatalf("log does not describe failure: %v", result.Log)
	}
	if calls := provider.Calls(); len(calls) != 0 {
		t.Fatalf("calls = %v, want none", calls)
	}
	if provider.Closed() != 0 {
		t.Fatalf("Closed() = %d, want 0", provider.Closed())
	}
}

func TestRunCancelledBeforeAcquire(t *testing.T) {
	provider := enginetest.NewProvider(nil)
	runner := newTestRunner(t, provider, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, Request{CaseID: "1", Script: "SELECT 1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunDefinitionBypassesEstimation(t *testing.T) {
	definition := "CREATE PROCEDURE report(IN c INT)\nBEGIN\n  SELECT * FROM cases WHERE id = c;\nEND"
	provider := enginetest.NewProvider(map[string]enginetest.Response{
		definition: {ExplainErr: errors.New("cannot explain a definition")},
	})
	runner := newTestRunner(t, provider, 0)

	scriptText := "DELIMITER //\n" + definition + "//\nDELIMITER ;\n"
	result, err := runner.Run(context.Background(), Request{CaseID: "7", Script: scriptText})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Outcomes) != 1 {
		t.Fatalf("len(Outcomes) = %d, want 1", len(result.Outcomes))
	}
	if result.Outcomes[0].StatementKind != script.KindDefinition {
		t.Fatalf("StatementKind = %q", result.Outcomes[0].StatementKind)
	}
	if result.Outcomes[0].Estimate != nil {
		t.Fatalf("definition should not carry an estimate")
	}
	explains, executes := provider.CallsFor(definition)
	if explains != 0 || executes != 1 {
		t.Fatalf("explains = %d executes = %d, want 0 and 1", explains, executes)
	}
}

func TestRunReleasesConnectionWhenEveryStatementFails(t *testing.T) {
	provider := enginetest.NewProvider(nil)
	provider.Default = enginetest.Response{
		Plan:       []engine.PlanRow{{Step: 1, RowEstimate: int64(1)}},
		ExecuteErr: errors.New("server has gone away"),
	}
	runner := newTestRunner(t, provider, 10)

	result, err := runner.Run(context.Background(), Request{CaseID: "1", Script: "SELECT 1; SELECT 2; SELECT 3"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary := result.Summary(); summary.Errors != 3 {
		t.Fatalf("Summary() = %+v", summary)
	}
	if provider.Closed() != 1 {
		t.Fatalf("Closed() = %d, want 1", provider.Closed())
	}
	released := 0
	for _, entry := range result.Log {
		if entry.Stage == execlog.StageConnect && strings.Contains(entry.Message, "released") {
			released++
		}
	}
	if released != 1 {
		t.Fatalf("release logged %d times, want 1", released)
	}
}

func TestRunEmptyScriptReleasesConnection(t *testing.T) {
	provider := enginetest.NewProvider(nil)
	runner := newTestRunner(t, provider, 10)

	result, err := runner.Run(context.Background(), Request{CaseID: "1", Script: " ; -- nothing\n"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Outcomes) != 0 || len(provider.Calls()) != 0 {
		t.Fatalf("outcomes = %d calls = %v", len(result.Outcomes), provider.Calls())
	}
	if provider.Acquired() != 1 || provider.Closed() != 1 {
		t.Fatalf("acquired = %d closed = %d", provider.Acquired(), provider.Closed())
	}
	if !logContains(result.Log, execlog.StageRun, "no executable statements") {
		t.Fatalf("log = %v", result.Log)
	}
}

func TestRunEmptyScriptOnUnavailableEngine(t *testing.T) {
	provider := enginetest.NewProvider(nil)
	provider.AcquireErr = errors.New("dial tcp 127.0.0.1:3307: connection refused")
	runner := newTestRunner(t, provider, 10)

	_, err := runner.Run(context.Background(), Request{CaseID: "1", Script: "-- nothing\n"})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Run() error = %v, want ConnectionError", err)
	}
}

func TestRunTimesOutWaitingForPooledConnection(t *testing.T) {
	provider := enginetest.NewProvider(nil)
	provider.Limit(1)
	held, err := provider.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = held.Close() }()
	runner := newTestRunner(t, provider, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result, err := runner.Run(ctx, Request{CaseID: "1", Script: "SELECT 1; SELECT 2"})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Run() error = %v, want ConnectionError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
	if len(result.Outcomes) != 0 {
		t.Fatalf("len(Outcomes) = %d, want 0", len(result.Outcomes))
	}
	if calls := provider.Calls(); len(calls) != 0 {
		t.Fatalf("calls = %v, want none", calls)
	}
}

func TestRunWaitsForPooledConnection(t *testing.T) {
	provider := enginetest.NewProvider(nil)
	provider.Limit(1)
	held, err := provider.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	runner := newTestRunner(t, provider, 10)

	type runResult struct {
		result Result
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		result, err := runner.Run(context.Background(), Request{CaseID: "1", Script: "SELECT 1"})
		done <- runResult{result: result, err: err}
	}()

	select {
	case <-done:
		t.Fatal("run finished while the pool was exhausted")
	case <-time.After(30 * time.Millisecond):
	}
	if calls := provider.Calls(); len(calls) != 0 {
		t.Fatalf("calls = %v before a connection was free", calls)
	}

	if err := held.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("Run() error = %v", got.err)
		}
		if len(got.result.Outcomes) != 1 || got.result.Outcomes[0].Kind == OutcomeError {
			t.Fatalf("Outcomes = %+v", got.result.Outcomes)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not proceed after the connection was released")
	}
}

func TestRunRejectsCallWhenEngineCannotExplainIt(t *testing.T) {
	definition := "CREATE PROCEDURE case_rows(IN c INT)\nBEGIN\n  SELECT * FROM huge_table WHERE case_number = c;\nEND"
	provider := enginetest.NewProvider(map[string]enginetest.Response{
		"CALL case_rows(7)": {
			ExplainErr:    errors.New("You have an error in your SQL syntax; check the manual near 'CALL case_rows(7)'"),
			ForbidExecute: true,
		},
	})
	runner := newTestRunner(t, provider, 100000)

	scriptText := "DELIMITER //\n" + definition + " //\nDELIMITER ;\nCALL case_rows(?);"
	result, err := runner.Run(context.Background(), Request{CaseID: "7", Script: scriptText})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("len(Outcomes) = %d, want 2", len(result.Outcomes))
	}
	call := result.Outcomes[1]
	if call.StatementKind != script.KindQuery || !call.Rejected || call.Kind != OutcomeError {
		t.Fatalf("CALL outcome = %+v", call)
	}
	var estimationErr *EstimationError
	if !errors.As(call.Err, &estimationErr) {
		t.Fatalf("Err = %v, want EstimationError", call.Err)
	}
	if !strings.Contains(call.Message, "estimate unavailable") {
		t.Fatalf("Message = %q", call.Message)
	}
	if violations := provider.Violations(); len(violations) != 0 {
		t.Fatalf("rejected CALL reached the engine: %v", violations)
	}
}

func TestRunLogExplainsEveryDecision(t *testing.T) {
	provider := enginetest.NewProvider(map[string]enginetest.Response{
		"SELECT big": {Plan: []engine.PlanRow{{Step: 1, RowEstimate: "5000"}}, ForbidExecute: true},
	})
	runner := newTestRunner(t, provider, 100)

	result, err := runner.Run(context.Background(), Request{CaseID: "1", Script: "SELECT small; SELECT big"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, index := range []int{1, 2} {
		found := false
		for _, entry := range result.Log {
			if entry.Statement == index && entry.Stage == execlog.StageAdmission {
				found = true
			}
		}
		if !found {
			t.Fatalf("no admission entry for statement %d", index)
		}
	}
	for i := 1; i < len(result.Log); i++ {
		if result.Log[i].Seq != result.Log[i-1].Seq+1 {
			t.Fatalf("log sequence broken at %d", i)
		}
	}
}

func TestNewRunnerValidates(t *testing.T) {
	provider := enginetest.NewProvider(nil)
	if _, err := NewRunner(nil, script.DefaultRules(), Controller{RowLimit: 1}, nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
	if _, err := NewRunner(provider, script.Rules{}, Controller{RowLimit: 1}, nil); err == nil {
		t.Fatal("expected error for empty rules")
	}
	if _, err := NewRunner(provider, script.DefaultRules(), Controller{RowLimit: -1}, nil); err == nil {
		t.Fatal("expected error for negative limit")
	}
}

func newTestRunner(t *testing.T, provider engine.Provider, rowLimit float64) *Runner {
	t.Helper()
	runner, err := NewRunner(provider, script.DefaultRules(), Controller{RowLimit: rowLimit}, nil)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return runner
}

func logContains(entries []execlog.Entry, stage execlog.Stage, fragment string) bool {
	for _, entry := range entries {
		if entry.Stage == stage && strings.Contains(entry.Message, fragment) {
			return true
		}
	}
	return false
}
