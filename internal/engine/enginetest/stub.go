// Package enginetest provides a scripted in-memory engine for tests.
package enginetest

import (
	"context"
	"errors"
	"sync"

	"github.com/sqlgate/sqlgate/internal/engine"
)

// Call records one request made against a stub connection.
type Call struct {
	Op        string
	Statement string
}

// Response scripts the engine's answer for one statement text.
type Response struct {
	Plan       []engine.PlanRow
	ExplainErr error
	Result     engine.Result
	ExecuteErr error
	// ForbidExecute fails the test run through Violations when the
	// statement reaches Execute.
	ForbidExecute bool
}

type Provider struct {
	mu         sync.Mutex
	AcquireErr error
	Responses  map[string]Response
	Default    Response
	calls      []Call
	acquired   int
	closed     int
	violations []string
	slots      chan struct{}
}

func NewProvider(responses map[string]Response) *Provider {
	return &Provider{
		Responses: responses,
		Default: Response{
			Plan: []engine.PlanRow{{Step: 1, Operation: "SIMPLE", RowEstimate: int64(1)}},
		},
	}
}

// Limit bounds the stub to n open connections. Acquire then blocks until a
// connection is closed or ctx is done. Call it before the first Acquire.
func (p *Provider) Limit(n int) {
	p.slots = make(chan struct{}, n)
}

func (p *Provider) Acquire(ctx context.Context) (engine.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	acquireErr := p.AcquireErr
	p.mu.Unlock()
	if acquireErr != nil {
		return nil, acquireErr
	}
	if p.slots != nil {
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquired++
	return &conn{provider: p}, nil
}

func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallsFor returns how many explain and execute calls a statement received.
func (p *Provider) CallsFor(statement string) (explains, executes int) {
	for _, call := range p.Calls() {
		if call.Statement != statement {
			continue
		}
		switch call.Op {
		case "explain":
			explains++
		case "execute":
			executes++
		}
	}
	return explains, executes
}

func (p *Provider) Acquired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

func (p *Provider) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Provider) Violations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.violations...)
}

func (p *Provider) response(statement string) Response {
	if response, ok := p.Responses[statement]; ok {
		return response
	}
	return p.Default
}

type conn struct {
	provider *Provider
	closed   bool
}

func (c *conn) Explain(_ context.Context, statement string) ([]engine.PlanRow, error) {
	if c.closed {
		return nil, engine.ErrClosed
	}
	c.record("explain", statement)
	response := c.provider.response(statement)
	if response.ExplainErr != nil {
		return nil, response.ExplainErr
	}
	return response.Plan, nil
}

func (c *conn) Execute(_ context.Context, statement string) (engine.Result, error) {
	if c.closed {
		return engine.Result{}, engine.ErrClosed
	}
	c.record("execute", statement)
	response := c.provider.response(statement)
	if response.ForbidExecute {
		c.provider.mu.Lock()
		c.provider.violations = append(c.provider.violations, statement)
		c.provider.mu.Unlock()
		return engine.Result{}, errors.New("enginetest: execute called on forbidden statement")
	}
	if response.ExecuteErr != nil {
		return engine.Result{}, response.ExecuteErr
	}
	return response.Result, nil
}

func (c *conn) Close() error {
	if c.closed {
		return engine.ErrClosed
	}
	c.closed = true
	c.provider.mu.Lock()
	c.provider.closed++
	c.provider.mu.Unlock()
	if c.provider.slots != nil {
		<-c.provider.slots
	}
	return nil
}

func (c *conn) record(op, statement string) {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	c.provider.calls = append(c.provider.calls, Call{Op: op, Statement: statement})
}
