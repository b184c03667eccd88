package execx

import (
	"context"
	"sync"
)

// FakeRunner records commands instead of running them.
type FakeRunner struct {
	mu    sync.Mutex
	calls []Cmd

	// Handler decides the outcome of each call. Nil means every command
	// succeeds with exit code 0.
	Handler func(ctx context.Context, cmd Cmd) (*Result, error)
}

// NewFakeRunner creates a FakeRunner where every command succeeds.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// Run records cmd and delegates to Handler.
func (f *FakeRunner) Run(ctx context.Context, cmd Cmd) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	handler := f.Handler
	f.mu.Unlock()

	if handler == nil {
		return &Result{}, nil
	}
	return handler(ctx, cmd)
}

// Calls returns a copy of the recorded commands.
func (f *FakeRunner) Calls() []Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Cmd, len(f.calls))
	copy(out, f.calls)
	return out
}

// ExitWith returns a Handler that fails every command with code.
func ExitWith(code int) func(context.Context, Cmd) (*Result, error) {
	return func(_ context.Context, cmd Cmd) (*Result, error) {
		return &Result{ExitCode: code}, &ExecError{Command: cmd.String(), ExitCode: code}
	}
}
