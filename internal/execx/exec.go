// Package execx runs external programs with captured output and typed errors.
package execx

import (
	"context"
	"errors"
	"fmt"
	"io"
	osexec "os/exec"
	"strings"

	"github.com/jmgilman/go/exec"
)

// ErrTimeout indicates the command was killed because its context expired.
var ErrTimeout = errors.New("command timed out")

// Cmd describes one invocation.
type Cmd struct {
	// Name is the program to run, resolved through PATH.
	Name string
	Args []string
	Dir  string

	// Env is applied on top of the parent environment; its keys win.
	Env map[string]string

	// Stdout and Stderr receive output as it is produced, in addition to
	// capture. Nil discards the stream after capture.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs.
func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (*Result, error)
}

// ExecError is returned when a command cannot start or exits nonzero.
type ExecError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("command %q failed with exit code %d", e.Command, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if tail := lastLine(e.Stderr); tail != "" {
		msg += " (" + tail + ")"
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// OSRunner runs commands through the jmgilman/go/exec executor.
type OSRunner struct{}

// NewOSRunner creates a new OSRunner.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Run starts cmd and waits for it. A nonzero exit yields an *ExecError with the
// exit code; an expired context yields an error matching ErrTimeout.
func (r *OSRunner) Run(ctx context.Context, cmd Cmd) (*Result, error) {
	if cmd.Name == "" {
		return nil, &ExecError{ExitCode: -1, Err: osexec.ErrNotFound}
	}

	executor := exec.New(exec.WithInheritEnv()).
		WithContext(ctx).
		WithDir(cmd.Dir).
		WithEnv(cmd.Env)
	if cmd.Stdout != nil || cmd.Stderr != nil {
		executor = executor.
			WithStdout(orDiscard(cmd.Stdout)).
			WithStderr(orDiscard(cmd.Stderr)).
			WithPassthrough()
	}

	res, err := executor.Run(append([]string{cmd.Name}, cmd.Args...)...)

	result := &Result{ExitCode: -1}
	if res != nil {
		result.Stdout = res.Stdout
		result.Stderr = res.Stderr
		result.ExitCode = res.ExitCode
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			ctxErr = fmt.Errorf("%w: %w", ErrTimeout, ctxErr)
		}
		return result, &ExecError{
			Command:  cmd.String(),
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      ctxErr,
		}
	}
	if err != nil {
		var libErr *exec.ExecError
		if errors.As(err, &libErr) && libErr.Err != nil {
			err = libErr.Err
		}
		return result, &ExecError{
			Command:  cmd.String(),
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      err,
		}
	}
	return result, nil
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
