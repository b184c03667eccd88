// Package npm drives the npm CLI for clean, lockfile-exact installs.
package npm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danieljhkim/nodeprep/internal/execx"
	"github.com/danieljhkim/nodeprep/internal/planner"
)

// DefaultBinary is used when no explicit npm path is configured.
const DefaultBinary = "npm"

// Args returns the npm arguments for an install. Dev installs every
// dependency group; prod omits devDependencies.
func Args(mode planner.Mode, scriptsEnabled bool) []string {
	args := []string{"ci"}
	if mode == planner.ModeProd {
		args = append(args, "--omit=dev")
	}
	if !scriptsEnabled {
		args = append(args, "--ignore-scripts")
	}
	return args
}

// PackageManager installs dependencies with npm ci.
type PackageManager struct {
	runner execx.Runner
	binary string
	env    map[string]string
	stdout io.Writer
	stderr io.Writer
}

// Option customizes a PackageManager.
type Option func(*PackageManager)

// WithBinary sets the npm executable.
func WithBinary(binary string) Option {
	return func(pm *PackageManager) {
		if binary != "" {
			pm.binary = binary
		}
	}
}

// WithEnv adds environment variables to every npm invocation.
func WithEnv(env map[string]string) Option {
	return func(pm *PackageManager) {
		for k, v := range env {
			pm.env[k] = v
		}
	}
}

// WithOutput streams npm's output while it runs.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(pm *PackageManager) {
		pm.stdout = stdout
		pm.stderr = stderr
	}
}

// New creates a PackageManager that runs commands through runner.
func New(runner execx.Runner, opts ...Option) *PackageManager {
	pm := &PackageManager{
		runner: runner,
		binary: DefaultBinary,
		env:    map[string]string{},
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

// Command returns the full command line for an install.
func (pm *PackageManager) Command(mode planner.Mode, scriptsEnabled bool) []string {
	return append([]string{pm.binary}, Args(mode, scriptsEnabled)...)
}

// Install runs npm ci in dir and returns its exit code. A nonzero exit is
// reported both as the code and as an error; an expired context surfaces as
// planner.ErrTimeout.
func (pm *PackageManager) Install(ctx context.Context, dir string, mode planner.Mode, scriptsEnabled bool) (int, error) {
	env := make(map[string]string, len(pm.env)+1)
	for k, v := range pm.env {
		env[k] = v
	}
	if _, ok := env["npm_config_fund"]; !ok {
		env["npm_config_fund"] = "false"
	}

	res, err := pm.runner.Run(ctx, execx.Cmd{
		Name:   pm.binary,
		Args:   Args(mode, scriptsEnabled),
		Dir:    dir,
		Env:    env,
		Stdout: pm.stdout,
		Stderr: pm.stderr,
	})
	if err == nil {
		return 0, nil
	}

	code := -1
	if res != nil {
		code = res.ExitCode
	}
	var execErr *execx.ExecError
	if errors.As(err, &execErr) {
		code = execErr.ExitCode
	}

	if errors.Is(err, execx.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return code, fmt.Errorf("%w: %v", planner.ErrTimeout, err)
	}
	return code, err
}
