package npm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieljhkim/nodeprep/internal/execx"
	"github.com/danieljhkim/nodeprep/internal/planner"
)

func TestArgs(t *testing.T) {
	tests := []struct {
		name    string
		mode    planner.Mode
		scripts bool
		want    []string
	}{
		{"dev without scripts", planner.ModeDev, false, []string{"ci", "--ignore-scripts"}},
		{"prod without scripts", planner.ModeProd, false, []string{"ci", "--omit=dev", "--ignore-scripts"}},
		{"dev with scripts", planner.ModeDev, true, []string{"ci"}},
		{"prod with scripts", planner.ModeProd, true, []string{"ci", "--omit=dev"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Args(tt.mode, tt.scripts))
		})
	}
}

func TestInstall_Success(t *testing.T) {
	runner := execx.NewFakeRunner()
	pm := New(runner, WithBinary("/opt/node/bin/npm"), WithEnv(map[string]string{"CI": "true"}))

	code, err := pm.Install(context.Background(), "/work/app", planner.ModeProd, false)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/opt/node/bin/npm", calls[0].Name)
	assert.Equal(t, []string{"ci", "--omit=dev", "--ignore-scripts"}, calls[0].Args)
	assert.Equal(t, "/work/app", calls[0].Dir)
	assert.Equal(t, "true", calls[0].Env["CI"])
	assert.Equal(t, "false", calls[0].Env["npm_config_fund"])
}

func TestInstall_NonZeroExit(t *testing.T) {
	runner := execx.NewFakeRunner()
	runner.Handler = execx.ExitWith(1)

	code, err := New(runner).Install(context.Background(), "/work", planner.ModeDev, false)
	require.Error(t, err)
	assert.Equal(t, 1, code)
	assert.False(t, errors.Is(err, planner.ErrTimeout))
}

func TestInstall_Timeout(t *testing.T) {
	runner := execx.NewFakeRunner()
	runner.Handler = func(_ context.Context, cmd execx.Cmd) (*execx.Result, error) {
		return &execx.Result{ExitCode: -1}, &execx.ExecError{
			Command:  cmd.String(),
			ExitCode: -1,
			Err:      fmt.Errorf("%w: %w", execx.ErrTimeout, context.DeadlineExceeded),
		}
	}

	code, err := New(runner).Install(context.Background(), "/work", planner.ModeDev, false)
	assert.ErrorIs(t, err, planner.ErrTimeout)
	assert.Equal(t, -1, code)
}

func TestCommand(t *testing.T) {
	pm := New(execx.NewFakeRunner(), WithBinary(""))
	assert.Equal(t, []string{"npm", "ci", "--ignore-scripts"}, pm.Command(planner.ModeDev, false))
}
