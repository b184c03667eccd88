package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/nodeprep/internal/clock"
	"github.com/danieljhkim/nodeprep/internal/config"
	"github.com/danieljhkim/nodeprep/internal/engine"
	"github.com/danieljhkim/nodeprep/internal/execx"
	"github.com/danieljhkim/nodeprep/internal/ghaction"
	"github.com/danieljhkim/nodeprep/internal/gitx"
	"github.com/danieljhkim/nodeprep/internal/hash"
	"github.com/danieljhkim/nodeprep/internal/logging"
	"github.com/danieljhkim/nodeprep/internal/nodeenv"
)

// loadSettings resolves configuration for cmd from its flags, the
// environment and the config file.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get config paths: %w", err)
	}

	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	return config.Load(config.LoadOptions{
		ConfigFile: configFile,
		Flags:      cmd.Flags(),
		Paths:      paths,
	})
}

// newEngine creates a new engine with real implementations of all dependencies.
func newEngine(settings *config.Settings) (*engine.Engine, error) {
	logger, err := logging.InitLogger(settings.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	runner := execx.NewOSRunner()
	return engine.New(engine.Deps{
		Checkout: gitx.NewGoGit(),
		Runtimes: nodeenv.NewProvisioner(runner, nodeenv.Options{}),
		Runner:   runner,
		Stores:   engine.OpenStore,
		Hasher:   hash.NewSHA256Hasher(),
		Clock:    &clock.RealClock{},
		Logger:   logger,
		Reporter: ghaction.FromEnv(reporterOutput(jsonOutput)),
		// npm output goes to stderr so --json output stays parseable
		Stdout: os.Stderr,
		Stderr: os.Stderr,
	}), nil
}

// reporterOutput picks the stream for workflow commands. Under --json stdout
// carries only the JSON document.
func reporterOutput(jsonMode bool) io.Writer {
	if jsonMode {
		return os.Stderr
	}
	return os.Stdout
}

// commandContext returns a context that is canceled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// setup loads settings and builds the engine for cmd.
func setup(cmd *cobra.Command) (*config.Settings, *engine.Engine, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, err
	}
	eng, err := newEngine(settings)
	if err != nil {
		return nil, nil, err
	}
	return settings, eng, nil
}

// FormatError formats an error for display.
func FormatError(err error) string {
	initColors()
	if step := engine.FailedStep(err); step != "" {
		return errorColor.Sprintf("Error [%s]: %v", step, err)
	}
	return errorColor.Sprintf("Error: %v", err)
}

// outputJSON outputs a value as JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
