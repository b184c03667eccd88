// Package engine provides the orchestration behind every nodeprep command.
//
// The engine sits between the CLI and the lower-level packages. A run checks
// out the source, provisions the Node.js runtime, opens the dependency cache
// and hands the working tree to the install planner. Each stage maps its
// failure to a distinct Step so callers can report which one broke.
//
// Key components:
//   - Run: the full sequence, or a plan-only dry run
//   - Preview: the install plan for a working directory
//   - ListCache/DeleteCache/PruneCache: cache maintenance
package engine

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/danieljhkim/nodeprep/internal/clock"
	"github.com/danieljhkim/nodeprep/internal/execx"
	"github.com/danieljhkim/nodeprep/internal/ghaction"
	"github.com/danieljhkim/nodeprep/internal/gitx"
	"github.com/danieljhkim/nodeprep/internal/hash"
	"github.com/danieljhkim/nodeprep/internal/logging"
	"github.com/danieljhkim/nodeprep/internal/nodeenv"
)

// RuntimeProvisioner selects a Node.js runtime for a version file.
type RuntimeProvisioner interface {
	Setup(ctx context.Context, versionFile string) (*nodeenv.Runtime, error)
}

// Deps are the collaborators an Engine drives. Zero values get defaults
// except Checkout, Runtimes and Runner, which are required.
type Deps struct {
	Checkout gitx.SourceCheckout
	Runtimes RuntimeProvisioner
	Runner   execx.Runner

	// Stores opens the blob store for a cache configuration
	Stores StoreOpener

	Hasher   hash.Hasher
	Clock    clock.Clock
	Logger   logrus.FieldLogger
	Reporter *ghaction.Reporter

	// Stdout and Stderr receive npm output
	Stdout io.Writer
	Stderr io.Writer
}

// Engine orchestrates nodeprep operations.
// It is the main API surface called by the CLI.
type Engine struct {
	checkout gitx.SourceCheckout
	runtimes RuntimeProvisioner
	runner   execx.Runner
	stores   StoreOpener
	hasher   hash.Hasher
	clock    clock.Clock
	log      logrus.FieldLogger
	reporter *ghaction.Reporter
	stdout   io.Writer
	stderr   io.Writer
}

// New creates a new Engine with the given dependencies.
func New(deps Deps) *Engine {
	e := &Engine{
		checkout: deps.Checkout,
		runtimes: deps.Runtimes,
		runner:   deps.Runner,
		stores:   deps.Stores,
		hasher:   deps.Hasher,
		clock:    deps.Clock,
		log:      deps.Logger,
		reporter: deps.Reporter,
		stdout:   deps.Stdout,
		stderr:   deps.Stderr,
	}
	if e.stores == nil {
		e.stores = OpenStore
	}
	if e.hasher == nil {
		e.hasher = hash.NewSHA256Hasher()
	}
	if e.clock == nil {
		e.clock = &clock.RealClock{}
	}
	if e.log == nil {
		e.log = logging.Discard()
	}
	if e.stdout == nil {
		e.stdout = io.Discard
	}
	if e.stderr == nil {
		e.stderr = io.Discard
	}
	return e
}
