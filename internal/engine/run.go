package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/danieljhkim/nodeprep/internal/clock"
	"github.com/danieljhkim/nodeprep/internal/config"
	"github.com/danieljhkim/nodeprep/internal/ghaction"
	"github.com/danieljhkim/nodeprep/internal/gitx"
	"github.com/danieljhkim/nodeprep/internal/logging"
	"github.com/danieljhkim/nodeprep/internal/nodeenv"
	"github.com/danieljhkim/nodeprep/internal/npm"
	"github.com/danieljhkim/nodeprep/internal/planner"
)

// Run prepares node_modules for the configured working directory.
//
// Algorithm steps:
//  1. Check out the source (skipped when checkout is disabled)
//  2. Provision the runtime named by the version file
//  3. Open the cache backend; an unreachable backend degrades to no cache
//  4. Plan: restore on a hit, otherwise install and save
//  5. Publish outputs for the CI runner
//
// A non-nil RunResult is returned whenever planning got far enough to
// compute a key, including failed installs. Fatal errors are *StepError.
func (e *Engine) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	if req == nil || req.Settings == nil {
		return nil, fmt.Errorf("%w: settings are required", ErrValidation)
	}
	s := req.Settings
	if req.DryRun {
		return e.dryRun(ctx, s)
	}

	start := e.clock.Now()
	result := &RunResult{RunID: logging.NewRunID()}
	log := e.log.WithFields(logging.BaseFields("run", result.RunID))

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	err := e.run(ctx, s, result, log)
	result.Duration = clock.Since(e.clock, start)
	e.publish(result, err)

	if err != nil {
		log.WithError(err).WithField("step", FailedStep(err)).Error("run failed")
		return result, err
	}
	log.WithField("duration", result.Duration).Info("run complete")
	return result, nil
}

func (e *Engine) run(ctx context.Context, s *config.Settings, result *RunResult, log logrus.FieldLogger) error {
	end := e.reporter.Group("Checkout")
	tree, err := e.checkout.Checkout(ctx, s.Checkout, gitx.OptionsFromEnv(s.WorkingDirectory))
	end()
	if err != nil {
		return stepError(StepCheckout, err)
	}
	result.Tree = tree
	result.Head = tree.Head
	log.WithFields(logrus.Fields{"root": tree.Root, "head": tree.Head, "cloned": tree.Cloned}).Debug("working tree ready")

	end = e.reporter.Group("Set up Node.js")
	rt, err := e.runtimes.Setup(ctx, versionFilePath(tree.Root, s.VersionFile))
	end()
	if err != nil {
		return stepError(StepRuntimeProvision, err)
	}
	result.Runtime = rt
	result.NodeVersion = rt.Version.String()
	log.WithFields(logrus.Fields{"node": result.NodeVersion, "source": rt.Source}).Info("runtime provisioned")

	var store planner.CacheStore
	opened, err := e.openCache(ctx, s.Cache)
	switch {
	case errors.Is(err, ErrValidation):
		return stepError(StepCacheRestore, err)
	case err != nil:
		log.WithError(err).Warn("cache unavailable, installing without it")
		result.Warnings = append(result.Warnings, err.Error())
		store = unavailableCache{}
	default:
		store = opened
	}

	pm := npm.New(e.runner,
		npm.WithBinary(npmBinary(s, rt)),
		npm.WithEnv(rt.Env),
		npm.WithOutput(e.stdout, e.stderr),
	)
	p := planner.New(store, pm, planner.Options{
		Platform: s.Platform,
		Patterns: s.LockfilePatterns,
		Hasher:   e.hasher,
		Logger:   log,
	})

	end = e.reporter.Group("Install dependencies")
	res, err := p.Plan(ctx, planConfig(s), tree.FS)
	end()
	if res != nil {
		fillFromPlan(result, res)
	}
	if err != nil {
		return stepError(planStep(err), err)
	}
	return nil
}

// dryRun computes the plan over the working directory as it is.
func (e *Engine) dryRun(ctx context.Context, s *config.Settings) (*RunResult, error) {
	start := e.clock.Now()
	result := &RunResult{RunID: logging.NewRunID(), DryRun: true}

	tree, err := e.checkout.Checkout(ctx, false, gitx.CheckoutOptions{Dir: s.WorkingDirectory})
	if err != nil {
		return nil, stepError(StepCheckout, err)
	}
	result.Tree = tree

	p := planner.New(nil, nil, planner.Options{
		Platform: s.Platform,
		Patterns: s.LockfilePatterns,
		Hasher:   e.hasher,
	})
	plan, err := p.Prepare(planConfig(s), tree.FS)
	if err != nil {
		return nil, stepError(StepLockfileDigest, err)
	}

	pm := npm.New(e.runner, npm.WithBinary(s.NpmPath))
	result.Plan = plan
	result.Key = plan.Key.String()
	result.Mode = plan.Mode()
	result.Lockfiles = plan.Lockfiles
	for _, step := range plan.Steps {
		result.Commands = append(result.Commands, pm.Command(step.Mode, step.ScriptsEnabled))
	}
	result.Duration = clock.Since(e.clock, start)
	return result, nil
}

// publish writes step outputs and warning annotations.
func (e *Engine) publish(result *RunResult, runErr error) {
	for _, w := range result.Warnings {
		e.reporter.Warning(w)
	}
	if runErr != nil {
		e.reporter.Error(runErr.Error())
	}
	if result.Key == "" {
		return
	}
	err := e.reporter.SetOutputs([][2]string{
		{ghaction.OutputCacheHit, strconv.FormatBool(result.CacheHit)},
		{ghaction.OutputCacheKey, result.Key},
		{ghaction.OutputOutcome, string(result.Outcome)},
	})
	if err != nil {
		e.log.WithError(err).Warn("failed to write step outputs")
	}
}

func fillFromPlan(result *RunResult, res *planner.Result) {
	result.Plan = res.Plan
	if res.Plan != nil {
		result.Key = res.Plan.Key.String()
		result.Mode = res.Plan.Mode()
		result.Lockfiles = res.Plan.Lockfiles
	}
	result.Outcome = res.Outcome
	result.CacheHit = res.CacheHit()
	result.Saved = res.Saved
	result.ExitCode = res.ExitCode
	for _, w := range res.Warnings {
		result.Warnings = append(result.Warnings, w.Error())
	}
}

// planStep attributes a planner error. Install failures and timeouts belong
// to the install step; everything before the install is lockfile work.
func planStep(err error) Step {
	if errors.Is(err, planner.ErrInstallFailed) || errors.Is(err, planner.ErrTimeout) {
		return StepInstall
	}
	return StepLockfileDigest
}

func planConfig(s *config.Settings) planner.Config {
	return planner.Config{Checkout: s.Checkout, Production: s.Production}
}

// npmBinary prefers an explicit npm path, then the npm shipped with the
// provisioned runtime.
func npmBinary(s *config.Settings, rt *nodeenv.Runtime) string {
	if s.NpmPath != "" && s.NpmPath != npm.DefaultBinary {
		return s.NpmPath
	}
	return rt.Binary(npm.DefaultBinary)
}

func versionFilePath(root, versionFile string) string {
	if filepath.IsAbs(versionFile) {
		return versionFile
	}
	return filepath.Join(root, versionFile)
}
