package planner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/sirupsen/logrus"

	"github.com/danieljhkim/nodeprep/internal/hash"
	"github.com/danieljhkim/nodeprep/internal/lockfile"
	"github.com/danieljhkim/nodeprep/internal/logging"
)

// CacheStore restores and saves dependency trees by key.
type CacheStore interface {
	// Restore materializes the partition for key under root. It returns
	// false with a nil error when no partition exists, and an error when the
	// partition holds directories other than dirs.
	Restore(ctx context.Context, key, root string, dirs []string) (bool, error)

	// Save archives dirs under root as the partition for key. It returns
	// false when the key already existed and nothing was written.
	Save(ctx context.Context, key, root string, dirs []string) (bool, error)
}

// PackageManager installs dependencies for one lockfile directory.
type PackageManager interface {
	Install(ctx context.Context, dir string, mode Mode, scriptsEnabled bool) (exitCode int, err error)
}

// Options configures an InstallPlanner.
type Options struct {
	// Platform is the OS component of cache keys
	Platform string

	// Patterns select lockfiles; empty means lockfile.DefaultPatterns
	Patterns []string

	Hasher hash.Hasher
	Logger logrus.FieldLogger
}

// InstallPlanner decides between restoring a cached dependency tree and
// running a fresh install.
type InstallPlanner struct {
	cache    CacheStore
	pm       PackageManager
	hasher   hash.Hasher
	platform string
	patterns []string
	log      logrus.FieldLogger
}

// New creates an InstallPlanner.
func New(cache CacheStore, pm PackageManager, opts Options) *InstallPlanner {
	hasher := opts.Hasher
	if hasher == nil {
		hasher = hash.NewSHA256Hasher()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &InstallPlanner{
		cache:    cache,
		pm:       pm,
		hasher:   hasher,
		platform: opts.Platform,
		patterns: opts.Patterns,
		log:      log,
	}
}

// Prepare discovers lockfiles in tree, digests them and builds the install
// plan. It touches neither the cache nor the package manager.
func (p *InstallPlanner) Prepare(cfg Config, tree billy.Filesystem) (*InstallPlan, error) {
	found, err := lockfile.Discover(tree, p.patterns)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrLockfileMissing
	}

	digest, err := hash.Digest(tree, p.hasher, lockfile.Paths(found))
	if err != nil {
		return nil, fmt.Errorf("failed to digest lockfiles: %w", err)
	}

	return BuildInstallPlan(cfg, p.platform, digest, found)
}

// Plan runs the install decision procedure over tree.
//
// Algorithm steps:
//  1. Discover lockfiles; none is fatal (ErrLockfileMissing)
//  2. Digest them and derive the key from platform, mode and digest
//  3. Restore the partition into the plan's dependency directories; a hit
//     ends the run with CacheHit
//  4. On a miss, install in every lockfile directory with scripts disabled
//  5. After a successful install, save the partition (best effort)
//
// Restore and save failures are logged and recorded in Result.Warnings; they
// never fail the run. On install failure the returned Result is non-nil and
// the error matches ErrInstallFailed or ErrTimeout.
func (p *InstallPlanner) Plan(ctx context.Context, cfg Config, tree billy.Filesystem) (*Result, error) {
	plan, err := p.Prepare(cfg, tree)
	if err != nil {
		return nil, err
	}

	key := plan.Key.String()
	root := tree.Root()
	log := p.log.WithFields(logging.PlanFields(key, string(plan.Mode()), len(plan.Lockfiles)))
	result := &Result{Plan: plan}

	hit, err := p.cache.Restore(ctx, key, root, plan.DependencyDirs)
	if err != nil {
		restoreErr := &CacheRestoreError{Key: key, Err: err}
		result.Warnings = append(result.Warnings, restoreErr)
		log.WithError(err).Warn("cache restore failed, treating as miss")
		hit = false
	}
	if hit {
		result.Outcome = CacheHit
		log.WithFields(logging.OutcomeFields(string(CacheHit), true)).Info("dependencies restored from cache")
		return result, nil
	}

	log.Info("cache miss, installing dependencies")
	for _, step := range plan.Steps {
		if ctx.Err() != nil {
			result.Outcome = CacheMissInstallFailed
			return result, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}

		dir := filepath.Join(root, filepath.FromSlash(step.Dir))
		code, err := p.pm.Install(ctx, dir, step.Mode, step.ScriptsEnabled)
		if err == nil && code != 0 {
			err = fmt.Errorf("exit code %d", code)
		}
		if err != nil {
			result.Outcome = CacheMissInstallFailed
			result.ExitCode = code
			log.WithError(err).WithField("dir", step.Dir).Error("install failed")

			if errors.Is(err, ErrTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				if !errors.Is(err, ErrTimeout) {
					err = fmt.Errorf("%w: %v", ErrTimeout, err)
				}
				return result, err
			}
			return result, &InstallError{Dir: step.Dir, ExitCode: code, Err: err}
		}
	}

	result.Outcome = CacheMissInstalled
	saved, err := p.cache.Save(ctx, key, root, plan.DependencyDirs)
	if err != nil {
		saveErr := &CacheSaveError{Key: key, Err: err}
		result.Warnings = append(result.Warnings, saveErr)
		log.WithError(err).Warn("cache save failed")
	}
	result.Saved = saved
	log.WithFields(logging.OutcomeFields(string(CacheMissInstalled), false)).
		WithField("saved", saved).
		Info("dependencies installed")

	return result, nil
}
