package engine

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/danieljhkim/nodeprep/internal/cache"
	"github.com/danieljhkim/nodeprep/internal/npm"
	"github.com/danieljhkim/nodeprep/internal/planner"
)

// Preview computes the install plan for the working directory and reports
// whether its partition is already cached. Nothing is restored or installed.
func (e *Engine) Preview(ctx context.Context, req *PreviewRequest) (*PreviewResult, error) {
	if req == nil || req.Settings == nil {
		return nil, fmt.Errorf("%w: settings are required", ErrValidation)
	}
	s := req.Settings

	p := planner.New(nil, nil, planner.Options{
		Platform: s.Platform,
		Patterns: s.LockfilePatterns,
		Hasher:   e.hasher,
	})
	plan, err := p.Prepare(planConfig(s), osfs.New(s.WorkingDirectory))
	if err != nil {
		return nil, stepError(StepLockfileDigest, err)
	}

	pm := npm.New(e.runner, npm.WithBinary(s.NpmPath))
	result := &PreviewResult{
		Key:            plan.Key.String(),
		Platform:       plan.Key.Platform,
		Mode:           plan.Mode(),
		Digest:         plan.Key.Digest,
		Lockfiles:      plan.Lockfiles,
		DependencyDirs: plan.DependencyDirs,
	}
	for _, step := range plan.Steps {
		result.Commands = append(result.Commands, Command{
			Dir:  step.Dir,
			Args: pm.Command(step.Mode, step.ScriptsEnabled),
		})
	}

	// The cache lookup is informational; an unreachable backend still
	// yields a plan.
	store, err := e.openCache(ctx, s.Cache)
	if err != nil {
		e.log.WithError(err).Warn("cache unavailable, skipping lookup")
		return result, nil
	}
	cached, err := store.Exists(ctx, result.Key)
	if err != nil {
		e.log.WithError(err).Warn("cache lookup failed")
		return result, nil
	}
	result.Cached = cached
	return result, nil
}

// ListCache returns every stored partition, sorted by key.
func (e *Engine) ListCache(ctx context.Context, req *CacheRequest) ([]CacheEntry, error) {
	store, err := e.openCache(ctx, req.Cache)
	if err != nil {
		return nil, err
	}
	entries, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache: %w", err)
	}
	return withAges(store, entries), nil
}

// DeleteCache removes the partition stored under key.
func (e *Engine) DeleteCache(ctx context.Context, req *CacheRequest, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	store, err := e.openCache(ctx, req.Cache)
	if err != nil {
		return err
	}
	exists, err := store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", key, err)
	}
	if !exists {
		return fmt.Errorf("%w: cache entry %s", ErrNotFound, key)
	}
	if err := store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	e.log.WithField("key", key).Info("cache entry deleted")
	return nil
}

// PruneCache removes partitions older than req.OlderThan.
func (e *Engine) PruneCache(ctx context.Context, req *PruneCacheRequest) (*PruneCacheResult, error) {
	if req.OlderThan <= 0 {
		return nil, fmt.Errorf("%w: --older-than must be positive", ErrValidation)
	}
	store, err := e.openCache(ctx, req.Cache)
	if err != nil {
		return nil, err
	}
	pruned, err := store.Prune(ctx, req.OlderThan, req.DryRun)
	result := &PruneCacheResult{Removed: withAges(store, pruned), DryRun: req.DryRun}
	for _, entry := range pruned {
		result.FreedBytes += entry.SizeBytes
	}
	if err != nil {
		return result, err
	}
	e.log.WithField("removed", len(pruned)).WithField("dry_run", req.DryRun).Info("cache pruned")
	return result, nil
}

func withAges(store *cache.Cache, entries []cache.Entry) []CacheEntry {
	out := make([]CacheEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, CacheEntry{Entry: entry, Age: store.Age(entry)})
	}
	return out
}
