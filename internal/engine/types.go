package engine

import (
	"time"

	"github.com/danieljhkim/nodeprep/internal/cache"
	"github.com/danieljhkim/nodeprep/internal/config"
	"github.com/danieljhkim/nodeprep/internal/gitx"
	"github.com/danieljhkim/nodeprep/internal/nodeenv"
	"github.com/danieljhkim/nodeprep/internal/planner"
)

// RunRequest represents a request to prepare dependencies.
type RunRequest struct {
	// Settings is the resolved configuration
	Settings *config.Settings

	// DryRun plans only: no checkout, restore, install or save
	DryRun bool
}

// RunResult represents the result of a run.
type RunResult struct {
	// RunID correlates the log lines of this run
	RunID string `json:"run_id"`

	// Tree is the working tree that was planned over
	Tree *gitx.WorkingTree `json:"-"`

	// Runtime is nil for dry runs
	Runtime *nodeenv.Runtime `json:"-"`

	// NodeVersion is the provisioned runtime version
	NodeVersion string `json:"node_version,omitempty"`

	// Head is the checked out commit
	Head string `json:"head,omitempty"`

	// Plan is the computed install plan; nil when planning failed
	Plan *planner.InstallPlan `json:"-"`

	Key       string          `json:"key,omitempty"`
	Mode      planner.Mode    `json:"mode,omitempty"`
	Lockfiles []string        `json:"lockfiles,omitempty"`
	Outcome   planner.Outcome `json:"outcome,omitempty"`
	CacheHit  bool            `json:"cache_hit"`
	Saved     bool            `json:"saved"`
	ExitCode  int             `json:"exit_code"`

	// Commands are the install command lines, filled for dry runs
	Commands [][]string `json:"commands,omitempty"`

	// Warnings are non-fatal errors such as failed cache saves
	Warnings []string `json:"warnings,omitempty"`

	DryRun   bool          `json:"dry_run"`
	Duration time.Duration `json:"duration"`
}

// PreviewRequest represents a request to compute an install plan.
type PreviewRequest struct {
	Settings *config.Settings
}

// PreviewResult describes what a run would do.
type PreviewResult struct {
	Key            string       `json:"key"`
	Platform       string       `json:"platform"`
	Mode           planner.Mode `json:"mode"`
	Digest         string       `json:"digest"`
	Lockfiles      []string     `json:"lockfiles"`
	DependencyDirs []string     `json:"dependency_dirs"`
	Commands       []Command    `json:"commands"`

	// Cached reports whether the partition already exists
	Cached bool `json:"cached"`
}

// Command is one install invocation.
type Command struct {
	Dir  string   `json:"dir"`
	Args []string `json:"args"`
}

// CacheRequest selects the cache to maintain.
type CacheRequest struct {
	Cache config.CacheConfig
}

// CacheEntry is a stored partition with its age.
type CacheEntry struct {
	cache.Entry
	Age time.Duration `json:"age"`
}

// PruneCacheRequest represents a request to prune old partitions.
type PruneCacheRequest struct {
	Cache config.CacheConfig

	// OlderThan is the minimum age of removed entries
	OlderThan time.Duration

	// DryRun reports without deleting
	DryRun bool
}

// PruneCacheResult contains the entries that were (or would be) removed.
type PruneCacheResult struct {
	Removed    []CacheEntry `json:"removed"`
	FreedBytes int64        `json:"freed_bytes"`
	DryRun     bool         `json:"dry_run"`
}
