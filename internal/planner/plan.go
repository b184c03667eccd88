package planner

import (
	"fmt"
	"path"
	"strings"

	"github.com/danieljhkim/nodeprep/internal/lockfile"
)

// Mode selects which dependency groups an install covers.
type Mode string

// Install modes
const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// ModeFor maps the production input to an install mode.
func ModeFor(production bool) Mode {
	if production {
		return ModeProd
	}
	return ModeDev
}

// Config holds the two recognised inputs. It is not modified once loaded.
type Config struct {
	// Checkout controls whether the source is checked out before planning
	Checkout bool

	// Production restricts installs to production dependencies
	Production bool
}

// DefaultConfig returns the input defaults.
func DefaultConfig() Config {
	return Config{Checkout: true, Production: false}
}

// Key identifies a cache partition.
type Key struct {
	Platform string
	Mode     Mode
	Digest   string
}

// String renders the key as <platform>-<mode>-<digest>.
func (k Key) String() string {
	return fmt.Sprintf("%s-%s-%s", k.Platform, k.Mode, k.Digest)
}

// Outcome is the result of one planning run.
type Outcome string

// Outcome constants
const (
	CacheHit               Outcome = "cache-hit"
	CacheMissInstalled     Outcome = "cache-miss-installed"
	CacheMissInstallFailed Outcome = "cache-miss-install-failed"
)

// InstallStep is one package manager invocation.
type InstallStep struct {
	// Dir is the slash-separated directory of the lockfile, relative to the tree root
	Dir string

	// Mode selects dev or prod dependencies
	Mode Mode

	// ScriptsEnabled allows lifecycle scripts to run during install
	ScriptsEnabled bool
}

// InstallPlan describes what a run will do before any I/O happens.
type InstallPlan struct {
	// Key is the cache partition for this tree
	Key Key

	// Lockfiles are the slash-separated lockfile paths, sorted
	Lockfiles []string

	// DependencyDirs are the node_modules directories captured in the partition
	DependencyDirs []string

	// Steps are the installs to run on a cache miss, in order
	Steps []InstallStep
}

// Mode returns the plan's install mode.
func (p *InstallPlan) Mode() Mode {
	return p.Key.Mode
}

// Result is the outcome of InstallPlanner.Plan.
type Result struct {
	Plan    *InstallPlan
	Outcome Outcome

	// Saved reports whether a new partition was written
	Saved bool

	// ExitCode is the failing install's exit code; zero otherwise
	ExitCode int

	// Warnings collects non-fatal cache errors
	Warnings []error
}

// CacheHit reports whether dependencies were restored from cache.
func (r *Result) CacheHit() bool {
	return r.Outcome == CacheHit
}

// BuildInstallPlan derives the cache key, dependency directories and install
// steps for a set of lockfiles. It performs no I/O.
func BuildInstallPlan(cfg Config, platform, digest string, lockfiles []lockfile.Lockfile) (*InstallPlan, error) {
	if len(lockfiles) == 0 {
		return nil, ErrLockfileMissing
	}
	platform = NormalizePlatform(platform)
	if platform == "" {
		return nil, fmt.Errorf("platform cannot be empty")
	}
	if digest == "" {
		return nil, fmt.Errorf("digest cannot be empty")
	}

	mode := ModeFor(cfg.Production)
	plan := &InstallPlan{
		Key:       Key{Platform: platform, Mode: mode, Digest: digest},
		Lockfiles: lockfile.Paths(lockfiles),
	}
	for _, dir := range lockfile.Dirs(lockfiles) {
		plan.DependencyDirs = append(plan.DependencyDirs, path.Join(dir, "node_modules"))
		plan.Steps = append(plan.Steps, InstallStep{Dir: dir, Mode: mode, ScriptsEnabled: false})
	}
	return plan, nil
}

// NormalizePlatform lower-cases a platform name and replaces characters that
// cannot appear in a cache key.
func NormalizePlatform(platform string) string {
	platform = strings.ToLower(strings.TrimSpace(platform))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, platform)
}
