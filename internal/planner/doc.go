// Package planner decides how a working tree gets its dependencies.
//
// The InstallPlanner fingerprints every lockfile in the tree, derives a cache
// key from platform, install mode and that fingerprint, and then either
// restores the cached partition or runs a clean install and saves the result.
// Cache storage and the package manager are consumed through the CacheStore
// and PackageManager interfaces so the decision procedure runs in tests
// against in-memory fakes.
//
// Key responsibilities:
//   - Build an InstallPlan (key, dependency directories, install steps) without I/O
//   - Keep dev and prod partitions apart
//   - Never install after a cache hit, never save after a failed install
//   - Treat cache errors as warnings, install errors as fatal
package planner
