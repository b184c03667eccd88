// Package config manages nodeprep configuration and filesystem paths.
//
// Settings come from CLI flags, GitHub Actions inputs (INPUT_*), NODEPREP_*
// environment variables and an optional .nodeprep.yaml, in that priority.
// Paths locate nodeprep's own data: the local cache and log directories,
// under the user cache directory unless NODEPREP_HOME says otherwise.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths contains all the filesystem paths used by nodeprep.
type Paths struct {
	// Root is the base directory for all nodeprep data (default: <user cache dir>/nodeprep)
	Root string

	// Cache is the default directory of the local cache backend
	Cache string

	// Logs is where log files go when log.file is relative
	Logs string
}

// DefaultPaths returns the default paths for nodeprep.
// Paths can be overridden with environment variables:
// - NODEPREP_HOME: Override the root directory
func DefaultPaths() (*Paths, error) {
	root := os.Getenv("NODEPREP_HOME")
	if root == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user cache directory: %w", err)
		}
		root = filepath.Join(base, "nodeprep")
	}

	return &Paths{
		Root:  root,
		Cache: filepath.Join(root, "cache"),
		Logs:  filepath.Join(root, "logs"),
	}, nil
}

// EnsureDirectories creates all necessary directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.Root,
		p.Cache,
		p.Logs,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// LogFile resolves a configured log file name against Logs. Absolute names
// are returned unchanged; an empty name stays empty.
func (p *Paths) LogFile(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.Logs, name)
}
