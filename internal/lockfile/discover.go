// Package lockfile discovers npm lockfiles in a working tree.
//
// Discovery is recursive so multi-package layouts (a root lockfile plus one per
// package directory) are fingerprinted as a whole. Dependency directories and
// VCS metadata are never descended into.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5"
)

// DefaultPatterns match the lockfiles npm understands, at any depth.
var DefaultPatterns = []string{
	"**/package-lock.json",
	"**/npm-shrinkwrap.json",
}

// ErrInvalidPattern is returned when a glob pattern is malformed.
var ErrInvalidPattern = errors.New("invalid lockfile pattern")

// skipDirs are never walked.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
}

// Lockfile is a lockfile found in the working tree.
type Lockfile struct {
	// Path is the slash-separated path relative to the tree root
	Path string

	// Dir is the slash-separated directory containing the lockfile ("." for the root)
	Dir string
}

// Discover walks fsys and returns every file matching one of patterns, sorted
// by path. A missing tree or no matches yields an empty slice, not an error.
func Discover(fsys billy.Filesystem, patterns []string) ([]Lockfile, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
	}

	var found []Lockfile
	err := walk(fsys, ".", func(rel string) error {
		for _, p := range patterns {
			ok, err := doublestar.Match(p, rel)
			if err != nil {
				return fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p, err)
			}
			if ok {
				found = append(found, Lockfile{Path: rel, Dir: path.Dir(rel)})
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found, nil
}

// Paths returns the paths of the given lockfiles.
func Paths(lockfiles []Lockfile) []string {
	paths := make([]string, 0, len(lockfiles))
	for _, lf := range lockfiles {
		paths = append(paths, lf.Path)
	}
	return paths
}

// Dirs returns the distinct directories holding the given lockfiles, sorted.
func Dirs(lockfiles []Lockfile) []string {
	seen := make(map[string]bool, len(lockfiles))
	dirs := make([]string, 0, len(lockfiles))
	for _, lf := range lockfiles {
		if seen[lf.Dir] {
			continue
		}
		seen[lf.Dir] = true
		dirs = append(dirs, lf.Dir)
	}
	sort.Strings(dirs)
	return dirs
}

// walk calls fn for every regular file under dir with its slash-separated path.
func walk(fsys billy.Filesystem, dir string, fn func(rel string) error) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		rel := path.Join(dir, entry.Name())
		switch {
		case entry.IsDir():
			if skipDirs[entry.Name()] {
				continue
			}
			if err := walk(fsys, rel, fn); err != nil {
				return err
			}
		case entry.Mode().IsRegular():
			if err := fn(rel); err != nil {
				return err
			}
		}
	}
	return nil
}
