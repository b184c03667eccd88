// Package nodeenv provisions the Node.js runtime a working tree asks for.
//
// The requested version comes from a version file (.nvmrc or .node-version)
// holding a version or range such as "v18", "18.17.1" or ">=18 <21". A
// matching install is taken from the runner tool cache when one exists;
// otherwise the node already on PATH must satisfy the request.
package nodeenv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrVersionFileMissing indicates the version file does not exist.
	ErrVersionFileMissing = errors.New("runtime version file missing")

	// ErrVersionFileMalformed indicates the version file has no usable version.
	ErrVersionFileMalformed = errors.New("runtime version file malformed")

	// ErrRuntimeMismatch indicates no available runtime satisfies the request.
	ErrRuntimeMismatch = errors.New("no runtime satisfies the requested version")
)

// Request is a parsed version file.
type Request struct {
	// Raw is the version text as written
	Raw string

	Constraint *semver.Constraints
}

// ReadVersionFile parses the version file at path.
func ReadVersionFile(path string) (*Request, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrVersionFileMissing, path)
		}
		return nil, fmt.Errorf("failed to open version file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	req, err := ParseVersion(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return req, nil
}

// ParseVersion reads the first meaningful line of r. Blank lines and lines
// starting with # are skipped. Aliases such as "lts/*" or "node" are rejected
// because they cannot be resolved offline.
func ParseVersion(r io.Reader) (*Request, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.Index(line, " #"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		return parseConstraint(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVersionFileMalformed, err)
	}
	return nil, fmt.Errorf("%w: file is empty", ErrVersionFileMalformed)
}

func parseConstraint(raw string) (*Request, error) {
	if strings.Contains(raw, "/") || isAlias(raw) {
		return nil, fmt.Errorf("%w: alias %q is not supported", ErrVersionFileMalformed, raw)
	}
	c, err := semver.NewConstraint(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrVersionFileMalformed, raw, err)
	}
	return &Request{Raw: raw, Constraint: c}, nil
}

func isAlias(raw string) bool {
	switch strings.ToLower(raw) {
	case "node", "stable", "latest", "current", "lts", "system", "iojs":
		return true
	}
	return false
}

// Satisfied reports whether version meets the request.
func (r *Request) Satisfied(version *semver.Version) bool {
	return r.Constraint.Check(version)
}

func (r *Request) String() string {
	return r.Raw
}
