// Package hash provides file hashing functionality for lockfile fingerprinting.
//
// nodeprep uses SHA-256 hashes of lockfile contents to derive the digest part of
// a dependency cache key. Identical bytes always produce the same digest, on any
// machine, so two runs over the same lockfiles resolve to the same cache
// partition. The package provides both a real implementation using
// crypto/sha256 and a fake implementation for testing.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/go-git/go-billy/v5"
)

// ErrNoFiles is returned by Digest when there is nothing to hash.
var ErrNoFiles = errors.New("no files to digest")

// Hasher provides an abstraction for file hashing operations.
type Hasher interface {
	// HashFile computes the hash of the file at the given path inside fsys.
	HashFile(fsys billy.Filesystem, path string) (string, error)
}

// SHA256Hasher implements Hasher using SHA-256.
type SHA256Hasher struct{}

// NewSHA256Hasher creates a new SHA256Hasher.
func NewSHA256Hasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

// HashFile computes the SHA-256 hash of the file at the given path.
func (h *SHA256Hasher) HashFile(fsys billy.Filesystem, path string) (string, error) {
	file, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Digest combines the hashes of every path into a single hex digest.
//
// Paths are sorted before hashing so the result does not depend on discovery
// order. The paths themselves are not part of the digest, only the per-file
// hashes are, so moving a lockfile without changing it keeps the digest.
func Digest(fsys billy.Filesystem, hasher Hasher, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", ErrNoFiles
	}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	combined := sha256.New()
	for _, p := range sorted {
		sum, err := hasher.HashFile(fsys, p)
		if err != nil {
			return "", fmt.Errorf("failed to hash %s: %w", p, err)
		}
		_, _ = io.WriteString(combined, sum)
	}

	return hex.EncodeToString(combined.Sum(nil)), nil
}

// FakeHasher implements Hasher with deterministic hashes for testing.
type FakeHasher struct {
	hashes map[string]string
	errs   map[string]error
}

// NewFakeHasher creates a new FakeHasher.
func NewFakeHasher() *FakeHasher {
	return &FakeHasher{
		hashes: make(map[string]string),
		errs:   make(map[string]error),
	}
}

// SetHash sets the hash for a specific path (for testing).
func (h *FakeHasher) SetHash(path, hash string) {
	h.hashes[path] = hash
}

// SetError makes HashFile fail for a specific path (for testing).
func (h *FakeHasher) SetError(path string, err error) {
	h.errs[path] = err
}

// HashFile returns the predetermined hash for the given path.
func (h *FakeHasher) HashFile(_ billy.Filesystem, path string) (string, error) {
	if err, ok := h.errs[path]; ok {
		return "", err
	}
	if hash, ok := h.hashes[path]; ok {
		return hash, nil
	}
	// Default hash if not set
	return "fakehash", nil
}
