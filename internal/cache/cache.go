package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/danieljhkim/nodeprep/internal/clock"
)

// Cache restores and saves dependency trees through a BlobStore.
type Cache struct {
	blobs BlobStore
	clock clock.Clock
}

// New wraps blobs. A nil clock defaults to the system clock.
func New(blobs BlobStore, clk clock.Clock) *Cache {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Cache{blobs: blobs, clock: clk}
}

// Blobs returns the underlying store.
func (c *Cache) Blobs() BlobStore {
	return c.blobs
}

// Restore extracts the archive stored under key into root. It returns false
// with a nil error when the key is absent. A non-nil dirs restricts the
// restore to archives holding those directories; any other layout fails with
// ErrLayoutMismatch and leaves root untouched.
func (c *Cache) Restore(ctx context.Context, key, root string, dirs []string) (bool, error) {
	rc, err := c.blobs.Open(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	defer func() {
		_ = rc.Close()
	}()

	if _, err := ExtractArchive(ctx, rc, root, dirs); err != nil {
		return false, fmt.Errorf("failed to extract %s: %w", key, err)
	}
	return true, nil
}

// Save archives dirs under root and stores them under key. Entries are
// immutable: if key already exists nothing is written and Save returns false.
// Save also returns false when none of dirs exist under root.
func (c *Cache) Save(ctx context.Context, key, root string, dirs []string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	present, err := ExistingDirs(root, dirs)
	if err != nil {
		return false, err
	}
	if len(present) == 0 {
		return false, nil
	}

	exists, err := c.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	tmp, err := os.CreateTemp("", "nodeprep-*"+ArchiveExt)
	if err != nil {
		return false, fmt.Errorf("failed to create temp archive: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := WriteArchive(ctx, tmp, root, present); err != nil {
		return false, err
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return false, fmt.Errorf("failed to rewind temp archive: %w", err)
	}
	if err := c.blobs.Put(ctx, key, tmp); err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether key has a stored entry.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := c.blobs.Stat(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns every entry sorted by key.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	entries, err := c.blobs.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

// Age reports how long ago e was written.
func (c *Cache) Age(e Entry) time.Duration {
	return clock.Age(c.clock, e.ModTime)
}

// Delete removes the entry for key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.blobs.Delete(ctx, key)
}

// Prune removes entries last written more than olderThan ago and returns the
// removed entries. With dryRun set nothing is deleted.
func (c *Cache) Prune(ctx context.Context, olderThan time.Duration, dryRun bool) ([]Entry, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("prune age must be positive, got %s", olderThan)
	}
	entries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}

	var pruned []Entry
	for _, e := range entries {
		if c.Age(e) <= olderThan {
			continue
		}
		if !dryRun {
			if err := c.blobs.Delete(ctx, e.Key); err != nil {
				return pruned, fmt.Errorf("failed to delete %s: %w", e.Key, err)
			}
		}
		pruned = append(pruned, e)
	}
	return pruned, nil
}
