package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"
)

// ArchiveExt is appended to every key to form the stored object name.
const ArchiveExt = ".tar.zst"

var (
	// ErrNotFound indicates no entry exists for the key.
	ErrNotFound = errors.New("cache entry not found")

	// ErrInvalidKey indicates a key that cannot be used as an object name.
	ErrInvalidKey = errors.New("invalid cache key")
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// BlobStore persists opaque archives by key.
type BlobStore interface {
	// Open returns a reader for the archive stored under key, or ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores body under key, replacing any previous value atomically.
	Put(ctx context.Context, key string, body io.ReadSeeker) error

	// Stat describes the entry stored under key, or returns ErrNotFound.
	Stat(ctx context.Context, key string) (*Entry, error)

	// List returns every stored entry.
	List(ctx context.Context) ([]Entry, error)

	// Delete removes the entry for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Entry describes a stored partition.
type Entry struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ValidateKey rejects keys that are empty or could escape the store root.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) || len(key) > 512 {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// copyWithContext copies src to dst, stopping early when ctx is canceled.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			w, err := dst.Write(buf[:n])
			written += int64(w)
			if err != nil {
				return written, err
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
