package engine

import (
	"context"
	"fmt"

	"github.com/danieljhkim/nodeprep/internal/cache"
	"github.com/danieljhkim/nodeprep/internal/config"
)

// StoreOpener opens the blob store a cache configuration points at.
type StoreOpener func(ctx context.Context, cfg config.CacheConfig) (cache.BlobStore, error)

// OpenStore opens the local or S3 backend.
func OpenStore(ctx context.Context, cfg config.CacheConfig) (cache.BlobStore, error) {
	switch cfg.Backend {
	case config.BackendLocal, "":
		return cache.NewFileStore(cfg.Dir)
	case config.BackendS3:
		return cache.OpenS3Store(ctx, cache.S3Options{
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		})
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", ErrValidation, cfg.Backend)
	}
}

func (e *Engine) openCache(ctx context.Context, cfg config.CacheConfig) (*cache.Cache, error) {
	blobs, err := e.stores(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", cfg.Backend, err)
	}
	return cache.New(blobs, e.clock), nil
}

// unavailableCache stands in for a backend that could not be opened. Every
// restore misses and nothing is saved.
type unavailableCache struct{}

func (unavailableCache) Restore(context.Context, string, string, []string) (bool, error) {
	return false, nil
}

func (unavailableCache) Save(context.Context, string, string, []string) (bool, error) {
	return false, nil
}
