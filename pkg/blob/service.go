package blob

import (
	"context"
	"fmt"
	"io"
	"time"
)

// maxCacheableBytes caps which blobs the read cache holds. Larger datasets
// always stream from the store.
const maxCacheableBytes = 1 << 20

// Service fronts a Store with a small read-through cache. Uploads and
// deletes pass straight through; repeated reads of small datasets are served
// from memory.
type Service struct {
	store Store
	cache *Cache
}

// NewService creates a blob service over the given store.
func NewService(store Store, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Service{
		store: store,
		cache: NewCache(cacheTTL),
	}
}

// Save stores an uploaded payload under the session.
func (s *Service) Save(ctx context.Context, sessionID string, r io.Reader) (*PutResult, error) {
	res, err := s.store.Put(ctx, sessionID, r)
	if err != nil {
		return nil, err
	}
	// Content-addressed: any cached bytes for this location are already
	// byte-identical, so no invalidation is needed.
	return res, nil
}

// Open returns a reader over the blob at location. Callers own Close.
func (s *Service) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	return s.store.Open(ctx, location)
}

// ReadAll returns the full blob contents, serving small blobs from the
// cache.
func (s *Service) ReadAll(ctx context.Context, location string) ([]byte, error) {
	if content, ok := s.cache.Get(location); ok {
		return content, nil
	}

	rc, err := s.store.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", location, err)
	}

	if len(content) <= maxCacheableBytes {
		s.cache.Set(location, content)
	}
	return content, nil
}

// Remove deletes the blob at location and drops any cached copy.
func (s *Service) Remove(ctx context.Context, location string) error {
	s.cache.Drop(location)
	return s.store.Delete(ctx, location)
}

// PurgeSession removes all blobs stored under a session. Used by retention
// cleanup after the session's documents are deleted.
func (s *Service) PurgeSession(ctx context.Context, sessionID string) error {
	return s.store.Purge(ctx, sessionID)
}
