package persistence

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memKey struct {
	kind      Kind
	partition string
	id        string
}

// MemStore is the in-memory Store used for tests and --in-memory
// deployments. It honors partition isolation and the same optimistic patch
// semantics as the PostgreSQL store: writers race on Rev and lose with a
// retry rather than clobbering each other.
type MemStore struct {
	mu      sync.RWMutex
	docs    map[memKey]Document
	retries int
	now     func() time.Time
}

// MemStoreOption configures a MemStore.
type MemStoreOption func(*MemStore)

// WithConflictRetries overrides the patch retry bound.
func WithConflictRetries(n int) MemStoreOption {
	return func(s *MemStore) {
		if n > 0 {
			s.retries = n
		}
	}
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) MemStoreOption {
	return func(s *MemStore) { s.now = now }
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(opts ...MemStoreOption) *MemStore {
	s := &MemStore{
		docs:    make(map[memKey]Document),
		retries: DefaultConflictRetries,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemStore)(nil)

func cloneDoc(d Document) Document {
	out := d
	out.Body = append([]byte(nil), d.Body...)
	return out
}

// Put inserts a new document.
func (s *MemStore) Put(ctx context.Context, doc Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := ValidateKey(doc.Kind, doc.ID, doc.PartitionKey); err != nil {
		return Document{}, err
	}
	if doc.SchemaVersion == 0 {
		doc.SchemaVersion = CurrentSchemaVersion
	}
	if err := CheckSchemaVersion(doc); err != nil {
		return Document{}, err
	}

	key := memKey{doc.Kind, doc.PartitionKey, doc.ID}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[key]; exists {
		return Document{}, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, doc.Kind, doc.ID)
	}
	doc.Rev = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now
	s.docs[key] = cloneDoc(doc)
	return doc, nil
}

// Get returns the document at (kind, partition, id).
func (s *MemStore) Get(ctx context.Context, kind Kind, id, partition string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := ValidateKey(kind, id, partition); err != nil {
		return Document{}, err
	}

	s.mu.RLock()
	doc, ok := s.docs[memKey{kind, partition, id}]
	s.mu.RUnlock()
	if !ok {
		return Document{}, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
	}
	if err := CheckSchemaVersion(doc); err != nil {
		return Document{}, err
	}
	return cloneDoc(doc), nil
}

// List returns the partition's documents of one kind.
func (s *MemStore) List(ctx context.Context, kind Kind, partition string, opts ListOptions) ([]Document, error) {
	if partition == "" {
		return nil, fmt.Errorf("%w: empty partition key", ErrFatal)
	}
	return s.listWhere(ctx, kind, func(d Document) bool { return d.PartitionKey == partition }, opts)
}

// ListAll returns documents of one kind across all partitions.
func (s *MemStore) ListAll(ctx context.Context, kind Kind, opts ListOptions) ([]Document, error) {
	return s.listWhere(ctx, kind, func(Document) bool { return true }, opts)
}

func (s *MemStore) listWhere(ctx context.Context, kind Kind, pred func(Document) bool, opts ListOptions) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrFatal, kind)
	}

	statuses := make(map[string]bool, len(opts.Statuses))
	for _, st := range opts.Statuses {
		statuses[st] = true
	}

	s.mu.RLock()
	out := make([]Document, 0)
	for key, doc := range s.docs {
		if key.kind != kind || !pred(doc) {
			continue
		}
		if len(statuses) > 0 && !statuses[doc.Status] {
			continue
		}
		if err := CheckSchemaVersion(doc); err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		out = append(out, cloneDoc(doc))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if opts.Descending {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []Document{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Patch re-reads and re-applies fn until the revision write wins or the
// retry bound is hit.
func (s *MemStore) Patch(ctx context.Context, kind Kind, id, partition string, fn PatchFunc) (Document, error) {
	if err := ValidateKey(kind, id, partition); err != nil {
		return Document{}, err
	}
	key := memKey{kind, partition, id}

	for attempt := 0; attempt < s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrTransient, err)
		}

		s.mu.RLock()
		current, ok := s.docs[key]
		s.mu.RUnlock()
		if !ok {
			return Document{}, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
		}
		if err := CheckSchemaVersion(current); err != nil {
			return Document{}, err
		}

		updated, err := fn(cloneDoc(current))
		if err != nil {
			return Document{}, err
		}
		if err := CheckSchemaVersion(updated); err != nil {
			return Document{}, err
		}

		// Identity patch: nothing to write, nothing to bump.
		if bytes.Equal(updated.Body, current.Body) && updated.Status == current.Status {
			return cloneDoc(current), nil
		}

		updated.Kind = current.Kind
		updated.ID = current.ID
		updated.PartitionKey = current.PartitionKey
		updated.CreatedAt = current.CreatedAt
		updated.Rev = current.Rev + 1
		updated.UpdatedAt = s.now()

		s.mu.Lock()
		latest, ok := s.docs[key]
		if !ok {
			s.mu.Unlock()
			return Document{}, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
		}
		if latest.Rev != current.Rev {
			// Another writer won; re-read and re-apply.
			s.mu.Unlock()
			continue
		}
		s.docs[key] = cloneDoc(updated)
		s.mu.Unlock()
		return updated, nil
	}
	return Document{}, fmt.Errorf("%w: %s/%s after %d attempts", ErrConflict, kind, id, s.retries)
}

// Delete removes the document at (kind, partition, id).
func (s *MemStore) Delete(ctx context.Context, kind Kind, id, partition string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := ValidateKey(kind, id, partition); err != nil {
		return err
	}
	key := memKey{kind, partition, id}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[key]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
	}
	delete(s.docs, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }
