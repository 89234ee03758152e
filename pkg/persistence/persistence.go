// Package persistence defines the keyed document store port: uniform
// put/get/list/patch/delete over versioned JSON documents partitioned per
// session (or team). Two implementations share these semantics: the
// ent/PostgreSQL store (entstore) and the in-memory store in this package.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CurrentSchemaVersion is the document schema this build reads and writes.
// Reads reject documents with any other version.
const CurrentSchemaVersion = 1

// DefaultConflictRetries bounds optimistic patch retries before ErrConflict
// surfaces.
const DefaultConflictRetries = 5

// Kind names a logical store. One kind per entity type.
type Kind string

const (
	KindSessions Kind = "sessions"
	KindTeams    Kind = "teams"
	KindPlans    Kind = "plans"
	KindMessages Kind = "messages"
	KindDatasets Kind = "datasets"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSessions, KindTeams, KindPlans, KindMessages, KindDatasets:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when no document matches (kind, partition, id).
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned by Put when the key is taken.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrConflict is returned when a patch exhausts its optimistic retries.
	ErrConflict = errors.New("document revision conflict")

	// ErrTransient marks recoverable I/O failures; callers may retry.
	ErrTransient = errors.New("transient persistence failure")

	// ErrFatal marks schema or identity violations; retrying cannot help.
	ErrFatal = errors.New("fatal persistence failure")
)

// Document is the stored envelope around one JSON-encoded entity.
type Document struct {
	Kind          Kind
	ID            string
	PartitionKey  string
	SchemaVersion int
	Rev           int64
	Status        string
	Body          []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ValidateKey rejects structurally invalid keys before they reach a backend.
func ValidateKey(kind Kind, id, partition string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrFatal, kind)
	}
	if id == "" {
		return fmt.Errorf("%w: empty document id", ErrFatal)
	}
	if partition == "" {
		return fmt.Errorf("%w: empty partition key", ErrFatal)
	}
	return nil
}

// CheckSchemaVersion rejects documents written by an unknown schema.
func CheckSchemaVersion(doc Document) error {
	if doc.SchemaVersion != CurrentSchemaVersion {
		return fmt.Errorf("%w: document %s/%s has schema_version %d, this build reads %d",
			ErrFatal, doc.Kind, doc.ID, doc.SchemaVersion, CurrentSchemaVersion)
	}
	return nil
}

// PatchFunc transforms a document body. It must be pure: the store re-reads
// and re-applies it on revision conflicts. Returning the body unchanged
// (and the same status) makes the patch a no-op that does not bump Rev.
type PatchFunc func(doc Document) (Document, error)

// ListOptions narrows List results. Zero value means "everything in the
// partition, created_at ascending".
type ListOptions struct {
	// Statuses filters on the promoted status column when non-empty.
	Statuses []string
	// Limit caps the result count; 0 means unlimited.
	Limit int
	// Offset skips leading results.
	Offset int
	// Descending flips the created_at ordering (newest first).
	Descending bool
}

// Store is the persistence port. Point reads are linearizable within a
// partition; list queries may lag. Patch applies optimistic concurrency
// with bounded retries.
type Store interface {
	// Put inserts a new document. The key must be free.
	Put(ctx context.Context, doc Document) (Document, error)

	// Get returns the document at (kind, partition, id).
	Get(ctx context.Context, kind Kind, id, partition string) (Document, error)

	// List returns the partition's documents of one kind.
	List(ctx context.Context, kind Kind, partition string, opts ListOptions) ([]Document, error)

	// ListAll returns documents of one kind across every partition. Reserved
	// for startup resumption scans; request paths stay partition-scoped.
	ListAll(ctx context.Context, kind Kind, opts ListOptions) ([]Document, error)

	// Patch re-reads, applies fn, and writes back, retrying on revision
	// conflicts up to the configured bound.
	Patch(ctx context.Context, kind Kind, id, partition string, fn PatchFunc) (Document, error)

	// Delete removes the document at (kind, partition, id).
	Delete(ctx context.Context, kind Kind, id, partition string) error

	// Close releases backend resources.
	Close() error
}
