// Package blob stores uploaded dataset contents. The rest of the system only
// ever sees opaque locations recorded on dataset handles; agents receive the
// handle metadata, never the bytes.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a location resolves to no stored blob.
var ErrNotFound = errors.New("blob not found")

// ErrTooLarge is returned by Put when the payload exceeds the store's limit.
var ErrTooLarge = errors.New("blob exceeds size limit")

// PutResult describes a stored blob.
type PutResult struct {
	// Location is the opaque address recorded on the dataset handle.
	Location string
	// ByteSize is the stored payload size.
	ByteSize int64
	// Digest is the hex SHA-256 of the payload.
	Digest string
}

// Store is the blob storage port. Contents are content-addressed within a
// session partition, so storing the same bytes twice yields the same
// location.
type Store interface {
	// Put streams a payload into the store and returns its location.
	Put(ctx context.Context, sessionID string, r io.Reader) (*PutResult, error)

	// Open returns a reader over the blob at location.
	Open(ctx context.Context, location string) (io.ReadCloser, error)

	// Delete removes the blob at location. Deleting an absent blob is a
	// no-op.
	Delete(ctx context.Context, location string) error

	// Purge removes every blob stored under a session.
	Purge(ctx context.Context, sessionID string) error
}
