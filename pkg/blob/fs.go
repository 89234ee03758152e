package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore keeps blobs on the local filesystem, content-addressed per
// session: {root}/{session_id}/{digest[:2]}/{digest}. Writes go through a
// temp file and rename so readers never observe partial content.
type FSStore struct {
	root     string
	maxBytes int64 // 0 means unlimited
}

// NewFSStore creates a filesystem store rooted at root. maxBytes caps
// individual blob sizes; 0 disables the cap.
func NewFSStore(root string, maxBytes int64) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", root, err)
	}
	return &FSStore{root: root, maxBytes: maxBytes}, nil
}

// Put streams the payload to a temp file while hashing it, then renames the
// file into its content-addressed slot. Re-uploading identical bytes lands
// on the same location.
func (s *FSStore) Put(ctx context.Context, sessionID string, r io.Reader) (*PutResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.root, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hasher := sha256.New()
	limited := io.Reader(r)
	if s.maxBytes > 0 {
		limited = io.LimitReader(r, s.maxBytes+1)
	}
	size, err := io.Copy(io.MultiWriter(tmp, hasher), limited)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, s.maxBytes)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	path := s.pathFor(sessionID, digest)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	return &PutResult{
		Location: FormatLocation(sessionID, digest),
		ByteSize: size,
		Digest:   digest,
	}, nil
}

// Open returns a reader over the blob at location.
func (s *FSStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessionID, digest, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(s.pathFor(sessionID, digest))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", location, err)
	}
	return f, nil
}

// Delete removes the blob at location. Absent blobs are a no-op so retries
// stay idempotent.
func (s *FSStore) Delete(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sessionID, digest, err := ParseLocation(location)
	if err != nil {
		return err
	}

	err = os.Remove(s.pathFor(sessionID, digest))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", location, err)
	}
	return nil
}

// Purge removes the session's whole blob directory.
func (s *FSStore) Purge(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	if err := os.RemoveAll(filepath.Join(s.root, sessionID)); err != nil {
		return fmt.Errorf("purge session blobs %s: %w", sessionID, err)
	}
	return nil
}

func (s *FSStore) pathFor(sessionID, digest string) string {
	return filepath.Join(s.root, sessionID, digest[:2], digest)
}
