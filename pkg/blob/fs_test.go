package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFSStore(t *testing.T, maxBytes int64) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir(), maxBytes)
	require.NoError(t, err)
	return store
}

func TestFSStore_PutAndOpen(t *testing.T) {
	store := newTestFSStore(t, 0)
	payload := []byte("col_a,col_b\n1,2\n3,4\n")

	res, err := store.Put(context.Background(), "sess-1", bytes.NewReader(payload))
	require.NoError(t, err)

	assert.Equal(t, int64(len(payload)), res.ByteSize)
	wantDigest := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(wantDigest[:]), res.Digest)
	assert.Equal(t, FormatLocation("sess-1", res.Digest), res.Location)

	rc, err := store.Open(context.Background(), res.Location)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFSStore_PutIdenticalContentSameLocation(t *testing.T) {
	store := newTestFSStore(t, 0)
	payload := []byte("same bytes")

	res1, err := store.Put(context.Background(), "sess-1", bytes.NewReader(payload))
	require.NoError(t, err)
	res2, err := store.Put(context.Background(), "sess-1", bytes.NewReader(payload))
	require.NoError(t, err)

	assert.Equal(t, res1.Location, res2.Location)
}

func TestFSStore_PutDifferentSessionsIsolated(t *testing.T) {
	store := newTestFSStore(t, 0)
	payload := []byte("shared bytes")

	res1, err := store.Put(context.Background(), "sess-1", bytes.NewReader(payload))
	require.NoError(t, err)
	res2, err := store.Put(context.Background(), "sess-2", bytes.NewReader(payload))
	require.NoError(t, err)

	assert.NotEqual(t, res1.Location, res2.Location)
	assert.Equal(t, res1.Digest, res2.Digest)
}

func TestFSStore_PutSizeLimit(t *testing.T) {
	store := newTestFSStore(t, 16)

	_, err := store.Put(context.Background(), "sess-1", strings.NewReader(strings.Repeat("x", 17)))
	assert.ErrorIs(t, err, ErrTooLarge)

	// At the limit is fine.
	res, err := store.Put(context.Background(), "sess-1", strings.NewReader(strings.Repeat("x", 16)))
	require.NoError(t, err)
	assert.Equal(t, int64(16), res.ByteSize)
}

func TestFSStore_PutRejectsBadSessionID(t *testing.T) {
	store := newTestFSStore(t, 0)

	_, err := store.Put(context.Background(), "../escape", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = store.Put(context.Background(), "", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestFSStore_PutLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root, 0)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "sess-1", strings.NewReader("payload"))
	require.NoError(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "upload-"),
			"temp file %s left behind", e.Name())
	}
}

func TestFSStore_OpenMissing(t *testing.T) {
	store := newTestFSStore(t, 0)

	_, err := store.Open(context.Background(), FormatLocation("sess-1", testDigest))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_OpenMalformedLocation(t *testing.T) {
	store := newTestFSStore(t, 0)

	_, err := store.Open(context.Background(), "not-a-location")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFSStore_Delete(t *testing.T) {
	store := newTestFSStore(t, 0)

	res, err := store.Put(context.Background(), "sess-1", strings.NewReader("to delete"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), res.Location))

	_, err = store.Open(context.Background(), res.Location)
	assert.ErrorIs(t, err, ErrNotFound)

	// Idempotent.
	assert.NoError(t, store.Delete(context.Background(), res.Location))
}

func TestFSStore_Purge(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root, 0)
	require.NoError(t, err)

	res1, err := store.Put(context.Background(), "sess-1", strings.NewReader("one"))
	require.NoError(t, err)
	res2, err := store.Put(context.Background(), "sess-1", strings.NewReader("two"))
	require.NoError(t, err)
	keep, err := store.Put(context.Background(), "sess-2", strings.NewReader("keep"))
	require.NoError(t, err)

	require.NoError(t, store.Purge(context.Background(), "sess-1"))

	_, err = store.Open(context.Background(), res1.Location)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Open(context.Background(), res2.Location)
	assert.ErrorIs(t, err, ErrNotFound)

	// Other sessions untouched.
	rc, err := store.Open(context.Background(), keep.Location)
	require.NoError(t, err)
	rc.Close()

	// Session directory is gone.
	_, err = os.Stat(filepath.Join(root, "sess-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestFSStore_CancelledContext(t *testing.T) {
	store := newTestFSStore(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, "sess-1", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
