package blob

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := NewFSStore(t.TempDir(), 0)
	require.NoError(t, err)
	return NewService(store, time.Minute)
}

func TestService_SaveAndReadAll(t *testing.T) {
	svc := newTestService(t)

	res, err := svc.Save(context.Background(), "sess-1", strings.NewReader("dataset contents"))
	require.NoError(t, err)

	got, err := svc.ReadAll(context.Background(), res.Location)
	require.NoError(t, err)
	assert.Equal(t, []byte("dataset contents"), got)

	// Second read hits the cache; verify it returns the same bytes after
	// the underlying blob is removed behind the service's back.
	require.NoError(t, svc.store.Delete(context.Background(), res.Location))
	got, err = svc.ReadAll(context.Background(), res.Location)
	require.NoError(t, err)
	assert.Equal(t, []byte("dataset contents"), got)
}

func TestService_Open(t *testing.T) {
	svc := newTestService(t)

	res, err := svc.Save(context.Background(), "sess-1", strings.NewReader("stream me"))
	require.NoError(t, err)

	rc, err := svc.Open(context.Background(), res.Location)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "stream me", string(got))
}

func TestService_RemoveDropsCache(t *testing.T) {
	svc := newTestService(t)

	res, err := svc.Save(context.Background(), "sess-1", strings.NewReader("short lived"))
	require.NoError(t, err)

	_, err = svc.ReadAll(context.Background(), res.Location)
	require.NoError(t, err)

	require.NoError(t, svc.Remove(context.Background(), res.Location))

	_, err = svc.ReadAll(context.Background(), res.Location)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ReadAllMissing(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ReadAll(context.Background(), FormatLocation("sess-1", testDigest))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_PurgeSession(t *testing.T) {
	svc := newTestService(t)

	res, err := svc.Save(context.Background(), "sess-1", strings.NewReader("to purge"))
	require.NoError(t, err)

	require.NoError(t, svc.PurgeSession(context.Background(), "sess-1"))

	_, err = svc.Open(context.Background(), res.Location)
	assert.ErrorIs(t, err, ErrNotFound)
}
