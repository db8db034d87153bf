package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendPutIsPassthrough(t *testing.T) {
	root := t.TempDir()
	backend, err := NewLocalBackend(root)
	require.NoError(t, err)

	path := filepath.Join(root, "merged.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	loc, err := backend.Put(context.Background(), path, "merged.bin", "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, KindLocal, loc.Kind)
	assert.Equal(t, path, loc.LocalPath)
	assert.Empty(t, loc.ObjectKey)
	assert.Empty(t, loc.ExternalID)

	rc, err := backend.Get(context.Background(), loc)
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

func TestLocalBackendPutMissingFile(t *testing.T) {
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	_, err = backend.Put(context.Background(), filepath.Join(t.TempDir(), "nope"), "nope", "")
	assert.Error(t, err)
}

func TestLocalBackendDeleteAbsentIsSuccess(t *testing.T) {
	root := t.TempDir()
	backend, err := NewLocalBackend(root)
	require.NoError(t, err)

	loc := &Location{Kind: KindLocal, LocalPath: filepath.Join(root, "gone")}
	assert.NoError(t, backend.Delete(context.Background(), loc))
}

func TestLocalBackendAvailableSpace(t *testing.T) {
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	free, err := backend.AvailableSpace(context.Background())
	require.NoError(t, err)
	assert.Greater(t, free, int64(0))
}

func TestLocalBackendHasNoSignedURL(t *testing.T) {
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	_, err = backend.SignedURL(context.Background(), &Location{Kind: KindLocal}, time.Hour)
	assert.ErrorIs(t, err, ErrNoSignedURL)
}

func TestParseKind(t *testing.T) {
	for _, valid := range []string{"local", "minio", "google_drive"} {
		kind, err := ParseKind(valid)
		require.NoError(t, err)
		assert.Equal(t, Kind(valid), kind)
	}

	_, err := ParseKind("dropbox")
	assert.Error(t, err)
}
