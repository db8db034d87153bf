package chunkstore

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndMergeInOrder(t *testing.T) {
	store := New(t.TempDir())

	for i, part := range []string{"aaa", "bbb", "ccc"} {
		written, err := store.WriteChunk("u1", "sess", i, strings.NewReader(part))
		require.NoError(t, err)
		assert.True(t, written)
	}

	dst := filepath.Join(t.TempDir(), "merged")
	n, err := store.MergeAll("u1", "sess", 3, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "aaabbbccc", string(content))
}

func TestMergeOutOfOrderArrival(t *testing.T) {
	store := New(t.TempDir())

	// Chunks arrive 1, 0, 2; merge must still reassemble by index.
	for _, c := range []struct {
		index int
		data  string
	}{{1, "bbb"}, {0, "aaa"}, {2, "ccc"}} {
		_, err := store.WriteChunk("u1", "sess", c.index, strings.NewReader(c.data))
		require.NoError(t, err)
	}

	dst := filepath.Join(t.TempDir(), "merged")
	_, err := store.MergeAll("u1", "sess", 3, dst)
	require.NoError(t, err)

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "aaabbbccc", string(content))
}

func TestWriteChunkIsIdempotent(t *testing.T) {
	store := New(t.TempDir())

	written, err := store.WriteChunk("u1", "sess", 0, strings.NewReader("original"))
	require.NoError(t, err)
	assert.True(t, written)

	written, err = store.WriteChunk("u1", "sess", 0, strings.NewReader("retry"))
	require.NoError(t, err)
	assert.False(t, written)

	dst := filepath.Join(t.TempDir(), "merged")
	_, err = store.MergeAll("u1", "sess", 1, dst)
	require.NoError(t, err)

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
}

func TestMergeFailsOnMissingChunk(t *testing.T) {
	store := New(t.TempDir())

	_, err := store.WriteChunk("u1", "sess", 0, strings.NewReader("aaa"))
	require.NoError(t, err)
	_, err = store.WriteChunk("u1", "sess", 2, strings.NewReader("ccc"))
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "merged")
	_, err = store.MergeAll("u1", "sess", 3, dst)

	var missing *MissingChunkError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Index)

	// The partial output must not survive a failed merge.
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReceivedIndices(t *testing.T) {
	store := New(t.TempDir())

	indices, err := store.ReceivedIndices("u1", "sess")
	require.NoError(t, err)
	assert.Empty(t, indices)

	for _, i := range []int{2, 0} {
		_, err := store.WriteChunk("u1", "sess", i, bytes.NewReader([]byte{byte(i)}))
		require.NoError(t, err)
	}

	indices, err = store.ReceivedIndices("u1", "sess")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, indices)
}

func TestCleanupIsIdempotent(t *testing.T) {
	store := New(t.TempDir())

	_, err := store.WriteChunk("u1", "sess", 0, strings.NewReader("aaa"))
	require.NoError(t, err)

	store.Cleanup("u1", "sess")
	store.Cleanup("u1", "sess")

	indices, err := store.ReceivedIndices("u1", "sess")
	require.NoError(t, err)
	assert.Empty(t, indices)
}
