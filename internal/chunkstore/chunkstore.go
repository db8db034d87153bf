// Package chunkstore stages upload chunks on the local filesystem until a
// session is complete and the chunks can be merged into a single file.
package chunkstore

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// MissingChunkError reports a gap found while merging a session's chunks.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("chunk %d is missing", e.Index)
}

// Store persists chunks keyed by (user, session token, chunk index).
// Writes are idempotent so retried network requests cannot corrupt or
// double-count a chunk.
type Store struct {
	root string
}

// New creates a chunk store rooted at the given staging directory.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) sessionDir(userID, token string) string {
	return filepath.Join(s.root, "chunks", userID, token)
}

func (s *Store) chunkPath(userID, token string, index int) string {
	return filepath.Join(s.sessionDir(userID, token), strconv.Itoa(index))
}

// WriteChunk persists one chunk. If the chunk already exists the write is
// skipped and WriteChunk reports false; re-submission of a stored index is a
// no-op, not an error. The chunk is written to a temporary file and renamed
// into place so a concurrent writer for the same index never observes a
// partial chunk.
func (s *Store) WriteChunk(userID, token string, index int, r io.Reader) (bool, error) {
	path := s.chunkPath(userID, token, index)

	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	dir := s.sessionDir(userID, token)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create chunk directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".%d-*", index))
	if err != nil {
		return false, fmt.Errorf("failed to create chunk file: %w", err)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return false, fmt.Errorf("failed to write chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return false, fmt.Errorf("failed to close chunk %d: %w", index, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return false, fmt.Errorf("failed to store chunk %d: %w", index, err)
	}

	return true, nil
}

// ReceivedIndices enumerates the chunk indices present on disk for a session,
// in ascending order. A session with no staged chunks yields an empty slice.
func (s *Store) ReceivedIndices(userID, token string) ([]int, error) {
	entries, err := os.ReadDir(s.sessionDir(userID, token))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	indices := make([]int, 0, len(entries))
	for _, entry := range entries {
		// Skip in-flight temporary files.
		index, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices, nil
}

// MergeAll concatenates chunks 0..totalChunks-1 in strict ascending order
// into dst and returns the merged byte count. Any gap in the range fails with
// MissingChunkError and removes the partial output.
func (s *Store) MergeAll(userID, token string, totalChunks int, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create merged file: %w", err)
	}

	var written int64
	for i := 0; i < totalChunks; i++ {
		in, err := os.Open(s.chunkPath(userID, token, i))
		if err != nil {
			out.Close()
			os.Remove(dst)
			if os.IsNotExist(err) {
				return 0, &MissingChunkError{Index: i}
			}
			return 0, fmt.Errorf("failed to open chunk %d: %w", i, err)
		}

		n, err := io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			os.Remove(dst)
			return 0, fmt.Errorf("failed to merge chunk %d: %w", i, err)
		}
		written += n
	}

	if err := out.Close(); err != nil {
		os.Remove(dst)
		return 0, fmt.Errorf("failed to finish merged file: %w", err)
	}

	return written, nil
}

// Cleanup deletes all staged chunks for a session. It is idempotent and
// never fails the caller; cleanup runs on failure paths where the original
// error must not be masked.
func (s *Store) Cleanup(userID, token string) {
	dir := s.sessionDir(userID, token)
	if err := os.RemoveAll(dir); err != nil {
		log.Printf("Warning: failed to clean up chunks for session %s: %v", token, err)
	}
}
