package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// LocalBackend keeps published files on the server's own disk. Put is a
// passthrough: the merged staging file already sits at its final path.
type LocalBackend struct {
	root string
}

// NewLocalBackend initializes a local backend rooted at the given directory.
func NewLocalBackend(root string) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local storage root: %w", err)
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) Kind() Kind {
	return KindLocal
}

// AvailableSpace queries the filesystem holding the storage root.
func (b *LocalBackend) AvailableSpace(ctx context.Context) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(b.root, &st); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

func (b *LocalBackend) Put(ctx context.Context, localPath, fileName, mimeType string) (*Location, error) {
	if _, err := os.Stat(localPath); err != nil {
		return nil, fmt.Errorf("merged file not found: %w", err)
	}
	return &Location{Kind: KindLocal, LocalPath: localPath}, nil
}

func (b *LocalBackend) Delete(ctx context.Context, loc *Location) error {
	err := os.Remove(loc.LocalPath)
	if os.IsNotExist(err) {
		log.Printf("Local file %s already absent, treating delete as success", loc.LocalPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete local file: %w", err)
	}
	return nil
}

func (b *LocalBackend) Get(ctx context.Context, loc *Location) (io.ReadCloser, error) {
	f, err := os.Open(loc.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local file: %w", err)
	}
	return f, nil
}

// SignedURL is unsupported for local storage; content is served by proxying.
func (b *LocalBackend) SignedURL(ctx context.Context, loc *Location, ttl time.Duration) (string, error) {
	return "", ErrNoSignedURL
}
