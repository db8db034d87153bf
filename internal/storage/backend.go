// Package storage abstracts the media a finished upload can be published to.
// There are exactly three backends: local disk, a MinIO object store and
// Google Drive. Adding a backend means adding a new implementation of
// Backend, not a new conditional branch in the coordinator.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("uploadsvc-storage")

// Kind identifies a storage backend.
type Kind string

const (
	KindLocal         Kind = "local"
	KindObjectStore   Kind = "minio"
	KindExternalDrive Kind = "google_drive"
)

// Kinds lists every backend kind.
func Kinds() []Kind {
	return []Kind{KindLocal, KindObjectStore, KindExternalDrive}
}

// ParseKind validates a backend name received from a client.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLocal, KindObjectStore, KindExternalDrive:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown storage type %q", s)
}

// ErrNoSignedURL is returned by backends that cannot mint a byte-serving URL;
// the caller must proxy the content itself.
var ErrNoSignedURL = errors.New("storage: backend does not provide signed URLs")

// Location identifies a stored object. Exactly one of LocalPath, ObjectKey
// and ExternalID is set, matching Kind. URL carries a directly accessible
// URL when the backend produced one at publish time.
type Location struct {
	Kind       Kind
	LocalPath  string
	ObjectKey  string
	ExternalID string
	URL        string
}

// Backend is the common contract over the three storage media.
type Backend interface {
	Kind() Kind

	// AvailableSpace reports the medium's free capacity in bytes.
	AvailableSpace(ctx context.Context) (int64, error)

	// Put publishes the finished file at localPath and returns where it
	// ended up.
	Put(ctx context.Context, localPath, fileName, mimeType string) (*Location, error)

	// Delete removes a published object. Deleting an object that is already
	// absent is treated as success; cleanup paths call this defensively.
	Delete(ctx context.Context, loc *Location) error

	// Get retrieves the full content for server-proxied downloads.
	Get(ctx context.Context, loc *Location) (io.ReadCloser, error)

	// SignedURL returns a time-limited byte-serving URL, or ErrNoSignedURL.
	SignedURL(ctx context.Context, loc *Location, ttl time.Duration) (string, error)
}
