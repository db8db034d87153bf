package upload

import (
	"errors"
	"fmt"

	"github.com/unishare/uploadsvc/internal/storage"
)

var (
	// ErrSessionNotFound indicates an unknown session token.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrInsufficientSpace indicates the reservation was denied; nothing
	// was staged remotely.
	ErrInsufficientSpace = errors.New("insufficient storage space")

	// ErrBackendNotConfigured indicates the requested backend has no
	// credentials or configuration. A deployment error, not retryable.
	ErrBackendNotConfigured = errors.New("storage backend not configured")

	// ErrSessionClosed indicates an operation on a session that already
	// reached a terminal state.
	ErrSessionClosed = errors.New("upload session already finalized")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// BackendUnavailableError wraps a transient backend failure, such as a lock
// acquisition timeout. The session survives in pending and the caller may
// retry by resubmitting the completing chunk.
type BackendUnavailableError struct {
	Backend storage.Kind
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("storage backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller can retry the failed operation
// without starting a fresh session.
func IsRetryable(err error) bool {
	var unavailable *BackendUnavailableError
	return errors.As(err, &unavailable)
}
