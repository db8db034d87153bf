package upload

import "context"

// Store persists upload sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error

	// Get returns the session for a token, or ErrSessionNotFound.
	Get(ctx context.Context, token string) (*Session, error)

	// FindCompletedByFingerprint returns a completed session holding the
	// same content, or ErrSessionNotFound. This is the dedup lookup.
	FindCompletedByFingerprint(ctx context.Context, fingerprint string) (*Session, error)

	Update(ctx context.Context, s *Session) error

	// IncrementChunksReceived atomically bumps the counter and returns the
	// new value. Concurrent chunk submissions must never lose an increment,
	// so the counter advances in the store, not on a read snapshot.
	IncrementChunksReceived(ctx context.Context, token string) (int, error)

	// Delete removes the session record entirely.
	Delete(ctx context.Context, token string) error
}
