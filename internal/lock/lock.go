// Package lock provides named advisory locks with bounded acquisition waits.
// The contract is backing-agnostic: production uses MySQL GET_LOCK for
// cross-process exclusion, single-instance deployments and tests use the
// in-process manager.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired indicates the lock was not obtained within the wait bound.
// Callers treat this as retryable, not fatal.
var ErrNotAcquired = errors.New("lock: not acquired within timeout")

// Handle represents a held lock. Release must be called exactly once, in a
// scope that runs even when the protected operation fails.
type Handle interface {
	Release(ctx context.Context) error
}

// Manager hands out named locks.
type Manager interface {
	// Acquire blocks up to wait for the named lock and returns a Handle,
	// or ErrNotAcquired.
	Acquire(ctx context.Context, name string, wait time.Duration) (Handle, error)
}
