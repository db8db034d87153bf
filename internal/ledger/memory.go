package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unishare/uploadsvc/internal/storage"
)

// MemoryLedger is an in-process ledger for single-instance deployments and
// tests. Expired entries are evicted lazily whenever totals are computed.
type MemoryLedger struct {
	mu           sync.Mutex
	ttl          time.Duration
	reservations map[string]*Reservation
	now          func() time.Time
}

// NewMemoryLedger creates a ledger whose reservations expire after ttl.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		ttl:          ttl,
		reservations: make(map[string]*Reservation),
		now:          time.Now,
	}
}

func (l *MemoryLedger) Reserve(ctx context.Context, backend storage.Kind, token string, bytes, available int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictExpired(now)

	var active int64
	for _, r := range l.reservations {
		if r.Backend == backend && r.Token != token {
			active += r.Bytes
		}
	}

	if available-active < bytes {
		return fmt.Errorf("%w: %d bytes requested, %d available on %s", ErrDenied, bytes, available-active, backend)
	}

	l.reservations[token] = &Reservation{
		Token:     token,
		Backend:   backend,
		Bytes:     bytes,
		ExpiresAt: now.Add(l.ttl),
	}
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reservations, token)
	return nil
}

func (l *MemoryLedger) TotalActive(ctx context.Context, backend storage.Kind) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictExpired(l.now())

	var total int64
	for _, r := range l.reservations {
		if r.Backend == backend {
			total += r.Bytes
		}
	}
	return total, nil
}

// evictExpired must be called with the mutex held.
func (l *MemoryLedger) evictExpired(now time.Time) {
	for token, r := range l.reservations {
		if r.expired(now) {
			delete(l.reservations, token)
		}
	}
}
