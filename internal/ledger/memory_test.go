package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unishare/uploadsvc/internal/storage"
)

func TestReserveAndRelease(t *testing.T) {
	l := NewMemoryLedger(time.Hour)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, storage.KindObjectStore, "s1", 100, 1000))

	total, err := l.TotalActive(ctx, storage.KindObjectStore)
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	require.NoError(t, l.Release(ctx, "s1"))
	require.NoError(t, l.Release(ctx, "s1")) // idempotent

	total, err = l.TotalActive(ctx, storage.KindObjectStore)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestReserveDeniedWhenOvercommitted(t *testing.T) {
	l := NewMemoryLedger(time.Hour)
	ctx := context.Background()

	// Headroom for exactly one of the two uploads.
	require.NoError(t, l.Reserve(ctx, storage.KindObjectStore, "s1", 80, 100))

	err := l.Reserve(ctx, storage.KindObjectStore, "s2", 80, 100)
	assert.ErrorIs(t, err, ErrDenied)
}

func TestReservationsAreScopedPerBackend(t *testing.T) {
	l := NewMemoryLedger(time.Hour)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, storage.KindObjectStore, "s1", 80, 100))

	// The object-store reservation must not count against Drive.
	require.NoError(t, l.Reserve(ctx, storage.KindExternalDrive, "s2", 80, 100))
}

func TestReserveReplacesExistingReservation(t *testing.T) {
	l := NewMemoryLedger(time.Hour)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, storage.KindLocal, "s1", 600, 1000))
	// Same session re-reserves; the old entry must not count against it.
	require.NoError(t, l.Reserve(ctx, storage.KindLocal, "s1", 700, 1000))

	total, err := l.TotalActive(ctx, storage.KindLocal)
	require.NoError(t, err)
	assert.Equal(t, int64(700), total)
}

func TestExpiredReservationsAreEvicted(t *testing.T) {
	l := NewMemoryLedger(time.Hour)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, storage.KindLocal, "s1", 500, 1000))

	// Jump past the TTL.
	l.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	total, err := l.TotalActive(ctx, storage.KindLocal)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	// The expired entry no longer blocks new reservations.
	require.NoError(t, l.Reserve(ctx, storage.KindLocal, "s2", 1000, 1000))
}
