package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseReacquire(t *testing.T) {
	m := NewLocalManager()
	ctx := context.Background()

	h, err := m.Acquire(ctx, "space-check", time.Second)
	require.NoError(t, err)
	require.NoError(t, h.Release(ctx))

	h, err = m.Acquire(ctx, "space-check", time.Second)
	require.NoError(t, err)
	require.NoError(t, h.Release(ctx))
}

func TestSecondAcquireTimesOut(t *testing.T) {
	m := NewLocalManager()
	ctx := context.Background()

	h, err := m.Acquire(ctx, "space-check", time.Second)
	require.NoError(t, err)
	defer h.Release(ctx)

	_, err = m.Acquire(ctx, "space-check", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestDifferentNamesDoNotContend(t *testing.T) {
	m := NewLocalManager()
	ctx := context.Background()

	h1, err := m.Acquire(ctx, "minio-space-check", time.Second)
	require.NoError(t, err)
	defer h1.Release(ctx)

	h2, err := m.Acquire(ctx, "google_drive-space-check", 20*time.Millisecond)
	require.NoError(t, err)
	defer h2.Release(ctx)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	m := NewLocalManager()

	h, err := m.Acquire(context.Background(), "busy", time.Second)
	require.NoError(t, err)
	defer h.Release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = m.Acquire(ctx, "busy", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaiterGetsLockAfterRelease(t *testing.T) {
	m := NewLocalManager()
	ctx := context.Background()

	h, err := m.Acquire(ctx, "handoff", time.Second)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		h2, err := m.Acquire(ctx, "handoff", 5*time.Second)
		if err == nil {
			h2.Release(ctx)
			close(acquired)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, h.Release(ctx))

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}
