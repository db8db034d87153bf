package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalManager implements named locks with in-process semaphores. Sufficient
// for single-instance deployments; cross-process exclusion needs MySQLManager.
type LocalManager struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

// NewLocalManager creates an in-process lock manager.
func NewLocalManager() *LocalManager {
	return &LocalManager{sems: make(map[string]chan struct{})}
}

func (m *LocalManager) sem(name string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sems[name]
	if !ok {
		s = make(chan struct{}, 1)
		m.sems[name] = s
	}
	return s
}

func (m *LocalManager) Acquire(ctx context.Context, name string, wait time.Duration) (Handle, error) {
	s := m.sem(name)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return &localHandle{sem: s}, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type localHandle struct {
	sem chan struct{}
}

func (h *localHandle) Release(ctx context.Context) error {
	<-h.sem
	return nil
}
