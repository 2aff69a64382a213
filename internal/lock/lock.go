// Package lock serializes turns within one conversation. A conversation is
// identified by its (user, trip, mode) key; while a turn holds the lock a
// second turn on the same key is rejected rather than interleaved.
package lock

import (
	"context"
	"sync"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

// Locker hands out per-key exclusive locks.
type Locker interface {
	// TryLock acquires key without waiting. It returns an error matching
	// domain.ErrTurnInProgress when the key is already held.
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}

// Memory is an in-process Locker for single-instance deployments.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory returns an empty in-process Locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) TryLock(_ context.Context, key string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[key]; busy {
		return nil, domain.ErrTurnInProgress
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, nil
}
