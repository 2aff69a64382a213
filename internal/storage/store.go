// Package storage defines persistence interfaces for the planner and an
// in-memory implementation used for development and tests. SQL-backed
// implementations live in the sqlite and postgres subpackages.
package storage

import (
	"context"
	"sync"
	"time"
)

// Store aggregates every persistence concern of the planner.
type Store interface {
	ConversationStore
	JobStore
	CreditStore
	ItineraryStore

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
	// Close releases resources held by the store.
	Close() error
}

// MemoryStore is an in-memory Store for quick start and tests.
// All maps share one mutex.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	conversations map[string]*memConversation // keyed by ConversationKey.String()
	msgSeq        int64

	jobs     map[string]*memJob
	jobOrder int64

	credits map[string]creditRow

	trips            map[string]tripRow
	stops            map[string][]stopRow // keyed by trip ID
	days             map[string][]dayRow
	activities       map[string][]activityRow
	budgetCategories map[string][]budgetRow
	packingItems     map[string][]packingRow
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:              func() time.Time { return time.Now().UTC() },
		conversations:    make(map[string]*memConversation),
		jobs:             make(map[string]*memJob),
		credits:          make(map[string]creditRow),
		trips:            make(map[string]tripRow),
		stops:            make(map[string][]stopRow),
		days:             make(map[string][]dayRow),
		activities:       make(map[string][]activityRow),
		budgetCategories: make(map[string][]budgetRow),
		packingItems:     make(map[string][]packingRow),
	}
}

// SetClock overrides the time source. Tests use it to age jobs.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
