package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAuditLogger_Log(t *testing.T) {
	logger := NewMemoryAuditLogger()
	ctx := context.Background()

	event := &AuditEvent{
		Actor:        "user-1",
		Action:       ActionDebit,
		Operation:    "plan_generation",
		Amount:       5,
		BalanceAfter: 15,
		ResourceType: ResourceConversation,
		ResourceID:   "conv-1",
		Details:      map[string]any{"mode": "create"},
	}
	require.NoError(t, logger.Log(ctx, event))

	events, total, err := logger.List(ctx, ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, 15, events[0].BalanceAfter)

	// Stored copy is independent of the caller's map.
	event.Details["mode"] = "enhance"
	events, _, _ = logger.List(ctx, ListOptions{})
	assert.Equal(t, "create", events[0].Details["mode"])
}

func TestMemoryAuditLogger_Log_NilEvent(t *testing.T) {
	logger := NewMemoryAuditLogger()
	require.NoError(t, logger.Log(context.Background(), nil))
	_, total, _ := logger.List(context.Background(), ListOptions{})
	assert.Zero(t, total)
}

func TestMemoryAuditLogger_ListFilters(t *testing.T) {
	logger := NewMemoryAuditLogger()
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, ev := range []AuditEvent{
		{Actor: "alice", Action: ActionDebit, Operation: "conversation_turn"},
		{Actor: "alice", Action: ActionRefund, Operation: "conversation_turn"},
		{Actor: "bob", Action: ActionDebit, Operation: "plan_generation"},
		{Actor: "alice", Action: ActionDebit, Operation: "plan_generation"},
	} {
		ev.ResourceType = ResourceConversation
		ev.Timestamp = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, logger.Log(ctx, &ev))
	}

	tests := []struct {
		name string
		opts ListOptions
		want int
	}{
		{"all", ListOptions{}, 4},
		{"by actor", ListOptions{Actor: "alice"}, 3},
		{"by action", ListOptions{Action: ActionDebit}, 3},
		{"by operation", ListOptions{Operation: "plan_generation"}, 2},
		{"since", ListOptions{Since: ptr(base.Add(2 * time.Hour))}, 2},
		{"until", ListOptions{Until: ptr(base)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, total, err := logger.List(ctx, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, total)
		})
	}
}

func TestMemoryAuditLogger_NewestFirstAndPagination(t *testing.T) {
	logger := NewMemoryAuditLogger()
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, logger.Log(ctx, &AuditEvent{Actor: "u", Action: ActionDebit, ResourceID: fmt.Sprint(i)}))
	}

	page, total, err := logger.List(ctx, ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "3", page[0].ResourceID)
	assert.Equal(t, "2", page[1].ResourceID)

	page, _, _ = logger.List(ctx, ListOptions{Offset: 10})
	assert.Empty(t, page)
}

func TestMemoryAuditLogger_MaxEvents(t *testing.T) {
	logger := NewMemoryAuditLogger(WithMaxEvents(3))
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, logger.Log(ctx, &AuditEvent{Actor: "u", ResourceID: fmt.Sprint(i)}))
	}
	events, total, _ := logger.List(ctx, ListOptions{})
	assert.Equal(t, 3, total)
	assert.Equal(t, "4", events[0].ResourceID)
}

func TestMemoryAuditLogger_GetByResource(t *testing.T) {
	logger := NewMemoryAuditLogger()
	ctx := context.Background()
	require.NoError(t, logger.Log(ctx, &AuditEvent{ResourceType: ResourceJob, ResourceID: "j1"}))
	require.NoError(t, logger.Log(ctx, &AuditEvent{ResourceType: ResourceJob, ResourceID: "j2"}))
	require.NoError(t, logger.Log(ctx, &AuditEvent{ResourceType: ResourceConversation, ResourceID: "j1"}))

	events, err := logger.GetByResource(ctx, ResourceJob, "j1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMemoryAuditLogger_Concurrent(t *testing.T) {
	logger := NewMemoryAuditLogger()
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = logger.Log(ctx, &AuditEvent{Actor: "u", Action: ActionDebit})
			_, _, _ = logger.List(ctx, ListOptions{})
		}()
	}
	wg.Wait()

	_, total, _ := logger.List(ctx, ListOptions{})
	assert.Equal(t, 50, total)
}

func ptr[T any](v T) *T { return &v }
