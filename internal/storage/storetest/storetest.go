// Package storetest holds a behavioural suite every storage.Store backend
// must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

// Run exercises s. Each subtest uses its own user IDs so a shared backend works.
func Run(t *testing.T, s storage.Store) {
	t.Helper()
	t.Run("Conversations", func(t *testing.T) { testConversations(t, s) })
	t.Run("MessageIDsPerConversation", func(t *testing.T) { testMessageIDsPerConversation(t, s) })
	t.Run("Jobs", func(t *testing.T) { testJobs(t, s) })
	t.Run("ConcurrentJobCreate", func(t *testing.T) { testConcurrentJobCreate(t, s) })
	t.Run("Credits", func(t *testing.T) { testCredits(t, s) })
	t.Run("ConcurrentDebit", func(t *testing.T) { testConcurrentDebit(t, s) })
	t.Run("Itinerary", func(t *testing.T) { testItinerary(t, s) })
}

func uniqueUser(prefix string) string {
	return prefix + "-" + time.Now().Format("150405.000000000")
}

func testConversations(t *testing.T, s storage.Store) {
	ctx := context.Background()
	user := uniqueUser("conv")
	key := domain.ConversationKey{UserID: user, TripID: "trip-1", Mode: domain.ModeEnhance}

	_, err := s.GetConversation(ctx, key)
	require.ErrorIs(t, err, storage.ErrNotFound)

	cost, after := 1, 9
	conv := &domain.Conversation{
		UserID: user, TripID: "trip-1", Mode: domain.ModeEnhance, Phase: domain.PhaseConversing,
		TokenWarning: true, CreditsBalance: 9,
		Context:      domain.TripContext{Destination: "Lisbon", Preferences: map[string]string{"pace": "slow"}},
		LastMetadata: &domain.TurnMetadata{ReadyToPlan: true, SuggestedQuestions: []string{"When?"}},
		Messages: []domain.Message{
			{ID: "7f4b3c9e-0000-4000-8000-000000000001", Role: domain.RoleUser, Content: "Plan Lisbon"},
			{ID: "7f4b3c9e-0000-4000-8000-000000000002", Role: domain.RoleAssistant, Content: "Sure", CreditsCost: &cost, CreditsAfter: &after},
		},
	}
	require.NoError(t, s.SaveConversation(ctx, conv))
	require.NotEmpty(t, conv.ID)

	got, err := s.GetConversation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, domain.PhaseConversing, got.Phase)
	assert.True(t, got.TokenWarning)
	assert.Equal(t, 9, got.CreditsBalance)
	assert.Equal(t, "Lisbon", got.Context.Destination)
	assert.Equal(t, "slow", got.Context.Preferences["pace"])
	require.NotNil(t, got.LastMetadata)
	assert.True(t, got.LastMetadata.ReadyToPlan)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, domain.RoleUser, got.Messages[0].Role)
	assert.Less(t, got.Messages[0].Seq, got.Messages[1].Seq)
	require.NotNil(t, got.Messages[1].CreditsCost)
	assert.Equal(t, 1, *got.Messages[1].CreditsCost)
	assert.Nil(t, got.Messages[0].CreditsCost)

	// Resaving with persisted messages and one new message appends only the new one.
	got.Messages = append(got.Messages, domain.Message{Role: domain.RoleUser, Content: "More"})
	got.Phase = domain.PhasePlanReview
	got.TranscriptStart = 2
	require.NoError(t, s.SaveConversation(ctx, got))

	again, err := s.GetConversation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePlanReview, again.Phase)
	assert.Equal(t, 2, again.TranscriptStart)
	require.Len(t, again.Messages, 3)
	assert.Equal(t, "More", again.Messages[2].Content)

	dup := again.Messages[2]
	dup.Seq = 0
	require.NoError(t, s.AppendMessage(ctx, again.ID, &dup))
	assert.Equal(t, again.Messages[2].Seq, dup.Seq)

	final, err := s.GetConversation(ctx, key)
	require.NoError(t, err)
	assert.Len(t, final.Messages, 3)

	require.NoError(t, s.DeleteConversation(ctx, key))
	_, err = s.GetConversation(ctx, key)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// A client-chosen message ID only deduplicates within its own conversation.
func testMessageIDsPerConversation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const shared = "7f4b3c9e-0000-4000-8000-0000000000aa"
	var convs []*domain.Conversation
	for _, prefix := range []string{"msg-a", "msg-b"} {
		conv := &domain.Conversation{UserID: uniqueUser(prefix), Mode: domain.ModeCreate, Phase: domain.PhaseConversing}
		require.NoError(t, s.SaveConversation(ctx, conv))
		msg := domain.Message{ID: shared, Role: domain.RoleUser, Content: "Hello from " + prefix}
		require.NoError(t, s.AppendMessage(ctx, conv.ID, &msg))
		convs = append(convs, conv)
	}

	for i, conv := range convs {
		got, err := s.GetConversation(ctx, conv.Key())
		require.NoError(t, err)
		require.Len(t, got.Messages, 1, "conversation %d keeps its own message", i)
		assert.Equal(t, shared, got.Messages[0].ID)
		assert.Contains(t, got.Messages[0].Content, []string{"msg-a", "msg-b"}[i])
		require.NoError(t, s.DeleteConversation(ctx, conv.Key()))
	}
}

func testJobs(t *testing.T, s storage.Store) {
	ctx := context.Background()
	user := uniqueUser("jobs")
	job := domain.PlanJob{
		UserID: user, Mode: domain.ModeCreate,
		Snapshot: domain.JobContext{Context: domain.TripContext{Destination: "Oslo"}},
	}

	created, ok, err := s.CreateJob(ctx, job)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusPending, created.Status)
	assert.Equal(t, "Oslo", created.Snapshot.Context.Destination)

	dup, ok, err := s.CreateJob(ctx, job)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, created.ID, dup.ID)

	active, err := s.ActiveJob(ctx, created.Key())
	require.NoError(t, err)
	assert.Equal(t, created.ID, active.ID)

	// Claim until this suite's job comes up; other suites may share the queue.
	var claimed domain.PlanJob
	for i := 0; i < 50; i++ {
		claimed, err = s.ClaimNextJob(ctx)
		require.NoError(t, err)
		if claimed.ID == created.ID {
			break
		}
	}
	require.Equal(t, created.ID, claimed.ID)
	assert.Equal(t, domain.JobStatusRunning, claimed.Status)

	moved, err := s.UpdateJobProgress(ctx, created.ID, domain.StepActivities)
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = s.UpdateJobProgress(ctx, created.ID, domain.StepTrip)
	require.NoError(t, err)
	assert.False(t, moved)

	_, err = s.UpdateJobProgress(ctx, "00000000-0000-4000-8000-00000000dead", domain.StepTrip)
	require.ErrorIs(t, err, storage.ErrNotFound)

	done, err := s.CompleteJob(ctx, created.ID, domain.ExecutionResult{TripID: "t", DaysCreated: 2})
	require.NoError(t, err)
	assert.True(t, done)
	done, err = s.CompleteJob(ctx, created.ID, domain.ExecutionResult{})
	require.NoError(t, err)
	assert.False(t, done)

	got, err := s.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, got.Status)
	assert.Equal(t, domain.StepDone, got.ProgressStep)
	require.NotNil(t, got.Result)
	assert.Equal(t, 2, got.Result.DaysCreated)

	since := time.Now().Add(-time.Hour)
	recent, err := s.TakeRecentCompletedJob(ctx, user, domain.ModeCreate, since)
	require.NoError(t, err)
	assert.Equal(t, created.ID, recent.ID)
	assert.NotNil(t, recent.NotifiedAt)
	_, err = s.TakeRecentCompletedJob(ctx, user, domain.ModeCreate, since)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Failing a running job.
	second, ok, err := s.CreateJob(ctx, job)
	require.NoError(t, err)
	require.True(t, ok)
	for i := 0; i < 50; i++ {
		claimed, err = s.ClaimNextJob(ctx)
		require.NoError(t, err)
		if claimed.ID == second.ID {
			break
		}
	}
	partial := &domain.ExecutionResult{TripID: second.ID, DaysCreated: 5, ActivitiesCreated: 2}
	failed, err := s.FailJob(ctx, second.ID, "activities: disk full", domain.ErrorClassPartialApplication, partial)
	require.NoError(t, err)
	assert.True(t, failed)
	got, err = s.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, got.Status)
	assert.Equal(t, domain.ErrorClassPartialApplication, got.ErrorClass)
	require.NotNil(t, got.Result, "a failed job keeps what it wrote")
	assert.Equal(t, *partial, *got.Result)

	// Failing without a partial result leaves it empty.
	third, ok, err := s.CreateJob(ctx, job)
	require.NoError(t, err)
	require.True(t, ok)
	for i := 0; i < 50; i++ {
		claimed, err = s.ClaimNextJob(ctx)
		require.NoError(t, err)
		if claimed.ID == third.ID {
			break
		}
	}
	_, err = s.FailJob(ctx, third.ID, "model overloaded", domain.ErrorClassTransientUpstream, nil)
	require.NoError(t, err)
	got, err = s.GetJob(ctx, third.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorClassTransientUpstream, got.ErrorClass)
	assert.Nil(t, got.Result)
}

func testConcurrentJobCreate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	user := uniqueUser("race")
	const n = 8
	var wg sync.WaitGroup
	ids := make([]string, n)
	createdCount := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j, created, err := s.CreateJob(ctx, domain.PlanJob{UserID: user, Mode: domain.ModeCreate})
			if err == nil {
				ids[i] = j.ID
				createdCount[i] = created
			}
		}(i)
	}
	wg.Wait()

	first := ""
	created := 0
	for i := range ids {
		require.NotEmpty(t, ids[i])
		if first == "" {
			first = ids[i]
		}
		assert.Equal(t, first, ids[i])
		if createdCount[i] {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func testCredits(t *testing.T, s storage.Store) {
	ctx := context.Background()
	user := uniqueUser("credits")

	_, err := s.GetCreditAccount(ctx, user)
	require.ErrorIs(t, err, storage.ErrNotFound)

	acct, err := s.EnsureCreditAccount(ctx, domain.CreditAccount{UserID: user, Balance: 5, MonthlyQuota: 20})
	require.NoError(t, err)
	assert.Equal(t, 5, acct.Balance)
	assert.Equal(t, 20, acct.MonthlyQuota)

	bal, err := s.DebitCredits(ctx, user, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, bal)

	bal, err = s.DebitCredits(ctx, user, 1)
	require.ErrorIs(t, err, domain.ErrInsufficientCredits)
	assert.Equal(t, 0, bal)

	bal, err = s.AddCredits(ctx, user, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, bal)

	_, err = s.AddCredits(ctx, uniqueUser("ghost"), 1)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testConcurrentDebit(t *testing.T, s storage.Store) {
	ctx := context.Background()
	user := uniqueUser("debit")
	_, err := s.EnsureCreditAccount(ctx, domain.CreditAccount{UserID: user, Balance: 10})
	require.NoError(t, err)

	const workers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.DebitCredits(ctx, user, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	acct, err := s.GetCreditAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 0, acct.Balance)
}

func testItinerary(t *testing.T, s storage.Store) {
	ctx := context.Background()
	user := uniqueUser("trip")

	trip, err := s.CreateTrip(ctx, domain.Trip{UserID: user, Name: "Coast", StartDate: "2026-06-01", EndDate: "2026-06-03"})
	require.NoError(t, err)
	got, err := s.GetTrip(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "Coast", got.Name)

	stop, err := s.CreateStop(ctx, domain.Stop{TripID: trip.ID, PlanStop: domain.PlanStop{
		Name: "Porto", Kind: domain.StopKindOvernight, Coords: &domain.Coordinates{Lat: 41.15, Lng: -8.61},
	}})
	require.NoError(t, err)
	assert.NotEmpty(t, stop.ID)
	_, err = s.CreateStop(ctx, domain.Stop{TripID: trip.ID, PlanStop: domain.PlanStop{Name: "PORTO", Kind: domain.StopKindWaypoint}})
	require.ErrorIs(t, err, storage.ErrConflict)

	stops, err := s.ListStops(ctx, trip.ID)
	require.NoError(t, err)
	require.Len(t, stops, 1)
	require.NotNil(t, stops[0].Coords)
	assert.InDelta(t, 41.15, stops[0].Coords.Lat, 1e-9)

	d2, err := s.CreateDay(ctx, domain.Day{TripID: trip.ID, Date: "2026-06-02"})
	require.NoError(t, err)
	d1, err := s.CreateDay(ctx, domain.Day{TripID: trip.ID, Date: "2026-06-01"})
	require.NoError(t, err)
	_, err = s.CreateDay(ctx, domain.Day{TripID: trip.ID, Date: "2026-06-01"})
	require.ErrorIs(t, err, storage.ErrConflict)

	days, err := s.ListDays(ctx, trip.ID)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2026-06-01", days[0].Date)

	for i, title := range []string{"Harbour", "Market"} {
		_, err := s.CreateActivity(ctx, domain.Activity{TripID: trip.ID, DayID: d2.ID, DayDate: d2.Date,
			PlanActivity: domain.PlanActivity{Title: title, Category: domain.CategoryFood, SortOrder: i, Cost: 12.5}})
		require.NoError(t, err)
	}
	_, err = s.CreateActivity(ctx, domain.Activity{TripID: trip.ID, DayID: d1.ID, DayDate: d1.Date,
		PlanActivity: domain.PlanActivity{Title: "Harbour", Category: domain.CategorySightseeing}})
	require.NoError(t, err, "same title on another day is allowed")
	_, err = s.CreateActivity(ctx, domain.Activity{TripID: trip.ID, DayID: d2.ID, DayDate: d2.Date,
		PlanActivity: domain.PlanActivity{Title: "harbour", Category: domain.CategoryOther}})
	require.ErrorIs(t, err, storage.ErrConflict)

	acts, err := s.ListActivities(ctx, trip.ID)
	require.NoError(t, err)
	require.Len(t, acts, 3)
	assert.Equal(t, d1.Date, acts[0].DayDate)
	assert.Equal(t, "Market", acts[2].Title)

	_, err = s.CreateBudgetCategory(ctx, domain.TripBudgetCategory{TripID: trip.ID, BudgetCategory: domain.BudgetCategory{Name: "Food", Color: "#aabbcc", Limit: 300}})
	require.NoError(t, err)
	_, err = s.CreateBudgetCategory(ctx, domain.TripBudgetCategory{TripID: trip.ID, BudgetCategory: domain.BudgetCategory{Name: "food", Color: "#000000"}})
	require.ErrorIs(t, err, storage.ErrConflict)
	cats, err := s.ListBudgetCategories(ctx, trip.ID)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.InDelta(t, 300, cats[0].Limit, 1e-9)

	_, err = s.CreatePackingItem(ctx, domain.TripPackingItem{TripID: trip.ID, PackingItem: domain.PackingItem{Name: "Sunscreen", Quantity: 1}})
	require.NoError(t, err)
	items, err := s.ListPackingItems(ctx, trip.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = s.CreateDay(ctx, domain.Day{TripID: "00000000-0000-4000-8000-000000000404", Date: "2026-06-01"})
	require.ErrorIs(t, err, storage.ErrNotFound)
}
