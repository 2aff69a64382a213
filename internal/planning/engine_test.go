package planning

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/MrGSommer/vacation-planner-sub001/internal/credits"
	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/lock"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
	"github.com/MrGSommer/vacation-planner-sub001/internal/testutil"
)

type harness struct {
	engine *Engine
	store  *storage.MemoryStore
	llm    *testutil.ScriptedProvider
	ledger *credits.Ledger
}

func newHarness(initialBalance int) *harness {
	store := storage.NewMemoryStore()
	provider := testutil.NewScriptedProvider()
	policy := credits.DefaultPolicy()
	policy.InitialBalance = initialBalance
	ledger := credits.NewLedger(store, policy)
	gen := NewGenerator(provider, DefaultGeneratorConfig(), nil, nil)
	return &harness{
		engine: NewEngine(store, gen, ledger, lock.NewMemory(), DefaultEngineConfig()),
		store:  store,
		llm:    provider,
		ledger: ledger,
	}
}

func (h *harness) balance(t *testing.T, userID string) int {
	t.Helper()
	acct, err := h.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return acct.Balance
}

var (
	createKey = domain.ConversationKey{UserID: "u1", Mode: domain.ModeCreate}
	lisbon    = domain.TripContext{Destination: "Lisbon", StartDate: "2026-06-01", EndDate: "2026-06-05", Currency: "EUR"}
)

// started returns a harness whose create-mode conversation is conversing
// and ready to plan.
func started(t *testing.T, initialBalance int) *harness {
	t.Helper()
	h := newHarness(initialBalance)
	ctx := context.Background()
	h.llm.Push(testutil.TurnReply("Hi! Lisbon in June, lovely. How many days?", false))
	_, err := h.engine.StartConversation(ctx, createKey, lisbon)
	require.NoError(t, err)
	h.llm.Push(testutil.TurnReply("Three days it is. Ready when you are.", true))
	_, err = h.engine.SendMessage(ctx, createKey, "Three days, we love food", "")
	require.NoError(t, err)
	return h
}

func TestStartAndSendMessage(t *testing.T) {
	h := newHarness(20)
	ctx := context.Background()

	h.llm.Push(testutil.TurnReply("Welcome! Where to?", false, "What about Porto?"))
	conv, err := h.engine.StartConversation(ctx, createKey, lisbon)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseConversing, conv.Phase)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "Welcome! Where to?", conv.Messages[0].Content)
	assert.Equal(t, []string{"What about Porto?"}, conv.LastMetadata.SuggestedQuestions)
	assert.Equal(t, 19, conv.CreditsBalance)

	h.llm.Push(testutil.TurnReply("Lisbon it is.", true))
	conv, err = h.engine.SendMessage(ctx, createKey, "  Lisbon please ", "")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, domain.RoleUser, conv.Messages[1].Role)
	assert.Equal(t, "Lisbon please", conv.Messages[1].Content)
	reply := conv.Messages[2]
	assert.Equal(t, domain.RoleAssistant, reply.Role)
	require.NotNil(t, reply.CreditsCost)
	assert.Equal(t, 1, *reply.CreditsCost)
	assert.Equal(t, 18, *reply.CreditsAfter)
	assert.True(t, conv.LastMetadata.ReadyToPlan)
	assert.Empty(t, conv.LastMetadata.SuggestedQuestions, "metadata is replaced, not merged")
	assert.Equal(t, 18, h.balance(t, "u1"))

	calls := h.llm.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].Options.System, "Destination: Lisbon")
	msgs := calls[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, kickoffMessage, msgs[0].Content)
	assert.Equal(t, "Lisbon please", msgs[2].Content)

	loaded, err := h.engine.LoadConversation(ctx, createKey)
	require.NoError(t, err)
	assert.True(t, loaded.Restored)
	assert.Equal(t, domain.PhaseConversing, loaded.Phase)
	assert.Len(t, loaded.Messages, 3)
}

func TestLoadConversationFresh(t *testing.T) {
	h := newHarness(20)
	conv, err := h.engine.LoadConversation(context.Background(), createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseIdle, conv.Phase)
	assert.False(t, conv.Restored)
	assert.Empty(t, conv.ID)

	_, err = h.engine.LoadConversation(context.Background(), domain.ConversationKey{UserID: "u1", Mode: domain.ModeEnhance})
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestSendMessageInsufficientCredits(t *testing.T) {
	h := newHarness(1)
	ctx := context.Background()
	h.llm.Push(testutil.TurnReply("Hello!", false))
	_, err := h.engine.StartConversation(ctx, createKey, lisbon)
	require.NoError(t, err)
	require.Equal(t, 0, h.balance(t, "u1"))

	_, err = h.engine.SendMessage(ctx, createKey, "Lisbon", "")
	require.ErrorIs(t, err, domain.ErrInsufficientCredits)
	assert.Equal(t, domain.ErrorClassInsufficientCredits, domain.Classify(err))

	conv, err := h.engine.LoadConversation(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseConversing, conv.Phase)
	require.Len(t, conv.Messages, 2, "only the user's own message is appended")
	assert.Equal(t, domain.RoleUser, conv.Messages[1].Role)
	assert.Equal(t, 0, h.balance(t, "u1"))
	assert.Len(t, h.llm.Calls(), 1, "no model call without credits")
}

func TestSendMessageTransientFailureRetry(t *testing.T) {
	h := newHarness(20)
	ctx := context.Background()
	h.llm.Push(testutil.TurnReply("Hello!", false))
	_, err := h.engine.StartConversation(ctx, createKey, lisbon)
	require.NoError(t, err)

	h.llm.Push(testutil.ErrorReply(testutil.Overloaded()))
	_, err = h.engine.SendMessage(ctx, createKey, "Lisbon", "")
	require.ErrorIs(t, err, domain.ErrTransientUpstream)
	assert.True(t, domain.Classify(err).Retryable())
	assert.Equal(t, 19, h.balance(t, "u1"), "failed turn is refunded")

	h.llm.Push(testutil.TurnReply("Lisbon, great.", false))
	conv, err := h.engine.SendMessage(ctx, createKey, "Lisbon", "")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3, "the resent message is not duplicated")
	assert.Equal(t, "Lisbon", conv.Messages[1].Content)
	assert.Equal(t, domain.RoleAssistant, conv.Messages[2].Role)
	assert.Equal(t, 18, h.balance(t, "u1"))
}

func TestSendMessageRequiresConversation(t *testing.T) {
	h := newHarness(20)
	_, err := h.engine.SendMessage(context.Background(), createKey, "hi", "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.engine.SendMessage(context.Background(), createKey, "   ", "")
	assert.ErrorIs(t, err, storage.ErrValidation)
}

// Messages are stored in call order and a retried failed turn never adds a
// second copy of the user's message.
func TestSendMessageOrderingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(1000)
		ctx := context.Background()
		h.llm.Push(testutil.TurnReply("Hello!", false))
		if _, err := h.engine.StartConversation(ctx, createKey, lisbon); err != nil {
			rt.Fatal(err)
		}

		var want []string
		n := rapid.IntRange(1, 8).Draw(rt, "messages")
		for i := range n {
			text := strings.Repeat("m", i+1)
			failures := rapid.IntRange(0, 2).Draw(rt, "failures")
			for range failures {
				h.llm.Push(testutil.ErrorReply(testutil.Overloaded()))
				if _, err := h.engine.SendMessage(ctx, createKey, text, ""); err == nil {
					rt.Fatal("expected failure")
				}
			}
			h.llm.Push(testutil.TurnReply("ok "+text, false))
			if _, err := h.engine.SendMessage(ctx, createKey, text, ""); err != nil {
				rt.Fatal(err)
			}
			want = append(want, text)
		}

		conv, err := h.engine.LoadConversation(ctx, createKey)
		if err != nil {
			rt.Fatal(err)
		}
		var got []string
		var lastSeq int64
		for _, m := range conv.Messages {
			if m.Seq <= lastSeq {
				rt.Fatalf("sequence not increasing at %q", m.Content)
			}
			lastSeq = m.Seq
			if m.Role == domain.RoleUser {
				got = append(got, m.Content)
			}
		}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			rt.Fatalf("user messages %v, want %v", got, want)
		}
	})
}

func TestTurnLockRejectsConcurrentTurn(t *testing.T) {
	h := newHarness(20)
	ctx := context.Background()
	h.llm.Push(testutil.TurnReply("Hello!", false))
	_, err := h.engine.StartConversation(ctx, createKey, lisbon)
	require.NoError(t, err)

	release := h.llm.Block()
	h.llm.Push(testutil.TurnReply("first", false))
	done := make(chan error, 1)
	go func() {
		_, err := h.engine.SendMessage(ctx, createKey, "first", "")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(h.llm.Calls()) == 2 }, time.Second, 5*time.Millisecond)

	_, err = h.engine.SendMessage(ctx, createKey, "second", "")
	require.ErrorIs(t, err, domain.ErrTurnInProgress)

	busy, err := h.engine.LoadConversation(ctx, createKey)
	require.NoError(t, err, "loading never waits for a turn")
	assert.Equal(t, "first", busy.Messages[len(busy.Messages)-1].Content)

	release()
	require.NoError(t, <-done)
}

func TestTokenWarning(t *testing.T) {
	h := newHarness(20)
	h.engine.cfg.TokenWarningChars = 50
	ctx := context.Background()
	h.llm.Push(testutil.TurnReply("Hello!", false))
	conv, err := h.engine.StartConversation(ctx, createKey, lisbon)
	require.NoError(t, err)
	assert.False(t, conv.TokenWarning)

	h.llm.Push(testutil.TurnReply(strings.Repeat("long answer ", 10), false))
	conv, err = h.engine.SendMessage(ctx, createKey, "tell me everything", "")
	require.NoError(t, err)
	assert.True(t, conv.TokenWarning)
	assert.Equal(t, domain.PhaseConversing, conv.Phase, "the warning does not block")
}

func TestGeneratePlanDirectAndConfirm(t *testing.T) {
	h := started(t, 20)
	ctx := context.Background()

	h.llm.PushFor("plan", testutil.JSONReply(threeDayPlan()))
	conv, err := h.engine.GeneratePlan(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePreviewingPlan, conv.Phase)
	require.NotNil(t, conv.Plan)
	assert.Equal(t, 4, conv.Plan.ActivityCount())
	assert.Equal(t, 13, h.balance(t, "u1"))

	conv, err = h.engine.ConfirmPlan(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, conv.Phase)
	require.NotNil(t, conv.LastResult)
	assert.Equal(t, 3, conv.LastResult.DaysCreated)
	assert.Equal(t, 4, conv.LastResult.ActivitiesCreated)

	trip, err := h.store.GetTrip(ctx, conv.LastResult.TripID)
	require.NoError(t, err)
	assert.Equal(t, "u1", trip.UserID)
	assert.Equal(t, "EUR", trip.Currency)
}

func TestGeneratePlanRequiresReadyToPlan(t *testing.T) {
	h := newHarness(20)
	ctx := context.Background()
	h.llm.Push(testutil.TurnReply("Hello!", false))
	_, err := h.engine.StartConversation(ctx, createKey, lisbon)
	require.NoError(t, err)

	_, err = h.engine.GeneratePlan(ctx, createKey)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 19, h.balance(t, "u1"), "nothing charged")
}

func TestGeneratePlanInvalidOutputRefunds(t *testing.T) {
	h := started(t, 20)
	ctx := context.Background()

	bad := threeDayPlan()
	bad.Days[0].Date = "sometime in June"
	h.llm.PushFor("plan", testutil.JSONReply(bad))
	_, err := h.engine.GeneratePlan(ctx, createKey)
	require.ErrorIs(t, err, domain.ErrGenerationInvalid)
	assert.Equal(t, domain.ErrorClassValidation, domain.Classify(err))
	assert.Equal(t, 18, h.balance(t, "u1"))

	conv, err := h.engine.LoadConversation(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseConversing, conv.Phase)
	assert.Nil(t, conv.Plan)

	h.llm.PushFor("plan", testutil.Reply{Content: "```json\n{\"days\": [", FinishReason: "length"})
	_, err = h.engine.GeneratePlan(ctx, createKey)
	require.ErrorIs(t, err, domain.ErrGenerationInvalid, "truncated output is rejected")
}

func TestStructureThenClientSideActivities(t *testing.T) {
	h := started(t, 20)
	ctx := context.Background()

	h.llm.PushFor("structure", testutil.JSONReply(map[string]any{
		"stops": []map[string]string{{"name": "Lisbon"}}, "day_count": 3, "budget_category_count": 1,
	}))
	conv, err := h.engine.GenerateStructure(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseStructureOverview, conv.Phase)
	require.NotNil(t, conv.Structure)
	assert.Equal(t, 48, conv.Structure.EstimatedSeconds)

	h.llm.PushFor("plan", testutil.JSONReply(threeDayPlan()))
	conv, err = h.engine.GenerateActivitiesClientSide(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePreviewingPlan, conv.Phase)
	assert.Nil(t, conv.Structure)
	assert.Equal(t, 20-1-1-2-5, h.balance(t, "u1"))

	calls := h.llm.Calls()
	assert.Contains(t, calls[len(calls)-1].Options.System, `"day_count":3`, "the structure is part of the plan prompt")
}

func TestRejectShowAndAdjust(t *testing.T) {
	h := started(t, 30)
	ctx := context.Background()
	h.llm.PushFor("plan", testutil.JSONReply(threeDayPlan()))
	_, err := h.engine.GeneratePlan(ctx, createKey)
	require.NoError(t, err)

	conv, err := h.engine.RejectPlan(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePlanReview, conv.Phase)
	require.NotNil(t, conv.Plan, "the plan is kept")

	conv, err = h.engine.ShowPreview(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePreviewingPlan, conv.Phase)
	_, err = h.engine.RejectPlan(ctx, createKey)
	require.NoError(t, err)

	adjusted := threeDayPlan()
	adjusted.Days[1].Activities = adjusted.Days[1].Activities[:1]
	h.llm.PushFor("adjust", testutil.JSONReply(adjusted))
	before := h.balance(t, "u1")
	conv, err = h.engine.AdjustPlan(ctx, createKey, "drop the fado dinner")
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePreviewingPlan, conv.Phase)
	assert.Equal(t, 3, conv.Plan.ActivityCount())
	assert.Equal(t, before-5, h.balance(t, "u1"))

	calls := h.llm.Calls()
	last := calls[len(calls)-1]
	assert.Contains(t, last.Messages[len(last.Messages)-1].Content, "drop the fado dinner")
	assert.Contains(t, last.Options.System, "Fado dinner", "the current plan is part of the prompt")
	for _, m := range conv.Messages {
		assert.NotContains(t, m.Content, "drop the fado dinner", "instructions are not stored as messages")
	}

	_, err = h.engine.AdjustPlan(ctx, createKey, "more")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "adjust only from plan review")
}

func TestSendMessageFromPlanReview(t *testing.T) {
	h := started(t, 20)
	ctx := context.Background()
	h.llm.PushFor("plan", testutil.JSONReply(threeDayPlan()))
	_, err := h.engine.GeneratePlan(ctx, createKey)
	require.NoError(t, err)
	_, err = h.engine.RejectPlan(ctx, createKey)
	require.NoError(t, err)

	h.llm.Push(testutil.TurnReply("Sure, let's talk more.", false))
	conv, err := h.engine.SendMessage(ctx, createKey, "Actually, what about Porto?", "")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseConversing, conv.Phase)
}

func enhanceHarness(t *testing.T) (*harness, domain.ConversationKey) {
	t.Helper()
	h := newHarness(50)
	trip := seedTrip(t, h.store, "u1", "2026-06-02", "City Walking Tour")
	key := domain.ConversationKey{UserID: "u1", TripID: trip.ID, Mode: domain.ModeEnhance}
	ctx := context.Background()

	h.llm.Push(testutil.TurnReply("Let's add to your Portugal trip.", false))
	conv, err := h.engine.StartConversation(ctx, key, domain.TripContext{Destination: "Lisbon"})
	require.NoError(t, err)
	require.NotNil(t, conv.Context.ExistingSummary)
	require.Equal(t, []string{"City Walking Tour"}, conv.Context.ExistingSummary.ActivityTitles)
	require.Equal(t, "EUR", conv.Context.Currency, "trip details fill the context")

	h.llm.Push(testutil.TurnReply("Ready.", true))
	_, err = h.engine.SendMessage(ctx, key, "Add food stops", "")
	require.NoError(t, err)

	plan := threeDayPlan()
	plan.BudgetCategories = nil
	h.llm.PushFor("plan", testutil.JSONReply(plan))
	_, err = h.engine.GeneratePlan(ctx, key)
	require.NoError(t, err)
	return h, key
}

func TestConfirmPlanSurfacesConflicts(t *testing.T) {
	h, key := enhanceHarness(t)
	ctx := context.Background()

	conv, err := h.engine.ConfirmPlan(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePreviewingPlan, conv.Phase)
	assert.Equal(t, domain.ConflictSet{"City Walking Tour"}, conv.Conflicts)

	conv, err = h.engine.ConfirmWithConflicts(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, conv.Phase)
	require.NotNil(t, conv.LastResult)
	assert.Equal(t, 3, conv.LastResult.ActivitiesCreated, "the conflicting activity is not created")
	assert.Equal(t, 1, conv.LastResult.ActivitiesSkipped)
	assert.Empty(t, conv.Conflicts)

	acts, err := h.store.ListActivities(ctx, key.TripID)
	require.NoError(t, err)
	assert.Len(t, acts, 4)
}

func TestDismissConflicts(t *testing.T) {
	h, key := enhanceHarness(t)
	ctx := context.Background()

	_, err := h.engine.DismissConflicts(ctx, key)
	require.ErrorIs(t, err, domain.ErrNoConflicts)
	_, err = h.engine.ConfirmWithConflicts(ctx, key)
	require.ErrorIs(t, err, domain.ErrNoConflicts)

	_, err = h.engine.ConfirmPlan(ctx, key)
	require.NoError(t, err)
	conv, err := h.engine.DismissConflicts(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePreviewingPlan, conv.Phase)
	assert.Empty(t, conv.Conflicts)

	acts, err := h.store.ListActivities(ctx, key.TripID)
	require.NoError(t, err)
	assert.Len(t, acts, 1, "nothing applied")
}

func TestGenerateAllViaServerIsIdempotent(t *testing.T) {
	h := started(t, 20)
	ctx := context.Background()
	h.llm.PushFor("structure", testutil.JSONReply(map[string]any{"stops": []any{}, "day_count": 3}))
	_, err := h.engine.GenerateStructure(ctx, createKey)
	require.NoError(t, err)

	conv, job, err := h.engine.GenerateAllViaServer(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseGeneratingPlan, conv.Phase)
	assert.Equal(t, job.ID, conv.ActiveJobID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 5, job.Snapshot.CreditsCharged)
	require.NotNil(t, job.Snapshot.Structure)
	balance := h.balance(t, "u1")

	_, again, err := h.engine.GenerateAllViaServer(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, balance, h.balance(t, "u1"), "second request is not charged")

	claimed, err := h.store.ClaimNextJob(ctx)
	require.NoError(t, err)
	result := domain.ExecutionResult{TripID: claimed.ID, DaysCreated: 3}
	ok, err := h.store.CompleteJob(ctx, claimed.ID, result)
	require.NoError(t, err)
	require.True(t, ok)

	done, err := h.store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	require.NoError(t, h.engine.SyncJob(ctx, done))

	conv, err = h.engine.LoadConversation(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, conv.Phase)
	assert.Empty(t, conv.ActiveJobID)
	assert.Equal(t, &result, conv.LastResult)
}

func TestFailedJobReturnsToStructureOverview(t *testing.T) {
	h := started(t, 20)
	ctx := context.Background()
	h.llm.PushFor("structure", testutil.JSONReply(map[string]any{"day_count": 2}))
	_, err := h.engine.GenerateStructure(ctx, createKey)
	require.NoError(t, err)
	_, job, err := h.engine.GenerateAllViaServer(ctx, createKey)
	require.NoError(t, err)

	_, err = h.store.ClaimNextJob(ctx)
	require.NoError(t, err)
	_, err = h.store.FailJob(ctx, job.ID, "model overloaded", domain.ErrorClassTransientUpstream, nil)
	require.NoError(t, err)

	conv, err := h.engine.LoadConversation(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseStructureOverview, conv.Phase)
	assert.Empty(t, conv.ActiveJobID)
	assert.NotNil(t, conv.Structure, "the structure is kept for another attempt")
}

func TestReset(t *testing.T) {
	h := started(t, 20)
	ctx := context.Background()

	conv, err := h.engine.Reset(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseIdle, conv.Phase)
	assert.Nil(t, conv.LastMetadata)
	assert.Empty(t, conv.Transcript())
	assert.Len(t, conv.Messages, 3, "prior messages stay stored")

	h.llm.Push(testutil.TurnReply("Fresh start!", false))
	conv, err = h.engine.StartConversation(ctx, createKey, lisbon)
	require.NoError(t, err)
	assert.Len(t, conv.Transcript(), 1)

	calls := h.llm.Calls()
	assert.Len(t, calls[len(calls)-1].Messages, 1, "only the kickoff goes to the model after a reset")
}

func TestSaveConversationNow(t *testing.T) {
	h := newHarness(20)
	ctx := context.Background()
	conv, err := h.engine.SaveConversationNow(ctx, createKey)
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, domain.PhaseIdle, conv.Phase)

	again, err := h.engine.SaveConversationNow(ctx, createKey)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
}

func TestAgentArtifacts(t *testing.T) {
	h, key := enhanceHarness(t)
	ctx := context.Background()

	h.llm.PushFor("packing_list", testutil.JSONReply(map[string]any{
		"items": []map[string]any{{"name": "Sunscreen", "quantity": 1}, {"name": "sunscreen"}, {"name": "Walking shoes", "quantity": 1}},
	}))
	conv, packing, err := h.engine.GeneratePackingList(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePreviewingPlan, conv.Phase, "artifacts do not change the phase")
	assert.Len(t, packing.Items, 2)
	assert.Equal(t, 2, packing.Saved)

	h.llm.PushFor("budget_categories", testutil.JSONReply(map[string]any{
		"budget_categories": []map[string]any{{"name": "Food", "color": "#123456", "limit": 150}},
	}))
	_, budget, err := h.engine.GenerateBudgetCategories(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, budget.Saved)

	// Everything proposed now already exists.
	before := h.balance(t, "u1")
	h.llm.PushFor("budget_categories", testutil.JSONReply(map[string]any{
		"budget_categories": []map[string]any{{"name": "food"}},
	}))
	_, _, err = h.engine.GenerateBudgetCategories(ctx, key)
	require.ErrorIs(t, err, domain.ErrGenerationInvalid)
	assert.Equal(t, before, h.balance(t, "u1"))

	idle := newHarness(20)
	_, _, err = idle.engine.GeneratePackingList(ctx, createKey)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
