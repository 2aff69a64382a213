package planning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MrGSommer/vacation-planner-sub001/internal/audit"
	"github.com/MrGSommer/vacation-planner-sub001/internal/credits"
	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/lock"
	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
	"github.com/MrGSommer/vacation-planner-sub001/internal/validation"
)

// DefaultTokenWarningChars is the transcript length past which the
// conversation is flagged as long.
const DefaultTokenWarningChars = 60000

// EngineConfig tunes the conversation engine.
type EngineConfig struct {
	TokenWarningChars int
	ConflictDayWindow int
}

// DefaultEngineConfig returns the standard engine settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TokenWarningChars: DefaultTokenWarningChars,
		ConflictDayWindow: DefaultConflictDayWindow,
	}
}

// Engine drives planning conversations through their phases. Every
// operation holds the conversation's turn lock for its whole duration, so
// turns of one conversation never interleave.
type Engine struct {
	store    storage.Store
	gen      *Generator
	ledger   *credits.Ledger
	locker   lock.Locker
	applier  *Applier
	resolver *Resolver
	cfg      EngineConfig
	metrics  *observability.Metrics
	log      observability.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(log observability.Logger) Option {
	return func(e *Engine) { e.log = log.WithComponent("engine") }
}

// WithMetrics records turn outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine wires an Engine.
func NewEngine(store storage.Store, gen *Generator, ledger *credits.Ledger, locker lock.Locker, cfg EngineConfig, opts ...Option) *Engine {
	if cfg.TokenWarningChars <= 0 {
		cfg.TokenWarningChars = DefaultTokenWarningChars
	}
	e := &Engine{
		store:  store,
		gen:    gen,
		ledger: ledger,
		locker: locker,
		cfg:    cfg,
		log:    observability.NopLogger().WithComponent("engine"),
	}
	for _, o := range opts {
		o(e)
	}
	e.applier = NewApplier(store, e.log)
	e.resolver = NewResolver(store, cfg.ConflictDayWindow)
	return e
}

// Applier returns the engine's plan applier, shared with the job runner.
func (e *Engine) Applier() *Applier { return e.applier }

// Resolver returns the engine's conflict resolver.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// PackingResult is a generated packing list and how many items were
// written to the trip.
type PackingResult struct {
	TripID string               `json:"trip_id,omitempty"`
	Items  []domain.PackingItem `json:"items"`
	Saved  int                  `json:"saved"`
}

// BudgetResult is a set of generated budget categories and how many were
// written to the trip.
type BudgetResult struct {
	TripID     string                  `json:"trip_id,omitempty"`
	Categories []domain.BudgetCategory `json:"budget_categories"`
	Saved      int                     `json:"saved"`
}

func validateKey(key domain.ConversationKey) error {
	switch {
	case key.UserID == "":
		return fmt.Errorf("user required: %w", storage.ErrValidation)
	case !key.Mode.IsValid():
		return fmt.Errorf("unknown mode %q: %w", key.Mode, storage.ErrValidation)
	case key.Mode == domain.ModeEnhance && key.TripID == "":
		return fmt.Errorf("enhance mode requires a trip: %w", storage.ErrValidation)
	case key.Mode == domain.ModeCreate && key.TripID != "":
		return fmt.Errorf("create mode takes no trip: %w", storage.ErrValidation)
	}
	return nil
}

func transitionError(op string, from domain.Phase) error {
	return fmt.Errorf("%w: %s in phase %s", domain.ErrInvalidTransition, op, from)
}

func requirePhase(op string, conv *domain.Conversation, allowed ...domain.Phase) error {
	for _, p := range allowed {
		if conv.Phase == p {
			return nil
		}
	}
	return transitionError(op, conv.Phase)
}

// locked runs fn on the conversation for key while holding its turn lock.
// fn is responsible for saving.
func (e *Engine) locked(ctx context.Context, key domain.ConversationKey, fn func(conv *domain.Conversation) error) (*domain.Conversation, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	unlock, err := e.locker.TryLock(ctx, key.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	conv, err := e.load(ctx, key, true)
	if err != nil {
		return nil, err
	}
	if err := fn(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// load returns the stored conversation or a fresh idle one. With sync set,
// a finished background job is folded into the conversation.
func (e *Engine) load(ctx context.Context, key domain.ConversationKey, sync bool) (*domain.Conversation, error) {
	conv, err := e.store.GetConversation(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return &domain.Conversation{
			UserID:   key.UserID,
			TripID:   key.TripID,
			Mode:     key.Mode,
			Phase:    domain.PhaseIdle,
			Messages: []domain.Message{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	conv.Restored = len(conv.Messages) > 0
	if sync && conv.ActiveJobID != "" {
		job, err := e.store.GetJob(ctx, conv.ActiveJobID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			job = domain.PlanJob{ID: conv.ActiveJobID, Status: domain.JobStatusError}
		case err != nil:
			return nil, fmt.Errorf("load job: %w", err)
		}
		if e.foldJob(ctx, conv, job) {
			if err := e.save(ctx, conv); err != nil {
				return nil, err
			}
		}
	}
	return conv, nil
}

// foldJob moves conv past a finished job and reports whether it changed.
func (e *Engine) foldJob(ctx context.Context, conv *domain.Conversation, job domain.PlanJob) bool {
	if conv.ActiveJobID != job.ID || job.Status.IsActive() {
		return false
	}
	conv.ActiveJobID = ""
	switch job.Status {
	case domain.JobStatusDone:
		conv.LastResult = job.Result
		conv.Structure = nil
		e.setPhase(ctx, conv, domain.PhaseCompleted)
	default:
		// Keep the trip a failed job started so the retry writes into it.
		if job.Result != nil && job.Result.TripID != "" {
			conv.LastResult = job.Result
		}
		e.setPhase(ctx, conv, domain.PhaseStructureOverview)
	}
	return true
}

func (e *Engine) save(ctx context.Context, conv *domain.Conversation) error {
	if err := e.store.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (e *Engine) setPhase(ctx context.Context, conv *domain.Conversation, to domain.Phase) {
	if conv.Phase == to {
		return
	}
	e.log.InfoContext(ctx, "phase changed", "conversation", conv.Key().String(), "from", conv.Phase, "to", to)
	conv.Phase = to
}

func ref(conv *domain.Conversation) credits.Ref {
	return credits.Ref{ResourceType: audit.ResourceConversation, ResourceID: conv.Key().String()}
}

// charged debits op, runs fn, and refunds if fn fails.
func (e *Engine) charged(ctx context.Context, conv *domain.Conversation, op domain.Operation, fn func(r credits.Receipt) error) error {
	receipt, err := e.ledger.Charge(ctx, conv.UserID, op, ref(conv))
	if err != nil {
		return err
	}
	if err := fn(receipt); err != nil {
		e.refund(ctx, conv, receipt)
		return err
	}
	conv.CreditsBalance = receipt.BalanceAfter
	return nil
}

func (e *Engine) refund(ctx context.Context, conv *domain.Conversation, r credits.Receipt) {
	balance, err := e.ledger.Refund(ctx, r, ref(conv))
	if err != nil {
		e.log.ErrorContext(ctx, "refund failed", "user_id", r.UserID, "operation", r.Operation, "amount", r.Amount, "error", err)
		return
	}
	conv.CreditsBalance = balance
}

func (e *Engine) input(conv *domain.Conversation) GenerationInput {
	return GenerationInput{
		Mode:       conv.Mode,
		Context:    conv.Context,
		Transcript: conv.Transcript(),
		Structure:  conv.Structure,
	}
}

// tripID returns the trip the conversation writes to, if one exists yet.
func tripID(conv *domain.Conversation) string {
	if conv.TripID != "" {
		return conv.TripID
	}
	if conv.LastResult != nil {
		return conv.LastResult.TripID
	}
	return ""
}

// LoadConversation returns the conversation for key, or an unsaved idle one
// when none exists. Restored is set when prior messages exist.
func (e *Engine) LoadConversation(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	unlock, err := e.locker.TryLock(ctx, key.String())
	if errors.Is(err, domain.ErrTurnInProgress) {
		// A turn is running; show the last saved state.
		return e.load(ctx, key, false)
	}
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.load(ctx, key, true)
}

// SyncJob folds a finished job into its conversation. It is a no-op while
// the job is active, when the conversation moved on, or when a turn holds
// the lock; the next load picks the result up.
func (e *Engine) SyncJob(ctx context.Context, job domain.PlanJob) error {
	if job.Status.IsActive() {
		return nil
	}
	key := job.Key()
	if validateKey(key) != nil {
		return nil
	}
	unlock, err := e.locker.TryLock(ctx, key.String())
	if errors.Is(err, domain.ErrTurnInProgress) {
		return nil
	}
	if err != nil {
		return err
	}
	defer unlock()
	_, err = e.load(ctx, key, true)
	return err
}

// StartConversation opens the dialogue with an assistant greeting seeded by
// tc. In enhance mode the trip's details and existing entities are added
// to the context.
func (e *Engine) StartConversation(ctx context.Context, key domain.ConversationKey, tc domain.TripContext) (*domain.Conversation, error) {
	if err := validation.ValidateTripContext(tc); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrValidation, err)
	}
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		if err := requirePhase("start", conv, domain.PhaseIdle); err != nil {
			return err
		}
		if key.Mode == domain.ModeEnhance {
			trip, summary, err := e.applier.Summarize(ctx, key.TripID)
			if err != nil {
				return err
			}
			if trip.UserID != key.UserID {
				return fmt.Errorf("trip %s: %w", key.TripID, storage.ErrNotFound)
			}
			tc = mergeTrip(tc, trip)
			tc.ExistingSummary = summary
		}
		conv.Context = tc
		conv.LastMetadata = nil
		if err := e.turn(ctx, conv); err != nil {
			return err
		}
		return e.save(ctx, conv)
	})
}

func mergeTrip(tc domain.TripContext, trip domain.Trip) domain.TripContext {
	if tc.Destination == "" {
		tc.Destination = trip.Destination
	}
	if tc.StartDate == "" {
		tc.StartDate = trip.StartDate
	}
	if tc.EndDate == "" {
		tc.EndDate = trip.EndDate
	}
	if tc.Currency == "" {
		tc.Currency = trip.Currency
	}
	return tc
}

// SendMessage appends the user's message and produces the assistant's
// reply. The user message is stored before the model is called; resending
// after a failed turn reuses it instead of appending a copy.
func (e *Engine) SendMessage(ctx context.Context, key domain.ConversationKey, text, clientMessageID string) (*domain.Conversation, error) {
	text = strings.TrimSpace(text)
	if err := validation.ValidateText("message", text, validation.MaxMessageLength); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrValidation, err)
	}
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		if err := requirePhase("send message", conv, domain.PhaseConversing, domain.PhasePlanReview); err != nil {
			return err
		}
		pending := conv.PendingUserMessage()
		resend := pending != nil && (pending.Content == text || (clientMessageID != "" && pending.ID == clientMessageID))
		if !resend {
			msg := domain.Message{Role: domain.RoleUser, Content: text}
			if _, err := uuid.Parse(clientMessageID); err == nil {
				msg.ID = clientMessageID
			}
			conv.Messages = append(conv.Messages, msg)
			if err := e.save(ctx, conv); err != nil {
				return err
			}
		}
		if err := e.turn(ctx, conv); err != nil {
			return err
		}
		return e.save(ctx, conv)
	})
}

// turn charges one conversation turn and appends the assistant reply.
func (e *Engine) turn(ctx context.Context, conv *domain.Conversation) error {
	var reply Turn
	err := e.charged(ctx, conv, domain.OpConversationTurn, func(credits.Receipt) error {
		var err error
		reply, err = e.gen.Converse(ctx, conv.Mode, conv.Context, conv.Transcript())
		return err
	})
	if err != nil {
		e.metrics.RecordTurn(string(conv.Mode), string(domain.Classify(err)))
		return err
	}

	cost := e.ledger.Policy().Cost(domain.OpConversationTurn)
	after := conv.CreditsBalance
	conv.Messages = append(conv.Messages, domain.Message{
		Role:         domain.RoleAssistant,
		Content:      reply.Display,
		CreditsCost:  &cost,
		CreditsAfter: &after,
	})
	meta := reply.Metadata
	conv.LastMetadata = &meta
	conv.TokenWarning = conv.TranscriptChars() > e.cfg.TokenWarningChars
	e.setPhase(ctx, conv, domain.PhaseConversing)
	e.metrics.RecordTurn(string(conv.Mode), "ok")
	return nil
}

// GenerateStructure produces the plan skeleton for review.
func (e *Engine) GenerateStructure(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		if err := requirePhase("generate structure", conv, domain.PhaseConversing, domain.PhasePlanReview); err != nil {
			return err
		}
		err := e.charged(ctx, conv, domain.OpStructure, func(credits.Receipt) error {
			s, err := e.gen.GenerateStructure(ctx, e.input(conv))
			if err == nil {
				conv.Structure = s
			}
			return err
		})
		if err != nil {
			return err
		}
		e.setPhase(ctx, conv, domain.PhaseStructureOverview)
		return e.save(ctx, conv)
	})
}

// GeneratePlan produces the detailed plan directly, skipping the structure
// stage. From conversing it requires the assistant to have signalled that
// enough is known.
func (e *Engine) GeneratePlan(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		if err := requirePhase("generate plan", conv, domain.PhaseConversing, domain.PhasePlanReview); err != nil {
			return err
		}
		if conv.Phase == domain.PhaseConversing && (conv.LastMetadata == nil || !conv.LastMetadata.ReadyToPlan) {
			return fmt.Errorf("%w: not ready to plan", domain.ErrInvalidTransition)
		}
		in := e.input(conv)
		in.Structure = nil
		return e.generatePlan(ctx, conv, in)
	})
}

// GenerateActivitiesClientSide expands the reviewed structure into the
// detailed plan within the request.
func (e *Engine) GenerateActivitiesClientSide(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		if err := requirePhase("generate activities", conv, domain.PhaseStructureOverview); err != nil {
			return err
		}
		return e.generatePlan(ctx, conv, e.input(conv))
	})
}

func (e *Engine) generatePlan(ctx context.Context, conv *domain.Conversation, in GenerationInput) error {
	err := e.charged(ctx, conv, domain.OpPlan, func(credits.Receipt) error {
		p, err := e.gen.GeneratePlan(ctx, in)
		if err == nil {
			conv.Plan = p
		}
		return err
	})
	if err != nil {
		return err
	}
	conv.Structure = nil
	conv.Conflicts = nil
	e.setPhase(ctx, conv, domain.PhasePreviewingPlan)
	return e.save(ctx, conv)
}

// GenerateAllViaServer hands detail generation and application to a
// background job. If the conversation already has an active job, that job
// is returned and nothing is charged.
func (e *Engine) GenerateAllViaServer(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, domain.PlanJob, error) {
	var job domain.PlanJob
	conv, err := e.locked(ctx, key, func(conv *domain.Conversation) error {
		if conv.ActiveJobID != "" {
			existing, err := e.store.GetJob(ctx, conv.ActiveJobID)
			if err != nil {
				return fmt.Errorf("load job: %w", err)
			}
			job = existing
			return nil
		}
		if err := requirePhase("generate all", conv, domain.PhaseStructureOverview); err != nil {
			return err
		}

		if active, err := e.store.ActiveJob(ctx, key); err == nil {
			// Queued from another device.
			job = active
			conv.ActiveJobID = job.ID
			e.setPhase(ctx, conv, domain.PhaseGeneratingPlan)
			return e.save(ctx, conv)
		}

		var receipt credits.Receipt
		isNew := false
		err := e.charged(ctx, conv, domain.OpPlan, func(r credits.Receipt) error {
			receipt = r
			var err error
			job, isNew, err = e.store.CreateJob(ctx, domain.PlanJob{
				UserID: conv.UserID,
				TripID: conv.TripID,
				Mode:   conv.Mode,
				Snapshot: domain.JobContext{
					Context:        conv.Context,
					Transcript:     append([]domain.Message(nil), conv.Transcript()...),
					Structure:      conv.Structure,
					TripID:         tripID(conv),
					CreditsCharged: r.Amount,
				},
			})
			if err != nil {
				return fmt.Errorf("create job: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !isNew {
			// Lost the race to another device; that job carries its own charge.
			e.refund(ctx, conv, receipt)
		}
		e.log.InfoContext(ctx, "plan job queued", "job_id", job.ID, "conversation", key.String())
		conv.ActiveJobID = job.ID
		e.setPhase(ctx, conv, domain.PhaseGeneratingPlan)
		return e.save(ctx, conv)
	})
	if err != nil {
		return nil, domain.PlanJob{}, err
	}
	return conv, job, nil
}

// ConfirmPlan applies the previewed plan. In enhance mode it first checks
// the plan against the trip; when conflicts exist they are stored on the
// conversation and nothing is applied.
func (e *Engine) ConfirmPlan(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		if err := requirePhase("confirm", conv, domain.PhasePreviewingPlan); err != nil {
			return err
		}
		if conv.Plan == nil {
			return domain.ErrNoPlan
		}
		if conv.Mode == domain.ModeEnhance {
			conflicts, err := e.resolver.Detect(ctx, conv.TripID, conv.Plan)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				e.log.InfoContext(ctx, "plan conflicts found", "conversation", key.String(), "count", len(conflicts))
				conv.Conflicts = conflicts
				return e.save(ctx, conv)
			}
		}
		return e.apply(ctx, conv, nil)
	})
}

// DismissConflicts drops the pending conflict decision and stays in preview.
func (e *Engine) DismissConflicts(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		if err := requirePhase("dismiss conflicts", conv, domain.PhasePreviewingPlan); err != nil {
			return err
		}
		if len(conv.Conflicts) == 0 {
			return domain.ErrNoConflicts
		}
		conv.Conflicts = nil
		return e.save(ctx, conv)
	})
}

// ConfirmWithConflicts applies the plan, skipping every activity that
// duplicates one already in the trip.
func (e *Engine) ConfirmWithConflicts(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		if err := requirePhase("confirm with conflicts", conv, domain.PhasePreviewingPlan); err != nil {
			return err
		}
		if len(conv.Conflicts) == 0 {
			return domain.ErrNoConflicts
		}
		if conv.Plan == nil {
			return domain.ErrNoPlan
		}
		// The trip may have changed since the conflicts were shown.
		conflicts, err := e.resolver.Detect(ctx, conv.TripID, conv.Plan)
		if err != nil {
			return err
		}
		return e.apply(ctx, conv, conflicts)
	})
}

// apply writes the plan and completes the conversation. On a partial
// failure the phase is unchanged and LastResult holds what was created.
func (e *Engine) apply(ctx context.Context, conv *domain.Conversation, skip domain.ConflictSet) error {
	e.setPhase(ctx, conv, domain.PhaseExecutingPlan)
	target := conv.TripID
	if conv.Mode == domain.ModeCreate {
		id := tripID(conv)
		if id == "" {
			id = uuid.NewString()
		}
		trip, err := e.applier.EnsureTrip(ctx, NewTrip(id, conv.UserID, conv.Plan, conv.Context))
		if err != nil {
			conv.Phase = domain.PhasePreviewingPlan
			return err
		}
		target = trip.ID
	}

	res, err := e.applier.Apply(ctx, target, conv.Plan, skip)
	conv.LastResult = &res
	if err != nil {
		conv.Phase = domain.PhasePreviewingPlan
		if saveErr := e.save(ctx, conv); saveErr != nil {
			e.log.ErrorContext(ctx, "save after partial application failed", "error", saveErr)
		}
		return err
	}
	conv.Conflicts = nil
	e.setPhase(ctx, conv, domain.PhaseCompleted)
	return e.save(ctx, conv)
}

// RejectPlan hides the preview and keeps the plan for later review.
func (e *Engine) RejectPlan(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		if err := requirePhase("reject", conv, domain.PhasePreviewingPlan); err != nil {
			return err
		}
		conv.Conflicts = nil
		e.setPhase(ctx, conv, domain.PhasePlanReview)
		return e.save(ctx, conv)
	})
}

// ShowPreview re-enters the preview of the kept plan.
func (e *Engine) ShowPreview(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		if err := requirePhase("preview", conv, domain.PhasePlanReview); err != nil {
			return err
		}
		if conv.Plan == nil {
			return domain.ErrNoPlan
		}
		e.setPhase(ctx, conv, domain.PhasePreviewingPlan)
		return e.save(ctx, conv)
	})
}

// AdjustPlan regenerates the kept plan according to instructions.
func (e *Engine) AdjustPlan(ctx context.Context, key domain.ConversationKey, instructions string) (*domain.Conversation, error) {
	instructions = strings.TrimSpace(instructions)
	if err := validation.ValidateText("instructions", instructions, validation.MaxInstructionLength); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrValidation, err)
	}
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		if err := requirePhase("adjust", conv, domain.PhasePlanReview); err != nil {
			return err
		}
		if conv.Plan == nil {
			return domain.ErrNoPlan
		}
		err := e.charged(ctx, conv, domain.OpAdjust, func(credits.Receipt) error {
			p, err := e.gen.AdjustPlan(ctx, e.input(conv), conv.Plan, instructions)
			if err == nil {
				conv.Plan = p
			}
			return err
		})
		if err != nil {
			return err
		}
		e.setPhase(ctx, conv, domain.PhasePreviewingPlan)
		return e.save(ctx, conv)
	})
}

// Reset returns the conversation to idle. Prior messages stay stored but
// are no longer sent to the model. A running job is not cancelled.
func (e *Engine) Reset(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		e.setPhase(ctx, conv, domain.PhaseIdle)
		conv.TranscriptStart = len(conv.Messages)
		conv.LastMetadata = nil
		conv.TokenWarning = false
		conv.Context = domain.TripContext{}
		conv.Structure = nil
		conv.Plan = nil
		conv.Conflicts = nil
		conv.ActiveJobID = ""
		conv.LastResult = nil
		if conv.ID == "" {
			return nil
		}
		return e.save(ctx, conv)
	})
}

// SaveConversationNow persists the conversation as it is.
func (e *Engine) SaveConversationNow(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	return e.locked(ctx, key, func(conv *domain.Conversation) error {
		return e.save(ctx, conv)
	})
}

// GeneratePackingList produces a packing list and writes it to the trip
// when one exists.
func (e *Engine) GeneratePackingList(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, *PackingResult, error) {
	var out PackingResult
	conv, err := e.locked(ctx, key, func(conv *domain.Conversation) error {
		if conv.Phase == domain.PhaseIdle {
			return transitionError("packing list", conv.Phase)
		}
		out.TripID = tripID(conv)
		err := e.charged(ctx, conv, domain.OpPackingList, func(credits.Receipt) error {
			items, err := e.gen.GeneratePackingList(ctx, e.input(conv))
			if err != nil {
				return err
			}
			out.Items = items
			if out.TripID != "" {
				if out.Saved, err = e.applier.AddPackingItems(ctx, out.TripID, items); err != nil {
					return fmt.Errorf("save packing list: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		clearAction(conv, domain.AgentActionPackingList)
		return e.save(ctx, conv)
	})
	if err != nil {
		return nil, nil, err
	}
	return conv, &out, nil
}

// GenerateBudgetCategories produces budget categories the trip lacks and
// writes them to the trip when one exists.
func (e *Engine) GenerateBudgetCategories(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, *BudgetResult, error) {
	var out BudgetResult
	conv, err := e.locked(ctx, key, func(conv *domain.Conversation) error {
		if conv.Phase == domain.PhaseIdle {
			return transitionError("budget categories", conv.Phase)
		}
		out.TripID = tripID(conv)
		in := e.input(conv)
		if out.TripID != "" {
			_, summary, err := e.applier.Summarize(ctx, out.TripID)
			if err != nil {
				return err
			}
			in.Context.ExistingSummary = summary
		}
		err := e.charged(ctx, conv, domain.OpBudgetCategories, func(credits.Receipt) error {
			cats, err := e.gen.GenerateBudgetCategories(ctx, in)
			if err != nil {
				return err
			}
			if len(cats) == 0 {
				return invalid("budget", "no new budget categories")
			}
			out.Categories = cats
			if out.TripID != "" {
				if out.Saved, err = e.applier.AddBudgetCategories(ctx, out.TripID, cats); err != nil {
					return fmt.Errorf("save budget categories: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		clearAction(conv, domain.AgentActionBudgetCategories)
		return e.save(ctx, conv)
	})
	if err != nil {
		return nil, nil, err
	}
	return conv, &out, nil
}

// clearAction drops a performed agent action from the last metadata.
func clearAction(conv *domain.Conversation, a domain.AgentAction) {
	if m := conv.LastMetadata; m != nil && m.AgentAction != nil && *m.AgentAction == a {
		m.AgentAction = nil
	}
}
