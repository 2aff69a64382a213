package planning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/llm"
	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
)

// GenerationInput is the finalized context handed to a generator.
type GenerationInput struct {
	Mode       domain.Mode
	Context    domain.TripContext
	Transcript []domain.Message
	Structure  *domain.PlanStructure
}

// GeneratorConfig bounds model calls.
type GeneratorConfig struct {
	// Timeout caps each model call. Exceeding it is a transient failure.
	Timeout            time.Duration
	TurnMaxTokens      int64
	StructureMaxTokens int64
	PlanMaxTokens      int64
	ArtifactMaxTokens  int64
}

// DefaultGeneratorConfig returns the standard token budgets.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Timeout:            90 * time.Second,
		TurnMaxTokens:      1024,
		StructureMaxTokens: 1024,
		PlanMaxTokens:      8192,
		ArtifactMaxTokens:  2048,
	}
}

// Generator turns conversation context into model output: dialogue turns,
// plan structures, detailed plans and single artifacts.
type Generator struct {
	provider llm.Provider
	cfg      GeneratorConfig
	metrics  *observability.Metrics
	log      observability.Logger
}

// NewGenerator returns a Generator over provider. metrics may be nil.
func NewGenerator(provider llm.Provider, cfg GeneratorConfig, metrics *observability.Metrics, log observability.Logger) *Generator {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Generator{provider: provider, cfg: cfg, metrics: metrics, log: log.WithComponent("generator")}
}

// Available reports whether the model provider is configured.
func (g *Generator) Available() bool {
	return g.provider != nil && g.provider.Available()
}

// Turn is a parsed assistant reply.
type Turn struct {
	Display  string
	Metadata domain.TurnMetadata
}

// Converse produces the next assistant turn for transcript.
func (g *Generator) Converse(ctx context.Context, mode domain.Mode, tc domain.TripContext, transcript []domain.Message) (Turn, error) {
	resp, err := g.complete(ctx, "turn", conversationSystemPrompt(mode, tc), modelTranscript(transcript, ""), g.cfg.TurnMaxTokens)
	if err != nil {
		return Turn{}, err
	}
	display, meta := ParseTurn(resp.Content)
	if display == "" {
		return Turn{}, invalid("turn", "empty reply")
	}
	return Turn{Display: display, Metadata: meta}, nil
}

// GenerateStructure produces the plan skeleton.
func (g *Generator) GenerateStructure(ctx context.Context, in GenerationInput) (*domain.PlanStructure, error) {
	msgs := modelTranscript(in.Transcript, "Summarize the agreed trip as a structure now.")
	resp, err := g.generate(ctx, "structure", structureSystemPrompt(in), msgs, g.cfg.StructureMaxTokens)
	if err != nil {
		return nil, err
	}
	var s domain.PlanStructure
	if err := decodeReply("structure", resp.Content, &s); err != nil {
		return nil, err
	}
	if err := validateStructure(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GeneratePlan produces and validates the detailed plan.
func (g *Generator) GeneratePlan(ctx context.Context, in GenerationInput) (*domain.Plan, error) {
	msgs := modelTranscript(in.Transcript, "Create the detailed plan now.")
	return g.plan(ctx, "plan", planSystemPrompt(in), msgs, in)
}

// AdjustPlan revises current according to instructions. The instructions
// are sent to the model but are not part of the transcript.
func (g *Generator) AdjustPlan(ctx context.Context, in GenerationInput, current *domain.Plan, instructions string) (*domain.Plan, error) {
	msgs := modelTranscript(in.Transcript, "Adjust the plan: "+strings.TrimSpace(instructions))
	return g.plan(ctx, "adjust", adjustSystemPrompt(in, current), msgs, in)
}

func (g *Generator) plan(ctx context.Context, purpose, system string, msgs []llm.Message, in GenerationInput) (*domain.Plan, error) {
	resp, err := g.generate(ctx, purpose, system, msgs, g.cfg.PlanMaxTokens)
	if err != nil {
		return nil, err
	}
	var p domain.Plan
	if err := decodeReply("plan", resp.Content, &p); err != nil {
		return nil, err
	}
	if err := validatePlan(&p, in); err != nil {
		return nil, err
	}
	return &p, nil
}

// GeneratePackingList produces a de-duplicated packing list.
func (g *Generator) GeneratePackingList(ctx context.Context, in GenerationInput) ([]domain.PackingItem, error) {
	msgs := modelTranscript(in.Transcript, "Create the packing list now.")
	resp, err := g.generate(ctx, "packing_list", packingSystemPrompt(in), msgs, g.cfg.ArtifactMaxTokens)
	if err != nil {
		return nil, err
	}
	var out struct {
		Items []domain.PackingItem `json:"items"`
	}
	if err := decodeReply("packing_list", resp.Content, &out); err != nil {
		return nil, err
	}
	items := validatePacking(out.Items)
	if len(items) == 0 {
		return nil, invalid("packing_list", "no items")
	}
	return items, nil
}

// GenerateBudgetCategories produces budget categories that the trip does
// not have yet.
func (g *Generator) GenerateBudgetCategories(ctx context.Context, in GenerationInput) ([]domain.BudgetCategory, error) {
	msgs := modelTranscript(in.Transcript, "Propose the budget categories now.")
	resp, err := g.generate(ctx, "budget_categories", budgetSystemPrompt(in), msgs, g.cfg.ArtifactMaxTokens)
	if err != nil {
		return nil, err
	}
	var out struct {
		BudgetCategories []domain.BudgetCategory `json:"budget_categories"`
	}
	if err := decodeReply("budget", resp.Content, &out); err != nil {
		return nil, err
	}
	return validateBudget(out.BudgetCategories, in.Context.ExistingSummary)
}

// generate is complete for JSON payloads, where a truncated reply is
// unusable.
func (g *Generator) generate(ctx context.Context, purpose, system string, msgs []llm.Message, maxTokens int64) (*llm.Response, error) {
	resp, err := g.complete(ctx, purpose, system, msgs, maxTokens)
	if err != nil {
		return nil, err
	}
	if resp.Truncated() {
		return nil, invalid(purpose, "reply truncated at %d tokens", maxTokens)
	}
	return resp, nil
}

func (g *Generator) complete(ctx context.Context, purpose, system string, msgs []llm.Message, maxTokens int64) (*llm.Response, error) {
	if !g.Available() {
		return nil, llm.ErrNotConfigured
	}
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.provider.Complete(ctx, msgs, llm.Options{System: system, MaxTokens: maxTokens, Purpose: purpose})
	g.metrics.RecordLLMCall(purpose, err == nil, time.Since(start))
	if err != nil {
		g.log.WarnContext(ctx, "model call failed", "purpose", purpose, "provider", g.provider.Name(), "error", err)
		return nil, upstreamError(err)
	}
	g.log.DebugContext(ctx, "model call",
		"purpose", purpose,
		"prompt_tokens", resp.PromptTokens,
		"output_tokens", resp.OutputTokens,
		"finish_reason", resp.FinishReason,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// upstreamError maps provider failures onto the domain taxonomy.
func upstreamError(err error) error {
	if llm.IsTransient(err) {
		return fmt.Errorf("%w: %v", domain.ErrTransientUpstream, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("model call: %w", err)
}
