package domain

import (
	"strings"
	"time"
)

// Mode distinguishes planning a new trip from enhancing an existing one.
type Mode string

const (
	ModeCreate  Mode = "create"
	ModeEnhance Mode = "enhance"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeCreate || m == ModeEnhance
}

// Phase is the conversation state machine position.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseConversing          Phase = "conversing"
	PhasePlanReview          Phase = "plan_review"
	PhaseGeneratingStructure Phase = "generating_structure"
	PhaseStructureOverview   Phase = "structure_overview"
	PhaseGeneratingPlan      Phase = "generating_plan"
	PhasePreviewingPlan      Phase = "previewing_plan"
	PhaseExecutingPlan       Phase = "executing_plan"
	PhaseCompleted           Phase = "completed"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationKey is the identity of a live conversation. TripID is empty in create mode.
type ConversationKey struct {
	UserID string `json:"user_id"`
	TripID string `json:"trip_id,omitempty"`
	Mode   Mode   `json:"mode"`
}

// String renders the key for logs and lock names.
func (k ConversationKey) String() string {
	trip := k.TripID
	if trip == "" {
		trip = "-"
	}
	return k.UserID + "/" + trip + "/" + string(k.Mode)
}

// Conversation is the durable record of one planning dialogue.
type Conversation struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	TripID string `json:"trip_id,omitempty"`
	Mode   Mode   `json:"mode"`
	Phase  Phase  `json:"phase"`

	Messages []Message `json:"messages"`
	// TranscriptStart is the index of the first message sent to the model.
	// Messages before it belong to a conversation that was reset.
	TranscriptStart int `json:"transcript_start"`

	LastMetadata   *TurnMetadata    `json:"last_metadata,omitempty"`
	CreditsBalance int              `json:"credits_balance_snapshot"`
	TokenWarning   bool             `json:"token_warning"`
	Context        TripContext      `json:"context"`
	Structure      *PlanStructure   `json:"structure,omitempty"`
	Plan           *Plan            `json:"plan,omitempty"`
	Conflicts      ConflictSet      `json:"conflicts,omitempty"`
	ActiveJobID    string           `json:"active_job_id,omitempty"`
	LastResult     *ExecutionResult `json:"last_result,omitempty"`

	// Restored is set on load when prior messages exist. Not persisted.
	Restored bool `json:"restored"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the conversation identity.
func (c *Conversation) Key() ConversationKey {
	return ConversationKey{UserID: c.UserID, TripID: c.TripID, Mode: c.Mode}
}

// Transcript returns the messages of the current (post-reset) dialogue.
func (c *Conversation) Transcript() []Message {
	if c.TranscriptStart >= len(c.Messages) {
		return nil
	}
	return c.Messages[c.TranscriptStart:]
}

// TranscriptChars returns the total content length of the current transcript.
func (c *Conversation) TranscriptChars() int {
	n := 0
	for _, m := range c.Transcript() {
		n += len(m.Content)
	}
	return n
}

// PendingUserMessage returns the trailing unanswered user message, if any.
func (c *Conversation) PendingUserMessage() *Message {
	tr := c.Transcript()
	if len(tr) == 0 {
		return nil
	}
	last := &c.Messages[len(c.Messages)-1]
	if last.Role != RoleUser {
		return nil
	}
	return last
}

// Message is a single entry in a conversation transcript.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreditsCost    *int      `json:"credits_cost,omitempty"`
	CreditsAfter   *int      `json:"credits_after,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AgentAction is a follow-up the assistant asks the client to trigger.
type AgentAction string

const (
	AgentActionPackingList       AgentAction = "generate_packing_list"
	AgentActionBudgetCategories  AgentAction = "generate_budget_categories"
	AgentActionGenerateStructure AgentAction = "generate_structure"
	AgentActionGeneratePlan      AgentAction = "generate_plan"
)

// IsValid reports whether a is a known action.
func (a AgentAction) IsValid() bool {
	switch a {
	case AgentActionPackingList, AgentActionBudgetCategories, AgentActionGenerateStructure, AgentActionGeneratePlan:
		return true
	}
	return false
}

// FormOption is a quick-reply choice offered by the assistant.
type FormOption struct {
	Label string `json:"label"`
}

// TurnMetadata is the structured part of an assistant reply.
type TurnMetadata struct {
	ReadyToPlan        bool         `json:"ready_to_plan"`
	SuggestedQuestions []string     `json:"suggested_questions"`
	FormOptions        []FormOption `json:"form_options"`
	AgentAction        *AgentAction `json:"agent_action,omitempty"`
}

// TripContext is what the assistant knows about the trip being planned.
type TripContext struct {
	Destination     string            `json:"destination,omitempty"`
	StartDate       string            `json:"start_date,omitempty"`
	EndDate         string            `json:"end_date,omitempty"`
	Currency        string            `json:"currency,omitempty"`
	Travelers       int               `json:"travelers,omitempty"`
	Preferences     map[string]string `json:"preferences,omitempty"`
	ExistingSummary *TripSummary      `json:"existing_summary,omitempty"`
}

// TripSummary lists the entities a trip already has, for de-duplication prompts.
type TripSummary struct {
	TripName         string   `json:"trip_name"`
	Stops            []string `json:"stops,omitempty"`
	DayDates         []string `json:"day_dates,omitempty"`
	ActivityTitles   []string `json:"activity_titles,omitempty"`
	BudgetCategories []string `json:"budget_categories,omitempty"`
}

// HasBudgetCategory reports whether the summary contains name, case-insensitively.
func (s *TripSummary) HasBudgetCategory(name string) bool {
	if s == nil {
		return false
	}
	for _, c := range s.BudgetCategories {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}
