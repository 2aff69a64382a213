package storage

import (
	"context"
	"encoding/json"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

// ConversationStore persists planning conversations, one per ConversationKey.
type ConversationStore interface {
	// GetConversation returns the conversation for key with its messages
	// ordered by sequence. Returns ErrNotFound if none exists.
	GetConversation(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error)

	// SaveConversation upserts the conversation by key. A new conversation
	// gets an ID; an existing one keeps its ID, which is written back to conv.
	// Messages without a sequence are appended as by AppendMessage.
	SaveConversation(ctx context.Context, conv *domain.Conversation) error

	// AppendMessage stores msg under the conversation and assigns its
	// sequence. Appending a message ID that already exists is a no-op that
	// still reports the stored sequence.
	AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) error

	// DeleteConversation removes the conversation and its messages.
	DeleteConversation(ctx context.Context, key domain.ConversationKey) error
}

// ConversationState is the JSON-encoded part of a conversation row.
type ConversationState struct {
	LastMetadata *domain.TurnMetadata    `json:"last_metadata,omitempty"`
	Context      domain.TripContext      `json:"context"`
	Structure    *domain.PlanStructure   `json:"structure,omitempty"`
	Plan         *domain.Plan            `json:"plan,omitempty"`
	Conflicts    domain.ConflictSet      `json:"conflicts,omitempty"`
	LastResult   *domain.ExecutionResult `json:"last_result,omitempty"`
}

// EncodeConversationState marshals the state column of conv.
func EncodeConversationState(conv *domain.Conversation) ([]byte, error) {
	return json.Marshal(ConversationState{
		LastMetadata: conv.LastMetadata,
		Context:      conv.Context,
		Structure:    conv.Structure,
		Plan:         conv.Plan,
		Conflicts:    conv.Conflicts,
		LastResult:   conv.LastResult,
	})
}

// DecodeConversationState fills conv from a state column.
func DecodeConversationState(data []byte, conv *domain.Conversation) error {
	if len(data) == 0 {
		return nil
	}
	var st ConversationState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	conv.LastMetadata = st.LastMetadata
	conv.Context = st.Context
	conv.Structure = st.Structure
	conv.Plan = st.Plan
	conv.Conflicts = st.Conflicts
	conv.LastResult = st.LastResult
	return nil
}
