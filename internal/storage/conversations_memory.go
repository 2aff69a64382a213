package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

type memConversation struct {
	conv  domain.Conversation // Messages is not used here
	state []byte
	msgs  []domain.Message
	ids   map[string]int64
}

func (m *MemoryStore) GetConversation(_ context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.conversations[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	out := row.conv
	if err := DecodeConversationState(row.state, &out); err != nil {
		return nil, err
	}
	out.Messages = make([]domain.Message, len(row.msgs))
	copy(out.Messages, row.msgs)
	return &out, nil
}

func (m *MemoryStore) SaveConversation(_ context.Context, conv *domain.Conversation) error {
	if conv.UserID == "" || !conv.Mode.IsValid() {
		return fmt.Errorf("user and mode required: %w", ErrValidation)
	}
	state, err := EncodeConversationState(conv)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := conv.Key().String()
	row, ok := m.conversations[key]
	if !ok {
		if conv.ID == "" {
			conv.ID = uuid.NewString()
		}
		conv.CreatedAt = now
		row = &memConversation{ids: make(map[string]int64)}
		m.conversations[key] = row
	} else {
		conv.ID = row.conv.ID
		conv.CreatedAt = row.conv.CreatedAt
	}
	conv.UpdatedAt = now

	for i := range conv.Messages {
		if conv.Messages[i].Seq == 0 {
			m.appendLocked(row, conv.ID, &conv.Messages[i])
		}
	}

	stored := *conv
	stored.Messages = nil
	stored.Restored = false
	row.conv = stored
	row.state = state
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, conversationID string, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.conversations {
		if row.conv.ID == conversationID {
			m.appendLocked(row, conversationID, msg)
			row.conv.UpdatedAt = m.now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) appendLocked(row *memConversation, conversationID string, msg *domain.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conversationID
	if seq, ok := row.ids[msg.ID]; ok {
		msg.Seq = seq
		return
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	m.msgSeq++
	msg.Seq = m.msgSeq
	row.ids[msg.ID] = msg.Seq
	row.msgs = append(row.msgs, *msg)
}

func (m *MemoryStore) DeleteConversation(_ context.Context, key domain.ConversationKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[key.String()]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, key.String())
	return nil
}
