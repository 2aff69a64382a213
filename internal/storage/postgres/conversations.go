//go:build postgres

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

// GetConversation returns the conversation for key with its messages.
func (s *Store) GetConversation(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	var conv domain.Conversation
	var state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, trip_key, mode, phase, state, transcript_start, credits_snapshot, token_warning, active_job_id, created_at, updated_at
		 FROM conversations WHERE user_id = $1 AND trip_key = $2 AND mode = $3`,
		key.UserID, key.TripID, string(key.Mode),
	).Scan(&conv.ID, &conv.UserID, &conv.TripID, &conv.Mode, &conv.Phase, &state, &conv.TranscriptStart,
		&conv.CreditsBalance, &conv.TokenWarning, &conv.ActiveJobID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if err := storage.DecodeConversationState(state, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation state: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT seq, id, conversation_id, role, content, credits_cost, credits_after, created_at
		 FROM conversation_messages WHERE conversation_id = $1 ORDER BY seq ASC`, conv.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.Seq, &msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.CreditsCost, &msg.CreditsAfter, &msg.CreatedAt); err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return &conv, rows.Err()
}

// SaveConversation upserts the conversation and appends new messages in one transaction.
func (s *Store) SaveConversation(ctx context.Context, conv *domain.Conversation) error {
	if conv.UserID == "" || !conv.Mode.IsValid() {
		return fmt.Errorf("user and mode required: %w", storage.ErrValidation)
	}
	state, err := storage.EncodeConversationState(conv)
	if err != nil {
		return err
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO conversations (id, user_id, trip_key, mode, phase, state, transcript_start, credits_snapshot, token_warning, active_job_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
			 ON CONFLICT (user_id, trip_key, mode) DO UPDATE SET
			   phase = EXCLUDED.phase, state = EXCLUDED.state, transcript_start = EXCLUDED.transcript_start,
			   credits_snapshot = EXCLUDED.credits_snapshot, token_warning = EXCLUDED.token_warning,
			   active_job_id = EXCLUDED.active_job_id, updated_at = NOW()
			 RETURNING id, created_at, updated_at`,
			conv.ID, conv.UserID, conv.TripID, string(conv.Mode), string(conv.Phase), state,
			conv.TranscriptStart, conv.CreditsBalance, conv.TokenWarning, conv.ActiveJobID,
		).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
		if err != nil {
			return err
		}
		for i := range conv.Messages {
			if conv.Messages[i].Seq != 0 {
				continue
			}
			if err := appendMessage(ctx, tx, conv.ID, &conv.Messages[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendMessage stores a single message, ignoring duplicates by ID.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		return appendMessage(ctx, tx, conversationID, msg)
	})
}

func appendMessage(ctx context.Context, tx pgx.Tx, conversationID string, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conversationID
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_messages (id, conversation_id, role, content, credits_cost, credits_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (conversation_id, id) DO NOTHING`,
		msg.ID, conversationID, string(msg.Role), msg.Content, msg.CreditsCost, msg.CreditsAfter, created,
	); err != nil {
		return err
	}
	return tx.QueryRow(ctx,
		`SELECT seq, created_at FROM conversation_messages WHERE conversation_id = $1 AND id = $2`, conversationID, msg.ID).
		Scan(&msg.Seq, &msg.CreatedAt)
}

// DeleteConversation removes a conversation and its messages (via CASCADE).
func (s *Store) DeleteConversation(ctx context.Context, key domain.ConversationKey) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE user_id = $1 AND trip_key = $2 AND mode = $3`,
		key.UserID, key.TripID, string(key.Mode))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
