//go:build sqlite

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

// GetConversation returns the conversation for key with its messages.
func (s *Store) GetConversation(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	var conv domain.Conversation
	var state, createdAt, updatedAt string
	var tokenWarning int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, trip_key, mode, phase, state, transcript_start, credits_snapshot, token_warning, active_job_id, created_at, updated_at
		 FROM conversations WHERE user_id = ? AND trip_key = ? AND mode = ?`,
		key.UserID, key.TripID, string(key.Mode),
	).Scan(&conv.ID, &conv.UserID, &conv.TripID, &conv.Mode, &conv.Phase, &state, &conv.TranscriptStart,
		&conv.CreditsBalance, &tokenWarning, &conv.ActiveJobID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	conv.TokenWarning = tokenWarning != 0
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)
	if err := storage.DecodeConversationState([]byte(state), &conv); err != nil {
		return nil, fmt.Errorf("decode conversation state: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, conversation_id, role, content, credits_cost, credits_after, created_at
		 FROM conversation_messages WHERE conversation_id = ? ORDER BY seq ASC`, conv.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var msg domain.Message
		var cost, after sql.NullInt64
		var msgCreatedAt string
		if err := rows.Scan(&msg.Seq, &msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &cost, &after, &msgCreatedAt); err != nil {
			return nil, err
		}
		msg.CreditsCost = nullIntPtr(cost)
		msg.CreditsAfter = nullIntPtr(after)
		msg.CreatedAt = parseTime(msgCreatedAt)
		conv.Messages = append(conv.Messages, msg)
	}
	return &conv, rows.Err()
}

// SaveConversation upserts the conversation row and appends new messages in one transaction.
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
	now := s.stamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id, createdAt string
	err = tx.QueryRowContext(ctx,
		`INSERT INTO conversations (id, user_id, trip_key, mode, phase, state, transcript_start, credits_snapshot, token_warning, active_job_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, trip_key, mode) DO UPDATE SET
		   phase = excluded.phase, state = excluded.state, transcript_start = excluded.transcript_start,
		   credits_snapshot = excluded.credits_snapshot, token_warning = excluded.token_warning,
		   active_job_id = excluded.active_job_id, updated_at = excluded.updated_at
		 RETURNING id, created_at`,
		conv.ID, conv.UserID, conv.TripID, string(conv.Mode), string(conv.Phase), string(state),
		conv.TranscriptStart, conv.CreditsBalance, boolInt(conv.TokenWarning), conv.ActiveJobID, now, now,
	).Scan(&id, &createdAt)
	if err != nil {
		return err
	}
	conv.ID = id
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(now)

	for i := range conv.Messages {
		if conv.Messages[i].Seq != 0 {
			continue
		}
		if err := appendMessage(ctx, tx, id, &conv.Messages[i], now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AppendMessage stores a single message, ignoring duplicates by ID.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return err
	}
	now := s.stamp()
	if err := appendMessage(ctx, tx, conversationID, msg, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

func appendMessage(ctx context.Context, tx *sql.Tx, conversationID string, msg *domain.Message, now string) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conversationID
	created := now
	if !msg.CreatedAt.IsZero() {
		created = formatTime(msg.CreatedAt)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_messages (id, conversation_id, role, content, credits_cost, credits_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(conversation_id, id) DO NOTHING`,
		msg.ID, conversationID, string(msg.Role), msg.Content, msg.CreditsCost, msg.CreditsAfter, created,
	); err != nil {
		return err
	}
	var createdAt string
	if err := tx.QueryRowContext(ctx,
		`SELECT seq, created_at FROM conversation_messages WHERE conversation_id = ? AND id = ?`, conversationID, msg.ID).Scan(&msg.Seq, &createdAt); err != nil {
		return err
	}
	msg.CreatedAt = parseTime(createdAt)
	return nil
}

// DeleteConversation removes a conversation and its messages (via CASCADE).
func (s *Store) DeleteConversation(ctx context.Context, key domain.ConversationKey) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ? AND trip_key = ? AND mode = ?`,
		key.UserID, key.TripID, string(key.Mode))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
