//go:build sqlite

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SQLiteAuditLogger is a SQLite-backed implementation of AuditLogger.
// It shares the database of the main store; the audit_logs table is
// created by the store migrations.
type SQLiteAuditLogger struct {
	db *sql.DB
}

// NewSQLiteAuditLoggerFromDB creates an audit logger over an existing connection.
func NewSQLiteAuditLoggerFromDB(db *sql.DB) *SQLiteAuditLogger {
	return &SQLiteAuditLogger{db: db}
}

// Log records an audit event to the database.
func (s *SQLiteAuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var details sql.NullString
	if len(event.Details) > 0 {
		if data, err := json.Marshal(event.Details); err == nil {
			details = sql.NullString{String: string(data), Valid: true}
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, timestamp, actor, action, operation, amount, balance_after, resource_type, resource_id, request_id, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.Actor,
		event.Action,
		event.Operation,
		event.Amount,
		event.BalanceAfter,
		event.ResourceType,
		event.ResourceID,
		sql.NullString{String: event.RequestID, Valid: event.RequestID != ""},
		details,
	)
	return err
}

const sqliteAuditColumns = "id, timestamp, actor, action, operation, amount, balance_after, resource_type, resource_id, request_id, details"

// List retrieves audit events with optional filtering.
func (s *SQLiteAuditLogger) List(ctx context.Context, opts ListOptions) ([]*AuditEvent, int, error) {
	where := "1=1"
	args := []any{}

	if opts.Actor != "" {
		where += " AND actor = ?"
		args = append(args, opts.Actor)
	}
	if opts.Action != "" {
		where += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.Operation != "" {
		where += " AND operation = ?"
		args = append(args, opts.Operation)
	}
	if opts.Since != nil {
		where += " AND timestamp >= ?"
		args = append(args, opts.Since.UTC().Format(time.RFC3339Nano))
	}
	if opts.Until != nil {
		where += " AND timestamp <= ?"
		args = append(args, opts.Until.UTC().Format(time.RFC3339Nano))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + sqliteAuditColumns + " FROM audit_logs WHERE " + where + " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, normalizeLimit(opts.Limit), opts.Offset)
	events, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// GetByResource retrieves audit events for a specific resource.
func (s *SQLiteAuditLogger) GetByResource(ctx context.Context, resourceType, resourceID string) ([]*AuditEvent, error) {
	return s.query(ctx,
		"SELECT "+sqliteAuditColumns+" FROM audit_logs WHERE resource_type = ? AND resource_id = ? ORDER BY timestamp DESC LIMIT 1000",
		resourceType, resourceID)
}

func (s *SQLiteAuditLogger) query(ctx context.Context, query string, args ...any) ([]*AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*AuditEvent
	for rows.Next() {
		var e AuditEvent
		var timestamp string
		var requestID, details sql.NullString
		if err := rows.Scan(&e.ID, &timestamp, &e.Actor, &e.Action, &e.Operation, &e.Amount, &e.BalanceAfter,
			&e.ResourceType, &e.ResourceID, &requestID, &details); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		e.RequestID = requestID.String
		if details.Valid && details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &e.Details)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
