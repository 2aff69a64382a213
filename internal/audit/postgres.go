//go:build postgres

package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAuditLogger is a PostgreSQL-backed implementation of AuditLogger.
type PostgresAuditLogger struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditLoggerFromPool creates an audit logger using an existing pool.
func NewPostgresAuditLoggerFromPool(pool *pgxpool.Pool) *PostgresAuditLogger {
	return &PostgresAuditLogger{pool: pool}
}

// Log records an audit event to the database.
func (s *PostgresAuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var details []byte
	if len(event.Details) > 0 {
		details, _ = json.Marshal(event.Details)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, timestamp, actor, action, operation, amount, balance_after,
			resource_type, resource_id, request_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb)`,
		event.ID, event.Timestamp, event.Actor, event.Action, event.Operation,
		event.Amount, event.BalanceAfter, event.ResourceType, event.ResourceID,
		nullStr(event.RequestID), nullBytes(details),
	)
	return err
}

const pgAuditColumns = "id, timestamp, actor, action, operation, amount, balance_after, resource_type, resource_id, request_id, details"

// List retrieves audit events with optional filtering.
func (s *PostgresAuditLogger) List(ctx context.Context, opts ListOptions) ([]*AuditEvent, int, error) {
	where := "TRUE"
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		where += " AND " + clause + " $" + strconv.Itoa(len(args))
	}

	if opts.Actor != "" {
		add("actor =", opts.Actor)
	}
	if opts.Action != "" {
		add("action =", opts.Action)
	}
	if opts.Operation != "" {
		add("operation =", opts.Operation)
	}
	if opts.Since != nil {
		add("timestamp >=", *opts.Since)
	}
	if opts.Until != nil {
		add("timestamp <=", *opts.Until)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := "SELECT " + pgAuditColumns + " FROM audit_logs WHERE " + where +
		" ORDER BY timestamp DESC LIMIT $" + strconv.Itoa(n+1) + " OFFSET $" + strconv.Itoa(n+2)
	args = append(args, normalizeLimit(opts.Limit), opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	events, err := pgx.CollectRows(rows, scanAuditEvent)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// GetByResource retrieves audit events for a specific resource.
func (s *PostgresAuditLogger) GetByResource(ctx context.Context, resourceType, resourceID string) ([]*AuditEvent, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+pgAuditColumns+" FROM audit_logs WHERE resource_type = $1 AND resource_id = $2 ORDER BY timestamp DESC LIMIT 1000",
		resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAuditEvent)
}

func scanAuditEvent(row pgx.CollectableRow) (*AuditEvent, error) {
	var e AuditEvent
	var requestID *string
	var details []byte
	if err := row.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Operation, &e.Amount, &e.BalanceAfter,
		&e.ResourceType, &e.ResourceID, &requestID, &details); err != nil {
		return nil, err
	}
	if requestID != nil {
		e.RequestID = *requestID
	}
	if len(details) > 0 {
		_ = json.Unmarshal(details, &e.Details)
	}
	return &e, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
