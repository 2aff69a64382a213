// Package audit records credit movements for analytics and support.
// Writing an event is best-effort: callers log and ignore failures.
package audit

import (
	"context"
	"time"
)

// AuditEvent represents a single credit movement.
type AuditEvent struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Actor        string         `json:"actor"`     // user id
	Action       string         `json:"action"`    // "debit", "refund", "grant"
	Operation    string         `json:"operation"` // metered operation, e.g. "plan_generation"
	Amount       int            `json:"amount"`
	BalanceAfter int            `json:"balance_after"`
	ResourceType string         `json:"resource_type"` // "conversation", "job"
	ResourceID   string         `json:"resource_id,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// ListOptions provides filtering and pagination options for listing audit events.
type ListOptions struct {
	Limit     int
	Offset    int
	Actor     string
	Action    string
	Operation string
	Since     *time.Time
	Until     *time.Time
}

// AuditLogger defines the interface for audit logging operations.
type AuditLogger interface {
	// Log records an audit event.
	Log(ctx context.Context, event *AuditEvent) error

	// List retrieves audit events with optional filtering, newest first.
	List(ctx context.Context, opts ListOptions) ([]*AuditEvent, int, error)

	// GetByResource retrieves audit events for a specific resource.
	GetByResource(ctx context.Context, resourceType, resourceID string) ([]*AuditEvent, error)
}

// Valid actions for audit events.
const (
	ActionDebit  = "debit"
	ActionRefund = "refund"
	ActionGrant  = "grant"
)

// Valid resource types for audit events.
const (
	ResourceConversation = "conversation"
	ResourceJob          = "job"
	ResourceAccount      = "account"
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
