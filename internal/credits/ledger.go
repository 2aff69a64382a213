// Package credits implements the credit ledger that gates every metered
// model call. Debits are a single conditional update in the store, so
// concurrent charges can never overdraw a balance.
package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrGSommer/vacation-planner-sub001/internal/audit"
	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

// Ref ties a ledger movement to the resource that caused it.
type Ref struct {
	ResourceType string // audit.ResourceConversation or audit.ResourceJob
	ResourceID   string
}

// Receipt describes a successful debit. Refund takes it back.
type Receipt struct {
	UserID       string
	Operation    domain.Operation
	Amount       int
	BalanceAfter int
}

// Ledger charges, refunds and grants credits.
type Ledger struct {
	store   storage.CreditStore
	policy  Policy
	audit   audit.AuditLogger
	metrics *observability.Metrics
	log     observability.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAudit records every movement to a.
func WithAudit(a audit.AuditLogger) Option { return func(l *Ledger) { l.audit = a } }

// WithMetrics records charges and rejections.
func WithMetrics(m *observability.Metrics) Option { return func(l *Ledger) { l.metrics = m } }

// WithLogger sets the logger.
func WithLogger(log observability.Logger) Option {
	return func(l *Ledger) { l.log = log.WithComponent("credits") }
}

// NewLedger returns a Ledger over store.
func NewLedger(store storage.CreditStore, policy Policy, opts ...Option) *Ledger {
	l := &Ledger{store: store, policy: policy, log: observability.NopLogger()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Policy returns the cost table in effect.
func (l *Ledger) Policy() Policy { return l.policy }

// Balance returns the user's account, provisioning it on first use.
func (l *Ledger) Balance(ctx context.Context, userID string) (domain.CreditAccount, error) {
	acct, err := l.store.GetCreditAccount(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return l.provision(ctx, userID)
	}
	return acct, err
}

func (l *Ledger) provision(ctx context.Context, userID string) (domain.CreditAccount, error) {
	acct, err := l.store.EnsureCreditAccount(ctx, domain.CreditAccount{
		UserID:       userID,
		Balance:      l.policy.InitialBalance,
		MonthlyQuota: l.policy.MonthlyQuota,
	})
	if err != nil {
		return domain.CreditAccount{}, fmt.Errorf("provision credit account: %w", err)
	}
	return acct, nil
}

// Charge debits the cost of op. When the balance is short it returns an
// error matching domain.ErrInsufficientCredits and nothing is debited.
func (l *Ledger) Charge(ctx context.Context, userID string, op domain.Operation, ref Ref) (Receipt, error) {
	amount := l.policy.Cost(op)
	balance, err := l.store.DebitCredits(ctx, userID, amount)
	if errors.Is(err, storage.ErrNotFound) {
		if _, err = l.provision(ctx, userID); err != nil {
			return Receipt{}, err
		}
		balance, err = l.store.DebitCredits(ctx, userID, amount)
	}
	if errors.Is(err, domain.ErrInsufficientCredits) {
		l.metrics.RecordChargeRejected(string(op))
		l.log.InfoContext(ctx, "charge rejected", "user_id", userID, "operation", op, "cost", amount, "balance", balance)
		return Receipt{}, fmt.Errorf("%s costs %d, balance %d: %w", op, amount, balance, domain.ErrInsufficientCredits)
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("debit credits: %w", err)
	}

	r := Receipt{UserID: userID, Operation: op, Amount: amount, BalanceAfter: balance}
	l.metrics.RecordCharge(string(op), amount)
	l.log.InfoContext(ctx, "credits charged", "user_id", userID, "operation", op, "amount", amount, "balance", balance)
	l.record(ctx, audit.ActionDebit, r, ref)
	return r, nil
}

// Refund returns a receipt's credits after the charged call failed upstream.
func (l *Ledger) Refund(ctx context.Context, r Receipt, ref Ref) (int, error) {
	if r.Amount == 0 {
		return r.BalanceAfter, nil
	}
	balance, err := l.store.AddCredits(ctx, r.UserID, r.Amount)
	if err != nil {
		return 0, fmt.Errorf("refund credits: %w", err)
	}
	l.log.InfoContext(ctx, "credits refunded", "user_id", r.UserID, "operation", r.Operation, "amount", r.Amount, "balance", balance)
	r.BalanceAfter = balance
	l.record(ctx, audit.ActionRefund, r, ref)
	return balance, nil
}

// Grant tops up a balance, provisioning the account if needed.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive: %w", storage.ErrValidation)
	}
	if _, err := l.Balance(ctx, userID); err != nil {
		return 0, err
	}
	balance, err := l.store.AddCredits(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	l.record(ctx, audit.ActionGrant, Receipt{UserID: userID, Amount: amount, BalanceAfter: balance},
		Ref{ResourceType: audit.ResourceAccount, ResourceID: userID})
	return balance, nil
}

// record writes the audit event. Failures are logged and dropped.
func (l *Ledger) record(ctx context.Context, action string, r Receipt, ref Ref) {
	if l.audit == nil {
		return
	}
	err := l.audit.Log(ctx, &audit.AuditEvent{
		Actor:        r.UserID,
		Action:       action,
		Operation:    string(r.Operation),
		Amount:       r.Amount,
		BalanceAfter: r.BalanceAfter,
		ResourceType: ref.ResourceType,
		ResourceID:   ref.ResourceID,
		RequestID:    observability.RequestIDFromContext(ctx),
	})
	if err != nil {
		l.log.WarnContext(ctx, "audit write failed", "action", action, "error", err)
	}
}
