package storage

import (
	"context"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

// CreditStore persists per-user credit balances.
type CreditStore interface {
	// GetCreditAccount returns the account or ErrNotFound.
	GetCreditAccount(ctx context.Context, userID string) (domain.CreditAccount, error)

	// EnsureCreditAccount inserts acct unless an account for the user
	// exists, and returns the stored account either way.
	EnsureCreditAccount(ctx context.Context, acct domain.CreditAccount) (domain.CreditAccount, error)

	// DebitCredits subtracts amount in a single conditional update and
	// returns the new balance. Returns domain.ErrInsufficientCredits when the
	// balance is lower than amount, leaving it unchanged.
	DebitCredits(ctx context.Context, userID string, amount int) (int, error)

	// AddCredits adds amount and returns the new balance.
	AddCredits(ctx context.Context, userID string, amount int) (int, error)
}
