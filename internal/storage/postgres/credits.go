//go:build postgres

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

func (s *Store) GetCreditAccount(ctx context.Context, userID string) (domain.CreditAccount, error) {
	var a domain.CreditAccount
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance, monthly_quota, updated_at FROM credit_accounts WHERE user_id = $1`, userID,
	).Scan(&a.UserID, &a.Balance, &a.MonthlyQuota, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CreditAccount{}, storage.ErrNotFound
	}
	return a, err
}

func (s *Store) EnsureCreditAccount(ctx context.Context, acct domain.CreditAccount) (domain.CreditAccount, error) {
	if acct.UserID == "" || acct.Balance < 0 {
		return domain.CreditAccount{}, fmt.Errorf("user required and balance non-negative: %w", storage.ErrValidation)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO credit_accounts (user_id, balance, monthly_quota) VALUES ($1, $2, $3) ON CONFLICT (user_id) DO NOTHING`,
		acct.UserID, acct.Balance, acct.MonthlyQuota); err != nil {
		return domain.CreditAccount{}, err
	}
	return s.GetCreditAccount(ctx, acct.UserID)
}

// DebitCredits is a single conditional update; the balance never goes negative.
func (s *Store) DebitCredits(ctx context.Context, userID string, amount int) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx,
		`UPDATE credit_accounts SET balance = balance - $1, updated_at = NOW()
		 WHERE user_id = $2 AND balance >= $1 RETURNING balance`,
		amount, userID,
	).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	acct, gerr := s.GetCreditAccount(ctx, userID)
	if gerr != nil {
		return 0, gerr
	}
	return acct.Balance, domain.ErrInsufficientCredits
}

func (s *Store) AddCredits(ctx context.Context, userID string, amount int) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx,
		`UPDATE credit_accounts SET balance = balance + $1, updated_at = NOW() WHERE user_id = $2 RETURNING balance`,
		amount, userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	return balance, err
}
