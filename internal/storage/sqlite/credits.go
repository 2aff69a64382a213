//go:build sqlite

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

func (s *Store) GetCreditAccount(ctx context.Context, userID string) (domain.CreditAccount, error) {
	var a domain.CreditAccount
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, balance, monthly_quota, updated_at FROM credit_accounts WHERE user_id = ?`, userID,
	).Scan(&a.UserID, &a.Balance, &a.MonthlyQuota, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CreditAccount{}, storage.ErrNotFound
		}
		return domain.CreditAccount{}, err
	}
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

func (s *Store) EnsureCreditAccount(ctx context.Context, acct domain.CreditAccount) (domain.CreditAccount, error) {
	if acct.UserID == "" || acct.Balance < 0 {
		return domain.CreditAccount{}, fmt.Errorf("user required and balance non-negative: %w", storage.ErrValidation)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_accounts (user_id, balance, monthly_quota, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		acct.UserID, acct.Balance, acct.MonthlyQuota, s.stamp()); err != nil {
		return domain.CreditAccount{}, err
	}
	return s.GetCreditAccount(ctx, acct.UserID)
}

// DebitCredits is a single conditional update; the balance never goes negative.
func (s *Store) DebitCredits(ctx context.Context, userID string, amount int) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx,
		`UPDATE credit_accounts SET balance = balance - ?, updated_at = ?
		 WHERE user_id = ? AND balance >= ? RETURNING balance`,
		amount, s.stamp(), userID, amount,
	).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
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
	err := s.db.QueryRowContext(ctx,
		`UPDATE credit_accounts SET balance = balance + ?, updated_at = ? WHERE user_id = ? RETURNING balance`,
		amount, s.stamp(), userID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	return balance, err
}
