package storage

import (
	"context"
	"fmt"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

type creditRow = domain.CreditAccount

func (m *MemoryStore) GetCreditAccount(_ context.Context, userID string) (domain.CreditAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.credits[userID]
	if !ok {
		return domain.CreditAccount{}, ErrNotFound
	}
	return acct, nil
}

func (m *MemoryStore) EnsureCreditAccount(_ context.Context, acct domain.CreditAccount) (domain.CreditAccount, error) {
	if acct.UserID == "" || acct.Balance < 0 {
		return domain.CreditAccount{}, fmt.Errorf("user required and balance non-negative: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.credits[acct.UserID]; ok {
		return existing, nil
	}
	acct.UpdatedAt = m.now()
	m.credits[acct.UserID] = acct
	return acct, nil
}

func (m *MemoryStore) DebitCredits(_ context.Context, userID string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.credits[userID]
	if !ok {
		return 0, ErrNotFound
	}
	if acct.Balance < amount {
		return acct.Balance, domain.ErrInsufficientCredits
	}
	acct.Balance -= amount
	acct.UpdatedAt = m.now()
	m.credits[userID] = acct
	return acct.Balance, nil
}

func (m *MemoryStore) AddCredits(_ context.Context, userID string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.credits[userID]
	if !ok {
		return 0, ErrNotFound
	}
	acct.Balance += amount
	acct.UpdatedAt = m.now()
	m.credits[userID] = acct
	return acct.Balance, nil
}
