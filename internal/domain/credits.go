package domain

import "time"

// Operation names a metered, AI-backed operation.
type Operation string

const (
	OpConversationTurn Operation = "conversation_turn"
	OpStructure        Operation = "structure_generation"
	OpPlan             Operation = "plan_generation"
	OpAdjust           Operation = "plan_adjustment"
	OpPackingList      Operation = "packing_list"
	OpBudgetCategories Operation = "budget_categories"
)

// CreditAccount is a user's ledger entry. Balance is never negative.
type CreditAccount struct {
	UserID       string    `json:"user_id"`
	Balance      int       `json:"balance"`
	MonthlyQuota int       `json:"monthly_quota"`
	UpdatedAt    time.Time `json:"updated_at"`
}
