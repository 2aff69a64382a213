package credits

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

// Policy is the cost table and provisioning defaults for new accounts.
type Policy struct {
	Costs          map[domain.Operation]int `yaml:"costs"`
	InitialBalance int                      `yaml:"initial_balance"`
	MonthlyQuota   int                      `yaml:"monthly_quota"`
}

// DefaultPolicy returns the built-in cost table.
func DefaultPolicy() Policy {
	return Policy{
		Costs: map[domain.Operation]int{
			domain.OpConversationTurn: 1,
			domain.OpStructure:        2,
			domain.OpPlan:             5,
			domain.OpAdjust:           5,
			domain.OpPackingList:      1,
			domain.OpBudgetCategories: 1,
		},
		InitialBalance: 20,
		MonthlyQuota:   20,
	}
}

// Cost returns the price of op. Unknown operations cost 1.
func (p Policy) Cost(op domain.Operation) int {
	if c, ok := p.Costs[op]; ok {
		return c
	}
	return 1
}

// LoadPolicy reads a YAML policy file over the defaults. Operations absent
// from the file keep their default cost. An empty path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read credit policy: %w", err)
	}

	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Policy{}, fmt.Errorf("parse credit policy: %w", err)
	}
	for op, c := range file.Costs {
		p.Costs[op] = c
	}
	if file.InitialBalance != 0 {
		p.InitialBalance = file.InitialBalance
	}
	if file.MonthlyQuota != 0 {
		p.MonthlyQuota = file.MonthlyQuota
	}
	return p, p.Validate()
}

// Validate rejects negative prices and balances.
func (p Policy) Validate() error {
	var errs []error
	for op, c := range p.Costs {
		if c < 0 {
			errs = append(errs, fmt.Errorf("cost of %s must be non-negative, got %d", op, c))
		}
	}
	if p.InitialBalance < 0 {
		errs = append(errs, fmt.Errorf("initial_balance must be non-negative"))
	}
	if p.MonthlyQuota < 0 {
		errs = append(errs, fmt.Errorf("monthly_quota must be non-negative"))
	}
	return errors.Join(errs...)
}
