package planning

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

func samplePlan() *domain.Plan {
	return &domain.Plan{
		TripName: " Lisbon long weekend ",
		Stops: []domain.PlanStop{
			{Name: "Lisbon", Coords: &domain.Coordinates{Lat: 38.72, Lng: -9.14}},
			{Name: "Sintra", Kind: domain.StopKindWaypoint, ArrivalDate: "2026-06-02"},
			{Name: "lisbon "},
		},
		Days: []domain.PlanDay{
			{Date: "2026-06-02", Activities: []domain.PlanActivity{
				{Title: "Pena Palace", Category: "Sightseeing", SortOrder: 5, Cost: 20},
				{Title: "City Walking Tour", Category: "tour", SortOrder: 2},
				{Title: "city  walking tour", SortOrder: 9},
			}},
			{Date: "2026-06-01", Activities: []domain.PlanActivity{
				{Title: "Pastéis de Belém", Category: "food", Cost: 4.5},
			}},
		},
		BudgetCategories: []domain.BudgetCategory{
			{Name: "Food", Color: "#ff0000", Limit: 300},
			{Name: "Transport", Color: "red", Limit: 100},
			{Name: "food", Color: "#00ff00"},
		},
	}
}

func TestValidatePlanNormalizes(t *testing.T) {
	p := samplePlan()
	err := validatePlan(p, GenerationInput{Context: domain.TripContext{StartDate: "2026-06-01", EndDate: "2026-06-03"}})
	require.NoError(t, err)

	assert.Equal(t, "Lisbon long weekend", p.TripName)

	require.Len(t, p.Days, 2)
	assert.Equal(t, "2026-06-01", p.Days[0].Date, "days are sorted by date")

	acts := p.Days[1].Activities
	require.Len(t, acts, 2, "duplicate titles within a day are dropped")
	assert.Equal(t, "City Walking Tour", acts[0].Title)
	assert.Equal(t, 0, acts[0].SortOrder)
	assert.Equal(t, domain.CategoryOther, acts[0].Category)
	assert.Equal(t, "Pena Palace", acts[1].Title)
	assert.Equal(t, 1, acts[1].SortOrder)
	assert.Equal(t, domain.CategorySightseeing, acts[1].Category)

	require.Len(t, p.Stops, 2)
	assert.Equal(t, domain.StopKindOvernight, p.Stops[0].Kind)
	assert.Equal(t, domain.StopKindWaypoint, p.Stops[1].Kind)

	require.Len(t, p.BudgetCategories, 2)
	assert.Equal(t, "#ff0000", p.BudgetCategories[0].Color)
	assert.Regexp(t, hexColorRe, p.BudgetCategories[1].Color)
}

func TestValidatePlanRejects(t *testing.T) {
	window := GenerationInput{Context: domain.TripContext{StartDate: "2026-06-01", EndDate: "2026-06-03"}}
	tests := []struct {
		name    string
		mutate  func(p *domain.Plan)
		section string
	}{
		{"no days", func(p *domain.Plan) { p.Days = nil }, "days"},
		{"malformed date", func(p *domain.Plan) { p.Days[0].Date = "06/02/2026" }, "days"},
		{"date outside trip", func(p *domain.Plan) { p.Days[0].Date = "2026-07-01" }, "days"},
		{"duplicate date", func(p *domain.Plan) { p.Days[1].Date = p.Days[0].Date }, "days"},
		{"missing title", func(p *domain.Plan) { p.Days[0].Activities[0].Title = " " }, "activities"},
		{"negative cost", func(p *domain.Plan) { p.Days[0].Activities[0].Cost = -1 }, "activities"},
		{"NaN cost", func(p *domain.Plan) { p.Days[0].Activities[0].Cost = math.NaN() }, "activities"},
		{"huge cost", func(p *domain.Plan) { p.Days[0].Activities[0].Cost = 2e7 }, "activities"},
		{"unnamed stop", func(p *domain.Plan) { p.Stops[0].Name = "" }, "stops"},
		{"unknown stop kind", func(p *domain.Plan) { p.Stops[0].Kind = "campsite" }, "stops"},
		{"latitude out of range", func(p *domain.Plan) { p.Stops[0].Coords.Lat = 91 }, "stops"},
		{"stop date outside trip", func(p *domain.Plan) { p.Stops[1].ArrivalDate = "2027-01-01" }, "stops"},
		{"unnamed budget", func(p *domain.Plan) { p.BudgetCategories[0].Name = "" }, "budget"},
		{"negative limit", func(p *domain.Plan) { p.BudgetCategories[0].Limit = -5 }, "budget"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := samplePlan()
			tt.mutate(p)
			err := validatePlan(p, window)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrGenerationInvalid)

			var gen *domain.GenerationError
			require.True(t, errors.As(err, &gen))
			assert.Equal(t, tt.section, gen.Section)
		})
	}
}

func TestValidatePlanOpenWindow(t *testing.T) {
	p := samplePlan()
	p.Days[0].Date = "2030-01-01"
	require.NoError(t, validatePlan(p, GenerationInput{}))
}

func TestValidateBudgetEnhanceDropsExisting(t *testing.T) {
	existing := &domain.TripSummary{BudgetCategories: []string{"FOOD", "Lodging"}}
	got, err := validateBudget([]domain.BudgetCategory{
		{Name: "food"}, {Name: "Activities"}, {Name: " lodging "},
	}, existing)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Activities", got[0].Name)
}

func TestValidateStructure(t *testing.T) {
	s := &domain.PlanStructure{DayCount: 5, Stops: []domain.StructureStop{{Name: " Porto "}}}
	require.NoError(t, validateStructure(s))
	assert.Equal(t, 60, s.EstimatedSeconds)
	assert.Equal(t, "Porto", s.Stops[0].Name)

	assert.ErrorIs(t, validateStructure(&domain.PlanStructure{DayCount: 0}), domain.ErrGenerationInvalid)
	assert.ErrorIs(t, validateStructure(&domain.PlanStructure{DayCount: 2, Stops: []domain.StructureStop{{}}}), domain.ErrGenerationInvalid)
}

func TestValidatePacking(t *testing.T) {
	got := validatePacking([]domain.PackingItem{
		{Name: "Sunscreen"}, {Name: "sunscreen", Quantity: 2}, {Name: ""}, {Name: "Socks", Quantity: 5},
	})
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Quantity)
	assert.Equal(t, 5, got[1].Quantity)
}

// Whatever order the model returns, accepted activities are numbered 0..n-1
// within each day and carry a known category.
func TestValidateActivitiesOrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		acts := make([]domain.PlanActivity, n)
		for i := range acts {
			acts[i] = domain.PlanActivity{
				Title:     rapid.StringMatching(`[A-Za-z]{1,3}`).Draw(t, "title"),
				Category:  domain.ActivityCategory(rapid.StringMatching(`[a-z]{0,12}`).Draw(t, "category")),
				SortOrder: rapid.IntRange(-5, 50).Draw(t, "order"),
			}
		}
		p := &domain.Plan{Days: []domain.PlanDay{{Date: "2026-06-01", Activities: acts}}}
		if err := validatePlan(p, GenerationInput{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen := map[string]bool{}
		for i, a := range p.Days[0].Activities {
			if a.SortOrder != i {
				t.Fatalf("activity %d has sort order %d", i, a.SortOrder)
			}
			if domain.ParseActivityCategory(string(a.Category)) != a.Category {
				t.Fatalf("category %q not in the fixed set", a.Category)
			}
			k := domain.NormalizeTitle(a.Title)
			if seen[k] {
				t.Fatalf("duplicate title %q", a.Title)
			}
			seen[k] = true
		}
	})
}
