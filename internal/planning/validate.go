package planning

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

const (
	dateLayout = "2006-01-02"
	maxAmount  = 1e7
	maxPacking = 100
)

var hexColorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// budgetPalette colors budget categories that came without a valid color.
var budgetPalette = []string{"#4F86C6", "#F28E2B", "#59A14F", "#E15759", "#B07AA1", "#76B7B2", "#EDC948", "#9C755F"}

// Observer is told each plan section once it is written.
type Observer func(step domain.ProgressStep)

func invalid(section, format string, args ...any) error {
	return &domain.GenerationError{Section: section, Reason: fmt.Sprintf(format, args...)}
}

// decodeReply extracts and decodes the JSON payload of a generation reply.
func decodeReply(section, content string, v any) error {
	payload := extractJSON(content)
	if payload == nil {
		return invalid(section, "reply contains no JSON")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return invalid(section, "malformed JSON: %v", err)
	}
	return nil
}

// validateStructure checks a skeleton and fills estimated_seconds.
func validateStructure(s *domain.PlanStructure) error {
	if s.DayCount < 1 {
		return invalid("structure", "day_count must be at least 1, got %d", s.DayCount)
	}
	for i, st := range s.Stops {
		name := strings.TrimSpace(st.Name)
		if name == "" {
			return invalid("structure", "stop %d has no name", i)
		}
		s.Stops[i].Name = name
	}
	if s.BudgetCategoryCount < 0 {
		s.BudgetCategoryCount = 0
	}
	if s.EstimatedSeconds <= 0 {
		s.EstimatedSeconds = 30 + 6*s.DayCount
	}
	return nil
}

// tripWindow is the inclusive date range a plan must fall in. Zero bounds
// are open.
type tripWindow struct {
	start, end time.Time
}

func windowFor(tc domain.TripContext) tripWindow {
	var w tripWindow
	w.start, _ = time.Parse(dateLayout, tc.StartDate)
	w.end, _ = time.Parse(dateLayout, tc.EndDate)
	return w
}

func (w tripWindow) contains(d time.Time) bool {
	if !w.start.IsZero() && d.Before(w.start) {
		return false
	}
	if !w.end.IsZero() && d.After(w.end) {
		return false
	}
	return true
}

// validatePlan checks and normalizes a generated plan section by section.
// The first failing section rejects the whole plan.
func validatePlan(p *domain.Plan, in GenerationInput) error {
	p.TripName = strings.TrimSpace(p.TripName)
	w := windowFor(in.Context)

	if err := validateDays(p, w); err != nil {
		return err
	}

	if err := validateActivities(p); err != nil {
		return err
	}

	if err := validateStops(p, w); err != nil {
		return err
	}

	cats, err := validateBudget(p.BudgetCategories, in.Context.ExistingSummary)
	if err != nil {
		return err
	}
	p.BudgetCategories = cats
	return nil
}

func validateDays(p *domain.Plan, w tripWindow) error {
	if len(p.Days) == 0 {
		return invalid("days", "plan has no days")
	}
	seen := make(map[string]bool, len(p.Days))
	for i := range p.Days {
		d := &p.Days[i]
		d.Date = strings.TrimSpace(d.Date)
		t, err := time.Parse(dateLayout, d.Date)
		if err != nil {
			return invalid("days", "day %d has malformed date %q", i, d.Date)
		}
		if !w.contains(t) {
			return invalid("days", "day %s is outside the trip dates", d.Date)
		}
		if seen[d.Date] {
			return invalid("days", "date %s appears twice", d.Date)
		}
		seen[d.Date] = true
	}
	sort.SliceStable(p.Days, func(i, j int) bool { return p.Days[i].Date < p.Days[j].Date })
	return nil
}

func validateActivities(p *domain.Plan) error {
	for di := range p.Days {
		day := &p.Days[di]
		sort.SliceStable(day.Activities, func(i, j int) bool {
			return day.Activities[i].SortOrder < day.Activities[j].SortOrder
		})
		kept := day.Activities[:0]
		seen := make(map[string]bool)
		for _, a := range day.Activities {
			a.Title = strings.TrimSpace(a.Title)
			if a.Title == "" {
				return invalid("activities", "activity on %s has no title", day.Date)
			}
			if !plausibleAmount(a.Cost) {
				return invalid("activities", "activity %q has implausible cost %v", a.Title, a.Cost)
			}
			key := domain.NormalizeTitle(a.Title)
			if seen[key] {
				continue
			}
			seen[key] = true
			a.Category = domain.ParseActivityCategory(string(a.Category))
			a.SortOrder = len(kept)
			kept = append(kept, a)
		}
		day.Activities = kept
	}
	return nil
}

func validateStops(p *domain.Plan, w tripWindow) error {
	kept := p.Stops[:0]
	seen := make(map[string]bool)
	for _, s := range p.Stops {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return invalid("stops", "stop has no name")
		}
		switch s.Kind {
		case "":
			s.Kind = domain.StopKindOvernight
		case domain.StopKindOvernight, domain.StopKindWaypoint:
		default:
			return invalid("stops", "stop %q has unknown kind %q", s.Name, s.Kind)
		}
		if c := s.Coords; c != nil && (c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180) {
			return invalid("stops", "stop %q has coordinates out of range", s.Name)
		}
		for _, d := range []string{s.ArrivalDate, s.DepartureDate} {
			if d == "" {
				continue
			}
			t, err := time.Parse(dateLayout, d)
			if err != nil || !w.contains(t) {
				return invalid("stops", "stop %q has invalid date %q", s.Name, d)
			}
		}
		key := domain.NormalizeTitle(s.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, s)
	}
	p.Stops = kept
	return nil
}

// validateBudget drops categories that duplicate each other or, in enhance
// mode, the trip's existing ones.
func validateBudget(in []domain.BudgetCategory, existing *domain.TripSummary) ([]domain.BudgetCategory, error) {
	out := make([]domain.BudgetCategory, 0, len(in))
	seen := make(map[string]bool)
	for _, c := range in {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return nil, invalid("budget", "budget category has no name")
		}
		if !plausibleAmount(c.Limit) {
			return nil, invalid("budget", "budget category %q has implausible limit %v", c.Name, c.Limit)
		}
		key := domain.NormalizeTitle(c.Name)
		if seen[key] || existing.HasBudgetCategory(c.Name) {
			continue
		}
		seen[key] = true
		if !hexColorRe.MatchString(c.Color) {
			c.Color = budgetPalette[len(out)%len(budgetPalette)]
		}
		out = append(out, c)
	}
	return out, nil
}

func validatePacking(items []domain.PackingItem) []domain.PackingItem {
	out := make([]domain.PackingItem, 0, len(items))
	seen := make(map[string]bool)
	for _, it := range items {
		it.Name = strings.TrimSpace(it.Name)
		key := domain.NormalizeTitle(it.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if it.Quantity < 1 {
			it.Quantity = 1
		}
		it.Category = strings.TrimSpace(it.Category)
		out = append(out, it)
		if len(out) == maxPacking {
			break
		}
	}
	return out
}

func plausibleAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= maxAmount
}
