package planning

import (
	"context"
	"fmt"
	"time"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

// DefaultConflictDayWindow is how many days apart two same-titled
// activities may be and still count as the same activity.
const DefaultConflictDayWindow = 1

// Resolver finds plan activities that duplicate activities already in a
// trip. Two activities match when their normalized titles are equal and
// either one has no date or the dates are at most DayWindow days apart.
type Resolver struct {
	store     storage.ItineraryStore
	dayWindow int
}

// NewResolver returns a Resolver. A negative dayWindow selects the default.
func NewResolver(store storage.ItineraryStore, dayWindow int) *Resolver {
	if dayWindow < 0 {
		dayWindow = DefaultConflictDayWindow
	}
	return &Resolver{store: store, dayWindow: dayWindow}
}

// Detect returns the titles of existing activities matched by the plan, in
// plan order and without duplicates. It only reads the store, so repeated
// calls over the same state return the same set.
func (r *Resolver) Detect(ctx context.Context, tripID string, plan *domain.Plan) (domain.ConflictSet, error) {
	if plan == nil {
		return nil, domain.ErrNoPlan
	}
	existing, err := r.store.ListActivities(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	byTitle := make(map[string][]domain.Activity, len(existing))
	for _, a := range existing {
		k := domain.NormalizeTitle(a.Title)
		byTitle[k] = append(byTitle[k], a)
	}

	var out domain.ConflictSet
	seen := make(map[string]bool)
	for _, day := range plan.Days {
		for _, a := range day.Activities {
			k := domain.NormalizeTitle(a.Title)
			if seen[k] {
				continue
			}
			for _, e := range byTitle[k] {
				if r.near(day.Date, e.DayDate) {
					out = append(out, e.Title)
					seen[k] = true
					break
				}
			}
		}
	}
	return out, nil
}

func (r *Resolver) near(a, b string) bool {
	ta, errA := time.Parse(dateLayout, a)
	tb, errB := time.Parse(dateLayout, b)
	if errA != nil || errB != nil {
		return true
	}
	d := ta.Sub(tb)
	if d < 0 {
		d = -d
	}
	return d <= time.Duration(r.dayWindow)*24*time.Hour
}
