package planning

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

// Applier writes plans into the itinerary store. Every write is checked
// against the trip's natural keys first, so applying the same plan twice
// creates nothing the second time.
type Applier struct {
	store storage.ItineraryStore
	log   observability.Logger
}

// NewApplier returns an Applier over store.
func NewApplier(store storage.ItineraryStore, log observability.Logger) *Applier {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Applier{store: store, log: log.WithComponent("applier")}
}

// NewTrip describes the trip a create-mode plan lands in.
func NewTrip(id, userID string, plan *domain.Plan, tc domain.TripContext) domain.Trip {
	t := domain.Trip{
		ID:          id,
		UserID:      userID,
		Name:        plan.TripName,
		Destination: tc.Destination,
		StartDate:   tc.StartDate,
		EndDate:     tc.EndDate,
		Currency:    tc.Currency,
	}
	if t.Name == "" {
		t.Name = tc.Destination
	}
	if t.Name == "" {
		t.Name = "New trip"
	}
	if n := len(plan.Days); n > 0 {
		if t.StartDate == "" {
			t.StartDate = plan.Days[0].Date
		}
		if t.EndDate == "" {
			t.EndDate = plan.Days[n-1].Date
		}
	}
	return t
}

// EnsureTrip creates trip, or returns the stored one when trip.ID exists.
func (a *Applier) EnsureTrip(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	created, err := a.store.CreateTrip(ctx, trip)
	if err == nil {
		a.log.InfoContext(ctx, "trip created", "trip_id", created.ID, "user_id", created.UserID)
		return created, nil
	}
	if trip.ID != "" && errors.Is(err, storage.ErrConflict) {
		return a.store.GetTrip(ctx, trip.ID)
	}
	return domain.Trip{}, fmt.Errorf("create trip: %w", err)
}

// Apply writes plan into tripID in order days, activities, stops, budget
// categories. Activities whose title is in skip are not created. Entities
// that already exist are neither created nor counted. A failure stops the
// application and returns a *domain.PartialApplicationError with the
// counts so far.
func (a *Applier) Apply(ctx context.Context, tripID string, plan *domain.Plan, skip domain.ConflictSet) (domain.ExecutionResult, error) {
	return a.ApplyObserved(ctx, tripID, plan, skip, nil)
}

// ApplyObserved is Apply, reporting each section to observe once it is
// written.
func (a *Applier) ApplyObserved(ctx context.Context, tripID string, plan *domain.Plan, skip domain.ConflictSet, observe Observer) (domain.ExecutionResult, error) {
	if observe == nil {
		observe = func(domain.ProgressStep) {}
	}
	res := domain.ExecutionResult{TripID: tripID}
	if plan == nil {
		return res, domain.ErrNoPlan
	}
	partial := func(section string, err error) (domain.ExecutionResult, error) {
		a.log.WarnContext(ctx, "plan application stopped", "trip_id", tripID, "section", section, "error", err)
		return res, &domain.PartialApplicationError{Result: res, Err: fmt.Errorf("%s: %w", section, err)}
	}

	dayIDs, err := a.applyDays(ctx, tripID, plan.Days, &res)
	if err != nil {
		return partial("days", err)
	}
	observe(domain.StepDays)
	if err := a.applyActivities(ctx, tripID, plan.Days, dayIDs, skip, &res); err != nil {
		return partial("activities", err)
	}
	observe(domain.StepActivities)
	if err := a.applyStops(ctx, tripID, plan.Stops, &res); err != nil {
		return partial("stops", err)
	}
	observe(domain.StepStops)
	if err := a.applyBudget(ctx, tripID, plan.BudgetCategories, &res); err != nil {
		return partial("budget", err)
	}
	observe(domain.StepBudget)

	a.log.InfoContext(ctx, "plan applied",
		"trip_id", tripID,
		"stops", res.StopsCreated,
		"days", res.DaysCreated,
		"activities", res.ActivitiesCreated,
		"activities_skipped", res.ActivitiesSkipped,
		"budget_categories", res.BudgetCategoriesCreated,
	)
	return res, nil
}

func (a *Applier) applyStops(ctx context.Context, tripID string, stops []domain.PlanStop, res *domain.ExecutionResult) error {
	existing, err := a.store.ListStops(ctx, tripID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, s := range existing {
		have[storage.NaturalKey(s.Name)] = true
	}
	for _, s := range stops {
		k := storage.NaturalKey(s.Name)
		if have[k] {
			continue
		}
		_, err := a.store.CreateStop(ctx, domain.Stop{TripID: tripID, PlanStop: s})
		if errors.Is(err, storage.ErrConflict) {
			have[k] = true
			continue
		}
		if err != nil {
			return err
		}
		have[k] = true
		res.StopsCreated++
	}
	return nil
}

// applyDays returns the day ID for every plan date.
func (a *Applier) applyDays(ctx context.Context, tripID string, days []domain.PlanDay, res *domain.ExecutionResult) (map[string]string, error) {
	ids, err := a.dayIDs(ctx, tripID)
	if err != nil {
		return nil, err
	}
	for _, d := range days {
		if _, ok := ids[d.Date]; ok {
			continue
		}
		created, err := a.store.CreateDay(ctx, domain.Day{TripID: tripID, Date: d.Date, Title: d.Title})
		if errors.Is(err, storage.ErrConflict) {
			// Created concurrently; pick up its ID.
			if ids, err = a.dayIDs(ctx, tripID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		ids[d.Date] = created.ID
		res.DaysCreated++
	}
	return ids, nil
}

func (a *Applier) dayIDs(ctx context.Context, tripID string) (map[string]string, error) {
	days, err := a.store.ListDays(ctx, tripID)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(days))
	for _, d := range days {
		ids[d.Date] = d.ID
	}
	return ids, nil
}

func (a *Applier) applyActivities(ctx context.Context, tripID string, days []domain.PlanDay, dayIDs map[string]string, skip domain.ConflictSet, res *domain.ExecutionResult) error {
	existing, err := a.store.ListActivities(ctx, tripID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, e := range existing {
		have[e.DayDate+"|"+storage.NaturalKey(e.Title)] = true
	}
	for _, d := range days {
		dayID, ok := dayIDs[d.Date]
		if !ok {
			return fmt.Errorf("day %s missing", d.Date)
		}
		for _, act := range d.Activities {
			if skip.Contains(act.Title) {
				res.ActivitiesSkipped++
				continue
			}
			k := d.Date + "|" + storage.NaturalKey(act.Title)
			if have[k] {
				continue
			}
			_, err := a.store.CreateActivity(ctx, domain.Activity{TripID: tripID, DayID: dayID, DayDate: d.Date, PlanActivity: act})
			if errors.Is(err, storage.ErrConflict) {
				have[k] = true
				continue
			}
			if err != nil {
				return err
			}
			have[k] = true
			res.ActivitiesCreated++
		}
	}
	return nil
}

func (a *Applier) applyBudget(ctx context.Context, tripID string, cats []domain.BudgetCategory, res *domain.ExecutionResult) error {
	n, err := a.AddBudgetCategories(ctx, tripID, cats)
	res.BudgetCategoriesCreated += n
	return err
}

// AddBudgetCategories creates the categories the trip does not have yet and
// reports how many were created.
func (a *Applier) AddBudgetCategories(ctx context.Context, tripID string, cats []domain.BudgetCategory) (int, error) {
	existing, err := a.store.ListBudgetCategories(ctx, tripID)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[storage.NaturalKey(c.Name)] = true
	}
	created := 0
	for _, c := range cats {
		k := storage.NaturalKey(c.Name)
		if have[k] {
			continue
		}
		_, err := a.store.CreateBudgetCategory(ctx, domain.TripBudgetCategory{TripID: tripID, BudgetCategory: c})
		if errors.Is(err, storage.ErrConflict) {
			have[k] = true
			continue
		}
		if err != nil {
			return created, err
		}
		have[k] = true
		created++
	}
	return created, nil
}

// AddPackingItems creates the packing items the trip does not have yet and
// reports how many were created.
func (a *Applier) AddPackingItems(ctx context.Context, tripID string, items []domain.PackingItem) (int, error) {
	existing, err := a.store.ListPackingItems(ctx, tripID)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, it := range existing {
		have[storage.NaturalKey(it.Name)] = true
	}
	created := 0
	for _, it := range items {
		k := storage.NaturalKey(it.Name)
		if have[k] {
			continue
		}
		_, err := a.store.CreatePackingItem(ctx, domain.TripPackingItem{TripID: tripID, PackingItem: it})
		if errors.Is(err, storage.ErrConflict) {
			have[k] = true
			continue
		}
		if err != nil {
			return created, err
		}
		have[k] = true
		created++
	}
	return created, nil
}

// Summarize lists what a trip already contains, for enhance-mode prompts
// and budget de-duplication.
func (a *Applier) Summarize(ctx context.Context, tripID string) (domain.Trip, *domain.TripSummary, error) {
	trip, err := a.store.GetTrip(ctx, tripID)
	if err != nil {
		return domain.Trip{}, nil, fmt.Errorf("get trip: %w", err)
	}
	s := &domain.TripSummary{TripName: trip.Name}
	stops, err := a.store.ListStops(ctx, tripID)
	if err != nil {
		return trip, nil, err
	}
	for _, st := range stops {
		s.Stops = append(s.Stops, st.Name)
	}
	days, err := a.store.ListDays(ctx, tripID)
	if err != nil {
		return trip, nil, err
	}
	for _, d := range days {
		s.DayDates = append(s.DayDates, d.Date)
	}
	acts, err := a.store.ListActivities(ctx, tripID)
	if err != nil {
		return trip, nil, err
	}
	for _, act := range acts {
		s.ActivityTitles = append(s.ActivityTitles, act.Title)
	}
	cats, err := a.store.ListBudgetCategories(ctx, tripID)
	if err != nil {
		return trip, nil, err
	}
	for _, c := range cats {
		s.BudgetCategories = append(s.BudgetCategories, c.Name)
	}
	return trip, s, nil
}
