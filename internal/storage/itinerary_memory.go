package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

type (
	tripRow     = domain.Trip
	stopRow     = domain.Stop
	dayRow      = domain.Day
	activityRow = domain.Activity
	budgetRow   = domain.TripBudgetCategory
	packingRow  = domain.TripPackingItem
)

func (m *MemoryStore) CreateTrip(_ context.Context, trip domain.Trip) (domain.Trip, error) {
	if trip.UserID == "" || trip.Name == "" {
		return domain.Trip{}, fmt.Errorf("user and name required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if trip.ID == "" {
		trip.ID = uuid.NewString()
	}
	if _, ok := m.trips[trip.ID]; ok {
		return domain.Trip{}, fmt.Errorf("trip %s: %w", trip.ID, ErrConflict)
	}
	trip.CreatedAt = m.now()
	m.trips[trip.ID] = trip
	return trip, nil
}

func (m *MemoryStore) GetTrip(_ context.Context, tripID string) (domain.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[tripID]
	if !ok {
		return domain.Trip{}, ErrNotFound
	}
	return t, nil
}

// requireTripLocked reports ErrNotFound for unknown trips.
func (m *MemoryStore) requireTripLocked(tripID string) error {
	if _, ok := m.trips[tripID]; !ok {
		return fmt.Errorf("trip %s: %w", tripID, ErrNotFound)
	}
	return nil
}

func (m *MemoryStore) ListStops(_ context.Context, tripID string) ([]domain.Stop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Stop(nil), m.stops[tripID]...), nil
}

func (m *MemoryStore) CreateStop(_ context.Context, stop domain.Stop) (domain.Stop, error) {
	if stop.Name == "" {
		return domain.Stop{}, fmt.Errorf("stop name required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireTripLocked(stop.TripID); err != nil {
		return domain.Stop{}, err
	}
	for _, s := range m.stops[stop.TripID] {
		if NaturalKey(s.Name) == NaturalKey(stop.Name) {
			return domain.Stop{}, fmt.Errorf("stop %q: %w", stop.Name, ErrConflict)
		}
	}
	stop.ID = uuid.NewString()
	m.stops[stop.TripID] = append(m.stops[stop.TripID], stop)
	return stop, nil
}

func (m *MemoryStore) ListDays(_ context.Context, tripID string) ([]domain.Day, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.Day(nil), m.days[tripID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *MemoryStore) CreateDay(_ context.Context, day domain.Day) (domain.Day, error) {
	if day.Date == "" {
		return domain.Day{}, fmt.Errorf("day date required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireTripLocked(day.TripID); err != nil {
		return domain.Day{}, err
	}
	for _, d := range m.days[day.TripID] {
		if d.Date == day.Date {
			return domain.Day{}, fmt.Errorf("day %s: %w", day.Date, ErrConflict)
		}
	}
	day.ID = uuid.NewString()
	m.days[day.TripID] = append(m.days[day.TripID], day)
	return day, nil
}

func (m *MemoryStore) ListActivities(_ context.Context, tripID string) ([]domain.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.Activity(nil), m.activities[tripID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DayDate != out[j].DayDate {
			return out[i].DayDate < out[j].DayDate
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return out, nil
}

func (m *MemoryStore) CreateActivity(_ context.Context, activity domain.Activity) (domain.Activity, error) {
	if activity.Title == "" || activity.DayID == "" {
		return domain.Activity{}, fmt.Errorf("activity title and day required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireTripLocked(activity.TripID); err != nil {
		return domain.Activity{}, err
	}
	for _, a := range m.activities[activity.TripID] {
		if a.DayID == activity.DayID && NaturalKey(a.Title) == NaturalKey(activity.Title) {
			return domain.Activity{}, fmt.Errorf("activity %q: %w", activity.Title, ErrConflict)
		}
	}
	activity.ID = uuid.NewString()
	m.activities[activity.TripID] = append(m.activities[activity.TripID], activity)
	return activity, nil
}

func (m *MemoryStore) ListBudgetCategories(_ context.Context, tripID string) ([]domain.TripBudgetCategory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.TripBudgetCategory(nil), m.budgetCategories[tripID]...), nil
}

func (m *MemoryStore) CreateBudgetCategory(_ context.Context, category domain.TripBudgetCategory) (domain.TripBudgetCategory, error) {
	if category.Name == "" {
		return domain.TripBudgetCategory{}, fmt.Errorf("budget category name required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireTripLocked(category.TripID); err != nil {
		return domain.TripBudgetCategory{}, err
	}
	for _, c := range m.budgetCategories[category.TripID] {
		if NaturalKey(c.Name) == NaturalKey(category.Name) {
			return domain.TripBudgetCategory{}, fmt.Errorf("budget category %q: %w", category.Name, ErrConflict)
		}
	}
	category.ID = uuid.NewString()
	m.budgetCategories[category.TripID] = append(m.budgetCategories[category.TripID], category)
	return category, nil
}

func (m *MemoryStore) ListPackingItems(_ context.Context, tripID string) ([]domain.TripPackingItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.TripPackingItem(nil), m.packingItems[tripID]...), nil
}

func (m *MemoryStore) CreatePackingItem(_ context.Context, item domain.TripPackingItem) (domain.TripPackingItem, error) {
	if item.Name == "" {
		return domain.TripPackingItem{}, fmt.Errorf("packing item name required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireTripLocked(item.TripID); err != nil {
		return domain.TripPackingItem{}, err
	}
	for _, p := range m.packingItems[item.TripID] {
		if NaturalKey(p.Name) == NaturalKey(item.Name) {
			return domain.TripPackingItem{}, fmt.Errorf("packing item %q: %w", item.Name, ErrConflict)
		}
	}
	item.ID = uuid.NewString()
	m.packingItems[item.TripID] = append(m.packingItems[item.TripID], item)
	return item, nil
}
