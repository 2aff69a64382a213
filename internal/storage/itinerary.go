package storage

import (
	"context"
	"strings"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

// ItineraryStore persists trips and their entities. Creating an entity whose
// natural key already exists in the trip returns ErrConflict:
//   - stop: name
//   - day: date
//   - activity: (day, title)
//   - budget category: name
//   - packing item: name
//
// Names and titles compare case-insensitively.
type ItineraryStore interface {
	CreateTrip(ctx context.Context, trip domain.Trip) (domain.Trip, error)
	// GetTrip returns the trip or ErrNotFound.
	GetTrip(ctx context.Context, tripID string) (domain.Trip, error)

	ListStops(ctx context.Context, tripID string) ([]domain.Stop, error)
	CreateStop(ctx context.Context, stop domain.Stop) (domain.Stop, error)

	ListDays(ctx context.Context, tripID string) ([]domain.Day, error)
	CreateDay(ctx context.Context, day domain.Day) (domain.Day, error)

	// ListActivities returns all activities of the trip ordered by day date
	// then sort order.
	ListActivities(ctx context.Context, tripID string) ([]domain.Activity, error)
	CreateActivity(ctx context.Context, activity domain.Activity) (domain.Activity, error)

	ListBudgetCategories(ctx context.Context, tripID string) ([]domain.TripBudgetCategory, error)
	CreateBudgetCategory(ctx context.Context, category domain.TripBudgetCategory) (domain.TripBudgetCategory, error)

	ListPackingItems(ctx context.Context, tripID string) ([]domain.TripPackingItem, error)
	CreatePackingItem(ctx context.Context, item domain.TripPackingItem) (domain.TripPackingItem, error)
}

// NaturalKey folds a name or title for natural-key comparison.
func NaturalKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
