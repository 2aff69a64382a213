package domain

import "time"

// Trip is the root itinerary entity.
type Trip struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Destination string    `json:"destination,omitempty"`
	StartDate   string    `json:"start_date,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stop is a persisted plan stop.
type Stop struct {
	ID     string `json:"id"`
	TripID string `json:"trip_id"`
	PlanStop
}

// Day is a persisted trip day.
type Day struct {
	ID     string `json:"id"`
	TripID string `json:"trip_id"`
	Date   string `json:"date"`
	Title  string `json:"title,omitempty"`
}

// Activity is a persisted activity. DayDate is denormalized for conflict checks.
type Activity struct {
	ID      string `json:"id"`
	TripID  string `json:"trip_id"`
	DayID   string `json:"day_id"`
	DayDate string `json:"day_date"`
	PlanActivity
}

// TripBudgetCategory is a persisted budget category.
type TripBudgetCategory struct {
	ID     string `json:"id"`
	TripID string `json:"trip_id"`
	BudgetCategory
}

// TripPackingItem is a persisted packing list entry.
type TripPackingItem struct {
	ID     string `json:"id"`
	TripID string `json:"trip_id"`
	PackingItem
}
