package domain

import (
	"strings"
	"unicode"
)

// PlanStructure is the cheap skeleton produced before full detail generation.
type PlanStructure struct {
	Stops               []StructureStop `json:"stops"`
	DayCount            int             `json:"day_count"`
	BudgetCategoryCount int             `json:"budget_category_count"`
	EstimatedSeconds    int             `json:"estimated_seconds"`
}

// StructureStop names a stop in a PlanStructure.
type StructureStop struct {
	Name string `json:"name"`
}

// StopKind distinguishes overnight stays from pass-through waypoints.
type StopKind string

const (
	StopKindOvernight StopKind = "overnight"
	StopKindWaypoint  StopKind = "waypoint"
)

// ActivityCategory is drawn from a fixed set.
type ActivityCategory string

const (
	CategorySightseeing   ActivityCategory = "sightseeing"
	CategoryFood          ActivityCategory = "food"
	CategoryActivity      ActivityCategory = "activity"
	CategoryTransport     ActivityCategory = "transport"
	CategoryAccommodation ActivityCategory = "accommodation"
	CategoryShopping      ActivityCategory = "shopping"
	CategoryRelaxation    ActivityCategory = "relaxation"
	CategoryOther         ActivityCategory = "other"
)

// ActivityCategories lists the allowed categories in prompt order.
var ActivityCategories = []ActivityCategory{
	CategorySightseeing, CategoryFood, CategoryActivity, CategoryTransport,
	CategoryAccommodation, CategoryShopping, CategoryRelaxation, CategoryOther,
}

// ParseActivityCategory maps free text onto the fixed set, defaulting to other.
func ParseActivityCategory(s string) ActivityCategory {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range ActivityCategories {
		if string(c) == s {
			return c
		}
	}
	return CategoryOther
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PlanStop is a place the trip stays at or passes through.
type PlanStop struct {
	Name          string       `json:"name"`
	Coords        *Coordinates `json:"coords,omitempty"`
	Address       string       `json:"address,omitempty"`
	Kind          StopKind     `json:"kind"`
	ArrivalDate   string       `json:"arrival_date,omitempty"`
	DepartureDate string       `json:"departure_date,omitempty"`
}

// PlanActivity is one scheduled item within a day.
type PlanActivity struct {
	Title     string           `json:"title"`
	Category  ActivityCategory `json:"category"`
	Time      string           `json:"time,omitempty"`
	Location  string           `json:"location,omitempty"`
	Cost      float64          `json:"cost"`
	Notes     string           `json:"notes,omitempty"`
	SortOrder int              `json:"sort_order"`
}

// PlanDay groups the activities of one calendar date.
type PlanDay struct {
	Date       string         `json:"date"`
	Title      string         `json:"title,omitempty"`
	Activities []PlanActivity `json:"activities"`
}

// BudgetCategory is a spending bucket with a display color and a limit.
type BudgetCategory struct {
	Name  string  `json:"name"`
	Color string  `json:"color"`
	Limit float64 `json:"limit"`
}

// Plan is the fully detailed itinerary presented for approval.
type Plan struct {
	TripName         string           `json:"trip_name,omitempty"`
	Summary          string           `json:"summary,omitempty"`
	Stops            []PlanStop       `json:"stops"`
	Days             []PlanDay        `json:"days"`
	BudgetCategories []BudgetCategory `json:"budget_categories"`
}

// ActivityCount returns the number of activities across all days.
func (p *Plan) ActivityCount() int {
	n := 0
	for _, d := range p.Days {
		n += len(d.Activities)
	}
	return n
}

// ExecutionResult counts the entities a plan application created.
type ExecutionResult struct {
	TripID                  string `json:"trip_id"`
	DaysCreated             int    `json:"days_created"`
	ActivitiesCreated       int    `json:"activities_created"`
	StopsCreated            int    `json:"stops_created"`
	BudgetCategoriesCreated int    `json:"budget_categories_created"`
	ActivitiesSkipped       int    `json:"activities_skipped"`
}

// ConflictSet lists generated activity titles that duplicate existing ones.
type ConflictSet []string

// Contains reports whether title is in the set, using title normalization.
func (c ConflictSet) Contains(title string) bool {
	n := NormalizeTitle(title)
	for _, t := range c {
		if NormalizeTitle(t) == n {
			return true
		}
	}
	return false
}

// NormalizeTitle lowercases and collapses whitespace for natural-key comparison.
func NormalizeTitle(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), unicode.IsSpace), " ")
}

// PackingItem is one entry of a generated packing list.
type PackingItem struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Quantity int    `json:"quantity"`
}
