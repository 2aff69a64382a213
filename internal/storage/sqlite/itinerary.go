//go:build sqlite

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

func (s *Store) CreateTrip(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	if trip.UserID == "" || trip.Name == "" {
		return domain.Trip{}, fmt.Errorf("user and name required: %w", storage.ErrValidation)
	}
	if trip.ID == "" {
		trip.ID = uuid.NewString()
	}
	trip.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trips (id, user_id, name, destination, start_date, end_date, currency, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trip.ID, trip.UserID, trip.Name, trip.Destination, trip.StartDate, trip.EndDate, trip.Currency, formatTime(trip.CreatedAt))
	if err != nil {
		return domain.Trip{}, storage.WrapIfConflict(err)
	}
	return trip, nil
}

func (s *Store) GetTrip(ctx context.Context, tripID string) (domain.Trip, error) {
	var t domain.Trip
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, destination, start_date, end_date, currency, created_at FROM trips WHERE id = ?`, tripID,
	).Scan(&t.ID, &t.UserID, &t.Name, &t.Destination, &t.StartDate, &t.EndDate, &t.Currency, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Trip{}, storage.ErrNotFound
		}
		return domain.Trip{}, err
	}
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

// insertChild maps a missing parent trip to ErrNotFound and a natural key
// collision to ErrConflict.
func (s *Store) insertChild(ctx context.Context, tripID, query string, args ...any) error {
	if _, err := s.GetTrip(ctx, tripID); err != nil {
		return fmt.Errorf("trip %s: %w", tripID, err)
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return storage.WrapIfConflict(err)
}

func (s *Store) ListStops(ctx context.Context, tripID string) ([]domain.Stop, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trip_id, name, lat, lng, address, kind, arrival_date, departure_date FROM trip_stops WHERE trip_id = ? ORDER BY rowid`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Stop
	for rows.Next() {
		var st domain.Stop
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&st.ID, &st.TripID, &st.Name, &lat, &lng, &st.Address, &st.Kind, &st.ArrivalDate, &st.DepartureDate); err != nil {
			return nil, err
		}
		if lat.Valid && lng.Valid {
			st.Coords = &domain.Coordinates{Lat: lat.Float64, Lng: lng.Float64}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) CreateStop(ctx context.Context, stop domain.Stop) (domain.Stop, error) {
	if stop.Name == "" {
		return domain.Stop{}, fmt.Errorf("stop name required: %w", storage.ErrValidation)
	}
	stop.ID = uuid.NewString()
	var lat, lng sql.NullFloat64
	if stop.Coords != nil {
		lat = sql.NullFloat64{Float64: stop.Coords.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: stop.Coords.Lng, Valid: true}
	}
	err := s.insertChild(ctx, stop.TripID,
		`INSERT INTO trip_stops (id, trip_id, name, lat, lng, address, kind, arrival_date, departure_date) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stop.ID, stop.TripID, stop.Name, lat, lng, stop.Address, string(stop.Kind), stop.ArrivalDate, stop.DepartureDate)
	if err != nil {
		return domain.Stop{}, err
	}
	return stop, nil
}

func (s *Store) ListDays(ctx context.Context, tripID string) ([]domain.Day, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, trip_id, date, title FROM trip_days WHERE trip_id = ? ORDER BY date`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Day
	for rows.Next() {
		var d domain.Day
		if err := rows.Scan(&d.ID, &d.TripID, &d.Date, &d.Title); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CreateDay(ctx context.Context, day domain.Day) (domain.Day, error) {
	if day.Date == "" {
		return domain.Day{}, fmt.Errorf("day date required: %w", storage.ErrValidation)
	}
	day.ID = uuid.NewString()
	err := s.insertChild(ctx, day.TripID,
		`INSERT INTO trip_days (id, trip_id, date, title) VALUES (?, ?, ?, ?)`, day.ID, day.TripID, day.Date, day.Title)
	if err != nil {
		return domain.Day{}, err
	}
	return day, nil
}

func (s *Store) ListActivities(ctx context.Context, tripID string) ([]domain.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trip_id, day_id, day_date, title, category, time, location, cost, notes, sort_order
		 FROM trip_activities WHERE trip_id = ? ORDER BY day_date, sort_order, rowid`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Activity
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.TripID, &a.DayID, &a.DayDate, &a.Title, &a.Category, &a.Time, &a.Location, &a.Cost, &a.Notes, &a.SortOrder); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CreateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	if a.Title == "" || a.DayID == "" {
		return domain.Activity{}, fmt.Errorf("activity title and day required: %w", storage.ErrValidation)
	}
	a.ID = uuid.NewString()
	err := s.insertChild(ctx, a.TripID,
		`INSERT INTO trip_activities (id, trip_id, day_id, day_date, title, category, time, location, cost, notes, sort_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TripID, a.DayID, a.DayDate, a.Title, string(a.Category), a.Time, a.Location, a.Cost, a.Notes, a.SortOrder)
	if err != nil {
		return domain.Activity{}, err
	}
	return a, nil
}

func (s *Store) ListBudgetCategories(ctx context.Context, tripID string) ([]domain.TripBudgetCategory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trip_id, name, color, limit_value FROM trip_budget_categories WHERE trip_id = ? ORDER BY rowid`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TripBudgetCategory
	for rows.Next() {
		var c domain.TripBudgetCategory
		if err := rows.Scan(&c.ID, &c.TripID, &c.Name, &c.Color, &c.Limit); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateBudgetCategory(ctx context.Context, c domain.TripBudgetCategory) (domain.TripBudgetCategory, error) {
	if c.Name == "" {
		return domain.TripBudgetCategory{}, fmt.Errorf("budget category name required: %w", storage.ErrValidation)
	}
	c.ID = uuid.NewString()
	err := s.insertChild(ctx, c.TripID,
		`INSERT INTO trip_budget_categories (id, trip_id, name, color, limit_value) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TripID, c.Name, c.Color, c.Limit)
	if err != nil {
		return domain.TripBudgetCategory{}, err
	}
	return c, nil
}

func (s *Store) ListPackingItems(ctx context.Context, tripID string) ([]domain.TripPackingItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trip_id, name, category, quantity FROM trip_packing_items WHERE trip_id = ? ORDER BY rowid`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TripPackingItem
	for rows.Next() {
		var p domain.TripPackingItem
		if err := rows.Scan(&p.ID, &p.TripID, &p.Name, &p.Category, &p.Quantity); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreatePackingItem(ctx context.Context, p domain.TripPackingItem) (domain.TripPackingItem, error) {
	if p.Name == "" {
		return domain.TripPackingItem{}, fmt.Errorf("packing item name required: %w", storage.ErrValidation)
	}
	p.ID = uuid.NewString()
	err := s.insertChild(ctx, p.TripID,
		`INSERT INTO trip_packing_items (id, trip_id, name, category, quantity) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.TripID, p.Name, p.Category, p.Quantity)
	if err != nil {
		return domain.TripPackingItem{}, err
	}
	return p, nil
}
