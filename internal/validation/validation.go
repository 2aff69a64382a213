// Package validation checks user-supplied planner input before it reaches
// the language model or the store.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

// Validation error types for specific error handling.
var (
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrTooLong       = errors.New("value exceeds maximum length")
	ErrInvalidFormat = errors.New("invalid format")
	ErrOutOfRange    = errors.New("value out of range")
)

// Constraints for validation.
const (
	MaxNameLength        = 255
	MaxMessageLength     = 8000
	MaxInstructionLength = 4000
	MaxTripDays          = 90
	MaxTravelers         = 50
	MaxPreferences       = 30
)

const dateLayout = "2006-01-02"

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// FieldError reports which input field failed and why.
type FieldError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, truncate(e.Value, 50), e.Reason)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ValidateName checks a free-text name such as a destination. Empty names
// are rejected; callers skip the check for optional fields.
func ValidateName(field, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &FieldError{Field: field, Reason: "cannot be empty", Err: ErrEmptyValue}
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return &FieldError{
			Field:  field,
			Value:  name,
			Reason: fmt.Sprintf("exceeds maximum length of %d characters", MaxNameLength),
			Err:    ErrTooLong,
		}
	}
	return nil
}

// ValidateDate checks an ISO calendar date (YYYY-MM-DD).
func ValidateDate(field, date string) (time.Time, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, &FieldError{Field: field, Value: date, Reason: "must be YYYY-MM-DD", Err: ErrInvalidFormat}
	}
	return t, nil
}

// ValidateTripContext checks the trip context a conversation starts with.
// Every field is optional, but a present field must be well formed and an
// end date must not precede the start date.
func ValidateTripContext(tc domain.TripContext) error {
	var errs []error
	if strings.TrimSpace(tc.Destination) != "" {
		if err := ValidateName("destination", tc.Destination); err != nil {
			errs = append(errs, err)
		}
	}

	var start, end time.Time
	if tc.StartDate != "" {
		t, err := ValidateDate("start_date", tc.StartDate)
		if err != nil {
			errs = append(errs, err)
		}
		start = t
	}
	if tc.EndDate != "" {
		t, err := ValidateDate("end_date", tc.EndDate)
		if err != nil {
			errs = append(errs, err)
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() {
		switch days := int(end.Sub(start).Hours()/24) + 1; {
		case days < 1:
			errs = append(errs, &FieldError{Field: "end_date", Value: tc.EndDate, Reason: "is before start_date", Err: ErrOutOfRange})
		case days > MaxTripDays:
			errs = append(errs, &FieldError{
				Field:  "end_date",
				Value:  tc.EndDate,
				Reason: fmt.Sprintf("trip exceeds %d days", MaxTripDays),
				Err:    ErrOutOfRange,
			})
		}
	}

	if tc.Currency != "" && !currencyPattern.MatchString(tc.Currency) {
		errs = append(errs, &FieldError{Field: "currency", Value: tc.Currency, Reason: "must be a three-letter ISO 4217 code", Err: ErrInvalidFormat})
	}
	if tc.Travelers < 0 || tc.Travelers > MaxTravelers {
		errs = append(errs, &FieldError{
			Field:  "travelers",
			Value:  fmt.Sprint(tc.Travelers),
			Reason: fmt.Sprintf("must be between 0 and %d", MaxTravelers),
			Err:    ErrOutOfRange,
		})
	}
	if len(tc.Preferences) > MaxPreferences {
		errs = append(errs, &FieldError{
			Field:  "preferences",
			Reason: fmt.Sprintf("at most %d entries", MaxPreferences),
			Err:    ErrTooLong,
		})
	}
	for k, v := range tc.Preferences {
		if err := ValidateName("preference key", k); err != nil {
			errs = append(errs, err)
		}
		if utf8.RuneCountInString(v) > MaxNameLength {
			errs = append(errs, &FieldError{Field: "preference " + truncate(k, 30), Reason: "value too long", Err: ErrTooLong})
		}
	}
	return errors.Join(errs...)
}

// ValidateText checks a chat message or adjustment instruction after
// trimming. max is the limit in characters.
func ValidateText(field, text string, max int) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return &FieldError{Field: field, Reason: "cannot be empty", Err: ErrEmptyValue}
	}
	if n := utf8.RuneCountInString(text); n > max {
		return &FieldError{
			Field:  field,
			Reason: fmt.Sprintf("%d characters exceeds maximum of %d", n, max),
			Err:    ErrTooLong,
		}
	}
	return nil
}

// truncate shortens a string for display in error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
