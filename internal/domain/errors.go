package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the planning domain. Callers use errors.Is.
var (
	// ErrInsufficientCredits means the user's balance cannot cover the operation.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrTransientUpstream means the model was overloaded, rate limited or timed out.
	// Resending the same request is safe.
	ErrTransientUpstream = errors.New("language model temporarily unavailable")

	// ErrGenerationInvalid means the model output failed structural validation.
	ErrGenerationInvalid = errors.New("plan could not be generated")

	// ErrInvalidTransition means the operation is not allowed in the current phase.
	ErrInvalidTransition = errors.New("operation not allowed in current phase")

	// ErrTurnInProgress means another turn holds the conversation lock.
	ErrTurnInProgress = errors.New("another turn is in progress")

	// ErrNoPlan means the conversation has no plan to act on.
	ErrNoPlan = errors.New("no plan available")

	// ErrNoConflicts means a conflict decision was requested with none pending.
	ErrNoConflicts = errors.New("no conflicts pending")

	// ErrJobNotFound means the job does not exist or belongs to another user.
	ErrJobNotFound = errors.New("job not found")
)

// ErrorClass is the user-facing error taxonomy.
type ErrorClass string

const (
	ErrorClassInsufficientCredits ErrorClass = "insufficient_credits"
	ErrorClassTransientUpstream   ErrorClass = "transient_upstream"
	ErrorClassValidation          ErrorClass = "validation"
	ErrorClassPartialApplication  ErrorClass = "partial_application"
	ErrorClassInvalidState        ErrorClass = "invalid_state"
	ErrorClassInternal            ErrorClass = "internal"
)

// Retryable reports whether resending the same request may succeed.
func (c ErrorClass) Retryable() bool {
	return c == ErrorClassTransientUpstream || c == ErrorClassPartialApplication
}

// PartialApplicationError reports a plan application that stopped midway.
// Entities counted in Result exist in the itinerary store.
type PartialApplicationError struct {
	Result ExecutionResult
	Err    error
}

func (e *PartialApplicationError) Error() string {
	return fmt.Sprintf("plan partially applied (days=%d activities=%d stops=%d budget=%d): %v",
		e.Result.DaysCreated, e.Result.ActivitiesCreated, e.Result.StopsCreated, e.Result.BudgetCategoriesCreated, e.Err)
}

func (e *PartialApplicationError) Unwrap() error { return e.Err }

// GenerationError wraps a validation failure of model output.
type GenerationError struct {
	Section string
	Reason  string
}

func (e *GenerationError) Error() string {
	if e.Section == "" {
		return fmt.Sprintf("%v: %s", ErrGenerationInvalid, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrGenerationInvalid, e.Section, e.Reason)
}

func (e *GenerationError) Unwrap() error { return ErrGenerationInvalid }

// Classify maps an error onto the taxonomy.
func Classify(err error) ErrorClass {
	var partial *PartialApplicationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientCredits):
		return ErrorClassInsufficientCredits
	case errors.Is(err, ErrTransientUpstream):
		return ErrorClassTransientUpstream
	case errors.As(err, &partial):
		return ErrorClassPartialApplication
	case errors.Is(err, ErrGenerationInvalid):
		return ErrorClassValidation
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrTurnInProgress),
		errors.Is(err, ErrNoPlan), errors.Is(err, ErrNoConflicts):
		return ErrorClassInvalidState
	default:
		return ErrorClassInternal
	}
}
