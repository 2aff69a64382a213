package domain

import "time"

// JobStatus is the lifecycle state of a PlanJob.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// IsActive reports whether the job still occupies its (user, trip, mode) slot.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// ProgressStep is the section a running job is producing.
// Steps only move forward in the order of ProgressSteps.
type ProgressStep string

const (
	StepStructure  ProgressStep = "structure"
	StepTrip       ProgressStep = "trip"
	StepDays       ProgressStep = "days"
	StepActivities ProgressStep = "activities"
	StepStops      ProgressStep = "stops"
	StepBudget     ProgressStep = "budget"
	StepDone       ProgressStep = "done"
)

// ProgressSteps is the fixed order of job progress.
var ProgressSteps = []ProgressStep{StepStructure, StepTrip, StepDays, StepActivities, StepStops, StepBudget, StepDone}

// Rank returns the position of s in ProgressSteps, or -1 if unknown.
func (s ProgressStep) Rank() int {
	for i, p := range ProgressSteps {
		if p == s {
			return i
		}
	}
	return -1
}

// JobContext is the snapshot a job needs to generate and apply a plan
// without the requesting session.
type JobContext struct {
	Context    TripContext    `json:"context"`
	Transcript []Message      `json:"transcript"`
	Structure  *PlanStructure `json:"structure,omitempty"`
	// TripID is the trip an earlier create-mode attempt already started.
	TripID string `json:"trip_id,omitempty"`
	// CreditsCharged is refunded if the job fails before applying anything.
	CreditsCharged int `json:"credits_charged"`
}

// PlanJob is a durable background plan generation.
type PlanJob struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	TripID       string           `json:"trip_id,omitempty"`
	Mode         Mode             `json:"mode"`
	Status       JobStatus        `json:"status"`
	ProgressStep ProgressStep     `json:"progress_step"`
	Snapshot     JobContext       `json:"-"`
	Result       *ExecutionResult `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
	ErrorClass   ErrorClass       `json:"error_class,omitempty"`
	NotifiedAt   *time.Time       `json:"notified_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Key returns the (user, trip, mode) slot the job occupies.
func (j *PlanJob) Key() ConversationKey {
	return ConversationKey{UserID: j.UserID, TripID: j.TripID, Mode: j.Mode}
}
