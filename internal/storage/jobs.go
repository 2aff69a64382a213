package storage

import (
	"context"
	"time"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

// JobStore persists background plan jobs. At most one job per
// (user, trip, mode) may be pending or running at a time.
type JobStore interface {
	// CreateJob inserts job as pending. If an active job already exists for
	// the same key, that job is returned with created=false.
	CreateJob(ctx context.Context, job domain.PlanJob) (out domain.PlanJob, created bool, err error)

	// GetJob returns a job by ID or ErrNotFound.
	GetJob(ctx context.Context, id string) (domain.PlanJob, error)

	// ActiveJob returns the pending or running job for key, or ErrNotFound.
	ActiveJob(ctx context.Context, key domain.ConversationKey) (domain.PlanJob, error)

	// ClaimNextJob atomically moves the oldest pending job to running.
	// Returns ErrNotFound when the queue is empty.
	ClaimNextJob(ctx context.Context) (domain.PlanJob, error)

	// UpdateJobProgress advances a running job's step. Steps never move
	// backwards; a stale update reports false.
	UpdateJobProgress(ctx context.Context, id string, step domain.ProgressStep) (bool, error)

	// CompleteJob marks a running job done with its result. Reports false
	// if the job was not running.
	CompleteJob(ctx context.Context, id string, result domain.ExecutionResult) (bool, error)

	// FailJob marks a running job as errored. result, when not nil, holds
	// what was written before the failure. Reports false if the job was not
	// running.
	FailJob(ctx context.Context, id string, message string, class domain.ErrorClass, result *domain.ExecutionResult) (bool, error)

	// TakeRecentCompletedJob returns the newest done job for (user, mode)
	// finished after since and not yet notified, marking it notified.
	// Returns ErrNotFound when there is none.
	TakeRecentCompletedJob(ctx context.Context, userID string, mode domain.Mode, since time.Time) (domain.PlanJob, error)

	// RequeueStaleJobs returns running jobs not updated since before to
	// pending and reports how many were moved.
	RequeueStaleJobs(ctx context.Context, before time.Time) (int, error)
}
