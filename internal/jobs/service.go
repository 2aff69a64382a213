// Package jobs runs plan generation in the background so it survives the
// requesting client. Jobs are rows in the job store; workers claim the
// oldest pending job with a conditional status update, generate the plan,
// apply it to the itinerary and record the result.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

// DefaultRecentWindow bounds how old a completed job may be and still be
// announced to a returning client.
const DefaultRecentWindow = 24 * time.Hour

// Service answers job queries from clients.
type Service struct {
	store        storage.JobStore
	recentWindow time.Duration
	now          func() time.Time
}

// NewService returns a Service. A non-positive recentWindow selects the default.
func NewService(store storage.JobStore, recentWindow time.Duration) *Service {
	if recentWindow <= 0 {
		recentWindow = DefaultRecentWindow
	}
	return &Service{store: store, recentWindow: recentWindow, now: time.Now}
}

// GetJobStatus returns the job if it belongs to userID. Other users' jobs
// are reported as domain.ErrJobNotFound.
func (s *Service) GetJobStatus(ctx context.Context, userID, id string) (domain.PlanJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.PlanJob{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.PlanJob{}, fmt.Errorf("get job: %w", err)
	}
	if job.UserID != userID {
		return domain.PlanJob{}, domain.ErrJobNotFound
	}
	return job, nil
}

// GetRecentCompletedJob returns the newest completed job of the user in
// mode that has not been announced yet, and marks it announced. It returns
// nil when there is none, so each completion is reported exactly once.
func (s *Service) GetRecentCompletedJob(ctx context.Context, userID string, mode domain.Mode) (*domain.PlanJob, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("unknown mode %q: %w", mode, storage.ErrValidation)
	}
	job, err := s.store.TakeRecentCompletedJob(ctx, userID, mode, s.now().Add(-s.recentWindow))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recent completed job: %w", err)
	}
	return &job, nil
}
