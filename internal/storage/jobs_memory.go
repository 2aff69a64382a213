package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

type memJob struct {
	job   domain.PlanJob
	order int64
}

func (m *MemoryStore) CreateJob(_ context.Context, job domain.PlanJob) (domain.PlanJob, bool, error) {
	if job.UserID == "" || !job.Mode.IsValid() {
		return domain.PlanJob{}, false, fmt.Errorf("user and mode required: %w", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.activeLocked(job.Key()); ok {
		return existing.job, false, nil
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := m.now()
	job.Status = domain.JobStatusPending
	job.ProgressStep = domain.StepStructure
	job.CreatedAt = now
	job.UpdatedAt = now
	m.jobOrder++
	m.jobs[job.ID] = &memJob{job: job, order: m.jobOrder}
	return job, true, nil
}

func (m *MemoryStore) activeLocked(key domain.ConversationKey) (*memJob, bool) {
	for _, j := range m.jobs {
		if j.job.Status.IsActive() && j.job.Key() == key {
			return j, true
		}
	}
	return nil, false
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (domain.PlanJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.PlanJob{}, ErrNotFound
	}
	return j.job, nil
}

func (m *MemoryStore) ActiveJob(_ context.Context, key domain.ConversationKey) (domain.PlanJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.activeLocked(key)
	if !ok {
		return domain.PlanJob{}, ErrNotFound
	}
	return j.job, nil
}

func (m *MemoryStore) ClaimNextJob(_ context.Context) (domain.PlanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *memJob
	for _, j := range m.jobs {
		if j.job.Status != domain.JobStatusPending {
			continue
		}
		if next == nil || j.order < next.order {
			next = j
		}
	}
	if next == nil {
		return domain.PlanJob{}, ErrNotFound
	}
	next.job.Status = domain.JobStatusRunning
	next.job.UpdatedAt = m.now()
	return next.job, nil
}

func (m *MemoryStore) UpdateJobProgress(_ context.Context, id string, step domain.ProgressStep) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.job.Status != domain.JobStatusRunning || step.Rank() <= j.job.ProgressStep.Rank() {
		return false, nil
	}
	j.job.ProgressStep = step
	j.job.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) CompleteJob(_ context.Context, id string, result domain.ExecutionResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.job.Status != domain.JobStatusRunning {
		return false, nil
	}
	j.job.Status = domain.JobStatusDone
	j.job.ProgressStep = domain.StepDone
	j.job.Result = &result
	j.job.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) FailJob(_ context.Context, id string, message string, class domain.ErrorClass, result *domain.ExecutionResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.job.Status != domain.JobStatusRunning {
		return false, nil
	}
	j.job.Status = domain.JobStatusError
	j.job.Error = message
	j.job.ErrorClass = class
	if result != nil {
		r := *result
		j.job.Result = &r
	}
	j.job.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) TakeRecentCompletedJob(_ context.Context, userID string, mode domain.Mode, since time.Time) (domain.PlanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *memJob
	for _, j := range m.jobs {
		if j.job.UserID != userID || j.job.Mode != mode || j.job.Status != domain.JobStatusDone {
			continue
		}
		if j.job.NotifiedAt != nil || j.job.UpdatedAt.Before(since) {
			continue
		}
		if best == nil || j.job.UpdatedAt.After(best.job.UpdatedAt) {
			best = j
		}
	}
	if best == nil {
		return domain.PlanJob{}, ErrNotFound
	}
	now := m.now()
	best.job.NotifiedAt = &now
	return best.job, nil
}

func (m *MemoryStore) RequeueStaleJobs(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.job.Status == domain.JobStatusRunning && j.job.UpdatedAt.Before(before) {
			j.job.Status = domain.JobStatusPending
			j.job.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}
