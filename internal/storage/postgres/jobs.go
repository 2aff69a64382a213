//go:build postgres

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

const jobColumns = `id, user_id, trip_key, mode, status, progress_step, snapshot, result, error, error_class, notified_at, created_at, updated_at`

func scanJob(row pgx.Row) (domain.PlanJob, error) {
	var j domain.PlanJob
	var snapshot, result []byte
	if err := row.Scan(&j.ID, &j.UserID, &j.TripID, &j.Mode, &j.Status, &j.ProgressStep, &snapshot, &result,
		&j.Error, &j.ErrorClass, &j.NotifiedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PlanJob{}, storage.ErrNotFound
		}
		return domain.PlanJob{}, err
	}
	if err := json.Unmarshal(snapshot, &j.Snapshot); err != nil {
		return domain.PlanJob{}, fmt.Errorf("decode job snapshot: %w", err)
	}
	if len(result) > 0 {
		var r domain.ExecutionResult
		if err := json.Unmarshal(result, &r); err != nil {
			return domain.PlanJob{}, fmt.Errorf("decode job result: %w", err)
		}
		j.Result = &r
	}
	return j, nil
}

// CreateJob inserts a pending job; the partial unique index rejects a second
// active job for the key, in which case the existing one is returned.
func (s *Store) CreateJob(ctx context.Context, job domain.PlanJob) (domain.PlanJob, bool, error) {
	if job.UserID == "" || !job.Mode.IsValid() {
		return domain.PlanJob{}, false, fmt.Errorf("user and mode required: %w", storage.ErrValidation)
	}
	snapshot, err := json.Marshal(job.Snapshot)
	if err != nil {
		return domain.PlanJob{}, false, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	created, err := scanJob(s.pool.QueryRow(ctx,
		`INSERT INTO plan_jobs (id, user_id, trip_key, mode, status, progress_step, progress_rank, snapshot)
		 VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7)
		 RETURNING `+jobColumns,
		job.ID, job.UserID, job.TripID, string(job.Mode), string(domain.StepStructure), domain.StepStructure.Rank(), snapshot))
	if err == nil {
		return created, true, nil
	}
	if errors.Is(wrapErr(err), storage.ErrConflict) {
		existing, aerr := s.ActiveJob(ctx, job.Key())
		if aerr != nil {
			return domain.PlanJob{}, false, aerr
		}
		return existing, false, nil
	}
	return domain.PlanJob{}, false, err
}

// GetJob returns a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (domain.PlanJob, error) {
	return scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM plan_jobs WHERE id = $1`, id))
}

// ActiveJob returns the pending or running job for key.
func (s *Store) ActiveJob(ctx context.Context, key domain.ConversationKey) (domain.PlanJob, error) {
	return scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM plan_jobs
		 WHERE user_id = $1 AND trip_key = $2 AND mode = $3 AND status IN ('pending', 'running')`,
		key.UserID, key.TripID, string(key.Mode)))
}

// ClaimNextJob moves the oldest pending job to running. SKIP LOCKED lets
// several workers claim concurrently without blocking on each other.
func (s *Store) ClaimNextJob(ctx context.Context) (domain.PlanJob, error) {
	return scanJob(s.pool.QueryRow(ctx,
		`UPDATE plan_jobs SET status = 'running', updated_at = NOW()
		 WHERE id = (
		   SELECT id FROM plan_jobs WHERE status = 'pending'
		   ORDER BY created_at, id
		   FOR UPDATE SKIP LOCKED
		   LIMIT 1)
		 RETURNING `+jobColumns))
}

// UpdateJobProgress advances the step only if it ranks after the current one.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, step domain.ProgressStep) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plan_jobs SET progress_step = $1, progress_rank = $2, updated_at = NOW()
		 WHERE id = $3 AND status = 'running' AND progress_rank < $2`,
		string(step), step.Rank(), id)
	return s.affected(ctx, tag, err, id)
}

// CompleteJob stores the result of a running job.
func (s *Store) CompleteJob(ctx context.Context, id string, result domain.ExecutionResult) (bool, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE plan_jobs SET status = 'done', progress_step = $1, progress_rank = $2, result = $3, updated_at = NOW()
		 WHERE id = $4 AND status = 'running'`,
		string(domain.StepDone), domain.StepDone.Rank(), b, id)
	return s.affected(ctx, tag, err, id)
}

// FailJob records the failure of a running job.
func (s *Store) FailJob(ctx context.Context, id string, message string, class domain.ErrorClass, result *domain.ExecutionResult) (bool, error) {
	var partial []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return false, err
		}
		partial = b
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE plan_jobs SET status = 'error', error = $1, error_class = $2, result = $3, updated_at = NOW()
		 WHERE id = $4 AND status = 'running'`,
		message, string(class), partial, id)
	return s.affected(ctx, tag, err, id)
}

func (s *Store) affected(ctx context.Context, tag pgconn.CommandTag, err error, id string) (bool, error) {
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM plan_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// TakeRecentCompletedJob marks and returns the newest unnotified done job.
func (s *Store) TakeRecentCompletedJob(ctx context.Context, userID string, mode domain.Mode, since time.Time) (domain.PlanJob, error) {
	return scanJob(s.pool.QueryRow(ctx,
		`UPDATE plan_jobs SET notified_at = NOW()
		 WHERE id = (
		   SELECT id FROM plan_jobs
		   WHERE user_id = $1 AND mode = $2 AND status = 'done' AND notified_at IS NULL AND updated_at >= $3
		   ORDER BY updated_at DESC
		   FOR UPDATE SKIP LOCKED
		   LIMIT 1)
		 RETURNING `+jobColumns,
		userID, string(mode), since))
}

// RequeueStaleJobs returns abandoned running jobs to the queue.
func (s *Store) RequeueStaleJobs(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plan_jobs SET status = 'pending', updated_at = NOW() WHERE status = 'running' AND updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
