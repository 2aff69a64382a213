//go:build sqlite

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

const jobColumns = `id, user_id, trip_key, mode, status, progress_step, snapshot, result, error, error_class, notified_at, created_at, updated_at`

func scanJob(row rowScanner) (domain.PlanJob, error) {
	var j domain.PlanJob
	var snapshot string
	var result, notifiedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&j.ID, &j.UserID, &j.TripID, &j.Mode, &j.Status, &j.ProgressStep, &snapshot, &result,
		&j.Error, &j.ErrorClass, &notifiedAt, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PlanJob{}, storage.ErrNotFound
		}
		return domain.PlanJob{}, err
	}
	if err := json.Unmarshal([]byte(snapshot), &j.Snapshot); err != nil {
		return domain.PlanJob{}, fmt.Errorf("decode job snapshot: %w", err)
	}
	if result.Valid && result.String != "" {
		var r domain.ExecutionResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return domain.PlanJob{}, fmt.Errorf("decode job result: %w", err)
		}
		j.Result = &r
	}
	if notifiedAt.Valid {
		t := parseTime(notifiedAt.String)
		j.NotifiedAt = &t
	}
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return j, nil
}

// CreateJob inserts a pending job unless one is already active for the key.
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
	now := s.stamp()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plan_jobs (id, user_id, trip_key, mode, status, progress_step, progress_rank, snapshot, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.TripID, string(job.Mode), string(domain.JobStatusPending),
		string(domain.StepStructure), domain.StepStructure.Rank(), string(snapshot), now, now,
	)
	if err != nil {
		if errors.Is(storage.WrapIfConflict(err), storage.ErrConflict) {
			existing, aerr := s.ActiveJob(ctx, job.Key())
			if aerr != nil {
				return domain.PlanJob{}, false, aerr
			}
			return existing, false, nil
		}
		return domain.PlanJob{}, false, err
	}
	created, err := s.GetJob(ctx, job.ID)
	return created, err == nil, err
}

// GetJob returns a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (domain.PlanJob, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM plan_jobs WHERE id = ?`, id))
}

// ActiveJob returns the pending or running job for key.
func (s *Store) ActiveJob(ctx context.Context, key domain.ConversationKey) (domain.PlanJob, error) {
	return scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM plan_jobs
		 WHERE user_id = ? AND trip_key = ? AND mode = ? AND status IN ('pending', 'running')`,
		key.UserID, key.TripID, string(key.Mode)))
}

// ClaimNextJob moves the oldest pending job to running in one statement.
func (s *Store) ClaimNextJob(ctx context.Context) (domain.PlanJob, error) {
	return scanJob(s.db.QueryRowContext(ctx,
		`UPDATE plan_jobs SET status = 'running', updated_at = ?
		 WHERE id = (SELECT id FROM plan_jobs WHERE status = 'pending' ORDER BY created_at, rowid LIMIT 1)
		   AND status = 'pending'
		 RETURNING `+jobColumns, s.stamp()))
}

// UpdateJobProgress advances the step only if it ranks after the current one.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, step domain.ProgressStep) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plan_jobs SET progress_step = ?, progress_rank = ?, updated_at = ?
		 WHERE id = ? AND status = 'running' AND progress_rank < ?`,
		string(step), step.Rank(), s.stamp(), id, step.Rank())
	return s.affected(ctx, res, err, id)
}

// CompleteJob stores the result of a running job.
func (s *Store) CompleteJob(ctx context.Context, id string, result domain.ExecutionResult) (bool, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE plan_jobs SET status = 'done', progress_step = ?, progress_rank = ?, result = ?, updated_at = ?
		 WHERE id = ? AND status = 'running'`,
		string(domain.StepDone), domain.StepDone.Rank(), string(b), s.stamp(), id)
	return s.affected(ctx, res, err, id)
}

// FailJob records the failure of a running job.
func (s *Store) FailJob(ctx context.Context, id string, message string, class domain.ErrorClass, result *domain.ExecutionResult) (bool, error) {
	var partial sql.NullString
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return false, err
		}
		partial = sql.NullString{String: string(b), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE plan_jobs SET status = 'error', error = ?, error_class = ?, result = ?, updated_at = ?
		 WHERE id = ? AND status = 'running'`,
		message, string(class), partial, s.stamp(), id)
	return s.affected(ctx, res, err, id)
}

// affected reports whether an update hit a row, distinguishing a missing
// job from a predicate that did not match.
func (s *Store) affected(ctx context.Context, res sql.Result, err error, id string) (bool, error) {
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM plan_jobs WHERE id = ?`, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, storage.ErrNotFound
		}
		return false, err
	}
	return false, nil
}

// TakeRecentCompletedJob marks and returns the newest unnotified done job.
func (s *Store) TakeRecentCompletedJob(ctx context.Context, userID string, mode domain.Mode, since time.Time) (domain.PlanJob, error) {
	return scanJob(s.db.QueryRowContext(ctx,
		`UPDATE plan_jobs SET notified_at = ?
		 WHERE id = (
		   SELECT id FROM plan_jobs
		   WHERE user_id = ? AND mode = ? AND status = 'done' AND notified_at IS NULL AND updated_at >= ?
		   ORDER BY updated_at DESC LIMIT 1)
		   AND notified_at IS NULL
		 RETURNING `+jobColumns,
		s.stamp(), userID, string(mode), formatTime(since)))
}

// RequeueStaleJobs returns abandoned running jobs to the queue.
func (s *Store) RequeueStaleJobs(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plan_jobs SET status = 'pending', updated_at = ? WHERE status = 'running' AND updated_at < ?`,
		s.stamp(), formatTime(before))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
