package repositories

import (
	"context"
	"fmt"

	"github.com/desertthunder/podtasks/internal/models"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `id, user_id, kind, resource_key, state, progress, stage,
	COALESCE(error_message, '') AS error_message, created_at, started_at, finished_at`

// JobHistoryRepository keeps terminal job outcomes after the state store evicts them.
type JobHistoryRepository struct {
	db *sqlx.DB
}

// NewJobHistoryRepository creates a new JobHistoryRepository with the given database connection
func NewJobHistoryRepository(db *sqlx.DB) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Record inserts job or overwrites an earlier record with the same id.
func (r *JobHistoryRepository) Record(ctx context.Context, job models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	var errorMessage any = job.Error
	if job.Error == "" {
		errorMessage = nil
	}

	query := r.db.Rebind(`
		INSERT INTO job_history (
			id, user_id, kind, resource_key, state, progress, stage,
			error_message, created_at, started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			progress = excluded.progress,
			stage = excluded.stage,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`)
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerUserID,
		job.Kind,
		job.ResourceKey,
		job.State,
		job.Progress,
		job.Stage,
		errorMessage,
		job.CreatedAt,
		job.StartedAt,
		job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

// Get retrieves a recorded job by id.
func (r *JobHistoryRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	query := r.db.Rebind(`SELECT ` + jobColumns + ` FROM job_history WHERE id = ?`)
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, notFound(err, "job", id)
	}
	return &job, nil
}

// ListByUser returns up to limit recorded jobs for userID, newest first. A limit of 0 means no limit.
func (r *JobHistoryRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job_history WHERE user_id = ? ORDER BY created_at DESC, id`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	jobs := []models.Job{}
	if err := r.db.SelectContext(ctx, &jobs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	return jobs, nil
}
