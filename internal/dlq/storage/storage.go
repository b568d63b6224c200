package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

//go:embed schema.sql
var schema string

// RecoveredStaleMessage is written to last_error of reclaimed PROCESSING jobs
const RecoveredStaleMessage = "recovered stale processing job"

const jobColumns = `
	job_id, job_type, payload, status, attempts, max_attempts,
	next_retry_at, last_error, claimed_at, last_heartbeat_at,
	completed_at, created_at, updated_at
`

// JobFilter narrows ListJobs results
type JobFilter struct {
	JobType  domain.JobType
	Status   domain.JobStatus
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last row of a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// Storage is the PostgreSQL Job Record Store
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the jobs table and its indexes if they do not exist
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateJob inserts a new job. It returns domain.ErrJobExists when the id is taken.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, job_type, payload, status, attempts, max_attempts,
			next_retry_at, last_error, created_at, updated_at
		) VALUES (
			$1, $2, $3::jsonb, $4, $5, $6,
			$7, $8, $9, $10
		)
		ON CONFLICT (job_id) DO NOTHING
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.JobType,
		payloadText(job.Payload),
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.NextRetryAt,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrJobExists
	}

	return nil
}

// GetJobByID retrieves a job from the database by its ID
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListJobs returns up to PageSize+1 jobs newest first so callers can detect a next page
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	jobs := []*domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// DeleteJob removes a COMPLETED or DEAD job
func (s *Storage) DeleteJob(ctx context.Context, jobID string) error {
	query := `
		DELETE FROM jobs
		WHERE job_id = $1
		  AND status IN ($2, $3)
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusCompleted, domain.JobStatusDead)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Nothing deleted: tell missing rows apart from rows that can still run
	if _, err := s.GetJobByID(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrJobNotTerminal
}

// FindEligible returns due PENDING/FAILED jobs ordered by next_retry_at
func (s *Storage) FindEligible(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status IN ($1, $2)
		  AND next_retry_at <= $3
		ORDER BY next_retry_at ASC, job_id ASC
		LIMIT $4
	`

	jobs := []*domain.Job{}
	err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusPending, domain.JobStatusFailed, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find eligible jobs: %w", err)
	}

	return jobs, nil
}

// Claim attempts to claim a job with a single conditional update.
// Returns the claimed row on success, domain.ErrJobAlreadyClaimed if another sweep won.
func (s *Storage) Claim(ctx context.Context, jobID string, now time.Time) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    claimed_at = $2,
		    last_heartbeat_at = $2,
		    updated_at = $2
		WHERE job_id = $3
		  AND status IN ($4, $5)
		  AND next_retry_at <= $2
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query,
		domain.JobStatusProcessing, now, jobID,
		domain.JobStatusPending, domain.JobStatusFailed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not eligible",
				slog.String("job_id", jobID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("job_type", string(job.JobType)),
		slog.Int("attempts", job.Attempts),
	)

	return &job, nil
}

// MarkCompleted moves a PROCESSING job to COMPLETED
func (s *Storage) MarkCompleted(ctx context.Context, jobID string, now time.Time) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    last_error = '',
		    completed_at = $2,
		    updated_at = $2
		WHERE job_id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusCompleted, now, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	return s.requireOwned(result, jobID, domain.JobStatusCompleted)
}

// SaveRetry persists the outcome computed by the scheduler for a PROCESSING job
func (s *Storage) SaveRetry(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    attempts = $2,
		    next_retry_at = $3,
		    last_error = $4,
		    completed_at = $5,
		    updated_at = $6
		WHERE job_id = $7
		  AND status = $8
	`

	result, err := s.db.ExecContext(ctx, query,
		job.Status,
		job.Attempts,
		job.NextRetryAt,
		job.LastError,
		job.CompletedAt,
		job.UpdatedAt,
		job.JobID,
		domain.JobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to save job retry: %w", err)
	}

	return s.requireOwned(result, job.JobID, job.Status)
}

// Heartbeat updates the last_heartbeat_at timestamp for a PROCESSING job
func (s *Storage) Heartbeat(ctx context.Context, jobID string, now time.Time) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = $1,
		    updated_at = $1
		WHERE job_id = $2 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, now, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be processing)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// RecoverStale moves PROCESSING jobs with a heartbeat older than staleBefore back to FAILED.
// The attempt counter is left untouched since the attempt never reported an outcome.
func (s *Storage) RecoverStale(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    next_retry_at = $2,
		    last_error = $3,
		    updated_at = $2
		WHERE status = $4
		  AND COALESCE(last_heartbeat_at, claimed_at, updated_at) < $5
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed, now, RecoveredStaleMessage,
		domain.JobStatusProcessing, staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// Stats returns job counts grouped by status
func (s *Storage) Stats(ctx context.Context) (domain.Stats, error) {
	query := `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`

	var rows []struct {
		Status domain.JobStatus `db:"status"`
		Count  int64            `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return domain.Stats{}, fmt.Errorf("failed to count jobs: %w", err)
	}

	var stats domain.Stats
	for _, row := range rows {
		stats.Add(row.Status, row.Count)
	}
	return stats, nil
}

// payloadText sends JSON as text so the ::jsonb cast does not see bytea encoding
func payloadText(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "{}"
	}
	return string(payload)
}

func (s *Storage) requireOwned(result sql.Result, jobID string, status domain.JobStatus) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOwnershipLost, jobID)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)
	return nil
}
