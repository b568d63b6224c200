package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

// Store is the Job Record Store the processor sweeps over.
// Claim must be a single conditional write so that concurrent sweeps never
// both own the same job.
type Store interface {
	// FindEligible returns up to limit PENDING/FAILED jobs due at now, oldest next_retry_at first
	FindEligible(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	// Claim moves a due PENDING/FAILED job to PROCESSING and returns the claimed row.
	// It returns domain.ErrJobAlreadyClaimed when no row matched.
	Claim(ctx context.Context, jobID string, now time.Time) (*domain.Job, error)

	// MarkCompleted moves a PROCESSING job to COMPLETED
	MarkCompleted(ctx context.Context, jobID string, now time.Time) error

	// SaveRetry persists status, attempts, next_retry_at and last_error of a PROCESSING job
	SaveRetry(ctx context.Context, job *domain.Job) error

	// Heartbeat refreshes last_heartbeat_at of a PROCESSING job
	Heartbeat(ctx context.Context, jobID string, now time.Time) error

	// RecoverStale returns PROCESSING jobs whose heartbeat is older than staleBefore to FAILED
	RecoverStale(ctx context.Context, staleBefore, now time.Time) (int64, error)

	// Stats returns job counts by status
	Stats(ctx context.Context) (domain.Stats, error)
}

// ErrCacheMiss is returned by Cache.Get when the key does not exist
var ErrCacheMiss = errors.New("cache miss")

// Cache is the key-value store metrics snapshots are written to
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
