package dlq

import (
	"fmt"
	"time"

	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

const (
	// DefaultBaseDelay is the wait after the first failed attempt
	DefaultBaseDelay = 30 * time.Second
	// DefaultMaxDelay caps the backoff window
	DefaultMaxDelay = time.Hour
)

// Scheduler decides retry eligibility and backoff windows.
// It holds no state besides its delays and is safe for concurrent use.
type Scheduler struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewScheduler creates a Scheduler, falling back to defaults for non-positive delays
func NewScheduler(baseDelay, maxDelay time.Duration) *Scheduler {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}

	return &Scheduler{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// IsEligible reports whether job may be executed at now
func (s *Scheduler) IsEligible(job *domain.Job, now time.Time) bool {
	if job == nil {
		return false
	}
	return job.Status.IsClaimable() && !now.Before(job.NextRetryAt)
}

// Backoff returns min(baseDelay * 2^n, maxDelay)
func (s *Scheduler) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}

	delay := s.baseDelay
	for i := 0; i < n; i++ {
		// doubling past the cap also guards against overflow
		if delay >= s.maxDelay/2 {
			return s.maxDelay
		}
		delay *= 2
	}

	if delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}

// ScheduleRetry records a failed attempt on job.
// The job becomes DEAD once attempts reaches maxAttempts, otherwise FAILED with
// nextRetryAt pushed out by the backoff for the attempts made before this one.
func (s *Scheduler) ScheduleRetry(job *domain.Job, jobErr error, now time.Time) error {
	if job == nil || job.JobID == "" {
		return fmt.Errorf("%w: missing job id", domain.ErrInvalidJob)
	}

	if job.MaxAttempts <= 0 {
		job.MaxAttempts = domain.DefaultMaxAttempts
	}

	job.LastError = errorMessage(jobErr)
	job.UpdatedAt = now

	job.Attempts++
	if job.Attempts >= job.MaxAttempts {
		job.Attempts = job.MaxAttempts
		job.Status = domain.JobStatusDead
		job.CompletedAt = &now
		return nil
	}

	job.Status = domain.JobStatusFailed
	job.NextRetryAt = now.Add(s.Backoff(job.Attempts - 1))
	return nil
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}

	return domain.TruncateText(err.Error(), domain.MaxErrorLength)
}
