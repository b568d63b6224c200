package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

// MemoryStorage is an in-process Job Record Store with the same claim semantics
// as Storage. It backs tests and local dry runs.
type MemoryStorage struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	writes int
}

// NewMemoryStorage creates an empty MemoryStorage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs: make(map[string]*domain.Job),
	}
}

// Writes returns how many mutating calls changed at least one row
func (m *MemoryStorage) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryStorage) CreateJob(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.JobID]; exists {
		return domain.ErrJobExists
	}
	m.jobs[job.JobID] = cloneJob(job)
	m.writes++
	return nil
}

func (m *MemoryStorage) GetJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (m *MemoryStorage) ListJobs(_ context.Context, filter JobFilter) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]*domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if filter.JobType != "" && job.JobType != filter.JobType {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if c := filter.Cursor; c != nil {
			if job.CreatedAt.After(c.CreatedAt) || (job.CreatedAt.Equal(c.CreatedAt) && job.JobID >= c.JobID) {
				continue
			}
		}
		jobs = append(jobs, cloneJob(job))
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].JobID > jobs[j].JobID
	})

	if limit := filter.PageSize + 1; len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *MemoryStorage) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !job.Status.IsTerminal() {
		return domain.ErrJobNotTerminal
	}
	delete(m.jobs, jobID)
	m.writes++
	return nil
}

func (m *MemoryStorage) FindEligible(_ context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := []*domain.Job{}
	for _, job := range m.jobs {
		if job.Status.IsClaimable() && !job.NextRetryAt.After(now) {
			jobs = append(jobs, cloneJob(job))
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].NextRetryAt.Equal(jobs[j].NextRetryAt) {
			return jobs[i].NextRetryAt.Before(jobs[j].NextRetryAt)
		}
		return jobs[i].JobID < jobs[j].JobID
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *MemoryStorage) Claim(_ context.Context, jobID string, now time.Time) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || !job.Status.IsClaimable() || job.NextRetryAt.After(now) {
		return nil, domain.ErrJobAlreadyClaimed
	}

	job.Status = domain.JobStatusProcessing
	job.ClaimedAt = timePtr(now)
	job.LastHeartbeatAt = timePtr(now)
	job.UpdatedAt = now
	m.writes++
	return cloneJob(job), nil
}

func (m *MemoryStorage) MarkCompleted(_ context.Context, jobID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return domain.ErrOwnershipLost
	}

	job.Status = domain.JobStatusCompleted
	job.LastError = ""
	job.CompletedAt = timePtr(now)
	job.UpdatedAt = now
	m.writes++
	return nil
}

func (m *MemoryStorage) SaveRetry(_ context.Context, updated *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[updated.JobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return domain.ErrOwnershipLost
	}

	job.Status = updated.Status
	job.Attempts = updated.Attempts
	job.NextRetryAt = updated.NextRetryAt
	job.LastError = updated.LastError
	job.CompletedAt = copyTime(updated.CompletedAt)
	job.UpdatedAt = updated.UpdatedAt
	m.writes++
	return nil
}

func (m *MemoryStorage) Heartbeat(_ context.Context, jobID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[jobID]; ok && job.Status == domain.JobStatusProcessing {
		job.LastHeartbeatAt = timePtr(now)
		job.UpdatedAt = now
		m.writes++
	}
	return nil
}

func (m *MemoryStorage) RecoverStale(_ context.Context, staleBefore, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var recovered int64
	for _, job := range m.jobs {
		if job.Status != domain.JobStatusProcessing {
			continue
		}

		seen := job.UpdatedAt
		if job.LastHeartbeatAt != nil {
			seen = *job.LastHeartbeatAt
		} else if job.ClaimedAt != nil {
			seen = *job.ClaimedAt
		}
		if !seen.Before(staleBefore) {
			continue
		}

		job.Status = domain.JobStatusFailed
		job.NextRetryAt = now
		job.LastError = RecoveredStaleMessage
		job.UpdatedAt = now
		recovered++
	}

	if recovered > 0 {
		m.writes++
	}
	return recovered, nil
}

func (m *MemoryStorage) Stats(_ context.Context) (domain.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats domain.Stats
	for _, job := range m.jobs {
		stats.Add(job.Status, 1)
	}
	return stats, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	c := *job
	if job.Payload != nil {
		c.Payload = append([]byte(nil), job.Payload...)
	}
	c.ClaimedAt = copyTime(job.ClaimedAt)
	c.LastHeartbeatAt = copyTime(job.LastHeartbeatAt)
	c.CompletedAt = copyTime(job.CompletedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return timePtr(*t)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
