package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/truecheckia/retry-service/internal/dlq"
	"github.com/truecheckia/retry-service/internal/dlq/domain"
	"github.com/truecheckia/retry-service/internal/dlq/storage"
)

// JobRepository is the admin view of the Job Record Store
type JobRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Sweeper runs retry sweeps and reports queue stats
type Sweeper interface {
	Sweep(ctx context.Context) (*dlq.SweepReport, error)
	GetStats(ctx context.Context) (domain.Stats, error)
}

// MetricsReader returns the last recorded sweep snapshot
type MetricsReader interface {
	Latest(ctx context.Context) (*dlq.Snapshot, error)
}

// HealthCheck reports whether a backing service is reachable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger             *slog.Logger
	Jobs               JobRepository
	Sweeper            Sweeper
	Metrics            MetricsReader
	HealthChecks       map[string]HealthCheck
	CronSecret         string
	APIToken           string
	DefaultMaxAttempts int
	SweepTimeout       time.Duration
	Clock              func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger             *slog.Logger
	jobs               JobRepository
	defaultMaxAttempts int
	now                func() time.Time
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	maxAttempts := deps.DefaultMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	return &JobHandler{
		logger:             deps.Logger,
		jobs:               deps.Jobs,
		defaultMaxAttempts: maxAttempts,
		now:                deps.now,
	}
}

// DLQHandler serves the cron trigger and queue introspection endpoints
type DLQHandler struct {
	logger       *slog.Logger
	sweeper      Sweeper
	metrics      MetricsReader
	sweepTimeout time.Duration
}

// NewDLQHandler creates a new DLQHandler instance
func NewDLQHandler(deps *Dependencies) *DLQHandler {
	return &DLQHandler{
		logger:       deps.Logger,
		sweeper:      deps.Sweeper,
		metrics:      deps.Metrics,
		sweepTimeout: deps.SweepTimeout,
	}
}
