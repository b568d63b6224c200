package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/truecheckia/retry-service/internal/dlq/domain"
)

const (
	// DefaultBatchSize bounds the number of jobs handled by one sweep
	DefaultBatchSize = 50
	// DefaultMaxReportedErrors bounds the error list returned by a sweep
	DefaultMaxReportedErrors = 10
	// DefaultStoreTimeout bounds each write made after a handler has returned
	DefaultStoreTimeout = 10 * time.Second
)

// Config holds processor dependencies and limits
type Config struct {
	Logger            *slog.Logger
	Store             Store
	Registry          *Registry
	Scheduler         *Scheduler
	Metrics           *MetricsRecorder
	BatchSize         int
	MaxReportedErrors int
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	StoreTimeout      time.Duration
	Clock             func() time.Time
}

// Processor runs bounded sweeps over the retry queue
type Processor struct {
	logger            *slog.Logger
	store             Store
	registry          *Registry
	scheduler         *Scheduler
	metrics           *MetricsRecorder
	batchSize         int
	maxReportedErrors int
	heartbeatInterval time.Duration
	staleAfter        time.Duration
	storeTimeout      time.Duration
	clock             func() time.Time
}

// JobError describes one failed job in a sweep result
type JobError struct {
	JobID    string           `json:"job_id"`
	JobType  domain.JobType   `json:"job_type"`
	Status   domain.JobStatus `json:"status"`
	Attempts int              `json:"attempts"`
	Message  string           `json:"message"`
}

// Result is the outcome of ProcessRetryQueue
type Result struct {
	Processed int        `json:"processed"`
	Failed    int        `json:"failed"`
	Errors    []JobError `json:"errors"`
}

// SweepReport is the outcome of a full Sweep
type SweepReport struct {
	Result
	Recovered int64         `json:"recovered"`
	Duration  time.Duration `json:"duration"`
	Stats     domain.Stats  `json:"stats"`
}

// NewProcessor creates a Processor
func NewProcessor(cfg *Config) *Processor {
	p := &Processor{
		logger:            cfg.Logger,
		store:             cfg.Store,
		registry:          cfg.Registry,
		scheduler:         cfg.Scheduler,
		metrics:           cfg.Metrics,
		batchSize:         cfg.BatchSize,
		maxReportedErrors: cfg.MaxReportedErrors,
		heartbeatInterval: cfg.HeartbeatInterval,
		staleAfter:        cfg.StaleAfter,
		storeTimeout:      cfg.StoreTimeout,
		clock:             cfg.Clock,
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.registry == nil {
		p.registry = NewRegistry()
	}
	if p.scheduler == nil {
		p.scheduler = NewScheduler(DefaultBaseDelay, DefaultMaxDelay)
	}
	if p.batchSize <= 0 {
		p.batchSize = DefaultBatchSize
	}
	if p.maxReportedErrors <= 0 {
		p.maxReportedErrors = DefaultMaxReportedErrors
	}
	if p.storeTimeout <= 0 {
		p.storeTimeout = DefaultStoreTimeout
	}
	if p.clock == nil {
		p.clock = time.Now
	}

	return p
}

// Sweep recovers stale jobs, processes one batch, reads stats and records metrics
func (p *Processor) Sweep(ctx context.Context) (*SweepReport, error) {
	start := p.clock()

	recovered, err := p.RecoverStale(ctx)
	if err != nil {
		return nil, err
	}

	result, err := p.ProcessRetryQueue(ctx)
	if err != nil {
		return nil, err
	}

	// the batch may have used up ctx; stats and metrics still describe it
	tailCtx, cancel := p.storeContext(ctx)
	defer cancel()

	stats, err := p.GetStats(tailCtx)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{
		Result:    *result,
		Recovered: recovered,
		Duration:  p.clock().Sub(start),
		Stats:     stats,
	}

	p.metrics.Record(tailCtx, Snapshot{
		Processed:  report.Processed,
		Failed:     report.Failed,
		Recovered:  report.Recovered,
		DurationMS: report.Duration.Milliseconds(),
		Errors:     report.Errors,
		RecordedAt: p.clock().UTC(),
	})

	p.logger.Info("DLQ sweep finished",
		slog.Int("processed", report.Processed),
		slog.Int("failed", report.Failed),
		slog.Int64("recovered", report.Recovered),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// ProcessRetryQueue claims and executes up to one batch of eligible jobs.
// Handler failures become scheduled retries; store failures abort the sweep.
// Once ctx is done no further job is claimed, but the outcome of a job that
// already ran is always written.
func (p *Processor) ProcessRetryQueue(ctx context.Context) (*Result, error) {
	now := p.clock()

	jobs, err := p.store.FindEligible(ctx, now, p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch eligible jobs: %w", err)
	}

	result := &Result{Errors: []JobError{}}
	if len(jobs) == 0 {
		p.logger.Debug("No eligible jobs in retry queue")
		return result, nil
	}

	p.logger.Info("Processing retry queue batch",
		slog.Int("jobs", len(jobs)),
		slog.Int("batch_size", p.batchSize),
	)

	for i, candidate := range jobs {
		if ctx.Err() != nil {
			p.logger.Warn("Sweep deadline reached, leaving remaining jobs for the next sweep",
				slog.Int("remaining", len(jobs)-i),
				slog.String("error", ctx.Err().Error()),
			)
			break
		}

		if !p.scheduler.IsEligible(candidate, now) {
			continue
		}

		// Step 1: Claim job (PENDING/FAILED → PROCESSING)
		job, err := p.store.Claim(ctx, candidate.JobID, now)
		if err != nil {
			if errors.Is(err, domain.ErrJobAlreadyClaimed) {
				p.logger.Debug("Job already claimed, skipping",
					slog.String("job_id", candidate.JobID),
				)
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			return nil, fmt.Errorf("failed to claim job %s: %w", candidate.JobID, err)
		}

		// Step 2: Execute handler for job.type
		execErr := p.execute(ctx, job)
		finishedAt := p.clock()

		// Step 3: Record outcome
		writeCtx, cancel := p.storeContext(ctx)
		err = p.saveOutcome(writeCtx, job, execErr, finishedAt)
		cancel()
		if err != nil {
			if errors.Is(err, domain.ErrOwnershipLost) {
				p.logger.Warn("Job was recovered while running, outcome discarded",
					slog.String("job_id", job.JobID),
					slog.String("job_type", string(job.JobType)),
				)
				continue
			}
			return nil, err
		}

		if execErr == nil {
			result.Processed++

			p.logger.Info("Job completed successfully",
				slog.String("job_id", job.JobID),
				slog.String("job_type", string(job.JobType)),
			)
			continue
		}

		result.Failed++
		if len(result.Errors) < p.maxReportedErrors {
			result.Errors = append(result.Errors, JobError{
				JobID:    job.JobID,
				JobType:  job.JobType,
				Status:   job.Status,
				Attempts: job.Attempts,
				Message:  job.LastError,
			})
		}

		p.logJobFailure(job)
	}

	return result, nil
}

// saveOutcome completes job or schedules its retry
func (p *Processor) saveOutcome(ctx context.Context, job *domain.Job, execErr error, finishedAt time.Time) error {
	if execErr == nil {
		if err := p.store.MarkCompleted(ctx, job.JobID, finishedAt); err != nil {
			return fmt.Errorf("failed to complete job %s: %w", job.JobID, err)
		}
		return nil
	}

	if err := p.scheduler.ScheduleRetry(job, execErr, finishedAt); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	if err := p.store.SaveRetry(ctx, job); err != nil {
		return fmt.Errorf("failed to save retry for job %s: %w", job.JobID, err)
	}
	return nil
}

// storeContext detaches from the sweep deadline so a finished job is never
// left PROCESSING because the sweep ran out of time
func (p *Processor) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.storeTimeout)
}

// GetStats returns job counts by status
func (p *Processor) GetStats(ctx context.Context) (domain.Stats, error) {
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("failed to read DLQ stats: %w", err)
	}
	return stats, nil
}

// RecoverStale returns PROCESSING jobs whose owner stopped heartbeating to FAILED
func (p *Processor) RecoverStale(ctx context.Context) (int64, error) {
	if p.staleAfter <= 0 {
		return 0, nil
	}

	now := p.clock()
	recovered, err := p.store.RecoverStale(ctx, now.Add(-p.staleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	if recovered > 0 {
		p.logger.Warn("Recovered stale processing jobs",
			slog.Int64("count", recovered),
			slog.Duration("stale_after", p.staleAfter),
		)
	}
	return recovered, nil
}

// execute runs the registered handler with a heartbeat, converting panics into errors
func (p *Processor) execute(ctx context.Context, job *domain.Job) (err error) {
	handler, err := p.registry.Lookup(job.JobType)
	if err != nil {
		return err
	}

	stopHeartbeat := p.startHeartbeat(ctx, job.JobID)
	defer stopHeartbeat()

	defer func() {
		if r := recover(); r != nil {
			err = &domain.HandlerPanicError{Value: r}
		}
	}()

	p.logger.Info("Executing job",
		slog.String("job_id", job.JobID),
		slog.String("job_type", string(job.JobType)),
		slog.Int("attempts", job.Attempts),
	)

	return handler.Execute(ctx, job.Payload)
}

// startHeartbeat refreshes the job heartbeat until the returned func is called
func (p *Processor) startHeartbeat(ctx context.Context, jobID string) func() {
	if p.heartbeatInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(p.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.store.Heartbeat(ctx, jobID, p.clock()); err != nil {
					p.logger.Warn("Failed to update job heartbeat",
						slog.String("job_id", jobID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (p *Processor) logJobFailure(job *domain.Job) {
	if job.Status == domain.JobStatusDead {
		p.logger.Warn("Job exceeded max attempts, moved to DEAD",
			slog.String("job_id", job.JobID),
			slog.String("job_type", string(job.JobType)),
			slog.Int("attempts", job.Attempts),
			slog.String("error", job.LastError),
		)
		return
	}

	p.logger.Info("Job will be retried",
		slog.String("job_id", job.JobID),
		slog.String("job_type", string(job.JobType)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.Time("next_retry_at", job.NextRetryAt),
		slog.String("error", job.LastError),
	)
}
