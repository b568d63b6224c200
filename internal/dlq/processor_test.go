package dlq_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/truecheckia/retry-service/internal/dlq"
	"github.com/truecheckia/retry-service/internal/dlq/domain"
	"github.com/truecheckia/retry-service/internal/dlq/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type failingFindStore struct {
	*storage.MemoryStorage
}

func (s *failingFindStore) FindEligible(context.Context, time.Time, int) ([]*domain.Job, error) {
	return nil, errors.New("connection refused")
}

// deadlineStore fails writes on a done context, like database/sql does
type deadlineStore struct {
	*storage.MemoryStorage
}

func (s *deadlineStore) MarkCompleted(ctx context.Context, jobID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStorage.MarkCompleted(ctx, jobID, now)
}

func (s *deadlineStore) SaveRetry(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStorage.SaveRetry(ctx, job)
}

func (s *deadlineStore) Stats(ctx context.Context) (domain.Stats, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stats{}, err
	}
	return s.MemoryStorage.Stats(ctx)
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	err     error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.entries[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	v, ok := c.entries[key]
	if !ok {
		return nil, dlq.ErrCacheMiss
	}
	return v, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newJob(id string, jobType domain.JobType, nextRetryAt time.Time) *domain.Job {
	return &domain.Job{
		JobID:       id,
		JobType:     jobType,
		Payload:     json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)),
		Status:      domain.JobStatusPending,
		MaxAttempts: 3,
		NextRetryAt: nextRetryAt,
		CreatedAt:   nextRetryAt,
		UpdatedAt:   nextRetryAt,
	}
}

func newProcessor(store dlq.Store, registry *dlq.Registry, clock *fakeClock, metrics *dlq.MetricsRecorder) *dlq.Processor {
	return dlq.NewProcessor(&dlq.Config{
		Logger:     discardLogger(),
		Store:      store,
		Registry:   registry,
		Scheduler:  dlq.NewScheduler(30*time.Second, time.Hour),
		Metrics:    metrics,
		StaleAfter: 15 * time.Minute,
		Clock:      clock.Now,
	})
}

func TestProcessRetryQueue_NoEligibleJobs(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.CreateJob(ctx, newJob("future", domain.JobTypeEmail, t0.Add(time.Hour))))
	writesBefore := store.Writes()

	p := newProcessor(store, dlq.NewRegistry(), newFakeClock(t0), nil)

	result, err := p.ProcessRetryQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 0, result.Failed)
	assert.NotNil(t, result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, writesBefore, store.Writes(), "empty sweep must not write")
}

func TestProcessRetryQueue_MixedOutcomes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateJob(ctx, newJob(id, domain.JobTypeAnalysis, t0.Add(-time.Minute))))
	}

	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeAnalysis, dlq.HandlerFunc(func(_ context.Context, payload json.RawMessage) error {
		var p struct{ ID string }
		require.NoError(t, json.Unmarshal(payload, &p))
		if p.ID == "b" {
			return errors.New("analysis api returned 503")
		}
		return nil
	}))

	p := newProcessor(store, registry, newFakeClock(t0), nil)

	result, err := p.ProcessRetryQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "b", result.Errors[0].JobID)
	assert.Equal(t, "analysis api returned 503", result.Errors[0].Message)

	failed, err := store.GetJobByID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, t0.Add(30*time.Second), failed.NextRetryAt)

	for _, id := range []string{"a", "c"} {
		job, err := store.GetJobByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		assert.NotNil(t, job.CompletedAt)
	}
}

func TestProcessRetryQueue_BackoffScenario(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.CreateJob(ctx, newJob("job", domain.JobTypeEmail, t0)))

	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeEmail, dlq.HandlerFunc(func(context.Context, json.RawMessage) error {
		return errors.New("smtp unavailable")
	}))

	clock := newFakeClock(t0)
	p := newProcessor(store, registry, clock, nil)

	// attempt 1
	_, err := p.ProcessRetryQueue(ctx)
	require.NoError(t, err)
	job, err := store.GetJobByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, t0.Add(30*time.Second), job.NextRetryAt)

	// not due yet
	clock.Set(t0.Add(29 * time.Second))
	result, err := p.ProcessRetryQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)

	// attempt 2
	t1 := t0.Add(30 * time.Second)
	clock.Set(t1)
	_, err = p.ProcessRetryQueue(ctx)
	require.NoError(t, err)
	job, err = store.GetJobByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, t1.Add(60*time.Second), job.NextRetryAt)

	// attempt 3
	clock.Set(job.NextRetryAt)
	result, err = p.ProcessRetryQueue(ctx)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.JobStatusDead, result.Errors[0].Status)

	job, err = store.GetJobByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDead, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "smtp unavailable", job.LastError)

	// dead jobs are never picked up again
	clock.Set(t0.Add(24 * time.Hour))
	result, err = p.ProcessRetryQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed+result.Failed)
}

func TestProcessRetryQueue_HandlerPanicAndUnknownType(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.CreateJob(ctx, newJob("panics", domain.JobTypeAnalysis, t0.Add(-2*time.Minute))))
	require.NoError(t, store.CreateJob(ctx, newJob("unknown", "webhook", t0.Add(-time.Minute))))
	require.NoError(t, store.CreateJob(ctx, newJob("ok", domain.JobTypeEmail, t0)))

	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeAnalysis, dlq.HandlerFunc(func(context.Context, json.RawMessage) error {
		panic("nil pointer in analysis client")
	}))
	registry.MustRegister(domain.JobTypeEmail, dlq.HandlerFunc(func(context.Context, json.RawMessage) error {
		return nil
	}))

	p := newProcessor(store, registry, newFakeClock(t0), nil)

	result, err := p.ProcessRetryQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "panics", result.Errors[0].JobID)
	assert.Contains(t, result.Errors[0].Message, "handler panic: nil pointer in analysis client")
	assert.Equal(t, "unknown", result.Errors[1].JobID)
	assert.Contains(t, result.Errors[1].Message, domain.ErrNoHandler.Error())
}

func TestProcessRetryQueue_OrderAndBatchBound(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("job-%02d", i)
		require.NoError(t, store.CreateJob(ctx, newJob(id, domain.JobTypeEmail, t0.Add(-time.Duration(i)*time.Second))))
	}

	var mu sync.Mutex
	var order []string
	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeEmail, dlq.HandlerFunc(func(_ context.Context, payload json.RawMessage) error {
		var p struct{ ID string }
		_ = json.Unmarshal(payload, &p)
		mu.Lock()
		order = append(order, p.ID)
		mu.Unlock()
		return nil
	}))

	p := newProcessor(store, registry, newFakeClock(t0), nil)

	result, err := p.ProcessRetryQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, dlq.DefaultBatchSize, result.Processed)

	require.Len(t, order, dlq.DefaultBatchSize)
	// oldest next_retry_at first
	assert.Equal(t, "job-59", order[0])
	assert.Equal(t, "job-10", order[len(order)-1])
}

func TestProcessRetryQueue_ErrorListBounded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	for i := 0; i < 15; i++ {
		require.NoError(t, store.CreateJob(ctx, newJob(fmt.Sprintf("job-%02d", i), domain.JobTypeEmail, t0)))
	}

	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeEmail, dlq.HandlerFunc(func(context.Context, json.RawMessage) error {
		return errors.New("fail")
	}))

	p := newProcessor(store, registry, newFakeClock(t0), nil)

	result, err := p.ProcessRetryQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, result.Failed)
	assert.Len(t, result.Errors, dlq.DefaultMaxReportedErrors)
}

func TestProcessRetryQueue_StoreUnavailable(t *testing.T) {
	store := &failingFindStore{MemoryStorage: storage.NewMemoryStorage()}
	p := newProcessor(store, dlq.NewRegistry(), newFakeClock(t0), nil)

	result, err := p.ProcessRetryQueue(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "failed to fetch eligible jobs")

	_, err = p.Sweep(context.Background())
	require.Error(t, err)
}

func TestProcessRetryQueue_ConcurrentSweepsNeverShareAJob(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	for i := 0; i < 40; i++ {
		require.NoError(t, store.CreateJob(ctx, newJob(fmt.Sprintf("job-%02d", i), domain.JobTypeAnalysis, t0)))
	}

	var mu sync.Mutex
	executions := map[string]int{}

	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeAnalysis, dlq.HandlerFunc(func(_ context.Context, payload json.RawMessage) error {
		var p struct{ ID string }
		_ = json.Unmarshal(payload, &p)
		mu.Lock()
		executions[p.ID]++
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return nil
	}))

	clock := newFakeClock(t0)
	const sweeps = 4
	var wg sync.WaitGroup
	var processed int64
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := newProcessor(store, registry, clock, nil)
			result, err := p.ProcessRetryQueue(ctx)
			if !assert.NoError(t, err) {
				return
			}
			atomic.AddInt64(&processed, int64(result.Processed))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(40), processed)
	assert.Len(t, executions, 40)
	for id, n := range executions {
		assert.Equal(t, 1, n, "job %s executed more than once", id)
	}
}

func TestMemoryStorage_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.CreateJob(ctx, newJob("contended", domain.JobTypeEmail, t0)))

	var wg sync.WaitGroup
	var wins, losses int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Claim(ctx, "contended", t0)
			if err == nil {
				atomic.AddInt32(&wins, 1)
				return
			}
			if errors.Is(err, domain.ErrJobAlreadyClaimed) {
				atomic.AddInt32(&losses, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(19), losses)
}

func TestSweep_RecoversStaleAndRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()

	// A job orphaned by a crashed sweep 20 minutes ago
	require.NoError(t, store.CreateJob(ctx, newJob("orphan", domain.JobTypeEmail, t0.Add(-30*time.Minute))))
	_, err := store.Claim(ctx, "orphan", t0.Add(-20*time.Minute))
	require.NoError(t, err)

	// A job currently owned by a live sweep
	require.NoError(t, store.CreateJob(ctx, newJob("live", domain.JobTypeEmail, t0.Add(-time.Minute))))
	_, err = store.Claim(ctx, "live", t0.Add(-time.Minute))
	require.NoError(t, err)

	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeEmail, dlq.HandlerFunc(func(context.Context, json.RawMessage) error {
		return nil
	}))

	cache := newMemoryCache()
	metrics := dlq.NewMetricsRecorder(cache, dlq.MetricsConfig{}, discardLogger())
	p := newProcessor(store, registry, newFakeClock(t0), metrics)

	report, err := p.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Recovered)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, int64(1), report.Stats.Completed)
	assert.Equal(t, int64(1), report.Stats.Processing)

	orphan, err := store.GetJobByID(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, orphan.Status)
	assert.Equal(t, 0, orphan.Attempts)

	snapshot, err := metrics.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Processed)
	assert.Equal(t, int64(1), snapshot.Recovered)
	assert.Equal(t, 5*time.Minute, cache.ttls[dlq.MetricsKey])
}

func TestSweep_CacheFailureDoesNotFailSweep(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.CreateJob(ctx, newJob("job", domain.JobTypeEmail, t0)))

	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeEmail, dlq.HandlerFunc(func(context.Context, json.RawMessage) error {
		return nil
	}))

	cache := newMemoryCache()
	cache.err = errors.New("redis: connection pool timeout")
	metrics := dlq.NewMetricsRecorder(cache, dlq.MetricsConfig{}, discardLogger())
	p := newProcessor(store, registry, newFakeClock(t0), metrics)

	report, err := p.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
}

func TestProcessor_HeartbeatWhileHandlerRuns(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.CreateJob(ctx, newJob("slow", domain.JobTypeAnalysis, time.Now().Add(-time.Second))))

	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeAnalysis, dlq.HandlerFunc(func(context.Context, json.RawMessage) error {
		time.Sleep(60 * time.Millisecond)
		return nil
	}))

	p := dlq.NewProcessor(&dlq.Config{
		Logger:            discardLogger(),
		Store:             store,
		Registry:          registry,
		HeartbeatInterval: 10 * time.Millisecond,
	})

	result, err := p.ProcessRetryQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	// create + claim + complete, plus at least one heartbeat
	assert.Greater(t, store.Writes(), 3)
}

func TestProcessRetryQueue_MultiByteErrorIsSaved(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.CreateJob(ctx, newJob("job", domain.JobTypeAnalysis, t0)))

	msg := strings.Repeat("x", domain.MaxErrorLength-1) + "ção falhou"
	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeAnalysis, dlq.HandlerFunc(func(context.Context, json.RawMessage) error {
		return errors.New(msg)
	}))

	p := newProcessor(store, registry, newFakeClock(t0), nil)
	result, err := p.ProcessRetryQueue(ctx)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)

	job, err := store.GetJobByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.True(t, utf8.ValidString(job.LastError))
	assert.True(t, utf8.ValidString(result.Errors[0].Message))
}

func TestSweep_DeadlineDuringHandlerStillRecordsOutcome(t *testing.T) {
	store := &deadlineStore{MemoryStorage: storage.NewMemoryStorage()}
	require.NoError(t, store.CreateJob(context.Background(), newJob("a", domain.JobTypeAnalysis, t0.Add(-time.Minute))))
	require.NoError(t, store.CreateJob(context.Background(), newJob("b", domain.JobTypeAnalysis, t0)))

	var calls atomic.Int32
	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeAnalysis, dlq.HandlerFunc(func(ctx context.Context, _ json.RawMessage) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))

	p := newProcessor(store, registry, newFakeClock(t0), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	report, err := p.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, int32(1), calls.Load(), "no job is claimed after the deadline")

	a, err := store.GetJobByID(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, a.Status)
	assert.Equal(t, 1, a.Attempts)
	assert.Contains(t, a.LastError, context.DeadlineExceeded.Error())

	b, err := store.GetJobByID(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, b.Status)
	assert.Equal(t, int64(1), report.Stats.Pending)
}

func TestSweep_JobOutrunningDeadlineEventuallyDies(t *testing.T) {
	store := &deadlineStore{MemoryStorage: storage.NewMemoryStorage()}
	require.NoError(t, store.CreateJob(context.Background(), newJob("slow", domain.JobTypeAnalysis, t0)))

	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeAnalysis, dlq.HandlerFunc(func(ctx context.Context, _ json.RawMessage) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	clock := newFakeClock(t0)
	p := newProcessor(store, registry, clock, nil)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, err := p.Sweep(ctx)
		cancel()
		require.NoError(t, err)

		job, err := store.GetJobByID(context.Background(), "slow")
		require.NoError(t, err)
		assert.Equal(t, i+1, job.Attempts)
		clock.Set(job.NextRetryAt)
	}

	job, err := store.GetJobByID(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDead, job.Status)
}

func TestProcessRetryQueue_OwnershipLostSkipsOnlyThatJob(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.CreateJob(ctx, newJob("a", domain.JobTypeAnalysis, t0.Add(-time.Minute))))
	require.NoError(t, store.CreateJob(ctx, newJob("b", domain.JobTypeAnalysis, t0)))

	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeAnalysis, dlq.HandlerFunc(func(ctx context.Context, payload json.RawMessage) error {
		var p struct{ ID string }
		_ = json.Unmarshal(payload, &p)
		if p.ID == "a" {
			// another sweep declares this job stale while it is still running
			_, err := store.RecoverStale(ctx, t0.Add(time.Second), t0)
			require.NoError(t, err)
		}
		return nil
	}))

	p := newProcessor(store, registry, newFakeClock(t0), nil)

	result, err := p.ProcessRetryQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Failed)

	a, err := store.GetJobByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, a.Status)
	assert.Equal(t, 0, a.Attempts)

	b, err := store.GetJobByID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, b.Status)
}

func TestProcessRetryQueue_CanceledHandlerCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.CreateJob(ctx, newJob("a", domain.JobTypeAnalysis, t0.Add(-time.Minute))))
	require.NoError(t, store.CreateJob(ctx, newJob("b", domain.JobTypeAnalysis, t0)))

	registry := dlq.NewRegistry()
	registry.MustRegister(domain.JobTypeAnalysis, dlq.HandlerFunc(func(_ context.Context, payload json.RawMessage) error {
		var p struct{ ID string }
		_ = json.Unmarshal(payload, &p)
		if p.ID == "a" {
			// the handler's own timeout, not the sweep's
			return fmt.Errorf("analysis request failed: %w", context.DeadlineExceeded)
		}
		return nil
	}))

	p := newProcessor(store, registry, newFakeClock(t0), nil)

	result, err := p.ProcessRetryQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)

	a, err := store.GetJobByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, a.Status)
	assert.Equal(t, 1, a.Attempts)
}
