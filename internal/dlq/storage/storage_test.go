package storage_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	pgContainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/truecheckia/retry-service/internal/dlq/domain"
	"github.com/truecheckia/retry-service/internal/dlq/storage"
)

// PostgresSuite runs the Storage against a real PostgreSQL. It needs Docker
// and is enabled with DLQ_INTEGRATION=1.
type PostgresSuite struct {
	suite.Suite

	container *pgContainer.PostgresContainer
	db        *sqlx.DB
	store     *storage.Storage
}

func (s *PostgresSuite) SetupSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := pgContainer.Run(ctx,
		"postgres:17",
		pgContainer.WithDatabase("dlq"),
		pgContainer.WithUsername("dlq"),
		pgContainer.WithPassword("dlq"),
		pgContainer.BasicWaitStrategies(),
	)
	s.Require().NoError(err, "failed to start postgres container")
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	s.Require().NoError(err)
	s.db = db

	s.store = storage.NewStorage(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Require().NoError(s.store.Migrate(ctx))
	// applying twice must be harmless
	s.Require().NoError(s.store.Migrate(ctx))
}

func (s *PostgresSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		if err := s.container.Terminate(context.Background()); err != nil {
			s.T().Logf("failed to terminate postgres container: %s", err)
		}
	}
}

func (s *PostgresSuite) AfterTest(_, _ string) {
	_, err := s.db.Exec(`TRUNCATE TABLE jobs`)
	s.Require().NoError(err)
}

func (s *PostgresSuite) TestCreateGetDelete() {
	ctx := context.Background()
	j := job("8b0c1d5e-0000-4000-8000-000000000001", domain.JobStatusDead, base)

	s.Require().NoError(s.store.CreateJob(ctx, j))
	s.ErrorIs(s.store.CreateJob(ctx, j), domain.ErrJobExists)

	got, err := s.store.GetJobByID(ctx, j.JobID)
	s.Require().NoError(err)
	s.Equal(domain.JobStatusDead, got.Status)
	s.JSONEq(`{"doc":"a"}`, string(got.Payload))
	s.True(base.Equal(got.NextRetryAt))

	s.Require().NoError(s.store.DeleteJob(ctx, j.JobID))
	s.ErrorIs(s.store.DeleteJob(ctx, j.JobID), domain.ErrJobNotFound)

	_, err = s.store.GetJobByID(ctx, j.JobID)
	s.ErrorIs(err, domain.ErrJobNotFound)
}

func (s *PostgresSuite) TestDeleteRejectsRunnableJobs() {
	ctx := context.Background()
	j := job("8b0c1d5e-0000-4000-8000-000000000002", domain.JobStatusFailed, base)
	s.Require().NoError(s.store.CreateJob(ctx, j))

	s.ErrorIs(s.store.DeleteJob(ctx, j.JobID), domain.ErrJobNotTerminal)
}

func (s *PostgresSuite) TestClaimRetryComplete() {
	ctx := context.Background()
	j := job("8b0c1d5e-0000-4000-8000-000000000003", domain.JobStatusPending, base)
	s.Require().NoError(s.store.CreateJob(ctx, j))

	eligible, err := s.store.FindEligible(ctx, base, 10)
	s.Require().NoError(err)
	s.Require().Len(eligible, 1)

	claimed, err := s.store.Claim(ctx, j.JobID, base)
	s.Require().NoError(err)
	s.Equal(domain.JobStatusProcessing, claimed.Status)

	_, err = s.store.Claim(ctx, j.JobID, base)
	s.ErrorIs(err, domain.ErrJobAlreadyClaimed)

	claimed.Status = domain.JobStatusFailed
	claimed.Attempts = 1
	claimed.LastError = "analysis api returned 503"
	claimed.NextRetryAt = base.Add(30 * time.Second)
	claimed.UpdatedAt = base
	s.Require().NoError(s.store.SaveRetry(ctx, claimed))
	s.ErrorIs(s.store.SaveRetry(ctx, claimed), domain.ErrOwnershipLost)

	eligible, err = s.store.FindEligible(ctx, base, 10)
	s.Require().NoError(err)
	s.Empty(eligible)

	next := base.Add(30 * time.Second)
	_, err = s.store.Claim(ctx, j.JobID, next)
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkCompleted(ctx, j.JobID, next))

	got, err := s.store.GetJobByID(ctx, j.JobID)
	s.Require().NoError(err)
	s.Equal(domain.JobStatusCompleted, got.Status)
	s.Equal(1, got.Attempts)
	s.Empty(got.LastError)
	s.Require().NotNil(got.CompletedAt)
}

func (s *PostgresSuite) TestConcurrentClaimsHaveOneWinner() {
	ctx := context.Background()
	j := job("8b0c1d5e-0000-4000-8000-000000000004", domain.JobStatusPending, base)
	s.Require().NoError(s.store.CreateJob(ctx, j))

	var mu sync.Mutex
	wins := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.Claim(ctx, j.JobID, base); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, wins)
}

func (s *PostgresSuite) TestRecoverStaleAndStats() {
	ctx := context.Background()
	stale := job("8b0c1d5e-0000-4000-8000-000000000005", domain.JobStatusPending, base)
	fresh := job("8b0c1d5e-0000-4000-8000-000000000006", domain.JobStatusPending, base)
	s.Require().NoError(s.store.CreateJob(ctx, stale))
	s.Require().NoError(s.store.CreateJob(ctx, fresh))

	_, err := s.store.Claim(ctx, stale.JobID, base)
	s.Require().NoError(err)
	_, err = s.store.Claim(ctx, fresh.JobID, base)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Heartbeat(ctx, fresh.JobID, base.Add(20*time.Minute)))

	now := base.Add(25 * time.Minute)
	recovered, err := s.store.RecoverStale(ctx, now.Add(-15*time.Minute), now)
	s.Require().NoError(err)
	s.Equal(int64(1), recovered)

	stats, err := s.store.Stats(ctx)
	s.Require().NoError(err)
	s.Equal(domain.Stats{Processing: 1, Failed: 1}, stats)

	got, err := s.store.GetJobByID(ctx, stale.JobID)
	s.Require().NoError(err)
	s.Equal(storage.RecoveredStaleMessage, got.LastError)
	s.Equal(0, got.Attempts)
}

func (s *PostgresSuite) TestListJobsKeyset() {
	ctx := context.Background()
	ids := []string{
		"8b0c1d5e-0000-4000-8000-000000000011",
		"8b0c1d5e-0000-4000-8000-000000000012",
		"8b0c1d5e-0000-4000-8000-000000000013",
	}
	for i, id := range ids {
		s.Require().NoError(s.store.CreateJob(ctx, job(id, domain.JobStatusPending, base.Add(time.Duration(i)*time.Minute))))
	}

	page, err := s.store.ListJobs(ctx, storage.JobFilter{PageSize: 1})
	s.Require().NoError(err)
	s.Require().Len(page, 2)
	s.Equal(ids[2], page[0].JobID)

	page, err = s.store.ListJobs(ctx, storage.JobFilter{
		PageSize: 5,
		Cursor:   &storage.JobCursor{CreatedAt: page[0].CreatedAt, JobID: page[0].JobID},
	})
	s.Require().NoError(err)
	s.Require().Len(page, 2)
	s.Equal(ids[1], page[0].JobID)
	s.Equal(ids[0], page[1].JobID)
}

func TestPostgresSuite(t *testing.T) {
	if os.Getenv("DLQ_INTEGRATION") == "" {
		t.Skip("set DLQ_INTEGRATION=1 to run PostgreSQL integration tests")
	}
	suite.Run(t, new(PostgresSuite))
}
