package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/retailops/stocksync/internal/backoff"
	"github.com/retailops/stocksync/internal/db/models"
	"github.com/retailops/stocksync/internal/db/repos"
)

// WorkerDaemonTestSuite exercises the daemon against a real job store
type WorkerDaemonTestSuite struct {
	suite.Suite
	db   *gorm.DB
	ctx  context.Context
	jobs *repos.JobRepository
}

func (s *WorkerDaemonTestSuite) SetupTest() {
	dsn := fmt.Sprintf("file:worker_%d?mode=memory&cache=shared&_json=1", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")

	sqlDB, err := db.DB()
	require.NoError(s.T(), err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.Job{},
		&models.DLQEntry{},
		&models.WorkerHeartbeat{},
	)
	require.NoError(s.T(), err, "Failed to run database migrations")

	s.db = db
	s.ctx = context.Background()
	s.jobs = repos.NewJobRepository(db, backoff.NewWithSeed(time.Millisecond, 5*time.Millisecond, 1))
}

func (s *WorkerDaemonTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// fastOptions keeps the daemon's timers short enough for tests
func fastOptions(workers int) Options {
	return Options{
		Workers:           workers,
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
		StaleAfter:        time.Minute,
		ShutdownGrace:     time.Second,
	}
}

// runDaemon starts the daemon and returns a stop function that blocks
// until Run has returned.
func (s *WorkerDaemonTestSuite) runDaemon(d *Daemon) func() {
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()
	return func() {
		cancel()
		s.Require().NoError(<-done)
	}
}

func (s *WorkerDaemonTestSuite) TestProcessesJobsToCompletion() {
	var mu sync.Mutex
	seen := make(map[uint]int)

	d := New(s.jobs, fastOptions(2))
	d.Register(models.JobTypeSyncPush, func(_ context.Context, job *models.Job) error {
		mu.Lock()
		seen[job.ID]++
		mu.Unlock()
		return nil
	})

	var ids []uint
	for i := 0; i < 5; i++ {
		job, err := s.jobs.Enqueue(s.ctx, models.JobTypeSyncPush, []byte(`{}`), 3, time.Time{})
		s.Require().NoError(err)
		ids = append(ids, job.ID)
	}

	stop := s.runDaemon(d)
	s.Require().Eventually(func() bool {
		return d.Processed() >= 5
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		s.Equal(1, seen[id], "each job runs exactly once")
		job, err := s.jobs.GetByID(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(models.JobStatusCompleted, job.Status)
	}
}

func (s *WorkerDaemonTestSuite) TestRetryableFailureEndsInDeadLetters() {
	var attempts int32

	d := New(s.jobs, fastOptions(1))
	d.Register(models.JobTypeSyncPull, func(context.Context, *models.Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("remote unavailable")
	})

	job, err := s.jobs.Enqueue(s.ctx, models.JobTypeSyncPull, []byte(`{}`), 2, time.Time{})
	s.Require().NoError(err)

	stop := s.runDaemon(d)
	s.Require().Eventually(func() bool {
		got, err := s.jobs.GetByID(s.ctx, job.ID)
		return err == nil && got.Status == models.JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	s.Equal(int32(2), atomic.LoadInt32(&attempts), "the attempt budget is honored")

	entries, err := s.jobs.ListDLQ(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(job.ID, entries[0].OriginalJobID)
	s.Contains(entries[0].LastError, "remote unavailable")
}

func (s *WorkerDaemonTestSuite) TestTerminalErrorDeadLettersImmediately() {
	var attempts int32

	d := New(s.jobs, fastOptions(1))
	d.Register(models.JobTypeWebhookProcess, func(context.Context, *models.Job) error {
		atomic.AddInt32(&attempts, 1)
		return Terminal(errors.New("payload is malformed"))
	})

	job, err := s.jobs.Enqueue(s.ctx, models.JobTypeWebhookProcess, []byte(`{}`), 5, time.Time{})
	s.Require().NoError(err)

	stop := s.runDaemon(d)
	s.Require().Eventually(func() bool {
		got, err := s.jobs.GetByID(s.ctx, job.ID)
		return err == nil && got.Status == models.JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	s.Equal(int32(1), atomic.LoadInt32(&attempts), "terminal errors must not be retried")

	entries, err := s.jobs.ListDLQ(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Contains(entries[0].LastError, "payload is malformed")
}

func (s *WorkerDaemonTestSuite) TestMaxJobsTriggersVoluntaryExit() {
	opts := fastOptions(1)
	opts.MaxJobs = 3
	d := New(s.jobs, opts)
	d.Register(models.JobTypeSyncPush, func(context.Context, *models.Job) error {
		return nil
	})

	for i := 0; i < 5; i++ {
		_, err := s.jobs.Enqueue(s.ctx, models.JobTypeSyncPush, []byte(`{}`), 3, time.Time{})
		s.Require().NoError(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- d.Run(s.ctx)
	}()

	select {
	case err := <-done:
		s.Require().NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("daemon did not exit after reaching its job limit")
	}
	s.Equal(int64(3), d.Processed())

	stats, err := s.jobs.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), stats.ByStatus[models.JobStatusPending], "remaining jobs wait for the next daemon")
}

func (s *WorkerDaemonTestSuite) TestShutdownLetsInFlightJobFinish() {
	started := make(chan struct{})
	d := New(s.jobs, fastOptions(1))
	d.Register(models.JobTypeSyncPush, func(ctx context.Context, _ *models.Job) error {
		close(started)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
			return nil
		}
	})

	job, err := s.jobs.Enqueue(s.ctx, models.JobTypeSyncPush, []byte(`{}`), 3, time.Time{})
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		s.FailNow("job was never claimed")
	}
	cancel()
	s.Require().NoError(<-done)

	got, err := s.jobs.GetByID(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusCompleted, got.Status, "a termination signal must not abort the running handler")
	s.Equal(1, got.Attempts)
	s.Empty(got.LastError)
}

func (s *WorkerDaemonTestSuite) TestShutdownGraceElapsedLeavesJobForReclaim() {
	started := make(chan struct{})
	opts := fastOptions(1)
	opts.ShutdownGrace = 20 * time.Millisecond
	d := New(s.jobs, opts)
	d.Register(models.JobTypeSyncPush, func(ctx context.Context, _ *models.Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	job, err := s.jobs.Enqueue(s.ctx, models.JobTypeSyncPush, []byte(`{}`), 3, time.Time{})
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		s.FailNow("job was never claimed")
	}
	cancel()
	s.Require().NoError(<-done)

	got, err := s.jobs.GetByID(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusProcessing, got.Status, "an abandoned job must not burn an attempt")
	s.Equal(1, got.Attempts)
	s.Empty(got.LastError)

	// The next daemon start recovers it.
	time.Sleep(5 * time.Millisecond)
	reclaimed, err := s.jobs.ReclaimStale(s.ctx, time.Millisecond)
	s.Require().NoError(err)
	s.Equal(int64(1), reclaimed)

	got, err = s.jobs.GetByID(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStatusPending, got.Status)
}

func (s *WorkerDaemonTestSuite) TestRunRequiresHandlers() {
	d := New(s.jobs, fastOptions(1))
	err := d.Run(s.ctx)
	s.Require().Error(err)
	s.Contains(err.Error(), "no job handlers registered")
}

func (s *WorkerDaemonTestSuite) TestStartupReclaimsOrphanedJobs() {
	job, err := s.jobs.Enqueue(s.ctx, models.JobTypeSyncPush, []byte(`{}`), 3, time.Time{})
	s.Require().NoError(err)

	// Simulate a crashed worker: claimed long ago, heartbeat frozen.
	stale := time.Now().Add(-time.Hour)
	s.Require().NoError(s.db.Model(&models.Job{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusProcessing,
			"attempts":     1,
			"heartbeat_at": stale,
		}).Error)

	d := New(s.jobs, fastOptions(1))
	d.Register(models.JobTypeSyncPush, func(context.Context, *models.Job) error {
		return nil
	})

	stop := s.runDaemon(d)
	s.Require().Eventually(func() bool {
		got, err := s.jobs.GetByID(s.ctx, job.ID)
		return err == nil && got.Status == models.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	stop()
}

func (s *WorkerDaemonTestSuite) TestTypePriorityOrder() {
	var mu sync.Mutex
	var order []models.JobType

	d := New(s.jobs, fastOptions(1))
	handler := func(_ context.Context, job *models.Job) error {
		mu.Lock()
		order = append(order, job.Type)
		mu.Unlock()
		return nil
	}
	// Webhooks registered first outrank pushes regardless of insert order.
	d.Register(models.JobTypeWebhookProcess, handler)
	d.Register(models.JobTypeSyncPush, handler)

	_, err := s.jobs.Enqueue(s.ctx, models.JobTypeSyncPush, []byte(`{}`), 3, time.Time{})
	s.Require().NoError(err)
	_, err = s.jobs.Enqueue(s.ctx, models.JobTypeWebhookProcess, []byte(`{}`), 3, time.Time{})
	s.Require().NoError(err)

	stop := s.runDaemon(d)
	s.Require().Eventually(func() bool {
		return d.Processed() >= 2
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]models.JobType{models.JobTypeWebhookProcess, models.JobTypeSyncPush}, order)
}

func TestWorkerDaemonTestSuite(t *testing.T) {
	suite.Run(t, new(WorkerDaemonTestSuite))
}
