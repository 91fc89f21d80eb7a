package repos

import (
	"sync"
	"time"

	"github.com/retailops/stocksync/internal/db/models"
)

type JobRepositoryTestSuite struct {
	DBRepositoryTestSuite
}

func (s *JobRepositoryTestSuite) TestEnqueueDefaults() {
	job := s.enqueueTestJob(models.JobTypeSyncPull)

	s.Require().NotZero(job.ID)
	s.Require().Equal(models.JobStatusPending, job.Status)
	s.Require().Zero(job.Attempts)
	s.Require().Equal(3, job.MaxAttempts)
	s.Require().False(job.RunAfter.IsZero())
}

func (s *JobRepositoryTestSuite) TestEnqueueRejectsUnknownType() {
	_, err := s.jobRepo.Enqueue(s.ctx, models.JobType("mystery"), []byte(`{}`), 3, time.Time{})
	s.Require().Error(err)
}

func (s *JobRepositoryTestSuite) TestClaimIncrementsAttemptsAndStampsHeartbeat() {
	s.enqueueTestJob(models.JobTypeSyncPush)

	job, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPush})
	s.Require().NoError(err)
	s.Require().NotNil(job)
	s.Require().Equal(models.JobStatusProcessing, job.Status)
	s.Require().Equal(1, job.Attempts)
	s.Require().NotNil(job.HeartbeatAt)
}

func (s *JobRepositoryTestSuite) TestClaimReturnsNilWhenEmpty() {
	job, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPull})
	s.Require().NoError(err)
	s.Require().Nil(job)
}

func (s *JobRepositoryTestSuite) TestClaimSkipsFutureRunAfter() {
	_, err := s.jobRepo.Enqueue(s.ctx, models.JobTypeSyncPull, nil, 3, time.Now().UTC().Add(time.Hour))
	s.Require().NoError(err)

	job, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPull})
	s.Require().NoError(err)
	s.Require().Nil(job)
}

func (s *JobRepositoryTestSuite) TestClaimRespectsTypePriorityOrder() {
	pull := s.enqueueTestJob(models.JobTypeSyncPull)
	webhook := s.enqueueTestJob(models.JobTypeWebhookProcess)

	// Webhook processing listed first wins even though the pull is older
	job, err := s.jobRepo.Claim(s.ctx, []models.JobType{
		models.JobTypeWebhookProcess, models.JobTypeSyncPull,
	})
	s.Require().NoError(err)
	s.Require().NotNil(job)
	s.Require().Equal(webhook.ID, job.ID)

	job, err = s.jobRepo.Claim(s.ctx, []models.JobType{
		models.JobTypeWebhookProcess, models.JobTypeSyncPull,
	})
	s.Require().NoError(err)
	s.Require().NotNil(job)
	s.Require().Equal(pull.ID, job.ID)
}

func (s *JobRepositoryTestSuite) TestExclusiveClaimUnderConcurrency() {
	const jobCount = 20
	const workers = 8

	for i := 0; i < jobCount; i++ {
		s.enqueueTestJob(models.JobTypeWebhookProcess)
	}

	var mu sync.Mutex
	claimed := make(map[uint]int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeWebhookProcess})
				s.Require().NoError(err)
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
				s.Require().NoError(s.jobRepo.Complete(s.ctx, job.ID))
			}
		}()
	}
	wg.Wait()

	s.Require().Len(claimed, jobCount)
	for id, n := range claimed {
		s.Require().Equal(1, n, "job %d claimed more than once", id)
	}
}

func (s *JobRepositoryTestSuite) TestFailRetryableReschedulesWithBackoff() {
	s.enqueueTestJob(models.JobTypeSyncPush)
	job, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPush})
	s.Require().NoError(err)

	before := time.Now().UTC()
	s.Require().NoError(s.jobRepo.Fail(s.ctx, job.ID, "HTTP 500", true))

	reloaded, err := s.jobRepo.GetByID(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.JobStatusPending, reloaded.Status)
	s.Require().Equal("HTTP 500", reloaded.LastError)
	s.Require().Nil(reloaded.HeartbeatAt)
	s.Require().True(reloaded.RunAfter.After(before) || reloaded.RunAfter.Equal(before))
	s.Require().Contains(reloaded.AttemptLog, "attempt 1: HTTP 500")
}

func (s *JobRepositoryTestSuite) TestFailTerminalMovesToDLQ() {
	s.enqueueTestJob(models.JobTypeSyncPush)
	job, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPush})
	s.Require().NoError(err)

	s.Require().NoError(s.jobRepo.Fail(s.ctx, job.ID, "HTTP 404: not found", false))

	reloaded, err := s.jobRepo.GetByID(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.JobStatusFailed, reloaded.Status)

	entries, err := s.jobRepo.ListDLQ(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Require().Equal(job.ID, entries[0].OriginalJobID)
	s.Require().Equal("HTTP 404: not found", entries[0].LastError)
	s.Require().Equal(1, entries[0].Attempts)
}

func (s *JobRepositoryTestSuite) TestBoundedRetryLandsInDLQOnce() {
	s.enqueueTestJob(models.JobTypeSyncPush) // max_attempts = 3
	types := []models.JobType{models.JobTypeSyncPush}

	attempts := 0
	for {
		// Eligibility may lag the jittered run_after by a few milliseconds
		var job *models.Job
		for i := 0; i < 100; i++ {
			var err error
			job, err = s.jobRepo.Claim(s.ctx, types)
			s.Require().NoError(err)
			if job != nil {
				break
			}
			time.Sleep(2 * time.Millisecond)
		}
		if job == nil {
			break
		}
		attempts++
		s.Require().NoError(s.jobRepo.Fail(s.ctx, job.ID, "HTTP 500", true))
	}

	s.Require().Equal(3, attempts)

	entries, err := s.jobRepo.ListDLQ(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Require().Equal(3, entries[0].Attempts)
	s.Require().Contains(entries[0].AttemptHistory, "attempt 1")
	s.Require().Contains(entries[0].AttemptHistory, "attempt 3")
}

func (s *JobRepositoryTestSuite) TestCancelPendingJobIsNeverClaimed() {
	job := s.enqueueTestJob(models.JobTypeSyncPull)
	s.Require().NoError(s.jobRepo.Cancel(s.ctx, job.ID))

	claimed, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPull})
	s.Require().NoError(err)
	s.Require().Nil(claimed)
}

func (s *JobRepositoryTestSuite) TestCancelProcessingJobIsAdvisory() {
	s.enqueueTestJob(models.JobTypeSyncPull)
	job, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPull})
	s.Require().NoError(err)

	s.Require().NoError(s.jobRepo.Cancel(s.ctx, job.ID))

	cancelled, err := s.jobRepo.IsCancelled(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Require().True(cancelled)
}

func (s *JobRepositoryTestSuite) TestCancelCompletedJobFails() {
	s.enqueueTestJob(models.JobTypeSyncPull)
	job, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPull})
	s.Require().NoError(err)
	s.Require().NoError(s.jobRepo.Complete(s.ctx, job.ID))

	err = s.jobRepo.Cancel(s.ctx, job.ID)
	s.Require().ErrorIs(err, ErrJobNotCancellable)
}

func (s *JobRepositoryTestSuite) TestReclaimStaleRecoversCrashedJob() {
	s.enqueueTestJob(models.JobTypeSyncPull)
	job, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPull})
	s.Require().NoError(err)

	// Simulate a crashed worker: freeze the heartbeat in the past
	frozen := time.Now().UTC().Add(-time.Hour)
	s.Require().NoError(s.db.Model(&models.Job{}).
		Where("id = ?", job.ID).
		Update(models.JobHeartbeatAtField, frozen).Error)

	reclaimed, err := s.jobRepo.ReclaimStale(s.ctx, 5*time.Minute)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), reclaimed)

	// A fresh worker claims and completes it
	again, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPull})
	s.Require().NoError(err)
	s.Require().NotNil(again)
	s.Require().Equal(job.ID, again.ID)
	s.Require().Equal(2, again.Attempts)
	s.Require().NoError(s.jobRepo.Complete(s.ctx, again.ID))
}

func (s *JobRepositoryTestSuite) TestReclaimStaleIgnoresFreshHeartbeats() {
	s.enqueueTestJob(models.JobTypeSyncPull)
	_, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPull})
	s.Require().NoError(err)

	reclaimed, err := s.jobRepo.ReclaimStale(s.ctx, 5*time.Minute)
	s.Require().NoError(err)
	s.Require().Zero(reclaimed)
}

func (s *JobRepositoryTestSuite) TestHeartbeatRequiresProcessing() {
	job := s.enqueueTestJob(models.JobTypeSyncPull)
	err := s.jobRepo.Heartbeat(s.ctx, job.ID)
	s.Require().ErrorIs(err, ErrJobNotClaimable)
}

func (s *JobRepositoryTestSuite) TestRetryDLQCreatesFreshJobOnce() {
	s.enqueueTestJob(models.JobTypeSyncPush)
	job, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPush})
	s.Require().NoError(err)
	s.Require().NoError(s.jobRepo.Fail(s.ctx, job.ID, "HTTP 400", false))

	entries, err := s.jobRepo.ListDLQ(s.ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)

	fresh, err := s.jobRepo.RetryDLQ(s.ctx, entries[0].ID)
	s.Require().NoError(err)
	s.Require().Equal(models.JobStatusPending, fresh.Status)
	s.Require().Zero(fresh.Attempts)
	s.Require().Equal(job.Type, fresh.Type)

	_, err = s.jobRepo.RetryDLQ(s.ctx, entries[0].ID)
	s.Require().ErrorIs(err, ErrDLQEntryConsumed)
}

func (s *JobRepositoryTestSuite) TestStats() {
	s.enqueueTestJob(models.JobTypeSyncPull)
	s.enqueueTestJob(models.JobTypeSyncPush)
	job, err := s.jobRepo.Claim(s.ctx, []models.JobType{models.JobTypeSyncPush})
	s.Require().NoError(err)
	s.Require().NoError(s.jobRepo.Fail(s.ctx, job.ID, "boom", false))

	stats, err := s.jobRepo.Stats(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), stats.ByStatus[models.JobStatusPending])
	s.Require().Equal(int64(1), stats.ByStatus[models.JobStatusFailed])
	s.Require().Equal(int64(1), stats.ByType[models.JobTypeSyncPull])
	s.Require().Equal(int64(1), stats.DLQDepth)
}

func (s *JobRepositoryTestSuite) TestStatsSurfacesWorkerHeartbeats() {
	s.Require().NoError(s.jobRepo.RegisterWorker(s.ctx, "worker-a"))
	s.Require().NoError(s.jobRepo.WorkerHeartbeat(s.ctx, "worker-a", 7))

	stats, err := s.jobRepo.Stats(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(stats.Workers, 1)
	s.Equal("worker-a", stats.Workers[0].WorkerID)
	s.Equal("running", stats.Workers[0].Status)
	s.Equal(7, stats.Workers[0].JobsProcessed)
	s.False(stats.Workers[0].LastHeartbeat.IsZero())

	s.Require().NoError(s.jobRepo.UnregisterWorker(s.ctx, "worker-a"))
	stats, err = s.jobRepo.Stats(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(stats.Workers, 1)
	s.Equal("stopped", stats.Workers[0].Status)
}
