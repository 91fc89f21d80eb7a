// Package repos provides database repositories for the sync engine
package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/retailops/stocksync/internal/backoff"
	"github.com/retailops/stocksync/internal/db/models"
)

// Sentinel errors for queue operations
var (
	// ErrJobNotClaimable is returned when a job cannot move to processing
	ErrJobNotClaimable = errors.New("job is not claimable")
	// ErrJobNotCancellable is returned when cancel targets a completed job
	ErrJobNotCancellable = errors.New("job cannot be cancelled")
	// ErrDLQEntryConsumed is returned when a DLQ entry was already retried
	ErrDLQEntryConsumed = errors.New("dlq entry already retried")
)

// claimScanLimit bounds how many pending candidates one claim pass inspects
// per job type before giving up to the poll loop.
const claimScanLimit = 10

// JobRepository provides access to the durable job queue and its DLQ
type JobRepository struct {
	db      *gorm.DB
	backoff *backoff.Policy
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB, policy *backoff.Policy) *JobRepository {
	if policy == nil {
		policy = backoff.New(backoff.DefaultBase, backoff.DefaultCap)
	}
	return &JobRepository{db: db, backoff: policy}
}

// Enqueue creates a new pending job. A zero runAfter means immediately
// eligible.
func (r *JobRepository) Enqueue(ctx context.Context, jobType models.JobType, payload json.RawMessage, maxAttempts int, runAfter time.Time) (*models.Job, error) {
	job := &models.Job{
		Type:        jobType,
		Payload:     payload,
		Status:      models.JobStatusPending,
		MaxAttempts: maxAttempts,
		RunAfter:    runAfter,
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// Claim atomically takes exclusive ownership of one pending job whose
// run_after has passed, trying the given types in priority order. It
// returns (nil, nil) when no job is eligible.
//
// The claim is a compare-and-swap: the status-guarded UPDATE succeeds for
// exactly one of any number of concurrent claimers, which is the mutual
// exclusion contract the whole daemon depends on.
func (r *JobRepository) Claim(ctx context.Context, types []models.JobType) (*models.Job, error) {
	now := time.Now().UTC()

	for _, jobType := range types {
		var candidates []models.Job
		err := r.db.WithContext(ctx).
			Where("type = ? AND status = ? AND run_after <= ?", jobType, models.JobStatusPending, now).
			Order("priority DESC, id ASC").
			Limit(claimScanLimit).
			Find(&candidates).Error
		if err != nil {
			return nil, fmt.Errorf("failed to scan for claimable jobs: %w", err)
		}

		for i := range candidates {
			claimed, err := r.tryClaim(ctx, candidates[i].ID, now)
			if err != nil {
				return nil, err
			}
			if claimed != nil {
				return claimed, nil
			}
			// Another worker won the race for this candidate; try the next.
		}
	}

	return nil, nil
}

func (r *JobRepository) tryClaim(ctx context.Context, id uint, now time.Time) (*models.Job, error) {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusPending).
		Updates(map[string]interface{}{
			models.JobStatusField:      models.JobStatusProcessing,
			"attempts":                 gorm.Expr("attempts + 1"),
			models.JobHeartbeatAtField: now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to claim job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var job models.Job
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, fmt.Errorf("failed to load claimed job %d: %w", id, err)
	}
	return &job, nil
}

// Heartbeat stamps the processing job's liveness timestamp.
func (r *JobRepository) Heartbeat(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusProcessing).
		Update(models.JobHeartbeatAtField, time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("failed to heartbeat job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: job %d is not processing", ErrJobNotClaimable, id)
	}
	return nil
}

// Complete marks a processing job as completed.
func (r *JobRepository) Complete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusProcessing).
		Updates(map[string]interface{}{
			models.JobStatusField:      models.JobStatusCompleted,
			models.JobHeartbeatAtField: nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: job %d is not processing", ErrJobNotClaimable, id)
	}
	return nil
}

// Fail records a failed attempt. A retryable failure with budget left is
// rescheduled to pending with run_after pushed out by the backoff policy;
// anything else moves the job to the DLQ and marks it failed.
func (r *JobRepository) Fail(ctx context.Context, id uint, errMsg string, retryable bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.First(&job, id).Error; err != nil {
			return fmt.Errorf("failed to load job %d: %w", id, err)
		}

		attemptLine := fmt.Sprintf("[%s] attempt %d: %s",
			time.Now().UTC().Format(time.RFC3339), job.Attempts, errMsg)
		attemptLog := strings.TrimSpace(job.AttemptLog + "\n" + attemptLine)

		if retryable && job.Attempts < job.MaxAttempts {
			delay := r.backoff.Delay(job.Attempts)
			return tx.Model(&models.Job{}).Where("id = ?", id).
				Updates(map[string]interface{}{
					models.JobStatusField:      models.JobStatusPending,
					models.JobRunAfterField:    time.Now().UTC().Add(delay),
					models.JobHeartbeatAtField: nil,
					"last_error":               errMsg,
					"attempt_log":              attemptLog,
				}).Error
		}

		entry := &models.DLQEntry{
			OriginalJobID:  job.ID,
			Type:           job.Type,
			Payload:        job.Payload,
			Attempts:       job.Attempts,
			LastError:      errMsg,
			AttemptHistory: attemptLog,
			FailedAt:       time.Now().UTC(),
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to create DLQ entry for job %d: %w", id, err)
		}

		return tx.Model(&models.Job{}).Where("id = ?", id).
			Updates(map[string]interface{}{
				models.JobStatusField:      models.JobStatusFailed,
				models.JobHeartbeatAtField: nil,
				"last_error":               errMsg,
				"attempt_log":              attemptLog,
			}).Error
	})
}

// Cancel marks a pending or processing job as cancelled. Cancelling a
// processing job is advisory; the running handler observes it at its next
// checkpoint.
func (r *JobRepository) Cancel(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id,
			[]models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}).
		Update(models.JobStatusField, models.JobStatusCancelled)
	if res.Error != nil {
		return fmt.Errorf("failed to cancel job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: job %d", ErrJobNotCancellable, id)
	}
	return nil
}

// IsCancelled reports whether the job has been marked cancelled. Handlers
// poll this at safe checkpoints.
func (r *JobRepository) IsCancelled(ctx context.Context, id uint) (bool, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Select("status").First(&job, id).Error; err != nil {
		return false, fmt.Errorf("failed to load job %d: %w", id, err)
	}
	return job.Status == models.JobStatusCancelled, nil
}

// ReclaimStale returns processing jobs whose heartbeat is older than the
// threshold to pending so a live worker can pick them up. This is the crash
// recovery path for workers that died mid-job.
func (r *JobRepository) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ? AND heartbeat_at < ?", models.JobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			models.JobStatusField:      models.JobStatusPending,
			models.JobHeartbeatAtField: nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetByID retrieves a job by its ID
func (r *JobRepository) GetByID(ctx context.Context, id uint) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job %d not found: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return &job, nil
}

// QueueStats summarizes queue health for operators.
type QueueStats struct {
	ByStatus map[models.JobStatus]int64 `json:"by_status"`
	ByType   map[models.JobType]int64   `json:"by_type"`
	DLQDepth int64                      `json:"dlq_depth"`
	Workers  []models.WorkerHeartbeat   `json:"workers,omitempty"`
}

// Stats returns per-status and per-type job counts plus DLQ depth.
func (r *JobRepository) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{
		ByStatus: make(map[models.JobStatus]int64),
		ByType:   make(map[models.JobType]int64),
	}

	type statusCount struct {
		Status models.JobStatus
		Count  int64
	}
	var byStatus []statusCount
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, count(*) as count").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.Count
	}

	type typeCount struct {
		Type  models.JobType
		Count int64
	}
	var byType []typeCount
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("type, count(*) as count").Group("type").Scan(&byType).Error; err != nil {
		return nil, fmt.Errorf("failed to count jobs by type: %w", err)
	}
	for _, row := range byType {
		stats.ByType[row.Type] = row.Count
	}

	if err := r.db.WithContext(ctx).Model(&models.DLQEntry{}).
		Where("retried_job_id IS NULL").Count(&stats.DLQDepth).Error; err != nil {
		return nil, fmt.Errorf("failed to count DLQ entries: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Order("last_heartbeat DESC").
		Find(&stats.Workers).Error; err != nil {
		return nil, fmt.Errorf("failed to list worker heartbeats: %w", err)
	}

	return stats, nil
}

// ListDLQ returns DLQ entries, newest failures first.
func (r *JobRepository) ListDLQ(ctx context.Context, opts *models.ListOptions) ([]models.DLQEntry, error) {
	o := opts.WithDefaults()
	var entries []models.DLQEntry
	err := r.db.WithContext(ctx).
		Order("failed_at DESC").
		Limit(o.Limit).Offset(o.Offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list DLQ entries: %w", err)
	}
	return entries, nil
}

// RetryDLQ re-creates a fresh pending job from a DLQ entry and marks the
// entry consumed. Each entry can be retried once.
func (r *JobRepository) RetryDLQ(ctx context.Context, entryID uint) (*models.Job, error) {
	var job *models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.DLQEntry
		if err := tx.First(&entry, entryID).Error; err != nil {
			return fmt.Errorf("failed to load DLQ entry %d: %w", entryID, err)
		}
		if entry.RetriedJobID != nil {
			return fmt.Errorf("%w: entry %d", ErrDLQEntryConsumed, entryID)
		}

		var origJob models.Job
		maxAttempts := 3
		if err := tx.First(&origJob, entry.OriginalJobID).Error; err == nil {
			maxAttempts = origJob.MaxAttempts
		}

		job = &models.Job{
			Type:        entry.Type,
			Payload:     entry.Payload,
			Status:      models.JobStatusPending,
			MaxAttempts: maxAttempts,
		}
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("failed to re-enqueue DLQ entry %d: %w", entryID, err)
		}

		return tx.Model(&models.DLQEntry{}).Where("id = ?", entryID).
			Update("retried_job_id", job.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// PurgeDLQ deletes consumed entries and entries older than the cutoff.
func (r *JobRepository) PurgeDLQ(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := r.db.WithContext(ctx).
		Where("retried_job_id IS NOT NULL OR failed_at < ?", cutoff).
		Delete(&models.DLQEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge DLQ: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// RegisterWorker upserts a worker heartbeat row at daemon startup.
func (r *JobRepository) RegisterWorker(ctx context.Context, workerID string) error {
	now := time.Now().UTC()
	hb := &models.WorkerHeartbeat{
		WorkerID:      workerID,
		Status:        "running",
		StartedAt:     now,
		LastHeartbeat: now,
	}
	return r.db.WithContext(ctx).Save(hb).Error
}

// WorkerHeartbeat refreshes the daemon-level liveness row.
func (r *JobRepository) WorkerHeartbeat(ctx context.Context, workerID string, jobsProcessed int) error {
	return r.db.WithContext(ctx).Model(&models.WorkerHeartbeat{}).
		Where("worker_id = ?", workerID).
		Updates(map[string]interface{}{
			"last_heartbeat": time.Now().UTC(),
			"jobs_processed": jobsProcessed,
		}).Error
}

// UnregisterWorker marks a worker stopped on graceful shutdown.
func (r *JobRepository) UnregisterWorker(ctx context.Context, workerID string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.WorkerHeartbeat{}).
		Where("worker_id = ?", workerID).
		Updates(map[string]interface{}{
			"status":     "stopped",
			"stopped_at": now,
		}).Error
}
