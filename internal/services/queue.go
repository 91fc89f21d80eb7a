// Package services contains the application layer: thin orchestration over
// the repositories, the lifecycle state machine, and the event bus.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/retailops/stocksync/internal/db/models"
	"github.com/retailops/stocksync/internal/db/repos"
)

// DefaultMaxAttempts is the attempt budget for jobs enqueued without an
// explicit one.
const DefaultMaxAttempts = 3

// SyncPushPayload asks the push engine to propagate local mutations
type SyncPushPayload struct {
	ConsignmentID uint `json:"consignment_id,omitempty"`
}

// SyncPullPayload asks the pull engine for an inward pass
type SyncPullPayload struct {
	Force bool `json:"force,omitempty"`
}

// WebhookProcessPayload references a persisted inbound event
type WebhookProcessPayload struct {
	EventID string `json:"event_id"`
}

// StateTransitionPayload applies a lifecycle event to a consignment
type StateTransitionPayload struct {
	ConsignmentID uint   `json:"consignment_id"`
	Event         string `json:"event"`
}

// QueueService exposes queue operations to the API and the CLI
type QueueService struct {
	jobs *repos.JobRepository
}

// NewQueueService creates a new instance of QueueService
func NewQueueService(jobs *repos.JobRepository) *QueueService {
	return &QueueService{jobs: jobs}
}

// Enqueue validates and enqueues a job of the named type
func (s *QueueService) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, maxAttempts int, runAfter time.Time) (*models.Job, error) {
	parsed, err := models.ParseJobType(jobType)
	if err != nil {
		return nil, err
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return s.jobs.Enqueue(ctx, parsed, payload, maxAttempts, runAfter)
}

// EnqueueSyncPush schedules an outward push for a consignment
func (s *QueueService) EnqueueSyncPush(ctx context.Context, consignmentID uint) (*models.Job, error) {
	payload, err := json.Marshal(SyncPushPayload{ConsignmentID: consignmentID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode push payload: %w", err)
	}
	return s.jobs.Enqueue(ctx, models.JobTypeSyncPush, payload, DefaultMaxAttempts, time.Time{})
}

// EnqueueSyncPull schedules an inward pull pass
func (s *QueueService) EnqueueSyncPull(ctx context.Context, force bool) (*models.Job, error) {
	payload, err := json.Marshal(SyncPullPayload{Force: force})
	if err != nil {
		return nil, fmt.Errorf("failed to encode pull payload: %w", err)
	}
	return s.jobs.Enqueue(ctx, models.JobTypeSyncPull, payload, DefaultMaxAttempts, time.Time{})
}

// EnqueueWebhookProcess schedules processing of a persisted inbound event
func (s *QueueService) EnqueueWebhookProcess(ctx context.Context, eventID string) (*models.Job, error) {
	payload, err := json.Marshal(WebhookProcessPayload{EventID: eventID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	return s.jobs.Enqueue(ctx, models.JobTypeWebhookProcess, payload, DefaultMaxAttempts, time.Time{})
}

// GetJob returns a job by id
func (s *QueueService) GetJob(ctx context.Context, id uint) (*models.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

// Cancel cancels a pending or processing job
func (s *QueueService) Cancel(ctx context.Context, id uint) error {
	return s.jobs.Cancel(ctx, id)
}

// Stats returns queue depths by status and type plus the dead-letter depth
func (s *QueueService) Stats(ctx context.Context) (*repos.QueueStats, error) {
	return s.jobs.Stats(ctx)
}

// ListDLQ lists dead-letter entries
func (s *QueueService) ListDLQ(ctx context.Context, opts *models.ListOptions) ([]models.DLQEntry, error) {
	return s.jobs.ListDLQ(ctx, opts)
}

// RetryDLQ re-enqueues a dead-letter entry as a fresh job
func (s *QueueService) RetryDLQ(ctx context.Context, entryID uint) (*models.Job, error) {
	return s.jobs.RetryDLQ(ctx, entryID)
}

// PurgeDLQ removes dead-letter entries older than the given age
func (s *QueueService) PurgeDLQ(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.jobs.PurgeDLQ(ctx, olderThan)
}
