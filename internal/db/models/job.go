package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Field names for the job model
const (
	// JobStatusField is the field name for job status
	JobStatusField = "status"
	// JobRunAfterField is the field name for the earliest claim time
	JobRunAfterField = "run_after"
	// JobHeartbeatAtField is the field name for the processing heartbeat
	JobHeartbeatAtField = "heartbeat_at"
)

// JobType identifies the handler a job is dispatched to
type JobType string

// Job type constants
const (
	// JobTypeSyncPull pulls remote consignment changes into the shadow tables
	JobTypeSyncPull JobType = "sync_pull"
	// JobTypeSyncPush pushes local consignment mutations to the remote platform
	JobTypeSyncPush JobType = "sync_push"
	// JobTypeWebhookProcess processes a persisted inbound webhook event
	JobTypeWebhookProcess JobType = "webhook_process"
	// JobTypeStateTransition applies a consignment lifecycle transition
	JobTypeStateTransition JobType = "state_transition"
)

// ParseJobType converts a string to a JobType
func ParseJobType(str string) (JobType, error) {
	switch str {
	case string(JobTypeSyncPull):
		return JobTypeSyncPull, nil
	case string(JobTypeSyncPush):
		return JobTypeSyncPush, nil
	case string(JobTypeWebhookProcess):
		return JobTypeWebhookProcess, nil
	case string(JobTypeStateTransition):
		return JobTypeStateTransition, nil
	default:
		return "", fmt.Errorf("invalid job type: %s", str)
	}
}

// JobStatus represents the current state of a job in the queue
type JobStatus string

// Job status constants
const (
	// JobStatusPending indicates the job is waiting to be claimed
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates a worker holds the job
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the job finished successfully
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job exhausted its attempts
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled by an operator
	JobStatusCancelled JobStatus = "cancelled"
)

// String returns the string representation of the job status
func (s JobStatus) String() string {
	return string(s)
}

// ParseJobStatus converts a string to a JobStatus
func ParseJobStatus(str string) (JobStatus, error) {
	switch str {
	case string(JobStatusPending):
		return JobStatusPending, nil
	case string(JobStatusProcessing):
		return JobStatusProcessing, nil
	case string(JobStatusCompleted):
		return JobStatusCompleted, nil
	case string(JobStatusFailed):
		return JobStatusFailed, nil
	case string(JobStatusCancelled):
		return JobStatusCancelled, nil
	default:
		return "", fmt.Errorf("invalid job status: %s", str)
	}
}

// Job is a unit of asynchronous work in the durable queue.
//
// Exactly one worker may hold a job in processing at a time; the claim
// operation in the repository enforces that. Attempts is incremented on
// claim only, never decremented.
type Job struct {
	gorm.Model
	Type        JobType         `json:"type" gorm:"not null;index"`
	Payload     json.RawMessage `json:"payload,omitempty" gorm:"type:jsonb"`
	Status      JobStatus       `json:"status" gorm:"not null;index;default:pending"`
	Priority    int             `json:"priority" gorm:"not null;default:0;index"`
	Attempts    int             `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts int             `json:"max_attempts" gorm:"not null;default:3"`
	RunAfter    time.Time       `json:"run_after" gorm:"index"`
	HeartbeatAt *time.Time      `json:"heartbeat_at,omitempty" gorm:"index"`
	LastError   string          `json:"last_error,omitempty" gorm:"type:text"`
	AttemptLog  string          `json:"-" gorm:"type:text"`
}

// TableName overrides the table name for Job
func (Job) TableName() string {
	return "queue_jobs"
}

// Validate ensures that the job data is valid
func (j *Job) Validate() error {
	if _, err := ParseJobType(string(j.Type)); err != nil {
		return err
	}
	if j.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", j.MaxAttempts)
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before enqueueing a job
func (j *Job) BeforeCreate(_ *gorm.DB) error {
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	if j.RunAfter.IsZero() {
		j.RunAfter = time.Now().UTC()
	}
	return j.Validate()
}

// Terminal reports whether the job is in a terminal status.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// DLQEntry is a job that exhausted its retry budget. Entries are created
// only by the worker on terminal failure and consumed only by operator
// retry or purge.
type DLQEntry struct {
	gorm.Model
	OriginalJobID  uint            `json:"original_job_id" gorm:"not null;index"`
	Type           JobType         `json:"type" gorm:"not null;index"`
	Payload        json.RawMessage `json:"payload,omitempty" gorm:"type:jsonb"`
	Attempts       int             `json:"attempts" gorm:"not null"`
	LastError      string          `json:"last_error" gorm:"type:text"`
	AttemptHistory string          `json:"attempt_history,omitempty" gorm:"type:text"`
	FailedAt       time.Time       `json:"failed_at" gorm:"not null;index"`
	RetriedJobID   *uint           `json:"retried_job_id,omitempty"`
}

// TableName overrides the table name for DLQEntry
func (DLQEntry) TableName() string {
	return "queue_jobs_dlq"
}

// WorkerHeartbeat tracks a running worker process for health monitoring.
type WorkerHeartbeat struct {
	WorkerID      string     `json:"worker_id" gorm:"primaryKey"`
	Status        string     `json:"status" gorm:"not null"`
	StartedAt     time.Time  `json:"started_at"`
	LastHeartbeat time.Time  `json:"last_heartbeat" gorm:"index"`
	JobsProcessed int        `json:"jobs_processed"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
}

// TableName overrides the table name for WorkerHeartbeat
func (WorkerHeartbeat) TableName() string {
	return "queue_worker_heartbeats"
}
