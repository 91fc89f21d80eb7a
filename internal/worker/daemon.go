// Package worker runs the queue daemon: a pool of goroutines that claim
// jobs, dispatch them to registered handlers, and record the outcome.
//
// The daemon is deliberately thin. Handlers own the domain work and report
// success, a retryable failure, or a terminal failure; scheduling, backoff
// and dead-lettering all live in the job store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/retailops/stocksync/internal/db/models"
	"github.com/retailops/stocksync/internal/db/repos"
	"github.com/retailops/stocksync/internal/logger"
)

// Default daemon tuning
const (
	DefaultWorkers           = 4
	DefaultPollInterval      = time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultStaleAfter        = 5 * time.Minute
	DefaultShutdownGrace     = 30 * time.Second
)

// Handler processes one claimed job. A nil return completes the job, a
// terminal error dead-letters it immediately, any other error reschedules
// it with backoff until the attempt budget runs out.
type Handler func(ctx context.Context, job *models.Job) error

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks a handler error as non-retryable
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether a handler error was marked non-retryable
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// Options configures a Daemon
type Options struct {
	// Workers is the number of concurrent claim loops
	Workers int
	// PollInterval is how long an idle worker waits before re-polling
	PollInterval time.Duration
	// HeartbeatInterval is the cadence of job and worker heartbeats
	HeartbeatInterval time.Duration
	// StaleAfter is the heartbeat age past which startup reclaims
	// orphaned processing jobs
	StaleAfter time.Duration
	// ShutdownGrace bounds how long shutdown waits for in-flight jobs
	ShutdownGrace time.Duration
	// MaxJobs makes the daemon exit voluntarily after processing this
	// many jobs, so a supervisor restarts it with a fresh process.
	// Zero disables the limit.
	MaxJobs int
}

// Daemon claims and dispatches queue jobs
type Daemon struct {
	jobs      *repos.JobRepository
	handlers  map[models.JobType]Handler
	typeOrder []models.JobType
	opts      Options
	workerID  string
	processed int64
	cancel    context.CancelFunc
	jobsCtx   context.Context
}

// New creates a daemon with no handlers registered
func New(jobs *repos.JobRepository, opts Options) *Daemon {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	return &Daemon{
		jobs:     jobs,
		handlers: make(map[models.JobType]Handler),
		opts:     opts,
		workerID: uuid.New().String(),
	}
}

// Register binds a handler to a job type. Registration order is the claim
// priority order between types.
func (d *Daemon) Register(jobType models.JobType, handler Handler) {
	if _, exists := d.handlers[jobType]; !exists {
		d.typeOrder = append(d.typeOrder, jobType)
	}
	d.handlers[jobType] = handler
}

// Processed returns the number of jobs this daemon has finished
func (d *Daemon) Processed() int64 {
	return atomic.LoadInt64(&d.processed)
}

// Run starts the worker pool and blocks until the context is cancelled or
// the MaxJobs limit is reached. In-flight jobs get ShutdownGrace to finish.
func (d *Daemon) Run(ctx context.Context) error {
	if len(d.typeOrder) == 0 {
		return fmt.Errorf("no job handlers registered")
	}

	reclaimed, err := d.jobs.ReclaimStale(ctx, d.opts.StaleAfter)
	if err != nil {
		return fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	if reclaimed > 0 {
		logger.Warnf("reclaimed %d jobs with stale heartbeats", reclaimed)
	}

	if err := d.jobs.RegisterWorker(ctx, d.workerID); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	defer func() {
		if err := d.jobs.UnregisterWorker(context.Background(), d.workerID); err != nil {
			logger.Warnf("failed to unregister worker %s: %v", d.workerID, err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.cancel = cancel

	// Handlers run on a context detached from the run context: a
	// termination signal stops claiming but lets in-flight jobs keep
	// their full grace period. jobsCancel fires only when the grace
	// elapses (or through the per-job operator-cancel path).
	jobsCtx, jobsCancel := context.WithCancel(context.Background())
	defer jobsCancel()
	d.jobsCtx = jobsCtx

	logger.Infof("worker %s starting: workers=%d types=%v", d.workerID, d.opts.Workers, d.typeOrder)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.heartbeatLoop(runCtx)
	}()
	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.workerLoop(runCtx)
		}()
	}

	<-runCtx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.opts.ShutdownGrace):
		logger.Warnf("shutdown grace of %s elapsed, abandoning in-flight jobs for reclaim", d.opts.ShutdownGrace)
		jobsCancel()
		<-done
	}

	logger.Infof("worker %s stopped after %d jobs", d.workerID, d.Processed())
	return nil
}

// heartbeatLoop keeps the worker's liveness row fresh
func (d *Daemon) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(d.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.jobs.WorkerHeartbeat(ctx, d.workerID, int(d.Processed())); err != nil && ctx.Err() == nil {
				logger.Warnf("worker heartbeat failed: %v", err)
			}
		}
	}
}

// workerLoop claims and processes jobs until the context ends
func (d *Daemon) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := d.jobs.Claim(ctx, d.typeOrder)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("claim failed: %v", err)
			d.idle(ctx)
			continue
		}
		if job == nil {
			d.idle(ctx)
			continue
		}

		d.process(job)

		n := atomic.AddInt64(&d.processed, 1)
		if d.opts.MaxJobs > 0 && n >= int64(d.opts.MaxJobs) {
			logger.Infof("worker %s reached %d jobs, exiting for restart", d.workerID, n)
			d.cancel()
			return
		}
	}
}

// idle waits one poll interval or until shutdown
func (d *Daemon) idle(ctx context.Context) {
	timer := time.NewTimer(d.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// process dispatches one claimed job and records its outcome. Outcome
// writes use a background context so a job that finishes during shutdown
// is still recorded.
func (d *Daemon) process(job *models.Job) {
	handler := d.handlers[job.Type]

	jobCtx, cancelJob := context.WithCancel(d.jobsCtx)
	defer cancelJob()

	heartbeatDone := make(chan struct{})
	var heartbeatWG sync.WaitGroup
	heartbeatWG.Add(1)
	go func() {
		defer heartbeatWG.Done()
		d.jobHeartbeat(jobCtx, job.ID, cancelJob, heartbeatDone)
	}()

	err := handler(jobCtx, job)
	close(heartbeatDone)
	heartbeatWG.Wait()

	operatorCancelled := jobCtx.Err() != nil && d.jobsCtx.Err() == nil
	switch {
	case operatorCancelled:
		// The job row is already cancelled; the handler was interrupted
		// and its partial work must be idempotent.
		logger.Infof("job %d interrupted by cancellation", job.ID)
	case err == nil:
		if err := d.jobs.Complete(context.Background(), job.ID); err != nil {
			logger.Errorf("failed to complete job %d: %v", job.ID, err)
		}
	case d.jobsCtx.Err() != nil:
		// The grace period ran out mid-flight. The row stays processing
		// with its attempt count untouched; reclaimStale returns it to
		// pending on the next daemon start.
		logger.Warnf("job %d abandoned by shutdown, left for reclaim", job.ID)
	case IsTerminal(err):
		logger.Warnf("job %d failed terminally: %v", job.ID, err)
		if err := d.jobs.Fail(context.Background(), job.ID, err.Error(), false); err != nil {
			logger.Errorf("failed to record job %d failure: %v", job.ID, err)
		}
	default:
		logger.Warnf("job %d failed, will retry: %v", job.ID, err)
		if err := d.jobs.Fail(context.Background(), job.ID, err.Error(), true); err != nil {
			logger.Errorf("failed to record job %d failure: %v", job.ID, err)
		}
	}
}

// jobHeartbeat refreshes the claim while the handler runs and cancels the
// handler if an operator cancels the job underneath it.
func (d *Daemon) jobHeartbeat(ctx context.Context, jobID uint, cancelJob context.CancelFunc, done <-chan struct{}) {
	ticker := time.NewTicker(d.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.jobs.Heartbeat(ctx, jobID); err != nil {
				logger.Warnf("heartbeat for job %d failed: %v", jobID, err)
			}
			cancelled, err := d.jobs.IsCancelled(ctx, jobID)
			if err == nil && cancelled {
				cancelJob()
				return
			}
		}
	}
}
