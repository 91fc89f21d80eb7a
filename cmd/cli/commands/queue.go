package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/retailops/stocksync/internal/db/models"
	"github.com/retailops/stocksync/internal/logger"
	"github.com/retailops/stocksync/internal/services"
	"github.com/retailops/stocksync/internal/worker"
)

// queue flag names
const (
	flagWorkers     = "workers"
	flagMaxJobs     = "max-jobs"
	flagOlderThan   = "older-than"
	flagPayload     = "payload"
	flagMaxAttempts = "max-attempts"
	flagPullEvery   = "pull-every"
)

// GetQueueCmd returns the queue command group
func GetQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Operate the durable job queue",
	}

	queueCmd.AddCommand(getQueueWorkCmd())
	queueCmd.AddCommand(getQueueEnqueueCmd())
	queueCmd.AddCommand(getQueueStatsCmd())
	queueCmd.AddCommand(getQueueCancelCmd())
	queueCmd.AddCommand(getQueueRetryCmd())
	queueCmd.AddCommand(getQueuePurgeDLQCmd())
	return queueCmd
}

func getQueueWorkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run the worker daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			workers, _ := cmd.Flags().GetInt(flagWorkers)
			maxJobs, _ := cmd.Flags().GetInt(flagMaxJobs)
			if workers <= 0 {
				workers = app.cfg.WorkerCount
			}
			if maxJobs < 0 {
				maxJobs = app.cfg.WorkerMaxJobs
			}

			daemon := worker.New(app.jobs, worker.Options{
				Workers:           workers,
				PollInterval:      app.cfg.WorkerPollInterval,
				HeartbeatInterval: app.cfg.HeartbeatInterval,
				StaleAfter:        app.cfg.HeartbeatStale,
				ShutdownGrace:     app.cfg.ShutdownGrace,
				MaxJobs:           maxJobs,
			})
			services.RegisterJobHandlers(daemon, app.engine, app.lifecycle, app.webhooks)

			pullEvery, _ := cmd.Flags().GetDuration(flagPullEvery)
			if pullEvery <= 0 {
				pullEvery = app.cfg.SyncPullInterval
			}
			if pullEvery > 0 {
				go schedulePulls(app.ctx, app.queue, pullEvery)
			}

			return daemon.Run(app.ctx)
		},
	}
	cmd.Flags().Int(flagWorkers, 0, "Number of concurrent workers (default from env)")
	cmd.Flags().Int(flagMaxJobs, -1, "Exit after this many jobs, 0 to disable (default from env)")
	cmd.Flags().Duration(flagPullEvery, 0, "Enqueue a sync_pull job at this interval (default from env)")
	return cmd
}

// schedulePulls enqueues a periodic inward sync so the shadow tables stay
// current even when no webhook arrives.
func schedulePulls(ctx context.Context, queue *services.QueueService, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := queue.EnqueueSyncPull(ctx, false); err != nil {
				logger.Warnf("failed to enqueue scheduled pull: %v", err)
			}
		}
	}
}

func getQueueEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <type>",
		Short: "Enqueue a job (sync_pull, sync_push, webhook_process, state_transition)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := models.ParseJobType(args[0]); err != nil {
				return err
			}
			payload, _ := cmd.Flags().GetString(flagPayload)
			if payload != "" && !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload must be valid JSON")
			}
			maxAttempts, _ := cmd.Flags().GetInt(flagMaxAttempts)

			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			var raw json.RawMessage
			if payload != "" {
				raw = json.RawMessage(payload)
			}
			job, err := app.queue.Enqueue(app.ctx, args[0], raw, maxAttempts, time.Time{})
			if err != nil {
				return err
			}
			cmd.Println(fmt.Sprintf("job %d enqueued (%s)", job.ID, job.Type))
			return nil
		},
	}
	cmd.Flags().String(flagPayload, "", "JSON payload passed to the job handler")
	cmd.Flags().Int(flagMaxAttempts, 0, "Attempt budget (default 3)")
	return cmd
}

func getQueueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue depths by status and type plus the dead-letter depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			stats, err := app.queue.Stats(app.ctx)
			if err != nil {
				return err
			}

			cmd.Println("by status:")
			for status, n := range stats.ByStatus {
				cmd.Println(fmt.Sprintf("  %-12s %d", status, n))
			}
			cmd.Println("by type:")
			for jobType, n := range stats.ByType {
				cmd.Println(fmt.Sprintf("  %-18s %d", jobType, n))
			}
			cmd.Println(fmt.Sprintf("dead letters: %d", stats.DLQDepth))
			if len(stats.Workers) > 0 {
				cmd.Println("workers:")
				for _, w := range stats.Workers {
					cmd.Println(fmt.Sprintf("  %s %s last_heartbeat=%s jobs=%d",
						w.WorkerID, w.Status, w.LastHeartbeat.Format(time.RFC3339), w.JobsProcessed))
				}
			}
			return nil
		},
	}
}

func getQueueCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id: %s", args[0])
			}

			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.queue.Cancel(app.ctx, uint(id)); err != nil {
				return err
			}
			cmd.Println(fmt.Sprintf("job %d cancelled", id))
			return nil
		},
	}
}

func getQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <dlq-entry-id>",
		Short: "Re-enqueue a dead-letter entry as a fresh job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entry id: %s", args[0])
			}

			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			job, err := app.queue.RetryDLQ(app.ctx, uint(id))
			if err != nil {
				return err
			}
			cmd.Println(fmt.Sprintf("entry %d re-enqueued as job %d", id, job.ID))
			return nil
		},
	}
}

func getQueuePurgeDLQCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge-dlq",
		Short: "Delete dead-letter entries older than the given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThanStr, _ := cmd.Flags().GetString(flagOlderThan)
			olderThan, err := time.ParseDuration(olderThanStr)
			if err != nil {
				return fmt.Errorf("invalid --older-than duration: %s", olderThanStr)
			}

			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			purged, err := app.queue.PurgeDLQ(app.ctx, olderThan)
			if err != nil {
				return err
			}
			cmd.Println(fmt.Sprintf("purged %d dead-letter entries", purged))
			return nil
		},
	}
	cmd.Flags().String(flagOlderThan, "720h", "Minimum age of entries to purge")
	return cmd
}
