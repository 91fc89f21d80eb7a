// Package commands implements the stocksync CLI. Commands talk directly to
// the database and the platform API; long-running sync and queue work run in
// the foreground until interrupted.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/retailops/stocksync/internal/backoff"
	"github.com/retailops/stocksync/internal/config"
	"github.com/retailops/stocksync/internal/db"
	"github.com/retailops/stocksync/internal/db/repos"
	"github.com/retailops/stocksync/internal/events"
	"github.com/retailops/stocksync/internal/logger"
	"github.com/retailops/stocksync/internal/services"
	"github.com/retailops/stocksync/internal/syncer"
	"github.com/retailops/stocksync/internal/vend"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "stocksync",
	Short: "stocksync - consignment synchronization against the retail platform",
	Long: `stocksync keeps local consignment records and the retail platform in
sync: it pulls remote changes into shadow tables, projects them into the
operational tables, and pushes local mutations back out through a durable
job queue.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(GetSyncCmd())
	RootCmd.AddCommand(GetQueueCmd())
	RootCmd.AddCommand(GetStatusCmd())
	RootCmd.AddCommand(GetTransitionCmd())
}

// appContext bundles the wired application for one CLI invocation
type appContext struct {
	cfg          *config.Config
	db           *gorm.DB
	ctx          context.Context
	stop         context.CancelFunc
	bus          *events.Bus
	jobs         *repos.JobRepository
	consignments *repos.ConsignmentRepository
	engine       *syncer.Engine
	queue        *services.QueueService
	lifecycle    *services.ConsignmentService
	webhooks     *services.WebhookService
}

// bootstrap loads configuration, connects to the database and wires the
// application layer. Every command goes through here.
func bootstrap() (*appContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.InitializeAndConfigure()

	database, err := db.New(db.Options{
		Host:       cfg.DBHost,
		Port:       cfg.DBPort,
		User:       cfg.DBUser,
		Password:   cfg.DBPassword,
		DBName:     cfg.DBName,
		SSLEnabled: &cfg.DBSSL,
	})
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	bus := events.NewBus()
	bus.Start(ctx)

	policy := backoff.New(cfg.BackoffBase, cfg.BackoffCap)
	jobs := repos.NewJobRepository(database, policy)
	consignments := repos.NewConsignmentRepository(database)

	client := vend.NewClient(vend.Options{
		BaseURL:     cfg.VendBaseURL,
		Token:       cfg.VendAPIToken,
		Timeout:     cfg.VendRequestTimeout,
		MaxAttempts: cfg.VendMaxAttempts,
		Backoff:     policy,
	})
	engine := syncer.New(client,
		repos.NewShadowRepository(database),
		consignments,
		repos.NewCursorRepository(database),
		syncer.Options{
			BatchSize:   cfg.SyncBatchSize,
			FreshWindow: cfg.SyncFreshWindow,
		})

	queue := services.NewQueueService(jobs)
	lifecycle := services.NewConsignmentService(consignments, bus)
	webhooks := services.NewWebhookService(
		repos.NewWebhookEventRepository(database), queue, engine, client, cfg.WebhookSecret)
	services.WireSyncEnqueue(bus, queue)

	return &appContext{
		cfg:          cfg,
		db:           database,
		ctx:          ctx,
		stop:         stop,
		bus:          bus,
		jobs:         jobs,
		consignments: consignments,
		engine:       engine,
		queue:        queue,
		lifecycle:    lifecycle,
		webhooks:     webhooks,
	}, nil
}

// close drains the event bus, then releases the signal handler and the
// database pool. The drain matters for short-lived commands: a transition
// publishes its push trigger just before exit.
func (a *appContext) close() {
	a.stop()
	a.bus.Drain()
	if sqlDB, err := a.db.DB(); err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}
