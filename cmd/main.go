package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"

	"github.com/retailops/stocksync/internal/api/v1/handlers"
	"github.com/retailops/stocksync/internal/api/v1/middleware"
	v1 "github.com/retailops/stocksync/internal/api/v1/routes"
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

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
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
		logger.Fatalf("failed to connect to database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	bus.Start(ctx)

	policy := backoff.New(cfg.BackoffBase, cfg.BackoffCap)
	jobRepo := repos.NewJobRepository(database, policy)
	consignmentRepo := repos.NewConsignmentRepository(database)

	client := vend.NewClient(vend.Options{
		BaseURL:     cfg.VendBaseURL,
		Token:       cfg.VendAPIToken,
		Timeout:     cfg.VendRequestTimeout,
		MaxAttempts: cfg.VendMaxAttempts,
		Backoff:     policy,
	})
	engine := syncer.New(client,
		repos.NewShadowRepository(database),
		consignmentRepo,
		repos.NewCursorRepository(database),
		syncer.Options{
			BatchSize:   cfg.SyncBatchSize,
			FreshWindow: cfg.SyncFreshWindow,
		})

	queueService := services.NewQueueService(jobRepo)
	consignmentService := services.NewConsignmentService(consignmentRepo, bus)
	webhookService := services.NewWebhookService(
		repos.NewWebhookEventRepository(database),
		queueService, engine, client, cfg.WebhookSecret)
	services.WireSyncEnqueue(bus, queueService)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})
	app.Use(middleware.Logger())

	v1.Register(app, &v1.Handlers{
		Webhooks:     handlers.NewWebhookHandler(webhookService),
		Queue:        handlers.NewQueueHandler(queueService),
		Consignments: handlers.NewConsignmentHandler(consignmentService),
		Health:       handlers.NewHealthHandler(engine, cfg.CursorStaleAfter),
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		if err := app.ShutdownWithTimeout(cfg.ShutdownGrace); err != nil {
			logger.Errorf("server shutdown failed: %v", err)
		}
	}()

	logger.Infof("listening on %s", cfg.ListenAddr)
	if err := app.Listen(cfg.ListenAddr); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}

	stop()
	bus.Drain()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
