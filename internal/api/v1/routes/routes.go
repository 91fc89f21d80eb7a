// Package routes wires the v1 HTTP surface
package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/retailops/stocksync/internal/api/v1/handlers"
)

// Handlers groups everything the router needs
type Handlers struct {
	Webhooks     *handlers.WebhookHandler
	Queue        *handlers.QueueHandler
	Consignments *handlers.ConsignmentHandler
	Health       *handlers.HealthHandler
}

// SetupRoutes configures all the v1 routes
func SetupRoutes(router fiber.Router, h *Handlers) {
	// Webhook ingestion
	webhooks := router.Group("/webhooks")
	webhooks.Post("/", h.Webhooks.Receive)

	// Queue operations
	queue := router.Group("/queue")
	queue.Get("/stats", h.Queue.Stats)
	queue.Post("/jobs", h.Queue.EnqueueJob)
	queue.Get("/jobs/:id", h.Queue.GetJob)
	queue.Post("/jobs/:id/cancel", h.Queue.CancelJob)
	queue.Get("/dlq", h.Queue.ListDLQ)
	queue.Post("/dlq/:id/retry", h.Queue.RetryDLQ)
	queue.Delete("/dlq", h.Queue.PurgeDLQ)

	// Consignment lifecycle
	consignments := router.Group("/consignments")
	consignments.Post("/", h.Consignments.Create)
	consignments.Get("/", h.Consignments.List)
	consignments.Get("/:id", h.Consignments.Get)
	consignments.Post("/:id/transition", h.Consignments.Transition)
	consignments.Post("/:id/items", h.Consignments.AddItem)
	consignments.Delete("/:id/items/:itemID", h.Consignments.RemoveItem)
	consignments.Put("/:id/items/:itemID/received", h.Consignments.RecordReceived)
}

// Register registers the v1 routes and the health endpoint
func Register(app *fiber.App, h *Handlers) {
	app.Get("/health", h.Health.Health)

	v1Group := app.Group("/api/v1")
	SetupRoutes(v1Group, h)
}
