package handlers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/retailops/stocksync/internal/db/models"
	"github.com/retailops/stocksync/internal/services"
)

// QueueHandler handles HTTP requests for queue operations
type QueueHandler struct {
	service *services.QueueService
}

// NewQueueHandler creates a new queue handler instance
func NewQueueHandler(s *services.QueueService) *QueueHandler {
	return &QueueHandler{service: s}
}

// Stats returns queue depths by status and type plus the dead-letter depth
func (h *QueueHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}
	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: stats,
	})
}

// enqueueJobRequest is the payload for creating a job
type enqueueJobRequest struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
}

// EnqueueJob creates a job of the named type. This is the admin surface
// for scheduling pulls or lifecycle transitions asynchronously.
func (h *QueueHandler) EnqueueJob(c *fiber.Ctx) error {
	var req enqueueJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("malformed request body"))
	}

	job, err := h.service.Enqueue(c.Context(), req.Type, req.Payload, req.MaxAttempts, time.Time{})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}
	return c.Status(fiber.StatusCreated).JSON(Response{
		Slug: SuccessSlug,
		Data: job,
	})
}

// GetJob returns a single job by id
func (h *QueueHandler) GetJob(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid job id"))
	}

	job, err := h.service.GetJob(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).
			JSON(errGeneral("job not found"))
	}
	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: job,
	})
}

// CancelJob cancels a pending or processing job
func (h *QueueHandler) CancelJob(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid job id"))
	}

	if err := h.service.Cancel(c.Context(), id); err != nil {
		return c.Status(fiber.StatusConflict).
			JSON(errGeneral(err.Error()))
	}
	return c.JSON(Response{Slug: SuccessSlug})
}

// ListDLQ lists dead-letter entries
func (h *QueueHandler) ListDLQ(c *fiber.Ctx) error {
	var (
		limit  = c.QueryInt("limit", 10)
		offset = c.QueryInt("offset", 0)
	)
	entries, err := h.service.ListDLQ(c.Context(), &models.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}
	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: entries,
	})
}

// RetryDLQ re-enqueues a dead-letter entry as a fresh job
func (h *QueueHandler) RetryDLQ(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid entry id"))
	}

	job, err := h.service.RetryDLQ(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusConflict).
			JSON(errGeneral(err.Error()))
	}
	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: job,
	})
}

// PurgeDLQ removes dead-letter entries older than the given age
func (h *QueueHandler) PurgeDLQ(c *fiber.Ctx) error {
	olderThan, err := time.ParseDuration(c.Query("older_than", "720h"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid older_than duration"))
	}

	purged, err := h.service.PurgeDLQ(c.Context(), olderThan)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}
	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: fiber.Map{"purged": purged},
	})
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
