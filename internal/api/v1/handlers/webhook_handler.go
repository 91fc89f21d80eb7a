package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/retailops/stocksync/internal/logger"
	"github.com/retailops/stocksync/internal/services"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body
const SignatureHeader = "X-Signature"

// WebhookHandler handles inbound platform notifications
type WebhookHandler struct {
	service *services.WebhookService
}

// NewWebhookHandler creates a new webhook handler instance
func NewWebhookHandler(s *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: s}
}

// Receive verifies, persists and acknowledges a webhook delivery. The
// platform only needs a 2xx to stop redelivering, so processing happens on
// the queue afterwards. Persistence failure returns 503 to force a
// redelivery instead of silently dropping the event.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	body := c.Body()

	if err := h.service.VerifySignature(body, c.Get(SignatureHeader)); err != nil {
		logger.Warnf("webhook rejected: %v", err)
		return c.Status(fiber.StatusUnauthorized).
			JSON(errGeneral("signature verification failed"))
	}

	var envelope services.WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("malformed webhook body"))
	}
	if envelope.ID == "" || envelope.Type == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("webhook id and type are required"))
	}

	duplicate, err := h.service.Ingest(c.Context(), &envelope)
	if err != nil {
		logger.Errorf("failed to persist webhook %s: %v", envelope.ID, err)
		return c.Status(fiber.StatusServiceUnavailable).
			JSON(errServer("event could not be persisted, retry delivery"))
	}
	if duplicate {
		return c.JSON(Response{Slug: DuplicateSlug})
	}
	return c.JSON(Response{Slug: SuccessSlug})
}
