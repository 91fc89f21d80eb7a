package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/retailops/stocksync/internal/syncer"
)

// HealthHandler reports service liveness and sync freshness
type HealthHandler struct {
	engine     *syncer.Engine
	staleAfter time.Duration
}

// NewHealthHandler creates a new health handler instance
func NewHealthHandler(engine *syncer.Engine, staleAfter time.Duration) *HealthHandler {
	return &HealthHandler{engine: engine, staleAfter: staleAfter}
}

// Health returns 200 while the process is serving. A stale pull cursor is
// reported as degraded but does not fail the check; sync lag is a health
// signal, not an outage.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	status := "ok"
	data := fiber.Map{}

	cursor, err := h.engine.CursorStatus(c.Context())
	if err != nil {
		status = "degraded"
		data["cursor_error"] = err.Error()
	} else {
		data["last_pull_at"] = cursor.LastProcessedAt
		if cursor.Stale(h.staleAfter) {
			status = "degraded"
			data["cursor_stale"] = true
		}
	}

	data["status"] = status
	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: data,
	})
}
