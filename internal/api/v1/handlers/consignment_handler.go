package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/retailops/stocksync/internal/consignment"
	"github.com/retailops/stocksync/internal/db/models"
	"github.com/retailops/stocksync/internal/services"
)

// ConsignmentHandler handles HTTP requests for consignment operations
type ConsignmentHandler struct {
	service *services.ConsignmentService
}

// NewConsignmentHandler creates a new consignment handler instance
func NewConsignmentHandler(s *services.ConsignmentService) *ConsignmentHandler {
	return &ConsignmentHandler{service: s}
}

// Create creates a consignment in the OPEN state
func (h *ConsignmentHandler) Create(c *fiber.Ctx) error {
	var req services.CreateConsignmentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("malformed request body"))
	}

	created, err := h.service.Create(c.Context(), &req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}
	return c.Status(fiber.StatusCreated).JSON(Response{
		Slug: SuccessSlug,
		Data: created,
	})
}

// Get returns a consignment with its line items
func (h *ConsignmentHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid consignment id"))
	}

	found, err := h.service.Get(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).
			JSON(errGeneral("consignment not found"))
	}
	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: found,
	})
}

// List returns consignments with pagination
func (h *ConsignmentHandler) List(c *fiber.Ctx) error {
	var (
		limit  = c.QueryInt("limit", 10)
		offset = c.QueryInt("offset", 0)
	)
	list, err := h.service.List(c.Context(), &models.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}
	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: list,
	})
}

// transitionRequest is the body for a lifecycle transition
type transitionRequest struct {
	Event string `json:"event"`
}

// Transition applies a lifecycle event to a consignment
func (h *ConsignmentHandler) Transition(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid consignment id"))
	}

	var req transitionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("malformed request body"))
	}
	event, err := consignment.ParseEvent(req.Event)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}

	updated, err := h.service.Transition(c.Context(), id, event)
	if errors.Is(err, consignment.ErrInvalidTransition) {
		return c.Status(fiber.StatusConflict).
			JSON(errGeneral(err.Error()))
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}
	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: updated,
	})
}

// AddItem appends a line item to an open consignment
func (h *ConsignmentHandler) AddItem(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid consignment id"))
	}

	var item services.ConsignmentItemIn
	if err := c.BodyParser(&item); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("malformed request body"))
	}

	updated, err := h.service.AddItem(c.Context(), id, &item)
	if err != nil {
		return c.Status(fiber.StatusConflict).
			JSON(errGeneral(err.Error()))
	}
	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: updated,
	})
}

// RemoveItem deletes a line item from an open consignment
func (h *ConsignmentHandler) RemoveItem(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid consignment id"))
	}
	itemID, err := parseID(c.Params("itemID"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid item id"))
	}

	if err := h.service.RemoveItem(c.Context(), id, itemID); err != nil {
		return c.Status(fiber.StatusConflict).
			JSON(errGeneral(err.Error()))
	}
	return c.JSON(Response{Slug: SuccessSlug})
}

// receivedRequest is the body for recording a received quantity
type receivedRequest struct {
	Quantity int `json:"quantity"`
}

// RecordReceived records a counted quantity for one line item
func (h *ConsignmentHandler) RecordReceived(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid consignment id"))
	}
	itemID, err := parseID(c.Params("itemID"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("invalid item id"))
	}

	var req receivedRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput("malformed request body"))
	}

	updated, err := h.service.RecordReceived(c.Context(), id, itemID, req.Quantity)
	if err != nil {
		return c.Status(fiber.StatusConflict).
			JSON(errGeneral(err.Error()))
	}
	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: updated,
	})
}
