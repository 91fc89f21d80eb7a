package services

import (
	"context"
	"fmt"

	"github.com/retailops/stocksync/internal/consignment"
	"github.com/retailops/stocksync/internal/db/models"
	"github.com/retailops/stocksync/internal/db/repos"
	"github.com/retailops/stocksync/internal/events"
	"github.com/retailops/stocksync/internal/logger"
)

// CreateConsignmentRequest is the payload for creating a consignment
type CreateConsignmentRequest struct {
	Reference      string              `json:"reference"`
	SourceOutletID string              `json:"source_outlet_id"`
	DestOutletID   string              `json:"dest_outlet_id"`
	Items          []ConsignmentItemIn `json:"items,omitempty"`
}

// ConsignmentItemIn is an inbound line item
type ConsignmentItemIn struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitCost  float64 `json:"unit_cost"`
}

// ConsignmentService orchestrates consignment lifecycle operations. Every
// accepted mutation bumps the version and is announced on the event bus so
// the outward push can follow.
type ConsignmentService struct {
	consignments *repos.ConsignmentRepository
	bus          *events.Bus
}

// NewConsignmentService creates a new instance of ConsignmentService
func NewConsignmentService(consignments *repos.ConsignmentRepository, bus *events.Bus) *ConsignmentService {
	return &ConsignmentService{consignments: consignments, bus: bus}
}

// Create creates a consignment in the OPEN state
func (s *ConsignmentService) Create(ctx context.Context, req *CreateConsignmentRequest) (*models.Consignment, error) {
	c := &models.Consignment{
		Reference:      req.Reference,
		SourceOutletID: req.SourceOutletID,
		DestOutletID:   req.DestOutletID,
		State:          models.StateOpen,
		Version:        1,
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("line item %s must have a positive quantity", item.ProductID)
		}
		c.Items = append(c.Items, models.ConsignmentItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitCost:  item.UnitCost,
		})
	}

	if err := s.consignments.Create(ctx, c); err != nil {
		return nil, err
	}

	s.bus.Publish(events.Event{
		Type:          events.EventConsignmentCreated,
		ConsignmentID: c.ID,
	})
	return c, nil
}

// Get returns a consignment with its line items
func (s *ConsignmentService) Get(ctx context.Context, id uint) (*models.Consignment, error) {
	return s.consignments.GetByID(ctx, id)
}

// List returns consignments with pagination
func (s *ConsignmentService) List(ctx context.Context, opts *models.ListOptions) ([]models.Consignment, error) {
	return s.consignments.List(ctx, opts)
}

// Transition applies a lifecycle event to a consignment and persists the
// result under an optimistic version check. The accepted transition is
// published on the event bus.
func (s *ConsignmentService) Transition(ctx context.Context, id uint, event consignment.Event) (*models.Consignment, error) {
	c, err := s.consignments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	expected := c.Version
	t, err := consignment.Apply(c, event)
	if err != nil {
		return nil, err
	}

	if err := s.consignments.UpdateChecked(ctx, c, expected); err != nil {
		return nil, err
	}

	logger.Infof("consignment %d: %s -> %s (version %d)", c.ID, t.From, t.To, t.Version)
	s.bus.Publish(events.Event{
		Type:          events.EventConsignmentTransitioned,
		ConsignmentID: c.ID,
		Transition:    t,
	})
	return c, nil
}

// AddItem appends a line item. Items are only mutable before packing.
func (s *ConsignmentService) AddItem(ctx context.Context, id uint, in *ConsignmentItemIn) (*models.Consignment, error) {
	c, err := s.consignments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.State != models.StateOpen {
		return nil, fmt.Errorf("cannot add items to a %s consignment", c.State)
	}
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("line item %s must have a positive quantity", in.ProductID)
	}

	expected := c.Version
	c.Version++
	c.Items = append(c.Items, models.ConsignmentItem{
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		UnitCost:  in.UnitCost,
	})
	if err := s.consignments.UpdateChecked(ctx, c, expected); err != nil {
		return nil, err
	}
	return c, nil
}

// RemoveItem deletes a line item. Items are only mutable before packing.
func (s *ConsignmentService) RemoveItem(ctx context.Context, id, itemID uint) error {
	c, err := s.consignments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.State != models.StateOpen {
		return fmt.Errorf("cannot remove items from a %s consignment", c.State)
	}
	if err := s.consignments.RemoveItem(ctx, id, itemID); err != nil {
		return err
	}

	remaining := c.Items[:0]
	for i := range c.Items {
		if c.Items[i].ID != itemID {
			remaining = append(remaining, c.Items[i])
		}
	}
	c.Items = remaining

	expected := c.Version
	c.Version++
	return s.consignments.UpdateChecked(ctx, c, expected)
}

// RecordReceived records the quantity counted at the destination for one
// line item. Only valid while the consignment is receiving.
func (s *ConsignmentService) RecordReceived(ctx context.Context, id, itemID uint, qty int) (*models.Consignment, error) {
	if qty < 0 {
		return nil, fmt.Errorf("received quantity cannot be negative")
	}
	c, err := s.consignments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.State != models.StateReceiving {
		return nil, fmt.Errorf("cannot record received quantities on a %s consignment", c.State)
	}

	found := false
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items[i].ReceivedQty = &qty
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("line item %d not found on consignment %d", itemID, id)
	}

	expected := c.Version
	c.Version++
	if err := s.consignments.UpdateChecked(ctx, c, expected); err != nil {
		return nil, err
	}
	return c, nil
}

// WireSyncEnqueue subscribes the queue to consignment events so every local
// mutation schedules an outward push.
func WireSyncEnqueue(bus *events.Bus, queue *QueueService) {
	enqueue := func(_ context.Context, event events.Event) error {
		// The push must be scheduled even when the process is already
		// shutting down; the job store write is quick and durable.
		_, err := queue.EnqueueSyncPush(context.Background(), event.ConsignmentID)
		return err
	}
	bus.Subscribe(events.EventConsignmentCreated, enqueue)
	bus.Subscribe(events.EventConsignmentTransitioned, enqueue)
}
