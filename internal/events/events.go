// Package events provides in-process domain event handling
package events

import (
	"context"
	"sync"

	"github.com/retailops/stocksync/internal/consignment"
	"github.com/retailops/stocksync/internal/logger"
)

// EventType represents the type of domain event
type EventType string

const (
	// EventConsignmentTransitioned is emitted on every accepted lifecycle transition
	EventConsignmentTransitioned EventType = "consignment_transitioned"
	// EventConsignmentCreated is emitted when a consignment is created locally
	EventConsignmentCreated EventType = "consignment_created"
	// EventChannelSize is the buffer size for the event channel
	EventChannelSize = 100
)

// Event represents a domain event
type Event struct {
	Type          EventType
	ConsignmentID uint
	Transition    consignment.Transition
}

// Handler is a function that handles an event
type Handler func(context.Context, Event) error

// Bus fans events out to registered handlers on a background loop.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	ch       chan Event
	stopped  chan struct{}
}

// NewBus creates an event bus with a buffered channel.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		ch:       make(chan Event, EventChannelSize),
		stopped:  make(chan struct{}),
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	logger.Debugf("Registered handler for event type: %s", eventType)
}

// Publish sends an event to be processed
func (b *Bus) Publish(event Event) {
	b.ch <- event
	logger.Debugf("Published event: %s (consignment: %d)", event.Type, event.ConsignmentID)
}

// Start starts the event processing loop
func (b *Bus) Start(ctx context.Context) {
	go b.processEvents(ctx)
	logger.Info("Started event processing loop")
}

// Drain blocks until the processing loop has delivered everything
// published before shutdown and exited. Call after cancelling the Start
// context, before releasing resources the handlers depend on.
func (b *Bus) Drain() {
	<-b.stopped
}

// processEvents handles events in the background
func (b *Bus) processEvents(ctx context.Context) {
	defer close(b.stopped)
	for {
		select {
		case <-ctx.Done():
			b.drainBuffered()
			logger.Info("Stopping event processing loop")
			return
		case event := <-b.ch:
			b.dispatch(ctx, event)
		}
	}
}

// drainBuffered delivers events already published when shutdown started,
// so a short-lived process does not lose its own events. Handlers get a
// fresh context because the loop context is cancelled.
func (b *Bus) drainBuffered() {
	for {
		select {
		case event := <-b.ch:
			b.dispatch(context.Background(), event)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, event Event) {
	b.mu.RLock()
	eventHandlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, handler := range eventHandlers {
		if err := handler(ctx, event); err != nil {
			logger.Errorf("Failed to handle event %s for consignment %d: %v",
				event.Type, event.ConsignmentID, err)
		}
	}
}
