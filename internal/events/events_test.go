package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscribersInOrder(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var got []uint
	bus.Subscribe(EventConsignmentTransitioned, func(_ context.Context, e Event) error {
		mu.Lock()
		got = append(got, e.ConsignmentID)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	for i := uint(1); i <= 5; i++ {
		bus.Publish(Event{Type: EventConsignmentTransitioned, ConsignmentID: i})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint{1, 2, 3, 4, 5}, got, "events arrive in publish order")
}

func TestDrainDeliversBufferedEventsAfterStop(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var got []uint
	bus.Subscribe(EventConsignmentTransitioned, func(_ context.Context, e Event) error {
		mu.Lock()
		got = append(got, e.ConsignmentID)
		mu.Unlock()
		return nil
	})

	// The shutdown race: events buffered, context already cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := uint(1); i <= 3; i++ {
		bus.Publish(Event{Type: EventConsignmentTransitioned, ConsignmentID: i})
	}

	bus.Start(ctx)
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint{1, 2, 3}, got, "buffered events must not be lost on shutdown")
}

func TestBusIgnoresUnsubscribedTypes(t *testing.T) {
	bus := NewBus()

	var calls int
	var mu sync.Mutex
	bus.Subscribe(EventConsignmentCreated, func(context.Context, Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	bus.Publish(Event{Type: EventConsignmentTransitioned, ConsignmentID: 1})
	bus.Publish(Event{Type: EventConsignmentCreated, ConsignmentID: 2})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 2*time.Second, 10*time.Millisecond)
}
