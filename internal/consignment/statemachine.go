// Package consignment implements the consignment lifecycle state machine.
// It validates and applies transitions on in-memory models and knows nothing
// about storage or transport.
package consignment

import (
	"errors"
	"fmt"

	"github.com/retailops/stocksync/internal/db/models"
)

// ErrInvalidTransition is returned when a (state, event) pair is not in the
// transition table. The consignment is left unchanged.
var ErrInvalidTransition = errors.New("invalid consignment transition")

// Event is a lifecycle transition trigger
type Event string

// Transition events
const (
	// EventPack marks the consignment as packaged
	EventPack Event = "pack"
	// EventSend marks the consignment as sent
	EventSend Event = "send"
	// EventReceiveStart begins receiving at the destination
	EventReceiveStart Event = "receive_start"
	// EventReceive completes receiving
	EventReceive Event = "receive"
	// EventCancel cancels the consignment from any non-terminal state
	EventCancel Event = "cancel"
)

// ParseEvent converts a string to a transition Event
func ParseEvent(str string) (Event, error) {
	switch str {
	case string(EventPack):
		return EventPack, nil
	case string(EventSend):
		return EventSend, nil
	case string(EventReceiveStart):
		return EventReceiveStart, nil
	case string(EventReceive):
		return EventReceive, nil
	case string(EventCancel):
		return EventCancel, nil
	default:
		return "", fmt.Errorf("invalid transition event: %s", str)
	}
}

// transitions is the explicit, total transition table. Any pair not listed
// here is rejected.
var transitions = map[models.ConsignmentState]map[Event]models.ConsignmentState{
	models.StateOpen: {
		EventPack:   models.StatePackaged,
		EventCancel: models.StateCancelled,
	},
	models.StatePackaged: {
		EventSend:   models.StateSent,
		EventCancel: models.StateCancelled,
	},
	models.StateSent: {
		EventReceiveStart: models.StateReceiving,
		EventCancel:       models.StateCancelled,
	},
	models.StateReceiving: {
		EventReceive: models.StateReceived,
		EventCancel:  models.StateCancelled,
	},
}

// Transition records an accepted state change. The sync engine consumes
// these to decide whether an outward push is needed.
type Transition struct {
	ConsignmentID uint
	Event         Event
	From          models.ConsignmentState
	To            models.ConsignmentState
	Version       int64
}

// Next returns the state the event leads to from the current state, without
// applying guards.
func Next(current models.ConsignmentState, event Event) (models.ConsignmentState, error) {
	to, ok := transitions[current][event]
	if !ok {
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, event)
	}
	return to, nil
}

// Apply validates the transition table and guard rules against the
// consignment, then mutates its state and increments its version. On any
// error the consignment is left untouched.
func Apply(c *models.Consignment, event Event) (Transition, error) {
	to, err := Next(c.State, event)
	if err != nil {
		return Transition{}, err
	}

	if err := checkGuards(c, event); err != nil {
		return Transition{}, err
	}

	t := Transition{
		ConsignmentID: c.ID,
		Event:         event,
		From:          c.State,
		To:            to,
		Version:       c.Version + 1,
	}

	c.State = to
	c.Version++

	if event == EventReceive {
		annotateDiscrepancies(c)
	}

	return t, nil
}

// checkGuards enforces the per-event preconditions beyond the table itself.
func checkGuards(c *models.Consignment, event Event) error {
	switch event {
	case EventPack:
		if len(c.Items) == 0 {
			return fmt.Errorf("%w: cannot package a consignment with no line items", ErrInvalidTransition)
		}
	case EventReceive:
		for i := range c.Items {
			if !c.Items[i].Received() {
				return fmt.Errorf("%w: line item %s has no received quantity recorded",
					ErrInvalidTransition, c.Items[i].ProductID)
			}
		}
	}
	return nil
}

// annotateDiscrepancies marks line items whose received quantity does not
// match what was sent. A partial receipt annotates, it does not block.
func annotateDiscrepancies(c *models.Consignment) {
	for i := range c.Items {
		item := &c.Items[i]
		if item.ReceivedQty != nil && *item.ReceivedQty != item.Quantity {
			item.Discrepancy = fmt.Sprintf("expected %d, received %d", item.Quantity, *item.ReceivedQty)
		}
	}
}

// stateOrder positions the forward lifecycle for reachability checks.
var stateOrder = map[models.ConsignmentState]int{
	models.StateOpen:      0,
	models.StatePackaged:  1,
	models.StateSent:      2,
	models.StateReceiving: 3,
	models.StateReceived:  4,
}

// CanProject reports whether a projection from the current local state to
// the remote-derived target state is a forward move through the lifecycle.
// Projections that would walk backwards or leave a terminal state are
// rejected so the sync engine can log and skip them.
func CanProject(from, to models.ConsignmentState) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == models.StateCancelled {
		return true
	}
	fromIdx, okFrom := stateOrder[from]
	toIdx, okTo := stateOrder[to]
	return okFrom && okTo && toIdx > fromIdx
}

// MapRemoteStatus translates the remote platform's status vocabulary into a
// local lifecycle state.
func MapRemoteStatus(remote string) (models.ConsignmentState, error) {
	switch remote {
	case "OPEN", "DRAFT":
		return models.StateOpen, nil
	case "PACKAGED", "PACKED":
		return models.StatePackaged, nil
	case "SENT", "DISPATCHED":
		return models.StateSent, nil
	case "RECEIVING", "PARTIALLY_RECEIVED":
		return models.StateReceiving, nil
	case "RECEIVED":
		return models.StateReceived, nil
	case "CANCELLED":
		return models.StateCancelled, nil
	default:
		return "", fmt.Errorf("unknown remote consignment status: %s", remote)
	}
}

// RemoteStatus translates a local state into the remote vocabulary for
// outward pushes.
func RemoteStatus(state models.ConsignmentState) string {
	switch state {
	case models.StateReceiving:
		return "PARTIALLY_RECEIVED"
	default:
		return string(state)
	}
}
