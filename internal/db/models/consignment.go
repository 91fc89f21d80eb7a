package models

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// Field names for the consignment model
const (
	// ConsignmentStateField is the field name for consignment state
	ConsignmentStateField = "state"
	// ConsignmentVersionField is the field name for the optimistic version
	ConsignmentVersionField = "version"
)

// ConsignmentState represents a consignment's lifecycle state
type ConsignmentState string

// Consignment state constants
const (
	// StateOpen is the initial state of a consignment
	StateOpen ConsignmentState = "OPEN"
	// StatePackaged indicates all line items have been packed
	StatePackaged ConsignmentState = "PACKAGED"
	// StateSent indicates the consignment left the source location
	StateSent ConsignmentState = "SENT"
	// StateReceiving indicates the destination started receiving stock
	StateReceiving ConsignmentState = "RECEIVING"
	// StateReceived is the terminal success state
	StateReceived ConsignmentState = "RECEIVED"
	// StateCancelled is the terminal cancelled state
	StateCancelled ConsignmentState = "CANCELLED"
)

// String returns the string representation of the state
func (s ConsignmentState) String() string {
	return string(s)
}

// Terminal reports whether the state admits no further transitions.
func (s ConsignmentState) Terminal() bool {
	return s == StateReceived || s == StateCancelled
}

// ParseConsignmentState converts a string to a ConsignmentState
func ParseConsignmentState(str string) (ConsignmentState, error) {
	switch str {
	case string(StateOpen):
		return StateOpen, nil
	case string(StatePackaged):
		return StatePackaged, nil
	case string(StateSent):
		return StateSent, nil
	case string(StateReceiving):
		return StateReceiving, nil
	case string(StateReceived):
		return StateReceived, nil
	case string(StateCancelled):
		return StateCancelled, nil
	default:
		return "", fmt.Errorf("invalid consignment state: %s", str)
	}
}

// UnmarshalJSON implements json.Unmarshaler for ConsignmentState
func (s *ConsignmentState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	state, err := ParseConsignmentState(str)
	if err != nil {
		return err
	}

	*s = state
	return nil
}

// MarshalJSON implements json.Marshaler for ConsignmentState
func (s ConsignmentState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Consignment is a stock transfer between two locations.
//
// State changes only through the lifecycle transition function; Version
// increments on every accepted mutation and detects lost updates during
// concurrent sync. PushedVersion records the last version propagated to the
// remote platform. Consignments are never hard-deleted; cancellation is a
// terminal state, not removal.
type Consignment struct {
	gorm.Model
	VendID         *string           `json:"vend_id,omitempty" gorm:"uniqueIndex"`
	Reference      string            `json:"reference" gorm:"not null;index"`
	SourceOutletID string            `json:"source_outlet_id" gorm:"not null;index"`
	DestOutletID   string            `json:"dest_outlet_id" gorm:"not null;index"`
	State          ConsignmentState  `json:"state" gorm:"not null;index;default:OPEN"`
	Version        int64             `json:"version" gorm:"not null;default:1"`
	PushedVersion  int64             `json:"pushed_version" gorm:"not null;default:0"`
	VendVersion    int64             `json:"vend_version" gorm:"not null;default:0"`
	Items          []ConsignmentItem `json:"items,omitempty" gorm:"foreignKey:ConsignmentID"`
}

// TableName overrides the table name for Consignment
func (Consignment) TableName() string {
	return "queue_consignments"
}

// Validate ensures that the consignment data is valid
func (c *Consignment) Validate() error {
	if c.SourceOutletID == "" {
		return fmt.Errorf("source outlet cannot be empty")
	}
	if c.DestOutletID == "" {
		return fmt.Errorf("destination outlet cannot be empty")
	}
	if c.SourceOutletID == c.DestOutletID {
		return fmt.Errorf("source and destination outlets must differ")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a consignment
func (c *Consignment) BeforeCreate(_ *gorm.DB) error {
	if c.State == "" {
		c.State = StateOpen
	}
	if c.Version == 0 {
		c.Version = 1
	}
	return c.Validate()
}

// Dirty reports whether the consignment has mutations not yet pushed to the
// remote platform.
func (c *Consignment) Dirty() bool {
	return c.Version > c.PushedVersion
}

// ConsignmentItem is a single product line on a consignment. ReceivedQty is
// nil until the destination records a count; Discrepancy annotates a partial
// receipt without blocking the lifecycle.
type ConsignmentItem struct {
	gorm.Model
	ConsignmentID uint    `json:"-" gorm:"not null;index"`
	ProductID     string  `json:"product_id" gorm:"not null;index"`
	Quantity      int     `json:"quantity" gorm:"not null"`
	UnitCost      float64 `json:"unit_cost" gorm:"not null;default:0"`
	ReceivedQty   *int    `json:"received_qty,omitempty"`
	Discrepancy   string  `json:"discrepancy,omitempty" gorm:"type:text"`
}

// TableName overrides the table name for ConsignmentItem
func (ConsignmentItem) TableName() string {
	return "queue_consignment_items"
}

// Received reports whether a received quantity has been recorded.
func (i *ConsignmentItem) Received() bool {
	return i.ReceivedQty != nil
}
