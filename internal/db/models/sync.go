package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Cursor type constants, one per pull stream
const (
	// CursorConsignments is the pull stream for remote consignments
	CursorConsignments = "consignments"
	// CursorProducts is the pull stream for remote products
	CursorProducts = "products"
)

// SyncCursor is a per-stream bookmark. It is read before a pull and
// advanced only after the pulled page has been durably committed, so a
// crash mid-page causes a safe re-fetch rather than a gap.
type SyncCursor struct {
	CursorType      string    `json:"cursor_type" gorm:"primaryKey"`
	LastProcessedID string    `json:"last_processed_id"`
	LastProcessedAt time.Time `json:"last_processed_at"`
}

// TableName overrides the table name for SyncCursor
func (SyncCursor) TableName() string {
	return "sync_cursors"
}

// Stale reports whether the cursor has not advanced within the window.
// Staleness is a health signal, not an error.
func (c *SyncCursor) Stale(window time.Duration) bool {
	return !c.LastProcessedAt.IsZero() && time.Since(c.LastProcessedAt) > window
}

// VendConsignment is a shadow row mirroring a remote consignment, keyed by
// the remote id. Shadow rows are the staging tier between the platform and
// the operational queue_consignments table.
type VendConsignment struct {
	gorm.Model
	VendID         string          `json:"vend_id" gorm:"not null;uniqueIndex"`
	Reference      string          `json:"reference"`
	SourceOutletID string          `json:"source_outlet_id" gorm:"index"`
	DestOutletID   string          `json:"dest_outlet_id" gorm:"index"`
	Status         string          `json:"status" gorm:"not null;index"`
	VendVersion    int64           `json:"vend_version" gorm:"not null;default:0"`
	Payload        json.RawMessage `json:"payload,omitempty" gorm:"type:jsonb"`
	ProjectedAt    *time.Time      `json:"projected_at,omitempty" gorm:"index"`
}

// TableName overrides the table name for VendConsignment
func (VendConsignment) TableName() string {
	return "vend_consignments"
}

// WebhookEventStatus represents the processing state of an inbound event
type WebhookEventStatus string

// Webhook event status constants
const (
	// WebhookStatusReceived indicates the event is persisted and queued
	WebhookStatusReceived WebhookEventStatus = "received"
	// WebhookStatusProcessed indicates the event was handled
	WebhookStatusProcessed WebhookEventStatus = "processed"
	// WebhookStatusFailed indicates handling failed terminally
	WebhookStatusFailed WebhookEventStatus = "failed"
)

// WebhookEvent is an inbound platform notification. EventID is the remote
// delivery id and is unique: the same event is processed at most once.
type WebhookEvent struct {
	gorm.Model
	EventID    string             `json:"event_id" gorm:"not null;uniqueIndex"`
	EventType  string             `json:"event_type" gorm:"not null;index"`
	Payload    json.RawMessage    `json:"payload,omitempty" gorm:"type:jsonb"`
	Status     WebhookEventStatus `json:"status" gorm:"not null;index;default:received"`
	ReceivedAt time.Time          `json:"received_at" gorm:"not null;index"`
}

// TableName overrides the table name for WebhookEvent
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// Validate ensures that the webhook event data is valid
func (e *WebhookEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event id cannot be empty")
	}
	if e.EventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before persisting an event
func (e *WebhookEvent) BeforeCreate(_ *gorm.DB) error {
	if e.Status == "" {
		e.Status = WebhookStatusReceived
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	return e.Validate()
}
