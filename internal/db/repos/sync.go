package repos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/retailops/stocksync/internal/db/models"
)

// ErrDuplicateEvent is returned when a webhook event id was already seen.
var ErrDuplicateEvent = errors.New("webhook event already received")

// UpsertOutcome describes what a shadow upsert did, for sync statistics.
type UpsertOutcome string

// Upsert outcomes
const (
	// UpsertCreated means a new shadow row was inserted
	UpsertCreated UpsertOutcome = "created"
	// UpsertUpdated means an existing shadow row was overwritten
	UpsertUpdated UpsertOutcome = "updated"
	// UpsertSkipped means the remote version was not newer
	UpsertSkipped UpsertOutcome = "skipped"
)

// ShadowRepository handles the vend_consignments mirror of the remote
// platform's records.
type ShadowRepository struct {
	db *gorm.DB
}

// NewShadowRepository creates a new instance of ShadowRepository
func NewShadowRepository(db *gorm.DB) *ShadowRepository {
	return &ShadowRepository{db: db}
}

// Upsert inserts or updates the shadow row keyed by the remote id. Rows are
// only overwritten when the remote version is strictly newer, so replaying
// a pull over the same data is a no-op.
func (r *ShadowRepository) Upsert(ctx context.Context, row *models.VendConsignment) (UpsertOutcome, error) {
	var outcome UpsertOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.VendConsignment
		err := tx.Where("vend_id = ?", row.VendID).First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to create shadow row %s: %w", row.VendID, err)
			}
			outcome = UpsertCreated
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up shadow row %s: %w", row.VendID, err)
		}

		if row.VendVersion <= existing.VendVersion {
			row.ID = existing.ID
			outcome = UpsertSkipped
			return nil
		}

		if err := tx.Model(&models.VendConsignment{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"reference":        row.Reference,
				"source_outlet_id": row.SourceOutletID,
				"dest_outlet_id":   row.DestOutletID,
				"status":           row.Status,
				"vend_version":     row.VendVersion,
				"payload":          row.Payload,
				"projected_at":     nil, // changed rows need re-projection
			}).Error; err != nil {
			return fmt.Errorf("failed to update shadow row %s: %w", row.VendID, err)
		}
		row.ID = existing.ID
		outcome = UpsertUpdated
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// GetByVendID retrieves a shadow row by its remote id
func (r *ShadowRepository) GetByVendID(ctx context.Context, vendID string) (*models.VendConsignment, error) {
	var row models.VendConsignment
	err := r.db.WithContext(ctx).Where("vend_id = ?", vendID).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListUnprojected returns shadow rows not yet projected into the
// operational tables, oldest first.
func (r *ShadowRepository) ListUnprojected(ctx context.Context, limit int) ([]models.VendConsignment, error) {
	var rows []models.VendConsignment
	err := r.db.WithContext(ctx).
		Where("projected_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unprojected shadow rows: %w", err)
	}
	return rows, nil
}

// MarkProjected stamps a shadow row as projected
func (r *ShadowRepository) MarkProjected(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.VendConsignment{}).
		Where("id = ?", id).
		Update("projected_at", time.Now().UTC()).Error
}

// Count returns the number of shadow rows
func (r *ShadowRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.VendConsignment{}).Count(&n).Error
	return n, err
}

// CursorRepository handles per-stream sync bookmarks
type CursorRepository struct {
	db *gorm.DB
}

// NewCursorRepository creates a new instance of CursorRepository
func NewCursorRepository(db *gorm.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// Get returns the cursor for a stream, creating a zero cursor on first use.
func (r *CursorRepository) Get(ctx context.Context, cursorType string) (*models.SyncCursor, error) {
	var cursor models.SyncCursor
	err := r.db.WithContext(ctx).
		Where(models.SyncCursor{CursorType: cursorType}).
		FirstOrCreate(&cursor).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor %s: %w", cursorType, err)
	}
	return &cursor, nil
}

// Advance moves the cursor forward. Called only after the pulled batch has
// been durably committed; the bookmark never moves backwards.
func (r *CursorRepository) Advance(ctx context.Context, cursorType, lastProcessedID string) error {
	return r.db.WithContext(ctx).Model(&models.SyncCursor{}).
		Where("cursor_type = ?", cursorType).
		Updates(map[string]interface{}{
			"last_processed_id": lastProcessedID,
			"last_processed_at": time.Now().UTC(),
		}).Error
}

// WebhookEventRepository handles persisted inbound webhook events
type WebhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new instance of WebhookEventRepository
func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create persists a new inbound event. Returns ErrDuplicateEvent when the
// external event id was already recorded.
func (r *WebhookEventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil && isDuplicateKey(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, event.EventID)
	}
	return err
}

// GetByEventID retrieves an event by its external id
func (r *WebhookEventRepository) GetByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// Exists reports whether an event id has been seen before
func (r *WebhookEventRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).Count(&n).Error
	return n > 0, err
}

// UpdateStatus updates the processing status of an event
func (r *WebhookEventRepository) UpdateStatus(ctx context.Context, eventID string, status models.WebhookEventStatus) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Update("status", status).Error
}

// isDuplicateKey recognizes unique-constraint violations from both the
// postgres and sqlite dialects.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if err == nil {
		return false
	}
	// The sqlite test databases surface the raw constraint message.
	return strings.Contains(err.Error(), "duplicate key value") ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}
