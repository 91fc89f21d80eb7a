package repos

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/retailops/stocksync/internal/db/models"
)

// ErrVersionConflict is returned when a version-checked update loses a race
// with a concurrent writer. The caller retries with fresh state.
var ErrVersionConflict = errors.New("consignment version conflict")

// ConsignmentRepository handles database operations for consignments
type ConsignmentRepository struct {
	db *gorm.DB
}

// NewConsignmentRepository creates a new instance of ConsignmentRepository
func NewConsignmentRepository(db *gorm.DB) *ConsignmentRepository {
	return &ConsignmentRepository{db: db}
}

// Create creates a new consignment with its line items
func (r *ConsignmentRepository) Create(ctx context.Context, c *models.Consignment) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// GetByID retrieves a consignment with its line items
func (r *ConsignmentRepository) GetByID(ctx context.Context, id uint) (*models.Consignment, error) {
	var c models.Consignment
	err := r.db.WithContext(ctx).Preload("Items").First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("consignment %d not found: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get consignment %d: %w", id, err)
	}
	return &c, nil
}

// GetByVendID retrieves a consignment by its remote platform id
func (r *ConsignmentRepository) GetByVendID(ctx context.Context, vendID string) (*models.Consignment, error) {
	var c models.Consignment
	err := r.db.WithContext(ctx).Preload("Items").
		Where("vend_id = ?", vendID).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List retrieves consignments with pagination
func (r *ConsignmentRepository) List(ctx context.Context, opts *models.ListOptions) ([]models.Consignment, error) {
	o := opts.WithDefaults()
	var cs []models.Consignment
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(o.Limit).Offset(o.Offset).
		Find(&cs).Error
	return cs, err
}

// ListDirty returns consignments whose version has advanced past the last
// pushed version, i.e. local mutations not yet propagated outward.
func (r *ConsignmentRepository) ListDirty(ctx context.Context, limit int) ([]models.Consignment, error) {
	var cs []models.Consignment
	err := r.db.WithContext(ctx).Preload("Items").
		Where("version > pushed_version AND state <> ?", models.StateCancelled).
		Order("id ASC").
		Limit(limit).
		Find(&cs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty consignments: %w", err)
	}
	return cs, nil
}

// UpdateChecked persists the consignment's mutable fields only if the row
// still carries the expected version. Detects lost updates during
// concurrent sync.
func (r *ConsignmentRepository) UpdateChecked(ctx context.Context, c *models.Consignment, expectedVersion int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Consignment{}).
			Where("id = ? AND version = ?", c.ID, expectedVersion).
			Updates(map[string]interface{}{
				models.ConsignmentStateField:   c.State,
				models.ConsignmentVersionField: c.Version,
				"vend_id":                      c.VendID,
				"vend_version":                 c.VendVersion,
				"pushed_version":               c.PushedVersion,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update consignment %d: %w", c.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: consignment %d expected version %d", ErrVersionConflict, c.ID, expectedVersion)
		}

		for i := range c.Items {
			if c.Items[i].ID == 0 {
				c.Items[i].ConsignmentID = c.ID
				if err := tx.Create(&c.Items[i]).Error; err != nil {
					return fmt.Errorf("failed to create line item: %w", err)
				}
				continue
			}
			if err := tx.Model(&models.ConsignmentItem{}).
				Where("id = ?", c.Items[i].ID).
				Updates(map[string]interface{}{
					"received_qty": c.Items[i].ReceivedQty,
					"discrepancy":  c.Items[i].Discrepancy,
					"quantity":     c.Items[i].Quantity,
				}).Error; err != nil {
				return fmt.Errorf("failed to update line item %d: %w", c.Items[i].ID, err)
			}
		}
		return nil
	})
}

// MarkPushed records a successful outward push: the remote id, the remote
// version, and the local version that was propagated.
func (r *ConsignmentRepository) MarkPushed(ctx context.Context, id uint, pushedVersion int64, vendID string, vendVersion int64) error {
	return r.db.WithContext(ctx).Model(&models.Consignment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"vend_id":        vendID,
			"vend_version":   vendVersion,
			"pushed_version": pushedVersion,
		}).Error
}

// UpsertFromRemote inserts or updates the operational row keyed by the
// remote id. Replaying the same remote data is a no-op for already-applied
// rows. Returns the stored consignment.
func (r *ConsignmentRepository) UpsertFromRemote(ctx context.Context, shadow *models.VendConsignment, state models.ConsignmentState) (*models.Consignment, error) {
	var result *models.Consignment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Consignment
		err := tx.Where("vend_id = ?", shadow.VendID).First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			vendID := shadow.VendID
			c := &models.Consignment{
				VendID:         &vendID,
				Reference:      shadow.Reference,
				SourceOutletID: shadow.SourceOutletID,
				DestOutletID:   shadow.DestOutletID,
				State:          state,
				Version:        1,
				PushedVersion:  1, // materialized from remote, nothing to push back
				VendVersion:    shadow.VendVersion,
			}
			if err := tx.Create(c).Error; err != nil {
				return fmt.Errorf("failed to materialize consignment %s: %w", shadow.VendID, err)
			}
			result = c
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up consignment %s: %w", shadow.VendID, err)
		}

		if existing.State == state && existing.VendVersion >= shadow.VendVersion {
			result = &existing
			return nil
		}

		res := tx.Model(&models.Consignment{}).
			Where("id = ? AND version = ?", existing.ID, existing.Version).
			Updates(map[string]interface{}{
				models.ConsignmentStateField:   state,
				models.ConsignmentVersionField: existing.Version + 1,
				"pushed_version":               existing.Version + 1,
				"vend_version":                 shadow.VendVersion,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to project consignment %s: %w", shadow.VendID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: consignment %d during projection", ErrVersionConflict, existing.ID)
		}

		existing.State = state
		existing.Version++
		existing.PushedVersion = existing.Version
		existing.VendVersion = shadow.VendVersion
		result = &existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddItem appends a line item to a consignment
func (r *ConsignmentRepository) AddItem(ctx context.Context, consignmentID uint, item *models.ConsignmentItem) error {
	item.ConsignmentID = consignmentID
	return r.db.WithContext(ctx).Create(item).Error
}

// RemoveItem deletes a line item from a consignment
func (r *ConsignmentRepository) RemoveItem(ctx context.Context, consignmentID, itemID uint) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND consignment_id = ?", itemID, consignmentID).
		Delete(&models.ConsignmentItem{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove line item %d: %w", itemID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("line item %d not found on consignment %d", itemID, consignmentID)
	}
	return nil
}
