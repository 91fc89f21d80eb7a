// Package syncer implements the three-tier propagation between the remote
// platform, the shadow tables, and the operational consignment tables.
//
// The engine is deliberately mechanical: it never sleeps and never retries.
// Transient failures bubble up as retryable errors and the queue layer owns
// the rescheduling.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/retailops/stocksync/internal/consignment"
	"github.com/retailops/stocksync/internal/db/models"
	"github.com/retailops/stocksync/internal/db/repos"
	"github.com/retailops/stocksync/internal/logger"
	"github.com/retailops/stocksync/internal/vend"
)

// DefaultBatchSize is the page size used when none is configured
const DefaultBatchSize = 100

// Options configures an Engine
type Options struct {
	// BatchSize is the page size for pulls and the batch size for
	// projection and push scans
	BatchSize int
	// FreshWindow suppresses a pull when the cursor advanced this
	// recently. Force overrides it.
	FreshWindow time.Duration
}

// Engine moves consignment data between the platform, the shadow tier and
// the operational tier.
type Engine struct {
	client       vend.Client
	shadows      *repos.ShadowRepository
	consignments *repos.ConsignmentRepository
	cursors      *repos.CursorRepository
	batchSize    int
	freshWindow  time.Duration
}

// New creates a sync engine
func New(client vend.Client, shadows *repos.ShadowRepository, consignments *repos.ConsignmentRepository, cursors *repos.CursorRepository, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Engine{
		client:       client,
		shadows:      shadows,
		consignments: consignments,
		cursors:      cursors,
		batchSize:    opts.BatchSize,
		freshWindow:  opts.FreshWindow,
	}
}

// PullResult summarizes one inward sync pass
type PullResult struct {
	Fetched        int
	Created        int
	Updated        int
	Skipped        int
	SkippedFresh   bool
	CursorAdvanced bool
}

// Pull fetches remote changes since the cursor into the shadow tables. The
// cursor advances only after each page has been committed, so an interrupted
// pull re-fetches rather than skips. Force bypasses the freshness window.
func (e *Engine) Pull(ctx context.Context, force, dryRun bool) (*PullResult, error) {
	result := &PullResult{}

	cursor, err := e.cursors.Get(ctx, models.CursorConsignments)
	if err != nil {
		return nil, err
	}
	if !force && e.freshWindow > 0 && !cursor.LastProcessedAt.IsZero() &&
		time.Since(cursor.LastProcessedAt) < e.freshWindow {
		logger.Debugf("pull skipped, cursor advanced %s ago", time.Since(cursor.LastProcessedAt).Round(time.Second))
		result.SkippedFresh = true
		return result, nil
	}

	after := cursor.LastProcessedID
	for {
		page, err := e.client.ListConsignments(ctx, after, e.batchSize)
		if err != nil {
			return result, fmt.Errorf("failed to fetch consignment page after %q: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		result.Fetched += len(page)

		for i := range page {
			if dryRun {
				e.previewUpsert(ctx, &page[i], result)
				continue
			}
			row, err := shadowFromRemote(&page[i])
			if err != nil {
				return result, err
			}
			outcome, err := e.shadows.Upsert(ctx, row)
			if err != nil {
				return result, err
			}
			switch outcome {
			case repos.UpsertCreated:
				result.Created++
			case repos.UpsertUpdated:
				result.Updated++
			default:
				result.Skipped++
			}
		}

		after = page[len(page)-1].ID
		if !dryRun {
			if err := e.cursors.Advance(ctx, models.CursorConsignments, after); err != nil {
				return result, fmt.Errorf("failed to advance cursor: %w", err)
			}
			result.CursorAdvanced = true
		}

		if len(page) < e.batchSize {
			break
		}
	}

	logger.Infof("pull complete: fetched=%d created=%d updated=%d skipped=%d dry_run=%t",
		result.Fetched, result.Created, result.Updated, result.Skipped, dryRun)
	return result, nil
}

// previewUpsert classifies what a shadow upsert would do without writing
func (e *Engine) previewUpsert(ctx context.Context, remote *vend.Consignment, result *PullResult) {
	existing, err := e.shadows.GetByVendID(ctx, remote.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		result.Created++
		return
	}
	if err != nil {
		result.Skipped++
		return
	}
	if remote.Version > existing.VendVersion {
		result.Updated++
		return
	}
	result.Skipped++
}

// shadowFromRemote maps a remote consignment onto a shadow row, preserving
// the full remote record in the payload column.
func shadowFromRemote(remote *vend.Consignment) (*models.VendConsignment, error) {
	payload, err := json.Marshal(remote)
	if err != nil {
		return nil, fmt.Errorf("failed to encode remote consignment %s: %w", remote.ID, err)
	}
	return &models.VendConsignment{
		VendID:         remote.ID,
		Reference:      remote.Name,
		SourceOutletID: remote.SourceOutletID,
		DestOutletID:   remote.OutletID,
		Status:         remote.Status,
		VendVersion:    remote.Version,
		Payload:        payload,
	}, nil
}

// ApplyRemote refreshes the shadow row for a single remote consignment and
// projects the change through. Used by webhook processing, which targets one
// record instead of a page.
func (e *Engine) ApplyRemote(ctx context.Context, remote *vend.Consignment) error {
	row, err := shadowFromRemote(remote)
	if err != nil {
		return err
	}
	outcome, err := e.shadows.Upsert(ctx, row)
	if err != nil {
		return err
	}
	if outcome == repos.UpsertSkipped {
		logger.Debugf("remote consignment %s version %d already applied", remote.ID, remote.Version)
		return nil
	}
	_, err = e.Project(ctx, false)
	return err
}

// ProjectResult summarizes a shadow-to-operational projection pass
type ProjectResult struct {
	Projected int
	Planned   int
	Rejected  int
	Invalid   int
}

// Project materializes unprojected shadow rows into the operational tables.
// Rows with an unknown remote status, or whose application would move a
// consignment backwards through its lifecycle, are logged and set aside;
// they are revisited automatically if the remote record changes again.
func (e *Engine) Project(ctx context.Context, dryRun bool) (*ProjectResult, error) {
	result := &ProjectResult{}

	for {
		rows, err := e.shadows.ListUnprojected(ctx, e.batchSize)
		if err != nil {
			return result, err
		}
		if len(rows) == 0 {
			break
		}

		for i := range rows {
			row := &rows[i]
			state, err := consignment.MapRemoteStatus(row.Status)
			if err != nil {
				logger.Warnf("shadow row %s has unknown status %q, skipping", row.VendID, row.Status)
				result.Invalid++
				if !dryRun {
					if err := e.shadows.MarkProjected(ctx, row.ID); err != nil {
						return result, err
					}
				}
				continue
			}

			existing, err := e.consignments.GetByVendID(ctx, row.VendID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return result, fmt.Errorf("failed to look up consignment %s: %w", row.VendID, err)
			}
			if existing != nil && !consignment.CanProject(existing.State, state) {
				logger.Warnf("shadow row %s would move consignment %d from %s to %s, skipping",
					row.VendID, existing.ID, existing.State, state)
				result.Rejected++
				if !dryRun {
					if err := e.shadows.MarkProjected(ctx, row.ID); err != nil {
						return result, err
					}
				}
				continue
			}

			if dryRun {
				result.Planned++
				continue
			}

			if _, err := e.consignments.UpsertFromRemote(ctx, row, state); err != nil {
				return result, err
			}
			if err := e.shadows.MarkProjected(ctx, row.ID); err != nil {
				return result, err
			}
			result.Projected++
		}

		// A dry run writes nothing, so a second scan would return the
		// same rows forever.
		if dryRun {
			break
		}
	}

	logger.Infof("projection complete: projected=%d rejected=%d invalid=%d dry_run=%t",
		result.Projected, result.Rejected, result.Invalid, dryRun)
	return result, nil
}

// PushResult summarizes an outward push pass
type PushResult struct {
	Created int
	Updated int
	Planned int
	Failed  int
}

// Push propagates dirty consignments (local version ahead of the last pushed
// version) out to the platform. A transient API failure aborts the pass with
// a retryable error; a terminal rejection of one consignment is recorded and
// the pass moves on.
func (e *Engine) Push(ctx context.Context, dryRun bool) (*PushResult, error) {
	result := &PushResult{}

	dirty, err := e.consignments.ListDirty(ctx, e.batchSize)
	if err != nil {
		return result, err
	}

	for i := range dirty {
		c := &dirty[i]
		if dryRun {
			result.Planned++
			continue
		}
		if err := e.pushOne(ctx, c, result); err != nil {
			if !vend.IsRetryable(err) {
				logger.Errorf("push rejected for consignment %d: %v", c.ID, err)
				result.Failed++
				continue
			}
			return result, fmt.Errorf("push failed for consignment %d: %w", c.ID, err)
		}
	}

	logger.Infof("push complete: created=%d updated=%d failed=%d dry_run=%t",
		result.Created, result.Updated, result.Failed, dryRun)
	return result, nil
}

// pushOne creates or updates a single consignment remotely and records the
// propagated version.
func (e *Engine) pushOne(ctx context.Context, c *models.Consignment, result *PushResult) error {
	req := &vend.ConsignmentRequest{
		Name:           c.Reference,
		OutletID:       c.DestOutletID,
		SourceOutletID: c.SourceOutletID,
		Type:           "OUTLET",
		Status:         consignment.RemoteStatus(c.State),
	}

	if c.VendID == nil {
		remote, err := e.client.CreateConsignment(ctx, req)
		if err != nil {
			return err
		}
		for i := range c.Items {
			item := &c.Items[i]
			if err := e.client.AddConsignmentProduct(ctx, remote.ID, &vend.ConsignmentProduct{
				ProductID: item.ProductID,
				Count:     item.Quantity,
				Cost:      item.UnitCost,
				Received:  item.ReceivedQty,
			}); err != nil {
				return err
			}
		}
		if err := e.consignments.MarkPushed(ctx, c.ID, c.Version, remote.ID, remote.Version); err != nil {
			return err
		}
		result.Created++
		return nil
	}

	remote, err := e.client.UpdateConsignment(ctx, *c.VendID, req)
	if err != nil {
		return err
	}
	if err := e.consignments.MarkPushed(ctx, c.ID, c.Version, remote.ID, remote.Version); err != nil {
		return err
	}
	result.Updated++
	return nil
}

// Report bundles the outcome of a full sync pass
type Report struct {
	Pull    *PullResult
	Project *ProjectResult
	Push    *PushResult
}

// Full runs pull, projection and push as one pass
func (e *Engine) Full(ctx context.Context, force, dryRun bool) (*Report, error) {
	report := &Report{}

	var err error
	if report.Pull, err = e.Pull(ctx, force, dryRun); err != nil {
		return report, err
	}
	if report.Project, err = e.Project(ctx, dryRun); err != nil {
		return report, err
	}
	if report.Push, err = e.Push(ctx, dryRun); err != nil {
		return report, err
	}
	return report, nil
}

// CursorStatus returns the current pull bookmark for health reporting
func (e *Engine) CursorStatus(ctx context.Context) (*models.SyncCursor, error) {
	return e.cursors.Get(ctx, models.CursorConsignments)
}
