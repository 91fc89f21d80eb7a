package repos

import (
	"time"

	"github.com/retailops/stocksync/internal/db/models"
)

type SyncRepositoryTestSuite struct {
	DBRepositoryTestSuite
}

func (s *SyncRepositoryTestSuite) TestShadowUpsertIsVersionGated() {
	row := s.createShadowRow("vend-1", 5, "OPEN")

	// Same version again: skipped
	replay := &models.VendConsignment{VendID: "vend-1", Status: "SENT", VendVersion: 5}
	outcome, err := s.shadowRepo.Upsert(s.ctx, replay)
	s.Require().NoError(err)
	s.Require().Equal(UpsertSkipped, outcome)

	loaded, err := s.shadowRepo.GetByVendID(s.ctx, "vend-1")
	s.Require().NoError(err)
	s.Require().Equal("OPEN", loaded.Status, "skipped upsert must not overwrite")

	// Newer version: updated and queued for re-projection
	s.Require().NoError(s.shadowRepo.MarkProjected(s.ctx, row.ID))
	newer := &models.VendConsignment{VendID: "vend-1", Status: "SENT", VendVersion: 6}
	outcome, err = s.shadowRepo.Upsert(s.ctx, newer)
	s.Require().NoError(err)
	s.Require().Equal(UpsertUpdated, outcome)

	loaded, err = s.shadowRepo.GetByVendID(s.ctx, "vend-1")
	s.Require().NoError(err)
	s.Require().Equal("SENT", loaded.Status)
	s.Require().Nil(loaded.ProjectedAt)
}

func (s *SyncRepositoryTestSuite) TestListUnprojectedAndMark() {
	a := s.createShadowRow("vend-a", 1, "OPEN")
	s.createShadowRow("vend-b", 1, "OPEN")

	rows, err := s.shadowRepo.ListUnprojected(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(rows, 2)

	s.Require().NoError(s.shadowRepo.MarkProjected(s.ctx, a.ID))

	rows, err = s.shadowRepo.ListUnprojected(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Require().Equal("vend-b", rows[0].VendID)
}

func (s *SyncRepositoryTestSuite) TestCursorFirstUseAndAdvance() {
	cursor, err := s.cursorRepo.Get(s.ctx, models.CursorConsignments)
	s.Require().NoError(err)
	s.Require().Empty(cursor.LastProcessedID)

	s.Require().NoError(s.cursorRepo.Advance(s.ctx, models.CursorConsignments, "vend-42"))

	cursor, err = s.cursorRepo.Get(s.ctx, models.CursorConsignments)
	s.Require().NoError(err)
	s.Require().Equal("vend-42", cursor.LastProcessedID)
	s.Require().False(cursor.LastProcessedAt.IsZero())
	s.Require().False(cursor.Stale(time.Hour))
}

func (s *SyncRepositoryTestSuite) TestCursorStaleness() {
	cursor := &models.SyncCursor{
		CursorType:      models.CursorProducts,
		LastProcessedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	s.Require().True(cursor.Stale(time.Hour))
	s.Require().False(cursor.Stale(3 * time.Hour))
}

func (s *SyncRepositoryTestSuite) TestWebhookEventDedupe() {
	event := &models.WebhookEvent{
		EventID:   "evt_123",
		EventType: "consignment.update",
		Payload:   []byte(`{"id":"vend-1"}`),
	}
	s.Require().NoError(s.webhookRepo.Create(s.ctx, event))
	s.Require().Equal(models.WebhookStatusReceived, event.Status)

	replay := &models.WebhookEvent{
		EventID:   "evt_123",
		EventType: "consignment.update",
	}
	err := s.webhookRepo.Create(s.ctx, replay)
	s.Require().ErrorIs(err, ErrDuplicateEvent)

	exists, err := s.webhookRepo.Exists(s.ctx, "evt_123")
	s.Require().NoError(err)
	s.Require().True(exists)
}

func (s *SyncRepositoryTestSuite) TestWebhookEventStatusUpdate() {
	event := &models.WebhookEvent{EventID: "evt_9", EventType: "consignment.send"}
	s.Require().NoError(s.webhookRepo.Create(s.ctx, event))

	s.Require().NoError(s.webhookRepo.UpdateStatus(s.ctx, "evt_9", models.WebhookStatusProcessed))

	loaded, err := s.webhookRepo.GetByEventID(s.ctx, "evt_9")
	s.Require().NoError(err)
	s.Require().Equal(models.WebhookStatusProcessed, loaded.Status)
}
