package repos

import (
	"github.com/retailops/stocksync/internal/db/models"
)

type ConsignmentRepositoryTestSuite struct {
	DBRepositoryTestSuite
}

func (s *ConsignmentRepositoryTestSuite) TestCreateDefaults() {
	c := s.createTestConsignment()

	s.Require().NotZero(c.ID)
	s.Require().Equal(models.StateOpen, c.State)
	s.Require().Equal(int64(1), c.Version)
	s.Require().Nil(c.VendID)

	loaded, err := s.consignmentRepo.GetByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Len(loaded.Items, 1)
}

func (s *ConsignmentRepositoryTestSuite) TestCreateRejectsSameOutlets() {
	c := &models.Consignment{
		Reference:      "TR-bad",
		SourceOutletID: "outlet-a",
		DestOutletID:   "outlet-a",
	}
	s.Require().Error(s.consignmentRepo.Create(s.ctx, c))
}

func (s *ConsignmentRepositoryTestSuite) TestUpdateCheckedDetectsLostUpdate() {
	c := s.createTestConsignment()

	c.State = models.StatePackaged
	c.Version = 2
	s.Require().NoError(s.consignmentRepo.UpdateChecked(s.ctx, c, 1))

	// A stale writer carrying the old version loses
	stale := *c
	stale.State = models.StateSent
	stale.Version = 2
	err := s.consignmentRepo.UpdateChecked(s.ctx, &stale, 1)
	s.Require().ErrorIs(err, ErrVersionConflict)

	loaded, err := s.consignmentRepo.GetByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.StatePackaged, loaded.State)
	s.Require().Equal(int64(2), loaded.Version)
}

func (s *ConsignmentRepositoryTestSuite) TestListDirty() {
	clean := s.createTestConsignment()
	clean.PushedVersion = clean.Version
	s.Require().NoError(s.db.Model(&models.Consignment{}).
		Where("id = ?", clean.ID).
		Update("pushed_version", clean.Version).Error)

	dirty := s.createTestConsignment() // pushed_version 0 < version 1

	list, err := s.consignmentRepo.ListDirty(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Require().Equal(dirty.ID, list[0].ID)
}

func (s *ConsignmentRepositoryTestSuite) TestMarkPushed() {
	c := s.createTestConsignment()

	s.Require().NoError(s.consignmentRepo.MarkPushed(s.ctx, c.ID, c.Version, "vend-123", 7))

	loaded, err := s.consignmentRepo.GetByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().NotNil(loaded.VendID)
	s.Require().Equal("vend-123", *loaded.VendID)
	s.Require().Equal(int64(7), loaded.VendVersion)
	s.Require().False(loaded.Dirty())
}

func (s *ConsignmentRepositoryTestSuite) TestUpsertFromRemoteMaterializes() {
	shadow := s.createShadowRow("vend-77", 3, "SENT")

	c, err := s.consignmentRepo.UpsertFromRemote(s.ctx, shadow, models.StateSent)
	s.Require().NoError(err)
	s.Require().Equal(models.StateSent, c.State)
	s.Require().Equal(int64(3), c.VendVersion)
	s.Require().False(c.Dirty(), "remote-materialized rows have nothing to push")

	// Replaying the same remote data is a no-op
	again, err := s.consignmentRepo.UpsertFromRemote(s.ctx, shadow, models.StateSent)
	s.Require().NoError(err)
	s.Require().Equal(c.ID, again.ID)
	s.Require().Equal(c.Version, again.Version)
}

func (s *ConsignmentRepositoryTestSuite) TestUpsertFromRemoteAdvancesState() {
	shadow := s.createShadowRow("vend-88", 1, "OPEN")

	c, err := s.consignmentRepo.UpsertFromRemote(s.ctx, shadow, models.StateOpen)
	s.Require().NoError(err)

	shadow.VendVersion = 2
	updated, err := s.consignmentRepo.UpsertFromRemote(s.ctx, shadow, models.StateSent)
	s.Require().NoError(err)
	s.Require().Equal(c.ID, updated.ID)
	s.Require().Equal(models.StateSent, updated.State)
	s.Require().Equal(c.Version+1, updated.Version)
}

func (s *ConsignmentRepositoryTestSuite) TestAddAndRemoveItem() {
	c := s.createTestConsignment()

	item := &models.ConsignmentItem{ProductID: "prod-9", Quantity: 2, UnitCost: 1.0}
	s.Require().NoError(s.consignmentRepo.AddItem(s.ctx, c.ID, item))

	loaded, err := s.consignmentRepo.GetByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Len(loaded.Items, 2)

	s.Require().NoError(s.consignmentRepo.RemoveItem(s.ctx, c.ID, item.ID))

	loaded, err = s.consignmentRepo.GetByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Len(loaded.Items, 1)

	s.Require().Error(s.consignmentRepo.RemoveItem(s.ctx, c.ID, 9999))
}
