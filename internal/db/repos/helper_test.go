package repos

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/retailops/stocksync/internal/backoff"
	"github.com/retailops/stocksync/internal/db/models"
)

// DBRepositoryTestSuite provides a base test suite for repository tests
type DBRepositoryTestSuite struct {
	suite.Suite
	db              *gorm.DB
	ctx             context.Context
	jobRepo         *JobRepository
	consignmentRepo *ConsignmentRepository
	shadowRepo      *ShadowRepository
	cursorRepo      *CursorRepository
	webhookRepo     *WebhookEventRepository
}

func (s *DBRepositoryTestSuite) SetupTest() {
	// Fresh shared-cache in-memory database per test; the unique name keeps
	// pooled connections on the same database without leaking across tests.
	dsn := fmt.Sprintf("file:repos_%d?mode=memory&cache=shared&_json=1", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")

	// Single connection: sqlite's shared-cache mode returns lock errors
	// under concurrent writers; serializing at the pool keeps the claim
	// contention tests exercising the status CAS rather than the driver.
	sqlDB, err := db.DB()
	require.NoError(s.T(), err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.Job{},
		&models.DLQEntry{},
		&models.WorkerHeartbeat{},
		&models.VendConsignment{},
		&models.Consignment{},
		&models.ConsignmentItem{},
		&models.SyncCursor{},
		&models.WebhookEvent{},
	)
	require.NoError(s.T(), err, "Failed to run database migrations")

	s.db = db
	// Small deterministic backoff so retry tests don't wait on wall time
	s.jobRepo = NewJobRepository(db, backoff.NewWithSeed(time.Millisecond, 10*time.Millisecond, 1))
	s.consignmentRepo = NewConsignmentRepository(db)
	s.shadowRepo = NewShadowRepository(db)
	s.cursorRepo = NewCursorRepository(db)
	s.webhookRepo = NewWebhookEventRepository(db)
	s.ctx = context.Background()
}

func (s *DBRepositoryTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// Helper methods for creating test data

func (s *DBRepositoryTestSuite) enqueueTestJob(jobType models.JobType) *models.Job {
	job, err := s.jobRepo.Enqueue(s.ctx, jobType, []byte(`{}`), 3, time.Time{})
	s.Require().NoError(err)
	return job
}

func (s *DBRepositoryTestSuite) createTestConsignment() *models.Consignment {
	c := &models.Consignment{
		Reference:      fmt.Sprintf("TR-%d", time.Now().UnixNano()),
		SourceOutletID: "outlet-a",
		DestOutletID:   "outlet-b",
		Items: []models.ConsignmentItem{
			{ProductID: "prod-1", Quantity: 5, UnitCost: 2.5},
		},
	}
	s.Require().NoError(s.consignmentRepo.Create(s.ctx, c))
	return c
}

func (s *DBRepositoryTestSuite) createShadowRow(vendID string, version int64, status string) *models.VendConsignment {
	row := &models.VendConsignment{
		VendID:         vendID,
		Reference:      "TR-" + vendID,
		SourceOutletID: "outlet-a",
		DestOutletID:   "outlet-b",
		Status:         status,
		VendVersion:    version,
	}
	outcome, err := s.shadowRepo.Upsert(s.ctx, row)
	s.Require().NoError(err)
	s.Require().Equal(UpsertCreated, outcome)
	return row
}

func TestJobRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(JobRepositoryTestSuite))
}

func TestConsignmentRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(ConsignmentRepositoryTestSuite))
}

func TestSyncRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(SyncRepositoryTestSuite))
}
