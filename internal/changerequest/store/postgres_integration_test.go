//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"changeflow/internal/changerequest/models"
	"changeflow/internal/changerequest/store"
	"changeflow/pkg/platform/sentinel"
	txcontext "changeflow/pkg/platform/tx"
	"changeflow/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	contractSuite
	postgres *containers.PostgresContainer
	pg       *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.pg = store.NewPostgres(s.postgres.DB)
	s.newStore = func() backend { return s.pg }
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"cr_approvals", "cr_testing_results", "cr_qa_checklists", "cr_deployment_team",
		"cr_attachments", "cr_history", "outbox", "change_requests")
	s.Require().NoError(err)
	s.contractSuite.SetupTest()
}

// TestAssessmentFieldsRoundTrip covers the nullable and decimal columns.
func (s *PostgresStoreSuite) TestAssessmentFieldsRoundTrip() {
	ctx := context.Background()
	cr := s.newCR(10, 20)

	officer := int64(40)
	cost := decimal.RequireFromString("1250.50")
	planned := s.base.AddDate(0, 0, 7)
	cr.AssignedToITOfficerID = &officer
	cr.CurrentStage = models.StageITOfficer
	cr.CurrentStatus = models.StatusAssignedToITOfficer
	cr.Category = "SERVERS"
	cr.Subcategory = "VISA"
	cr.DowntimeEstimate = 30
	cr.DowntimeUnit = models.DowntimeMinutes
	cr.Cost = &cost
	cr.PlannedAt = &planned
	s.Require().NoError(s.pg.Save(ctx, cr))

	got, err := s.pg.FindByID(ctx, cr.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.AssignedToITOfficerID)
	s.Equal(officer, *got.AssignedToITOfficerID)
	s.Require().NotNil(got.Cost)
	s.True(cost.Equal(*got.Cost), "cost %s", got.Cost)
	s.Require().NotNil(got.PlannedAt)
	s.True(planned.Equal(*got.PlannedAt))
	s.Equal("VISA", got.Subcategory)
}

func (s *PostgresStoreSuite) TestFindForUpdateRequiresTransaction() {
	cr := s.newCR(10, 20)
	_, err := s.pg.FindForUpdate(context.Background(), cr.ID)
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

// TestConcurrentSavesOneWins verifies that the version column rejects all but one writer
// of the same snapshot.
func (s *PostgresStoreSuite) TestConcurrentSavesOneWins() {
	ctx := context.Background()
	cr := s.newCR(10, 20)
	const writers = 10

	var wg sync.WaitGroup
	var ok, conflicts atomic.Int32
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := s.postgres.DB.BeginTx(ctx, nil)
			if err != nil {
				return
			}
			defer func() { _ = tx.Rollback() }()
			txCtx := txcontext.WithTx(ctx, tx)

			locked, err := s.pg.FindForUpdate(txCtx, cr.ID)
			if err != nil {
				return
			}
			if locked.Version != cr.Version {
				conflicts.Add(1)
				return
			}
			locked.CurrentStage = models.StageHeadOfIT
			if err := s.pg.Save(txCtx, locked); err != nil {
				conflicts.Add(1)
				return
			}
			if tx.Commit() == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), ok.Load())
	s.Equal(int32(writers-1), conflicts.Load())

	got, err := s.pg.FindByID(ctx, cr.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), got.Version)
}
