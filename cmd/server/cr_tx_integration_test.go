//go:build integration

package main

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"changeflow/internal/blob"
	"changeflow/internal/changerequest/models"
	crservice "changeflow/internal/changerequest/service"
	crstore "changeflow/internal/changerequest/store"
	"changeflow/internal/notification"
	"changeflow/internal/sequence"
	dErrors "changeflow/pkg/domain-errors"
	"changeflow/pkg/platform/audit"
	auditpostgres "changeflow/pkg/platform/audit/store/postgres"
	"changeflow/pkg/requestcontext"
	"changeflow/pkg/testutil/containers"
)

type PostgresTxSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	svc      *crservice.Service
	async    *notification.Async
	ctx      context.Context
}

func TestPostgresTxSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresTxSuite))
}

func (s *PostgresTxSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
}

func (s *PostgresTxSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"cr_approvals", "cr_testing_results", "cr_qa_checklists", "cr_deployment_team",
		"cr_attachments", "cr_history", "outbox", "cr_sequences", "change_requests")
	s.Require().NoError(err)

	blobs, err := blob.NewFSStore(s.T().TempDir())
	s.Require().NoError(err)

	db := s.postgres.DB
	s.async = notification.NewAsync(notification.NewLogDispatcher(nil))
	s.svc = crservice.New(
		crstore.NewPostgres(db),
		audit.NewRecorder(auditpostgres.New(db)),
		sequence.NewPostgresAllocator(db),
		blobs,
		s.async,
		crservice.WithTx(newPostgresTx(db, 5*time.Second)),
	)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), now), "req-tx")
}

func (s *PostgresTxSuite) TearDownTest() {
	s.async.Wait()
}

func (s *PostgresTxSuite) create() *models.Aggregate {
	agg, err := s.svc.Create(s.ctx, models.Actor{ID: 10, Roles: []models.Role{models.RoleRequestor}}, &models.CreateRequest{
		Purpose:       "Rotate database credentials",
		Priority:      models.PriorityMedium,
		LineManagerID: 20,
	})
	s.Require().NoError(err)
	return agg
}

func (s *PostgresTxSuite) TestCreateWritesHistoryAndOutbox() {
	agg := s.create()
	s.Equal("CR-2026-0001", agg.ChangeRequest.CRNumber)

	var outbox int
	s.Require().NoError(s.postgres.DB.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1`,
		strconv.FormatInt(agg.ChangeRequest.ID, 10)).Scan(&outbox))
	s.Equal(1, outbox)

	history, err := s.svc.History(s.ctx, agg.ChangeRequest.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(audit.ActionCreated, history[0].Action)
}

// TestConcurrentApprovalsAdvanceOnce fires the same line manager approval from several
// goroutines; the row lock lets exactly one through.
func (s *PostgresTxSuite) TestConcurrentApprovalsAdvanceOnce() {
	agg := s.create()
	id := agg.ChangeRequest.ID
	lm := models.Actor{ID: 20, Roles: []models.Role{models.RoleLineManager, models.RoleRequestor}}

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		failures []error
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Approve(s.ctx, id, lm, &models.ApproveRequest{Comments: "ok"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			ok++
		}()
	}
	wg.Wait()

	s.Equal(1, ok)
	for _, err := range failures {
		code := dErrors.CodeOf(err)
		s.True(code == dErrors.CodeConflict || code == dErrors.CodePermissionDenied, "unexpected error %v", err)
	}

	approvals, err := s.svc.Approvals(s.ctx, id)
	s.Require().NoError(err)
	s.Len(approvals, 1)

	current, err := s.svc.FindOne(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StageHeadOfIT, current.ChangeRequest.CurrentStage)
}

func (s *PostgresTxSuite) TestCancelledContextIsTimeout() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newPostgresTx(s.postgres.DB, time.Second).RunInTx(ctx, 1, func(context.Context) error {
		s.Fail("fn must not run")
		return nil
	})
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout), "got %v", err)
}
