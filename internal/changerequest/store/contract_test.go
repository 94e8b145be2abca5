package store_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stretchr/testify/suite"

	"changeflow/internal/changerequest/models"
	"changeflow/internal/changerequest/store"
	"changeflow/pkg/platform/sentinel"
)

// backend is the method set both store implementations share.
type backend interface {
	Create(ctx context.Context, cr *models.ChangeRequest) error
	FindByID(ctx context.Context, id int64) (*models.ChangeRequest, error)
	Save(ctx context.Context, cr *models.ChangeRequest) error
	Search(ctx context.Context, filter models.SearchFilter) (*store.Page, error)
	Queue(ctx context.Context, q store.QueueQuery) ([]*models.ChangeRequest, error)
	Statistics(ctx context.Context) (*models.Statistics, error)
	AddApproval(ctx context.Context, a *models.Approval) error
	ListApprovals(ctx context.Context, crID int64) ([]models.Approval, error)
	AddQAChecklists(ctx context.Context, items []models.QAChecklist) error
	ValidateQAChecklists(ctx context.Context, crID int64, at time.Time) (int, error)
	ListQAChecklists(ctx context.Context, crID int64) ([]models.QAChecklist, error)
	AddDeploymentTeamMember(ctx context.Context, m *models.DeploymentTeamMember) error
	ListDeploymentTeam(ctx context.Context, crID int64) ([]models.DeploymentTeamMember, error)
}

// contractSuite runs the same behaviour checks against every backend. Embedders set
// newStore and may reset shared state in their own SetupTest before calling it.
type contractSuite struct {
	suite.Suite
	newStore func() backend
	store    backend
	base     time.Time
	seq      int
}

func (s *contractSuite) SetupTest() {
	s.store = s.newStore()
	s.base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.seq = 0
}

func (s *contractSuite) newCR(requestedBy, lineManager int64) *models.ChangeRequest {
	s.seq++
	at := s.base.Add(time.Duration(s.seq) * time.Minute)
	cr := &models.ChangeRequest{
		CRNumber:      models.FormatCRNumber(2026, int64(s.seq)),
		RequestedBy:   requestedBy,
		LineManagerID: lineManager,
		Purpose:       fmt.Sprintf("change %d", s.seq),
		Description:   "routine maintenance",
		Priority:      models.PriorityLow,
		CurrentStage:  models.StageLineManager,
		CurrentStatus: models.StatusPendingLM,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	s.Require().NoError(s.store.Create(context.Background(), cr))
	return cr
}

func (s *contractSuite) TestCreateAssignsIDAndVersion() {
	cr := s.newCR(10, 20)
	s.Positive(cr.ID)
	s.Equal(int64(1), cr.Version)

	got, err := s.store.FindByID(context.Background(), cr.ID)
	s.Require().NoError(err)
	s.Equal(cr.CRNumber, got.CRNumber)
	s.Equal(models.StageLineManager, got.CurrentStage)
}

func (s *contractSuite) TestDuplicateCRNumberConflicts() {
	cr := s.newCR(10, 20)
	dup := *cr
	dup.ID = 0
	err := s.store.Create(context.Background(), &dup)
	s.True(errors.Is(err, sentinel.ErrConflict), "got %v", err)
}

func (s *contractSuite) TestFindByIDMissing() {
	_, err := s.store.FindByID(context.Background(), 424242)
	s.True(errors.Is(err, sentinel.ErrNotFound), "got %v", err)
}

func (s *contractSuite) TestSaveChecksVersion() {
	ctx := context.Background()
	cr := s.newCR(10, 20)

	first, err := s.store.FindByID(ctx, cr.ID)
	s.Require().NoError(err)
	second, err := s.store.FindByID(ctx, cr.ID)
	s.Require().NoError(err)

	first.CurrentStage = models.StageHeadOfIT
	first.CurrentStatus = models.StatusPendingHoIT
	s.Require().NoError(s.store.Save(ctx, first))
	s.Equal(int64(2), first.Version)

	second.Purpose = "lost update"
	err = s.store.Save(ctx, second)
	s.True(errors.Is(err, sentinel.ErrConflict), "got %v", err)

	got, err := s.store.FindByID(ctx, cr.ID)
	s.Require().NoError(err)
	s.Equal(models.StageHeadOfIT, got.CurrentStage)
	s.Equal(cr.Purpose, got.Purpose)
}

func (s *contractSuite) TestSearchFiltersAndPages() {
	ctx := context.Background()
	for range 3 {
		s.newCR(10, 20)
	}
	other := s.newCR(11, 20)
	other.Priority = models.PriorityHigh
	other.PriorityJustification = "outage risk"
	s.Require().NoError(s.store.Save(ctx, other))

	page, err := s.store.Search(ctx, models.SearchFilter{RequestedBy: 10, Limit: 2})
	s.Require().NoError(err)
	s.Equal(3, page.Total)
	s.Require().Len(page.Items, 2)
	s.True(page.Items[0].CreatedAt.After(page.Items[1].CreatedAt), "newest first")

	page, err = s.store.Search(ctx, models.SearchFilter{Priority: models.PriorityHigh, Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(page.Items, 1)
	s.Equal(other.ID, page.Items[0].ID)

	page, err = s.store.Search(ctx, models.SearchFilter{RequestedBy: 10, Limit: 10, Offset: 5})
	s.Require().NoError(err)
	s.Equal(3, page.Total)
	s.Empty(page.Items)
}

func (s *contractSuite) TestQueueSkipsTerminalAndFiltersOwner() {
	ctx := context.Background()
	mine := s.newCR(10, 20)
	s.newCR(10, 21)
	rejected := s.newCR(10, 20)
	rejected.CurrentStatus = models.StatusRejected
	s.Require().NoError(s.store.Save(ctx, rejected))

	items, err := s.store.Queue(ctx, store.QueueQuery{
		Stages:        []models.Stage{models.StageLineManager},
		LineManagerID: 20,
	})
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(mine.ID, items[0].ID)

	items, err = s.store.Queue(ctx, store.QueueQuery{Stages: []models.Stage{models.StageLineManager}})
	s.Require().NoError(err)
	s.Len(items, 2)
}

func (s *contractSuite) TestStatistics() {
	ctx := context.Background()
	s.newCR(10, 20)
	done := s.newCR(10, 20)
	done.CurrentStage = models.StageClosure
	done.CurrentStatus = models.StatusCompleted
	s.Require().NoError(s.store.Save(ctx, done))

	stats, err := s.store.Statistics(ctx)
	s.Require().NoError(err)
	s.Equal(2, stats.Total)
	s.Equal(1, stats.ByStatus[models.StatusCompleted])
	s.Equal(1, stats.ByStage[models.StageLineManager])
}

func (s *contractSuite) TestApprovalsAppendInOrder() {
	ctx := context.Background()
	cr := s.newCR(10, 20)
	for _, stage := range []models.Stage{models.StageLineManager, models.StageHeadOfIT} {
		s.Require().NoError(s.store.AddApproval(ctx, &models.Approval{
			ChangeRequestID: cr.ID,
			Stage:           stage,
			ActorID:         20,
			ActorRole:       models.RoleLineManager,
			Outcome:         models.OutcomeApproved,
			CreatedAt:       s.base,
		}))
	}
	got, err := s.store.ListApprovals(ctx, cr.ID)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(models.StageLineManager, got[0].Stage)
	s.Equal(models.StageHeadOfIT, got[1].Stage)
}

func (s *contractSuite) TestQAChecklistValidation() {
	ctx := context.Background()
	cr := s.newCR(10, 20)
	s.Require().NoError(s.store.AddQAChecklists(ctx, []models.QAChecklist{
		{ChangeRequestID: cr.ID, Item: "smoke tests", Checked: true, CreatedBy: 50, CreatedAt: s.base},
		{ChangeRequestID: cr.ID, Item: "rollback plan", Checked: true, CreatedBy: 50, CreatedAt: s.base},
	}))

	n, err := s.store.ValidateQAChecklists(ctx, cr.ID, s.base.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = s.store.ValidateQAChecklists(ctx, cr.ID, s.base.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Zero(n)

	items, err := s.store.ListQAChecklists(ctx, cr.ID)
	s.Require().NoError(err)
	for _, item := range items {
		s.True(item.Validated)
		s.Require().NotNil(item.ValidationDate)
		s.True(item.ValidationDate.Equal(s.base.Add(time.Hour)))
	}
}

func (s *contractSuite) TestDeploymentTeamRejectsDuplicates() {
	ctx := context.Background()
	cr := s.newCR(10, 20)
	member := func() *models.DeploymentTeamMember {
		return &models.DeploymentTeamMember{
			ChangeRequestID:  cr.ID,
			UserID:           77,
			RoleInDeployment: "DBA",
			AddedBy:          40,
			CreatedAt:        s.base,
		}
	}
	s.Require().NoError(s.store.AddDeploymentTeamMember(ctx, member()))
	err := s.store.AddDeploymentTeamMember(ctx, member())
	s.True(errors.Is(err, sentinel.ErrConflict), "got %v", err)

	team, err := s.store.ListDeploymentTeam(ctx, cr.ID)
	s.Require().NoError(err)
	s.Len(team, 1)
}
