package service

import (
	"context"
	"fmt"

	"changeflow/internal/changerequest/models"
	"changeflow/internal/changerequest/store"
	dErrors "changeflow/pkg/domain-errors"
	"changeflow/pkg/platform/audit"
)

// FindAll lists every change request, newest first.
func (s *Service) FindAll(ctx context.Context, limit, offset int) (*store.Page, error) {
	return s.Search(ctx, models.SearchFilter{Limit: limit, Offset: offset})
}

// FindOne returns the aggregate with all child collections.
func (s *Service) FindOne(ctx context.Context, id int64) (agg *models.Aggregate, err error) {
	ctx, done := s.begin(ctx, "find_one", id)
	defer done(&err)
	return s.aggregate(ctx, id)
}

// FindByUser lists the requests raised by userID.
func (s *Service) FindByUser(ctx context.Context, userID int64, limit, offset int) (*store.Page, error) {
	if userID <= 0 {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authenticated actor is required")
	}
	return s.Search(ctx, models.SearchFilter{RequestedBy: userID, Limit: limit, Offset: offset})
}

// FindByRole returns the active requests waiting on role. Without viewAll, queues tied to a
// person (line manager, assigned IT officer, requester) only show the actor's own items.
func (s *Service) FindByRole(ctx context.Context, actor models.Actor, role models.Role, viewAll bool) (items []*models.ChangeRequest, err error) {
	ctx, done := s.begin(ctx, "find_by_role", 0)
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown role %q", role))
	}
	if !actor.Has(role) {
		return nil, dErrors.New(dErrors.CodePermissionDenied,
			fmt.Sprintf("actor does not hold role %s", role))
	}

	items, err = s.store.Queue(ctx, queueFor(actor, role, viewAll))
	if err != nil {
		return nil, translate(err, "queue")
	}
	return items, nil
}

func queueFor(actor models.Actor, role models.Role, viewAll bool) store.QueueQuery {
	own := func() int64 {
		if viewAll {
			return 0
		}
		return actor.ID
	}
	switch role {
	case models.RoleLineManager:
		return store.QueueQuery{Stages: []models.Stage{models.StageLineManager}, LineManagerID: own()}
	case models.RoleHeadOfIT:
		return store.QueueQuery{Stages: []models.Stage{models.StageHeadOfIT, models.StageProductionApproval}}
	case models.RoleITOfficer:
		return store.QueueQuery{
			Stages:              []models.Stage{models.StageITOfficer, models.StageDeployment},
			AssignedITOfficerID: own(),
		}
	case models.RoleQAOfficer:
		return store.QueueQuery{Stages: []models.Stage{models.StageQA}}
	case models.RoleHeadOfInfosec:
		return store.QueueQuery{Stages: []models.Stage{models.StageFinalApproval}}
	case models.RoleNOC:
		return store.QueueQuery{Stages: []models.Stage{models.StageClosure}}
	default:
		return store.QueueQuery{Stages: []models.Stage{models.StageRequestorTest}, RequestedBy: actor.ID}
	}
}

// Search filters and pages change requests.
func (s *Service) Search(ctx context.Context, filter models.SearchFilter) (page *store.Page, err error) {
	ctx, done := s.begin(ctx, "search", 0)
	defer done(&err)

	filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	page, err = s.store.Search(ctx, filter)
	if err != nil {
		return nil, translate(err, "change requests")
	}
	return page, nil
}

// History returns the audit trail of one request in append order.
func (s *Service) History(ctx context.Context, id int64) ([]audit.Entry, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.history.List(ctx, id)
	if err != nil {
		return nil, translate(err, "history")
	}
	return entries, nil
}

// Approvals returns the approve and reject decisions of one request.
func (s *Service) Approvals(ctx context.Context, id int64) ([]models.Approval, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	approvals, err := s.store.ListApprovals(ctx, id)
	if err != nil {
		return nil, translate(err, "approvals")
	}
	return approvals, nil
}

// Statistics returns simple counts over all requests.
func (s *Service) Statistics(ctx context.Context) (*models.Statistics, error) {
	stats, err := s.store.Statistics(ctx)
	if err != nil {
		return nil, translate(err, "statistics")
	}
	return stats, nil
}
