package service

import (
	"context"
	"fmt"

	"changeflow/internal/changerequest/models"
	"changeflow/internal/changerequest/workflow"
	"changeflow/internal/notification"
	dErrors "changeflow/pkg/domain-errors"
	"changeflow/pkg/platform/audit"
	"changeflow/pkg/requestcontext"
)

// Create opens a change request on behalf of actor. Drafting is skipped: the request starts
// at the line manager stage.
func (s *Service) Create(ctx context.Context, actor models.Actor, req *models.CreateRequest) (agg *models.Aggregate, err error) {
	ctx, done := s.begin(ctx, "create", 0)
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	cr := &models.ChangeRequest{
		RequestedBy:           actor.ID,
		LineManagerID:         req.LineManagerID,
		Purpose:               req.Purpose,
		Description:           req.Description,
		Priority:              req.Priority,
		PriorityJustification: req.PriorityJustification,
		CurrentStage:          models.StageLineManager,
		CurrentStatus:         models.StatusPendingLM,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	err = s.tx.RunInTx(ctx, 0, func(txCtx context.Context) error {
		seq, err := s.sequence.Next(txCtx, crSequence)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate change request number")
		}
		cr.CRNumber = models.FormatCRNumber(now.Year(), seq)
		if err := s.store.Create(txCtx, cr); err != nil {
			return err
		}
		draft := models.ChangeRequest{CurrentStage: models.StageDraft}
		return s.record(txCtx, cr, draft, actor, audit.ActionCreated, "")
	})
	if err != nil {
		return nil, translate(err, "change request")
	}

	s.metrics.IncCreated()
	s.logger.InfoContext(ctx, "change request created",
		"cr_number", cr.CRNumber,
		"change_request_id", cr.ID,
		"actor_id", actor.ID,
		"priority", cr.Priority,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.notify(ctx, s.newNotification(ctx, notification.KindCreated, cr, notification.To(cr.LineManagerID)))

	return s.aggregate(ctx, cr.ID)
}

func checkExpectedStage(cr *models.ChangeRequest, expected *models.Stage) error {
	if expected != nil && *expected != cr.CurrentStage {
		return dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("change request is at stage %d, expected stage %d", cr.CurrentStage, *expected))
	}
	return nil
}

// Approve records an approval at the current stage and advances the request.
func (s *Service) Approve(ctx context.Context, id int64, actor models.Actor, req *models.ApproveRequest) (agg *models.Aggregate, err error) {
	ctx, done := s.begin(ctx, "approve", id)
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var role models.Role
	check := func(cr *models.ChangeRequest) error {
		if err := checkExpectedStage(cr, req.ExpectedStage); err != nil {
			return err
		}
		r, err := workflow.AuthorizeStageAction(cr, actor)
		if err != nil {
			return err
		}
		role = r
		return checkApprovalPreconditions(cr, req)
	}

	apply := func(ctx context.Context, cr *models.ChangeRequest) (*notification.Notification, error) {
		before := *cr
		now := requestcontext.Now(ctx)
		next, status, _ := workflow.Transition(before.CurrentStage)

		switch before.CurrentStage {
		case models.StageHeadOfIT:
			officer := *req.AssignedToITOfficerID
			cr.AssignedToITOfficerID = &officer
		case models.StageDeployment:
			cr.DeploymentCompletedAt = &now
		}
		if before.CurrentStage >= models.StageHeadOfIT && cr.AssignedToITOfficerID == nil {
			return nil, dErrors.New(dErrors.CodeValidation,
				"an IT officer must be assigned before the request can leave stage 3")
		}

		cr.CurrentStage = next
		cr.CurrentStatus = status
		if err := s.save(ctx, cr, before, actor, audit.ActionApproved, req.Comments); err != nil {
			return nil, err
		}
		if before.CurrentStage == models.StageQA {
			if _, err := s.store.ValidateQAChecklists(ctx, cr.ID, now); err != nil {
				return nil, err
			}
		}
		if err := s.store.AddApproval(ctx, &models.Approval{
			ChangeRequestID: cr.ID,
			Stage:           before.CurrentStage,
			ActorID:         actor.ID,
			ActorRole:       role,
			Outcome:         models.OutcomeApproved,
			SignaturePath:   req.SignaturePath,
			Comments:        req.Comments,
			RiskAccepted:    req.RiskAccepted,
			CreatedAt:       now,
		}); err != nil {
			return nil, err
		}

		s.metrics.IncTransition(before.CurrentStage, status)
		s.logger.InfoContext(ctx, "change request approved",
			"cr_number", cr.CRNumber,
			"from_stage", before.CurrentStage,
			"to_stage", cr.CurrentStage,
			"actor_id", actor.ID,
			"role", role,
			"request_id", requestcontext.RequestID(ctx),
		)

		kind, to, ok := workflow.StageNotification(before.CurrentStage, cr)
		if !ok {
			return nil, nil
		}
		return s.newNotification(ctx, kind, cr, to), nil
	}

	if err := s.mutate(ctx, id, check, apply); err != nil {
		return nil, err
	}
	return s.aggregate(ctx, id)
}

// checkApprovalPreconditions applies the stage-specific payload rules of a generic approval.
func checkApprovalPreconditions(cr *models.ChangeRequest, req *models.ApproveRequest) error {
	switch cr.CurrentStage {
	case models.StageHeadOfIT:
		if req.AssignedToITOfficerID == nil || *req.AssignedToITOfficerID <= 0 {
			return dErrors.New(dErrors.CodeValidation,
				"assigned_to_it_officer_id is required to approve stage 3")
		}
	case models.StageProductionApproval:
		if !req.RiskAccepted {
			return dErrors.New(dErrors.CodeValidation,
				"risk_accepted must be true to approve production deployment")
		}
	case models.StageClosure:
		return dErrors.New(dErrors.CodeValidation,
			"stage 10 is completed by closing the change request, not by approval")
	}
	if _, _, ok := workflow.Transition(cr.CurrentStage); !ok {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("stage %d cannot be approved", cr.CurrentStage))
	}
	return nil
}

// Reject freezes the request at its current stage with status Rejected.
func (s *Service) Reject(ctx context.Context, id int64, actor models.Actor, req *models.RejectRequest) (agg *models.Aggregate, err error) {
	ctx, done := s.begin(ctx, "reject", id)
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var role models.Role
	check := func(cr *models.ChangeRequest) error {
		if err := checkExpectedStage(cr, req.ExpectedStage); err != nil {
			return err
		}
		r, err := workflow.AuthorizeStageAction(cr, actor)
		role = r
		return err
	}

	apply := func(ctx context.Context, cr *models.ChangeRequest) (*notification.Notification, error) {
		before := *cr
		cr.CurrentStatus = models.StatusRejected
		if err := s.save(ctx, cr, before, actor, audit.ActionRejected, req.Reason); err != nil {
			return nil, err
		}
		if err := s.store.AddApproval(ctx, &models.Approval{
			ChangeRequestID: cr.ID,
			Stage:           cr.CurrentStage,
			ActorID:         actor.ID,
			ActorRole:       role,
			Outcome:         models.OutcomeRejected,
			SignaturePath:   req.SignaturePath,
			Comments:        req.Reason,
			CreatedAt:       cr.UpdatedAt,
		}); err != nil {
			return nil, err
		}

		s.metrics.IncTransition(before.CurrentStage, models.StatusRejected)
		s.logger.InfoContext(ctx, "change request rejected",
			"cr_number", cr.CRNumber,
			"stage", cr.CurrentStage,
			"actor_id", actor.ID,
			"role", role,
			"request_id", requestcontext.RequestID(ctx),
		)
		return s.newNotification(ctx, notification.KindRejected, cr, workflow.Stakeholders(cr)), nil
	}

	if err := s.mutate(ctx, id, check, apply); err != nil {
		return nil, err
	}
	return s.aggregate(ctx, id)
}

// Close completes a request at stage 10 after the post-deployment checks.
func (s *Service) Close(ctx context.Context, id int64, actor models.Actor, req *models.CloseRequest) (agg *models.Aggregate, err error) {
	ctx, done := s.begin(ctx, "close", id)
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	check := func(cr *models.ChangeRequest) error {
		if err := workflow.EnsureActive(cr); err != nil {
			return err
		}
		if !actor.Has(models.RoleNOC) {
			return dErrors.New(dErrors.CodePermissionDenied, "closing requires role noc")
		}
		return workflow.ValidateClosure(cr, req, requestcontext.Now(ctx), s.closureWindow)
	}

	apply := func(ctx context.Context, cr *models.ChangeRequest) (*notification.Notification, error) {
		before := *cr
		now := requestcontext.Now(ctx)
		req.Apply(cr)
		cr.CurrentStatus = models.StatusCompleted
		cr.CompletedAt = &now
		if err := s.save(ctx, cr, before, actor, audit.ActionClosed, req.NOCClosureNotes); err != nil {
			return nil, err
		}
		if err := s.store.AddApproval(ctx, &models.Approval{
			ChangeRequestID: cr.ID,
			Stage:           models.StageClosure,
			ActorID:         actor.ID,
			ActorRole:       models.RoleNOC,
			Outcome:         models.OutcomeApproved,
			SignaturePath:   req.NOCSignaturePath,
			Comments:        req.NOCClosureNotes,
			CreatedAt:       now,
		}); err != nil {
			return nil, err
		}

		s.metrics.IncTransition(before.CurrentStage, models.StatusCompleted)
		s.logger.InfoContext(ctx, "change request closed",
			"cr_number", cr.CRNumber,
			"incident", cr.IncidentTriggered,
			"rollback", cr.RollbackTriggered,
			"actor_id", actor.ID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return s.newNotification(ctx, notification.KindClosed, cr, workflow.Stakeholders(cr)), nil
	}

	if err := s.mutate(ctx, id, check, apply); err != nil {
		return nil, err
	}
	return s.aggregate(ctx, id)
}
