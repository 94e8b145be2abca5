package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"changeflow/internal/changerequest/models"
	"changeflow/internal/changerequest/workflow"
	"changeflow/internal/notification"
	dErrors "changeflow/pkg/domain-errors"
	"changeflow/pkg/platform/audit"
	"changeflow/pkg/platform/sentinel"
	"changeflow/pkg/requestcontext"
)

// Update edits the whitelisted descriptive fields. Workflow fields are never touched here.
func (s *Service) Update(ctx context.Context, id int64, actor models.Actor, req *models.UpdateRequest) (agg *models.Aggregate, err error) {
	ctx, done := s.begin(ctx, "update", id)
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	check := func(cr *models.ChangeRequest) error {
		if cr.CurrentStatus == models.StatusCompleted || cr.CurrentStatus == models.StatusRejected {
			return dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("cannot update a %s change request", strings.ToLower(string(cr.CurrentStatus))))
		}
		return workflow.CheckEditPermission(cr, actor)
	}

	apply := func(ctx context.Context, cr *models.ChangeRequest) (*notification.Notification, error) {
		before := *cr
		if err := req.Apply(cr); err != nil {
			return nil, err
		}
		note := changedFields(&before, cr)
		if err := s.save(ctx, cr, before, actor, audit.ActionUpdated, note); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "change request updated",
			"cr_number", cr.CRNumber,
			"fields", note,
			"actor_id", actor.ID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, nil
	}

	if err := s.mutate(ctx, id, check, apply); err != nil {
		return nil, err
	}
	return s.aggregate(ctx, id)
}

func changedFields(before, after *models.ChangeRequest) string {
	var fields []string
	if before.Purpose != after.Purpose {
		fields = append(fields, "purpose")
	}
	if before.Description != after.Description {
		fields = append(fields, "description")
	}
	if before.Priority != after.Priority {
		fields = append(fields, "priority")
	}
	if before.PriorityJustification != after.PriorityJustification {
		fields = append(fields, "priority_justification")
	}
	if before.LineManagerID != after.LineManagerID {
		fields = append(fields, "line_manager_id")
	}
	if len(fields) == 0 {
		return "no changes"
	}
	return "updated " + strings.Join(fields, ", ")
}

// Remove soft-deletes the request. The row and its history stay.
func (s *Service) Remove(ctx context.Context, id int64, actor models.Actor) (err error) {
	ctx, done := s.begin(ctx, "remove", id)
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return err
	}

	check := func(cr *models.ChangeRequest) error {
		if cr.CurrentStatus == models.StatusCompleted {
			return dErrors.New(dErrors.CodeValidation, "cannot delete a completed change request")
		}
		return workflow.CheckEditPermission(cr, actor)
	}

	apply := func(ctx context.Context, cr *models.ChangeRequest) (*notification.Notification, error) {
		before := *cr
		cr.CurrentStatus = models.StatusDeleted
		if err := s.save(ctx, cr, before, actor, audit.ActionDeleted, ""); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "change request deleted",
			"cr_number", cr.CRNumber,
			"stage", cr.CurrentStage,
			"actor_id", actor.ID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, nil
	}

	return s.mutate(ctx, id, check, apply)
}

// CanEditOrDelete reports whether actor currently holds the edit baton.
func (s *Service) CanEditOrDelete(ctx context.Context, id int64, actor models.Actor) (bool, error) {
	cr, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	return workflow.CanEditOrDelete(cr, actor), nil
}

// UpdateITOfficerFields stores the stage 4 assessment. It does not advance the stage.
func (s *Service) UpdateITOfficerFields(ctx context.Context, id int64, actor models.Actor, req *models.ITOfficerFieldsRequest) (agg *models.Aggregate, err error) {
	ctx, done := s.begin(ctx, "update_it_officer_fields", id)
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
		if cr.CurrentStage != models.StageITOfficer {
			return dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("IT officer fields can only be updated at stage %d, currently at stage %d",
					models.StageITOfficer, cr.CurrentStage))
		}
		if !cr.IsAssignedTo(actor.ID) {
			return dErrors.New(dErrors.CodePermissionDenied,
				"only the assigned IT officer can update these fields")
		}
		return workflow.ValidateCategory(req.Category, req.Subcategory)
	}

	apply := func(ctx context.Context, cr *models.ChangeRequest) (*notification.Notification, error) {
		before := *cr
		req.Apply(cr)
		note := fmt.Sprintf("%s / %s", cr.Category, cr.Subcategory)
		if err := s.save(ctx, cr, before, actor, audit.ActionITOFieldsUpdated, note); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := s.mutate(ctx, id, check, apply); err != nil {
		return nil, err
	}
	return s.aggregate(ctx, id)
}

// AddTestingResults appends test outcomes. Any stage is accepted.
func (s *Service) AddTestingResults(ctx context.Context, id int64, actor models.Actor, req *models.TestingResultsRequest) (agg *models.Aggregate, err error) {
	ctx, done := s.begin(ctx, "add_testing_results", id)
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	apply := func(ctx context.Context, cr *models.ChangeRequest) (*notification.Notification, error) {
		now := requestcontext.Now(ctx)
		results := make([]models.TestingResult, 0, len(req.Results))
		for _, in := range req.Results {
			results = append(results, models.TestingResult{
				ChangeRequestID: cr.ID,
				TestType:        in.TestType,
				Result:          in.Result,
				Notes:           in.Notes,
				TestedBy:        actor.ID,
				TestedAt:        now,
			})
		}
		if err := s.store.AddTestingResults(ctx, results); err != nil {
			return nil, err
		}
		note := fmt.Sprintf("%d testing result(s) added", len(results))
		return nil, s.record(ctx, cr, *cr, actor, audit.ActionTestingResultsAdded, note)
	}

	if err := s.mutate(ctx, id, workflow.EnsureActive, apply); err != nil {
		return nil, err
	}
	return s.aggregate(ctx, id)
}

// AddQAChecklist appends checklist items while the request is at the QA stage.
func (s *Service) AddQAChecklist(ctx context.Context, id int64, actor models.Actor, req *models.QAChecklistRequest) (agg *models.Aggregate, err error) {
	ctx, done := s.begin(ctx, "add_qa_checklist", id)
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
		if cr.CurrentStage != models.StageQA {
			return dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("QA checklist can only be added at stage %d, currently at stage %d",
					models.StageQA, cr.CurrentStage))
		}
		return nil
	}

	apply := func(ctx context.Context, cr *models.ChangeRequest) (*notification.Notification, error) {
		now := requestcontext.Now(ctx)
		items := make([]models.QAChecklist, 0, len(req.Items))
		for _, in := range req.Items {
			items = append(items, models.QAChecklist{
				ChangeRequestID: cr.ID,
				Item:            in.Item,
				Checked:         in.Checked,
				Notes:           in.Notes,
				CreatedBy:       actor.ID,
				CreatedAt:       now,
			})
		}
		if err := s.store.AddQAChecklists(ctx, items); err != nil {
			return nil, err
		}
		note := fmt.Sprintf("%d checklist item(s) added", len(items))
		return nil, s.record(ctx, cr, *cr, actor, audit.ActionQAChecklistAdded, note)
	}

	if err := s.mutate(ctx, id, check, apply); err != nil {
		return nil, err
	}
	return s.aggregate(ctx, id)
}

// AddDeploymentTeamMember appends a member. No history entry is written.
func (s *Service) AddDeploymentTeamMember(ctx context.Context, id int64, actor models.Actor, req *models.DeploymentTeamMemberRequest) (agg *models.Aggregate, err error) {
	ctx, done := s.begin(ctx, "add_deployment_team_member", id)
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	apply := func(ctx context.Context, cr *models.ChangeRequest) (*notification.Notification, error) {
		err := s.store.AddDeploymentTeamMember(ctx, &models.DeploymentTeamMember{
			ChangeRequestID:  cr.ID,
			UserID:           req.UserID,
			RoleInDeployment: req.RoleInDeployment,
			AddedBy:          actor.ID,
			CreatedAt:        requestcontext.Now(ctx),
		})
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("user %d is already on the deployment team", req.UserID))
		}
		return nil, err
	}

	if err := s.mutate(ctx, id, workflow.EnsureActive, apply); err != nil {
		return nil, err
	}
	return s.aggregate(ctx, id)
}

// AddAttachment validates and stores an upload, then links it to the request.
func (s *Service) AddAttachment(ctx context.Context, id int64, actor models.Actor, upload *models.AttachmentUpload) (att *models.Attachment, err error) {
	ctx, done := s.begin(ctx, "add_attachment", id)
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	upload.Normalize()
	if err := upload.Validate(); err != nil {
		return nil, err
	}
	cr, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	size := int64(len(upload.Data))
	if err := s.blobs.Validate(upload.MimeType, size, upload.FileKind); err != nil {
		return nil, err
	}
	path, err := s.blobs.Save(ctx, upload.Data, upload.FileKind)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store attachment")
	}

	att = &models.Attachment{
		ChangeRequestID: cr.ID,
		FileKind:        upload.FileKind,
		OriginalName:    upload.OriginalName,
		MimeType:        upload.MimeType,
		Size:            size,
		BlobPath:        path,
		UploadedBy:      actor.ID,
		CreatedAt:       requestcontext.Now(ctx),
	}
	if err := s.store.AddAttachment(ctx, att); err != nil {
		return nil, translate(err, "attachment")
	}
	s.logger.InfoContext(ctx, "attachment stored",
		"cr_number", cr.CRNumber,
		"file_kind", att.FileKind,
		"mime_type", att.MimeType,
		"size", att.Size,
		"actor_id", actor.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return att, nil
}
