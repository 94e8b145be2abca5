package workflow

import (
	"changeflow/internal/changerequest/models"
	dErrors "changeflow/pkg/domain-errors"
)

// CheckEditPermission enforces the baton pass: edit and delete authority moves from the
// requester, to the line manager, to the head of IT as the request advances, and nobody
// holds it once closure starts or the request is terminal.
func CheckEditPermission(cr *models.ChangeRequest, actor models.Actor) error {
	if cr.CurrentStatus.IsTerminal() || cr.CurrentStage >= models.StageClosure {
		return dErrors.New(dErrors.CodePermissionDenied, "change request can no longer be edited or deleted")
	}

	switch {
	case cr.CurrentStage <= models.StageLineManager:
		if actor.ID == cr.RequestedBy {
			return nil
		}
		return dErrors.New(dErrors.CodePermissionDenied, "only the requester can edit at this stage")
	case cr.CurrentStage == models.StageHeadOfIT:
		if actor.Has(models.RoleLineManager) || actor.ID == cr.LineManagerID {
			return nil
		}
		return dErrors.New(dErrors.CodePermissionDenied, "only the line manager can edit at this stage")
	default:
		if actor.Has(models.RoleHeadOfIT) {
			return nil
		}
		return dErrors.New(dErrors.CodePermissionDenied, "only the head of IT can edit at this stage")
	}
}

// CanEditOrDelete is the boolean form of CheckEditPermission for permission probes.
func CanEditOrDelete(cr *models.ChangeRequest, actor models.Actor) bool {
	return CheckEditPermission(cr, actor) == nil
}
