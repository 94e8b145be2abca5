package workflow

import (
	"changeflow/internal/changerequest/models"
	"changeflow/internal/notification"
)

// StageNotification returns the notice sent after an approval at stageBefore.
// cr must already carry the post-approval state (assigned officer included).
func StageNotification(stageBefore models.Stage, cr *models.ChangeRequest) (notification.Kind, notification.Recipients, bool) {
	switch stageBefore {
	case models.StageLineManager:
		return notification.KindLMApproved, notification.ByRole{Role: models.RoleHeadOfIT}, true
	case models.StageHeadOfIT:
		return notification.KindAssigned, notification.To(cr.AssignedITOfficer()), true
	case models.StageITOfficer:
		return notification.KindReadyForTesting, notification.To(cr.RequestedBy), true
	case models.StageRequestorTest:
		return notification.KindTestConfirmed, notification.ByRole{Role: models.RoleQAOfficer}, true
	case models.StageQA:
		return notification.KindQAValidated, notification.ByRole{Role: models.RoleHeadOfIT}, true
	case models.StageProductionApproval:
		return notification.KindProductionApproved, notification.ByRole{Role: models.RoleHeadOfInfosec}, true
	case models.StageFinalApproval:
		return notification.KindFinalApproved, notification.To(cr.AssignedITOfficer()), true
	case models.StageDeployment:
		return notification.KindDeployed, notification.ByRole{Role: models.RoleNOC}, true
	}
	return "", nil, false
}

// Stakeholders addresses the requester, the line manager and the IT officer if assigned.
func Stakeholders(cr *models.ChangeRequest) notification.Explicit {
	return notification.To(cr.RequestedBy, cr.LineManagerID, cr.AssignedITOfficer())
}
