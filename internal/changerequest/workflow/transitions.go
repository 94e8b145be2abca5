// Package workflow holds the pure rules of the change request pipeline: which role acts at
// each stage, where an approval leads, who holds the edit baton, and the stage 4 and
// stage 10 business checks. Nothing here touches storage.
package workflow

import (
	"fmt"

	"changeflow/internal/changerequest/models"
	dErrors "changeflow/pkg/domain-errors"
)

type step struct {
	next   models.Stage
	status models.Status
}

var transitions = map[models.Stage]step{
	models.StageLineManager:        {models.StageHeadOfIT, models.StatusPendingHoIT},
	models.StageHeadOfIT:           {models.StageITOfficer, models.StatusAssignedToITOfficer},
	models.StageITOfficer:          {models.StageRequestorTest, models.StatusRequestorTest},
	models.StageRequestorTest:      {models.StageQA, models.StatusPendingQA},
	models.StageQA:                 {models.StageProductionApproval, models.StatusPendingProduction},
	models.StageProductionApproval: {models.StageFinalApproval, models.StatusPendingFinal},
	models.StageFinalApproval:      {models.StageDeployment, models.StatusReadyToDeploy},
	models.StageDeployment:         {models.StageClosure, models.StatusWaitingForClosure},
}

// Transition returns where an approval at stage leads. Stage 10 has no generic
// transition; it completes through closure.
func Transition(stage models.Stage) (models.Stage, models.Status, bool) {
	s, ok := transitions[stage]
	return s.next, s.status, ok
}

// stageRoles lists who acts at each stage. Stage 5 is matched on identity, not role.
var stageRoles = map[models.Stage]models.Role{
	models.StageLineManager:        models.RoleLineManager,
	models.StageHeadOfIT:           models.RoleHeadOfIT,
	models.StageITOfficer:          models.RoleITOfficer,
	models.StageRequestorTest:      models.RoleRequestor,
	models.StageQA:                 models.RoleQAOfficer,
	models.StageProductionApproval: models.RoleHeadOfIT,
	models.StageFinalApproval:      models.RoleHeadOfInfosec,
	models.StageDeployment:         models.RoleITOfficer,
	models.StageClosure:            models.RoleNOC,
}

// RoleForStage returns the role that approves or rejects at stage.
func RoleForStage(stage models.Stage) (models.Role, bool) {
	r, ok := stageRoles[stage]
	return r, ok
}

// EnsureActive fails when cr is in a terminal status.
func EnsureActive(cr *models.ChangeRequest) error {
	if cr.CurrentStatus.IsTerminal() {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("change request %s is %s", cr.CRNumber, cr.CurrentStatus))
	}
	return nil
}

// AuthorizeStageAction checks that actor may approve or reject cr at its current stage and
// returns the role the decision is recorded under.
func AuthorizeStageAction(cr *models.ChangeRequest, actor models.Actor) (models.Role, error) {
	if err := EnsureActive(cr); err != nil {
		return "", err
	}
	role, ok := RoleForStage(cr.CurrentStage)
	if !ok {
		return "", dErrors.New(dErrors.CodePermissionDenied,
			fmt.Sprintf("no approver is defined for stage %d", cr.CurrentStage))
	}
	if cr.CurrentStage == models.StageRequestorTest {
		if actor.ID != cr.RequestedBy {
			return "", dErrors.New(dErrors.CodePermissionDenied,
				"only the original requester can confirm testing")
		}
		return models.RoleRequestor, nil
	}
	if !actor.Has(role) {
		return "", dErrors.New(dErrors.CodePermissionDenied,
			fmt.Sprintf("stage %d requires role %s", cr.CurrentStage, role))
	}
	return role, nil
}
