package workflow

import (
	"fmt"
	"time"

	"changeflow/internal/changerequest/models"
	dErrors "changeflow/pkg/domain-errors"
)

// DefaultClosureWindow is the post-deployment monitoring period.
const DefaultClosureWindow = 48 * time.Hour

// ValidateClosure checks a stage 10 close. Inside the window after deployment (falling
// back to the last update when deployment time is unknown) a justification is mandatory.
// Incident and rollback flags require their detail text.
func ValidateClosure(cr *models.ChangeRequest, req *models.CloseRequest, now time.Time, window time.Duration) error {
	if err := EnsureActive(cr); err != nil {
		return err
	}
	if cr.CurrentStage != models.StageClosure {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("change request must be at stage %d to close, currently at stage %d", models.StageClosure, cr.CurrentStage))
	}
	if window <= 0 {
		window = DefaultClosureWindow
	}

	since := cr.UpdatedAt
	if cr.DeploymentCompletedAt != nil {
		since = *cr.DeploymentCompletedAt
	}
	if now.Sub(since) < window && req.NOCClosureJustification == "" {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("noc_closure_justification is required when closing within %s of deployment", window))
	}
	if req.IncidentTriggered && req.IncidentDetails == "" {
		return dErrors.New(dErrors.CodeValidation, "incident_details is required when an incident was triggered")
	}
	if req.RollbackTriggered && req.RollbackDetails == "" {
		return dErrors.New(dErrors.CodeValidation, "rollback_details is required when a rollback was triggered")
	}
	return nil
}
