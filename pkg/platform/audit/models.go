package audit

import "time"

// Action names a state-affecting operation on a change request.
type Action string

const (
	ActionCreated             Action = "created"
	ActionUpdated             Action = "updated"
	ActionDeleted             Action = "deleted"
	ActionApproved            Action = "approved"
	ActionRejected            Action = "rejected"
	ActionITOFieldsUpdated    Action = "ito_fields_updated"
	ActionTestingResultsAdded Action = "testing_results_added"
	ActionQAChecklistAdded    Action = "qa_checklist_added"
	ActionClosed              Action = "closed"
)

// EventCategory classifies history entries for downstream retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers decisions with approval significance: approvals, rejections,
	// closure and deletion. Downstream consumers keep these for the long retention period.
	CategoryCompliance EventCategory = "compliance"
	// CategoryOperations covers routine edits and satellite additions.
	CategoryOperations EventCategory = "operations"
)

var actionCategories = map[Action]EventCategory{
	ActionCreated:             CategoryCompliance,
	ActionApproved:            CategoryCompliance,
	ActionRejected:            CategoryCompliance,
	ActionClosed:              CategoryCompliance,
	ActionDeleted:             CategoryCompliance,
	ActionUpdated:             CategoryOperations,
	ActionITOFieldsUpdated:    CategoryOperations,
	ActionTestingResultsAdded: CategoryOperations,
	ActionQAChecklistAdded:    CategoryOperations,
}

// IsValid reports whether a is one of the known history actions.
func (a Action) IsValid() bool {
	_, ok := actionCategories[a]
	return ok
}

// Category returns the category for this action. Unknown actions default to operations.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Entry is one immutable row of a change request's history.
// Stages and statuses are plain values so the audit package stays independent of the
// change request model.
type Entry struct {
	ID              int64     `json:"id"`
	ChangeRequestID int64     `json:"change_request_id"`
	ActorID         int64     `json:"actor_id"`
	Action          Action    `json:"action"`
	FromStage       int       `json:"from_stage"`
	ToStage         int       `json:"to_stage"`
	FromStatus      string    `json:"from_status"`
	ToStatus        string    `json:"to_status"`
	Note            string    `json:"note,omitempty"`
	RequestID       string    `json:"request_id,omitempty"`
	ClientIP        string    `json:"-"`
	ClientAgent     string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}
