package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	audit "changeflow/pkg/platform/audit"
)

// ChangeRequest is the aggregate root of the approval workflow.
//
// Invariants:
//   - CurrentStage is in [1,10]
//   - CRNumber is globally unique and assigned from a monotonic sequence
//   - Once CurrentStatus is terminal (Completed, Rejected, Deleted) no stage-advancing
//     mutation is permitted
//   - AssignedToITOfficerID is set before the request can leave stage 3
//   - Version increases by one on every successful save
type ChangeRequest struct {
	ID                    int64    `json:"id"`
	CRNumber              string   `json:"cr_number"`
	RequestedBy           int64    `json:"requested_by"`
	LineManagerID         int64    `json:"line_manager_id"`
	Purpose               string   `json:"purpose"`
	Description           string   `json:"description"`
	Priority              Priority `json:"priority"`
	PriorityJustification string   `json:"priority_justification,omitempty"`
	CurrentStage          Stage    `json:"current_stage"`
	CurrentStatus         Status   `json:"current_status"`
	AssignedToITOfficerID *int64   `json:"assigned_to_it_officer_id,omitempty"`

	// Stage 4 assessment.
	Category         string           `json:"category,omitempty"`
	Subcategory      string           `json:"subcategory,omitempty"`
	DowntimeEstimate int              `json:"downtime_estimate,omitempty"`
	DowntimeUnit     DowntimeUnit     `json:"downtime_unit,omitempty"`
	Cost             *decimal.Decimal `json:"cost,omitempty"`
	PlannedAt        *time.Time       `json:"planned_at,omitempty"`
	LastBackupAt     *time.Time       `json:"last_backup_at,omitempty"`

	// Stage 10 closure.
	NOCClosureNotes         string `json:"noc_closure_notes,omitempty"`
	IncidentTriggered       bool   `json:"incident_triggered"`
	IncidentDetails         string `json:"incident_details,omitempty"`
	RollbackTriggered       bool   `json:"rollback_triggered"`
	RollbackDetails         string `json:"rollback_details,omitempty"`
	NOCClosureJustification string `json:"noc_closure_justification,omitempty"`
	NOCSignaturePath        string `json:"noc_signature_path,omitempty"`

	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	DeploymentCompletedAt *time.Time `json:"deployment_completed_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	Version               int64      `json:"version"`
}

// FormatCRNumber renders the business identifier for a year and sequence value.
func FormatCRNumber(year int, seq int64) string {
	return fmt.Sprintf("CR-%d-%04d", year, seq)
}

// IsAssignedTo reports whether userID is the assigned IT officer.
func (cr *ChangeRequest) IsAssignedTo(userID int64) bool {
	return cr.AssignedToITOfficerID != nil && *cr.AssignedToITOfficerID == userID
}

// AssignedITOfficer returns the assigned IT officer id, or 0.
func (cr *ChangeRequest) AssignedITOfficer() int64 {
	if cr.AssignedToITOfficerID == nil {
		return 0
	}
	return *cr.AssignedToITOfficerID
}

// SameState reports whether other has the same stage, status and version.
// Used to detect a concurrent mutation between an unlocked read and a locked re-read.
func (cr *ChangeRequest) SameState(other *ChangeRequest) bool {
	return cr.CurrentStage == other.CurrentStage &&
		cr.CurrentStatus == other.CurrentStatus &&
		cr.Version == other.Version
}

// Clone returns a deep copy.
func (cr *ChangeRequest) Clone() *ChangeRequest {
	c := *cr
	if cr.AssignedToITOfficerID != nil {
		v := *cr.AssignedToITOfficerID
		c.AssignedToITOfficerID = &v
	}
	if cr.Cost != nil {
		v := *cr.Cost
		c.Cost = &v
	}
	c.PlannedAt = cloneTime(cr.PlannedAt)
	c.LastBackupAt = cloneTime(cr.LastBackupAt)
	c.DeploymentCompletedAt = cloneTime(cr.DeploymentCompletedAt)
	c.CompletedAt = cloneTime(cr.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Actor is the caller of an engine operation, as resolved by the identity provider.
type Actor struct {
	ID    int64
	Roles []Role
}

// Has reports whether the actor carries role.
func (a Actor) Has(role Role) bool {
	return slices.Contains(a.Roles, role)
}

// PrimaryRole is the first resolved role.
func (a Actor) PrimaryRole() Role {
	if len(a.Roles) == 0 {
		return RoleRequestor
	}
	return a.Roles[0]
}

// Approval is one approve or reject decision. Append-only.
type Approval struct {
	ID              int64     `json:"id"`
	ChangeRequestID int64     `json:"change_request_id"`
	Stage           Stage     `json:"stage"`
	ActorID         int64     `json:"actor_id"`
	ActorRole       Role      `json:"actor_role"`
	Outcome         Outcome   `json:"outcome"`
	SignaturePath   string    `json:"signature_path,omitempty"`
	Comments        string    `json:"comments,omitempty"`
	RiskAccepted    bool      `json:"risk_accepted"`
	CreatedAt       time.Time `json:"created_at"`
}

type TestingResult struct {
	ID              int64      `json:"id"`
	ChangeRequestID int64      `json:"change_request_id"`
	TestType        string     `json:"test_type"`
	Result          TestResult `json:"result"`
	Notes           string     `json:"notes,omitempty"`
	TestedBy        int64      `json:"tested_by"`
	TestedAt        time.Time  `json:"tested_at"`
}

// QAChecklist is append-only except Validated and ValidationDate, which are set once when
// the QA stage is approved.
type QAChecklist struct {
	ID              int64      `json:"id"`
	ChangeRequestID int64      `json:"change_request_id"`
	Item            string     `json:"item"`
	Checked         bool       `json:"checked"`
	Notes           string     `json:"notes,omitempty"`
	Validated       bool       `json:"validated"`
	ValidationDate  *time.Time `json:"validation_date,omitempty"`
	CreatedBy       int64      `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
}

type DeploymentTeamMember struct {
	ID               int64     `json:"id"`
	ChangeRequestID  int64     `json:"change_request_id"`
	UserID           int64     `json:"user_id"`
	RoleInDeployment string    `json:"role_in_deployment"`
	AddedBy          int64     `json:"added_by"`
	CreatedAt        time.Time `json:"created_at"`
}

type Attachment struct {
	ID              int64     `json:"id"`
	ChangeRequestID int64     `json:"change_request_id"`
	FileKind        FileKind  `json:"file_kind"`
	OriginalName    string    `json:"original_name"`
	MimeType        string    `json:"mime_type"`
	Size            int64     `json:"size"`
	BlobPath        string    `json:"blob_path"`
	UploadedBy      int64     `json:"uploaded_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// Aggregate is a change request with its child collections, loaded by id.
type Aggregate struct {
	ChangeRequest
	Approvals      []Approval             `json:"approvals"`
	TestingResults []TestingResult        `json:"testing_results"`
	QAChecklists   []QAChecklist          `json:"qa_checklists"`
	DeploymentTeam []DeploymentTeamMember `json:"deployment_team"`
	Attachments    []Attachment           `json:"attachments"`
	History        []audit.Entry          `json:"history"`
}

// Statistics are read-only counts over all change requests.
type Statistics struct {
	Total      int              `json:"total"`
	Pending    int              `json:"pending"`
	ByStatus   map[Status]int   `json:"by_status"`
	ByStage    map[Stage]int    `json:"by_stage"`
	ByPriority map[Priority]int `json:"by_priority"`
}

// Tally adds cr to the counts.
func (s *Statistics) Tally(cr *ChangeRequest) {
	if s.ByStatus == nil {
		s.ByStatus = make(map[Status]int)
		s.ByStage = make(map[Stage]int)
		s.ByPriority = make(map[Priority]int)
	}
	s.Total++
	s.ByStatus[cr.CurrentStatus]++
	s.ByStage[cr.CurrentStage]++
	s.ByPriority[cr.Priority]++
	if !cr.CurrentStatus.IsTerminal() {
		s.Pending++
	}
}
