package models

import "slices"

// Stage identifies a step of the approval pipeline, 1 through 10.
type Stage int

const (
	StageDraft              Stage = 1
	StageLineManager        Stage = 2
	StageHeadOfIT           Stage = 3
	StageITOfficer          Stage = 4
	StageRequestorTest      Stage = 5
	StageQA                 Stage = 6
	StageProductionApproval Stage = 7
	StageFinalApproval      Stage = 8
	StageDeployment         Stage = 9
	StageClosure            Stage = 10
)

// IsValid reports whether s is inside [1,10].
func (s Stage) IsValid() bool {
	return s >= StageDraft && s <= StageClosure
}

// Status is the human-readable state label carried alongside the stage.
type Status string

const (
	StatusPendingLM           Status = "Pending LM Approval"
	StatusPendingHoIT         Status = "Pending HoIT Approval"
	StatusAssignedToITOfficer Status = "Assigned to IT Officer"
	StatusRequestorTest       Status = "Requestor Test Confirmation Required"
	StatusPendingQA           Status = "Pending QA Validation"
	StatusPendingProduction   Status = "Pending Production Approval"
	StatusPendingFinal        Status = "Pending Final Approval"
	StatusReadyToDeploy       Status = "Ready to Deploy"
	StatusWaitingForClosure   Status = "Waiting for Closure"
	StatusCompleted           Status = "Completed"
	StatusRejected            Status = "Rejected"
	StatusDeleted             Status = "Deleted"
)

// IsTerminal reports whether no further stage-advancing mutation is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusDeleted
}

// Role is a tag returned by the identity provider.
type Role string

const (
	RoleRequestor     Role = "requestor"
	RoleLineManager   Role = "line_manager"
	RoleHeadOfIT      Role = "head_of_it"
	RoleITOfficer     Role = "it_officer"
	RoleQAOfficer     Role = "qa_officer"
	RoleHeadOfInfosec Role = "head_of_infosec"
	RoleNOC           Role = "noc"
)

var knownRoles = []Role{
	RoleRequestor,
	RoleLineManager,
	RoleHeadOfIT,
	RoleITOfficer,
	RoleQAOfficer,
	RoleHeadOfInfosec,
	RoleNOC,
}

func (r Role) IsValid() bool {
	return slices.Contains(knownRoles, r)
}

// ParseRoles keeps the known tags in order, drops duplicates and unknown values, and always
// ends with requestor.
func ParseRoles(tags []string) []Role {
	roles := make([]Role, 0, len(tags)+1)
	for _, tag := range tags {
		r := Role(tag)
		if r.IsValid() && !slices.Contains(roles, r) {
			roles = append(roles, r)
		}
	}
	if !slices.Contains(roles, RoleRequestor) {
		roles = append(roles, RoleRequestor)
	}
	return roles
}

type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

type DowntimeUnit string

const (
	DowntimeMinutes DowntimeUnit = "minutes"
	DowntimeHours   DowntimeUnit = "hours"
	DowntimeDays    DowntimeUnit = "days"
)

// Outcome of an approval record.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

type TestResult string

const (
	TestPass    TestResult = "pass"
	TestFail    TestResult = "fail"
	TestPartial TestResult = "partial"
)

// FileKind selects the blob validation policy for an attachment.
type FileKind string

const (
	FileKindSignature FileKind = "signature"
	FileKindDocument  FileKind = "document"
)

func (k FileKind) IsValid() bool {
	return k == FileKindSignature || k == FileKindDocument
}
