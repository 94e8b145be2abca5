package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	dErrors "changeflow/pkg/domain-errors"
)

// -----------------------------------------------------------------------------
// Create / Update
// -----------------------------------------------------------------------------

type CreateRequest struct {
	Purpose               string   `json:"purpose" validate:"required,max=500"`
	Description           string   `json:"description" validate:"max=5000"`
	Priority              Priority `json:"priority" validate:"required,oneof=Low Medium High Critical"`
	PriorityJustification string   `json:"priority_justification" validate:"max=2000"`
	LineManagerID         int64    `json:"line_manager_id" validate:"required,gt=0"`
}

func (r *CreateRequest) Normalize() {
	if r == nil {
		return
	}
	r.Purpose = strings.TrimSpace(r.Purpose)
	r.Description = strings.TrimSpace(r.Description)
	r.Priority = normalizePriority(r.Priority)
	r.PriorityJustification = strings.TrimSpace(r.PriorityJustification)
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *CreateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := checkStruct(r); err != nil {
		return err
	}
	return checkJustification(r.Priority, r.PriorityJustification)
}

// UpdateRequest carries the whitelist of fields editable outside the workflow.
// Nil fields are left unchanged.
type UpdateRequest struct {
	Purpose               *string   `json:"purpose,omitempty" validate:"omitempty,max=500"`
	Description           *string   `json:"description,omitempty" validate:"omitempty,max=5000"`
	Priority              *Priority `json:"priority,omitempty" validate:"omitempty,oneof=Low Medium High Critical"`
	PriorityJustification *string   `json:"priority_justification,omitempty" validate:"omitempty,max=2000"`
	LineManagerID         *int64    `json:"line_manager_id,omitempty" validate:"omitempty,gt=0"`
}

func (r *UpdateRequest) Normalize() {
	if r == nil {
		return
	}
	trimPtr(r.Purpose)
	trimPtr(r.Description)
	trimPtr(r.PriorityJustification)
	if r.Priority != nil {
		p := normalizePriority(*r.Priority)
		r.Priority = &p
	}
}

func (r *UpdateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := checkStruct(r); err != nil {
		return err
	}
	if r.Purpose != nil && *r.Purpose == "" {
		return dErrors.New(dErrors.CodeValidation, "purpose cannot be empty")
	}
	return nil
}

// Apply copies the set fields onto cr and re-checks the priority justification rule
// against the merged result.
func (r *UpdateRequest) Apply(cr *ChangeRequest) error {
	if r.Purpose != nil {
		cr.Purpose = *r.Purpose
	}
	if r.Description != nil {
		cr.Description = *r.Description
	}
	if r.Priority != nil {
		cr.Priority = *r.Priority
	}
	if r.PriorityJustification != nil {
		cr.PriorityJustification = *r.PriorityJustification
	}
	if r.LineManagerID != nil {
		cr.LineManagerID = *r.LineManagerID
	}
	return checkJustification(cr.Priority, cr.PriorityJustification)
}

func checkJustification(p Priority, justification string) error {
	if p == PriorityHigh && justification == "" {
		return dErrors.New(dErrors.CodeValidation, "priority_justification is required for High priority")
	}
	return nil
}

func normalizePriority(p Priority) Priority {
	s := strings.ToLower(strings.TrimSpace(string(p)))
	if s == "" {
		return ""
	}
	return Priority(strings.ToUpper(s[:1]) + s[1:])
}

func trimPtr(s *string) {
	if s != nil {
		*s = strings.TrimSpace(*s)
	}
}

// -----------------------------------------------------------------------------
// Approve / Reject
// -----------------------------------------------------------------------------

type ApproveRequest struct {
	Comments              string `json:"comments" validate:"max=2000"`
	SignaturePath         string `json:"signature_path" validate:"max=512"`
	RiskAccepted          bool   `json:"risk_accepted"`
	AssignedToITOfficerID *int64 `json:"assigned_to_it_officer_id,omitempty"`
	// ExpectedStage, when set, must equal the current stage or the approval is a conflict.
	ExpectedStage *Stage `json:"expected_stage,omitempty"`
}

func (r *ApproveRequest) Normalize() {
	if r == nil {
		return
	}
	r.Comments = strings.TrimSpace(r.Comments)
	r.SignaturePath = strings.TrimSpace(r.SignaturePath)
}

func (r *ApproveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := checkStruct(r); err != nil {
		return err
	}
	if r.ExpectedStage != nil && !r.ExpectedStage.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "expected_stage must be between 1 and 10")
	}
	return nil
}

type RejectRequest struct {
	Reason        string `json:"reason" validate:"required,max=2000"`
	SignaturePath string `json:"signature_path" validate:"max=512"`
	ExpectedStage *Stage `json:"expected_stage,omitempty"`
}

func (r *RejectRequest) Normalize() {
	if r == nil {
		return
	}
	r.Reason = strings.TrimSpace(r.Reason)
	r.SignaturePath = strings.TrimSpace(r.SignaturePath)
}

func (r *RejectRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return checkStruct(r)
}

// -----------------------------------------------------------------------------
// Stage 4 assessment
// -----------------------------------------------------------------------------

type ITOfficerFieldsRequest struct {
	Category         string           `json:"category" validate:"required"`
	Subcategory      string           `json:"subcategory" validate:"required"`
	DowntimeEstimate int              `json:"downtime_estimate" validate:"gte=0"`
	DowntimeUnit     DowntimeUnit     `json:"downtime_unit" validate:"omitempty,oneof=minutes hours days"`
	Cost             *decimal.Decimal `json:"cost,omitempty"`
	PlannedAt        *time.Time       `json:"planned_at,omitempty"`
	LastBackupAt     *time.Time       `json:"last_backup_at,omitempty"`
}

func (r *ITOfficerFieldsRequest) Normalize() {
	if r == nil {
		return
	}
	r.Category = strings.ToUpper(strings.TrimSpace(r.Category))
	r.Subcategory = strings.ToUpper(strings.TrimSpace(r.Subcategory))
	r.DowntimeUnit = DowntimeUnit(strings.ToLower(strings.TrimSpace(string(r.DowntimeUnit))))
}

func (r *ITOfficerFieldsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := checkStruct(r); err != nil {
		return err
	}
	if r.DowntimeEstimate > 0 && r.DowntimeUnit == "" {
		return dErrors.New(dErrors.CodeValidation, "downtime_unit is required when downtime_estimate is set")
	}
	if r.Cost != nil && r.Cost.IsNegative() {
		return dErrors.New(dErrors.CodeValidation, "cost cannot be negative")
	}
	return nil
}

// Apply copies the assessment onto cr.
func (r *ITOfficerFieldsRequest) Apply(cr *ChangeRequest) {
	cr.Category = r.Category
	cr.Subcategory = r.Subcategory
	cr.DowntimeEstimate = r.DowntimeEstimate
	cr.DowntimeUnit = r.DowntimeUnit
	if r.Cost != nil {
		c := r.Cost.Round(2)
		cr.Cost = &c
	}
	cr.PlannedAt = cloneTime(r.PlannedAt)
	cr.LastBackupAt = cloneTime(r.LastBackupAt)
}

// -----------------------------------------------------------------------------
// Satellites
// -----------------------------------------------------------------------------

type TestingResultInput struct {
	TestType string     `json:"test_type" validate:"required,max=200"`
	Result   TestResult `json:"result" validate:"required,oneof=pass fail partial"`
	Notes    string     `json:"notes" validate:"max=2000"`
}

type TestingResultsRequest struct {
	Results []TestingResultInput `json:"results" validate:"required,min=1,max=100,dive"`
}

func (r *TestingResultsRequest) Normalize() {
	if r == nil {
		return
	}
	for i := range r.Results {
		r.Results[i].TestType = strings.TrimSpace(r.Results[i].TestType)
		r.Results[i].Result = TestResult(strings.ToLower(strings.TrimSpace(string(r.Results[i].Result))))
		r.Results[i].Notes = strings.TrimSpace(r.Results[i].Notes)
	}
}

func (r *TestingResultsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return checkStruct(r)
}

type QAChecklistItemInput struct {
	Item    string `json:"item" validate:"required,max=500"`
	Checked bool   `json:"checked"`
	Notes   string `json:"notes" validate:"max=2000"`
}

type QAChecklistRequest struct {
	Items []QAChecklistItemInput `json:"items" validate:"required,min=1,max=100,dive"`
}

func (r *QAChecklistRequest) Normalize() {
	if r == nil {
		return
	}
	for i := range r.Items {
		r.Items[i].Item = strings.TrimSpace(r.Items[i].Item)
		r.Items[i].Notes = strings.TrimSpace(r.Items[i].Notes)
	}
}

func (r *QAChecklistRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return checkStruct(r)
}

type DeploymentTeamMemberRequest struct {
	UserID           int64  `json:"user_id" validate:"required,gt=0"`
	RoleInDeployment string `json:"role_in_deployment" validate:"required,max=100"`
}

func (r *DeploymentTeamMemberRequest) Normalize() {
	if r == nil {
		return
	}
	r.RoleInDeployment = strings.TrimSpace(r.RoleInDeployment)
}

func (r *DeploymentTeamMemberRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return checkStruct(r)
}

// AttachmentUpload is built by the transport from a multipart form, not decoded from JSON.
// MimeType is sniffed from Data by the transport.
type AttachmentUpload struct {
	FileKind     FileKind
	OriginalName string
	MimeType     string
	Data         []byte
}

func (r *AttachmentUpload) Normalize() {
	if r == nil {
		return
	}
	r.FileKind = FileKind(strings.ToLower(strings.TrimSpace(string(r.FileKind))))
	r.OriginalName = strings.TrimSpace(r.OriginalName)
	r.MimeType = strings.ToLower(strings.TrimSpace(r.MimeType))
}

func (r *AttachmentUpload) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.OriginalName) > 255 {
		return dErrors.New(dErrors.CodeValidation, "file name must be 255 characters or less")
	}
	if len(r.Data) == 0 {
		return dErrors.New(dErrors.CodeValidation, "file is required")
	}
	if !r.FileKind.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "file_kind must be 'signature' or 'document'")
	}
	if r.MimeType == "" {
		return dErrors.New(dErrors.CodeValidation, "file type could not be determined")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Closure
// -----------------------------------------------------------------------------

type CloseRequest struct {
	NOCClosureNotes         string `json:"noc_closure_notes" validate:"max=5000"`
	IncidentTriggered       bool   `json:"incident_triggered"`
	IncidentDetails         string `json:"incident_details" validate:"max=5000"`
	RollbackTriggered       bool   `json:"rollback_triggered"`
	RollbackDetails         string `json:"rollback_details" validate:"max=5000"`
	NOCClosureJustification string `json:"noc_closure_justification" validate:"max=5000"`
	NOCSignaturePath        string `json:"noc_signature_path" validate:"max=512"`
}

func (r *CloseRequest) Normalize() {
	if r == nil {
		return
	}
	r.NOCClosureNotes = strings.TrimSpace(r.NOCClosureNotes)
	r.IncidentDetails = strings.TrimSpace(r.IncidentDetails)
	r.RollbackDetails = strings.TrimSpace(r.RollbackDetails)
	r.NOCClosureJustification = strings.TrimSpace(r.NOCClosureJustification)
	r.NOCSignaturePath = strings.TrimSpace(r.NOCSignaturePath)
}

// Validate checks sizes only. The closure rules depend on the stored request and run in
// the workflow package.
func (r *CloseRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return checkStruct(r)
}

// Apply copies the closure fields onto cr.
func (r *CloseRequest) Apply(cr *ChangeRequest) {
	cr.NOCClosureNotes = r.NOCClosureNotes
	cr.IncidentTriggered = r.IncidentTriggered
	cr.IncidentDetails = r.IncidentDetails
	cr.RollbackTriggered = r.RollbackTriggered
	cr.RollbackDetails = r.RollbackDetails
	cr.NOCClosureJustification = r.NOCClosureJustification
	cr.NOCSignaturePath = r.NOCSignaturePath
}

// -----------------------------------------------------------------------------
// Search
// -----------------------------------------------------------------------------

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 200
)

// SearchFilter narrows a listing. Zero values mean "any".
type SearchFilter struct {
	Status      Status
	Stage       Stage
	Priority    Priority
	Category    string
	RequestedBy int64
	Query       string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

func (f *SearchFilter) Normalize() {
	if f == nil {
		return
	}
	f.Query = strings.TrimSpace(f.Query)
	f.Category = strings.ToUpper(strings.TrimSpace(f.Category))
	f.Priority = normalizePriority(f.Priority)
	if f.Limit <= 0 {
		f.Limit = DefaultSearchLimit
	}
	if f.Limit > MaxSearchLimit {
		f.Limit = MaxSearchLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

func (f *SearchFilter) Validate() error {
	if f == nil {
		return dErrors.New(dErrors.CodeBadRequest, "filter is required")
	}
	if len(f.Query) > 200 {
		return dErrors.New(dErrors.CodeValidation, "q must be 200 characters or less")
	}
	if f.Stage != 0 && !f.Stage.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "stage must be between 1 and 10")
	}
	if f.Priority != "" && !f.Priority.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "priority must be one of: Low, Medium, High, Critical")
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedTo.Before(*f.CreatedFrom) {
		return dErrors.New(dErrors.CodeValidation, "created_to must not be before created_from")
	}
	return nil
}

// Matches reports whether cr passes every set criterion. Used by the in-memory store.
func (f *SearchFilter) Matches(cr *ChangeRequest) bool {
	if f.Status != "" && cr.CurrentStatus != f.Status {
		return false
	}
	if f.Stage != 0 && cr.CurrentStage != f.Stage {
		return false
	}
	if f.Priority != "" && cr.Priority != f.Priority {
		return false
	}
	if f.Category != "" && cr.Category != f.Category {
		return false
	}
	if f.RequestedBy != 0 && cr.RequestedBy != f.RequestedBy {
		return false
	}
	if f.CreatedFrom != nil && cr.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && cr.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(cr.CRNumber), q) &&
			!strings.Contains(strings.ToLower(cr.Purpose), q) &&
			!strings.Contains(strings.ToLower(cr.Description), q) {
			return false
		}
	}
	return true
}
