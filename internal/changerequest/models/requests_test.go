package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "changeflow/pkg/domain-errors"
)

func TestCreateRequest_Validate(t *testing.T) {
	valid := func() *CreateRequest {
		return &CreateRequest{
			Purpose:       "Patch core switch firmware",
			Priority:      PriorityMedium,
			LineManagerID: 7,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*CreateRequest)
		wantErr string
	}{
		{name: "valid", mutate: func(*CreateRequest) {}},
		{name: "missing purpose", mutate: func(r *CreateRequest) { r.Purpose = "" }, wantErr: "purpose is required"},
		{name: "unknown priority", mutate: func(r *CreateRequest) { r.Priority = "Urgent" }, wantErr: "priority must be one of"},
		{name: "missing line manager", mutate: func(r *CreateRequest) { r.LineManagerID = 0 }, wantErr: "line_manager_id is required"},
		{
			name:    "high priority without justification",
			mutate:  func(r *CreateRequest) { r.Priority = PriorityHigh },
			wantErr: "priority_justification is required",
		},
		{
			name: "high priority with justification",
			mutate: func(r *CreateRequest) {
				r.Priority = PriorityHigh
				r.PriorityJustification = "Vendor security advisory"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			req.Normalize()
			err := req.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateRequest_NormalizePriority(t *testing.T) {
	req := &CreateRequest{Purpose: "  x ", Priority: " high ", PriorityJustification: " why "}
	req.Normalize()
	assert.Equal(t, PriorityHigh, req.Priority)
	assert.Equal(t, "x", req.Purpose)
	assert.Equal(t, "why", req.PriorityJustification)
}

func TestUpdateRequest_ApplyRechecksJustification(t *testing.T) {
	cr := &ChangeRequest{Purpose: "old", Priority: PriorityLow}
	high := PriorityHigh
	req := &UpdateRequest{Priority: &high}

	err := req.Apply(cr)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	justification := "outage risk"
	req.PriorityJustification = &justification
	require.NoError(t, req.Apply(cr))
	assert.Equal(t, PriorityHigh, cr.Priority)
	assert.Equal(t, "old", cr.Purpose)
}

func TestITOfficerFieldsRequest_Validate(t *testing.T) {
	negative := decimal.NewFromInt(-5)
	req := &ITOfficerFieldsRequest{Category: " servers ", Subcategory: "amex", Cost: &negative}
	req.Normalize()
	assert.Equal(t, "SERVERS", req.Category)
	assert.Equal(t, "AMEX", req.Subcategory)
	require.ErrorContains(t, req.Validate(), "cost cannot be negative")

	req.Cost = nil
	req.DowntimeEstimate = 30
	require.ErrorContains(t, req.Validate(), "downtime_unit is required")

	req.DowntimeUnit = DowntimeMinutes
	require.NoError(t, req.Validate())
}

func TestTestingResultsRequest_Validate(t *testing.T) {
	req := &TestingResultsRequest{}
	require.ErrorContains(t, req.Validate(), "results is required")

	req.Results = []TestingResultInput{{TestType: "smoke", Result: "PASS"}}
	req.Normalize()
	require.NoError(t, req.Validate())

	req.Results[0].Result = "maybe"
	require.ErrorContains(t, req.Validate(), "result must be one of")
}

func TestSearchFilter(t *testing.T) {
	f := &SearchFilter{Limit: 1000, Offset: -3, Query: " backup "}
	f.Normalize()
	assert.Equal(t, MaxSearchLimit, f.Limit)
	assert.Equal(t, 0, f.Offset)
	require.NoError(t, f.Validate())

	cr := &ChangeRequest{CRNumber: "CR-2026-0001", Purpose: "Nightly BACKUP rotation", CreatedAt: time.Now()}
	assert.True(t, f.Matches(cr))

	f.Stage = StageQA
	assert.False(t, f.Matches(cr))

	from := time.Now()
	to := from.Add(-time.Hour)
	bad := &SearchFilter{CreatedFrom: &from, CreatedTo: &to}
	require.Error(t, bad.Validate())
}

func TestParseRoles(t *testing.T) {
	roles := ParseRoles([]string{"head_of_it", "bogus", "head_of_it", "noc"})
	assert.Equal(t, []Role{RoleHeadOfIT, RoleNOC, RoleRequestor}, roles)
	assert.Equal(t, []Role{RoleRequestor}, ParseRoles(nil))
}

func TestFormatCRNumber(t *testing.T) {
	assert.Equal(t, "CR-2026-0042", FormatCRNumber(2026, 42))
	assert.Equal(t, "CR-2026-12345", FormatCRNumber(2026, 12345))
}

func TestStatistics_Tally(t *testing.T) {
	var s Statistics
	s.Tally(&ChangeRequest{CurrentStage: StageLineManager, CurrentStatus: StatusPendingLM, Priority: PriorityLow})
	s.Tally(&ChangeRequest{CurrentStage: StageClosure, CurrentStatus: StatusCompleted, Priority: PriorityLow})
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 2, s.ByPriority[PriorityLow])
	assert.Equal(t, 1, s.ByStage[StageClosure])
}
