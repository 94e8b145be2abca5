package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"changeflow/internal/changerequest/models"
)

func (s *PostgresStore) AddApproval(ctx context.Context, a *models.Approval) error {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO cr_approvals (
			change_request_id, stage, actor_id, actor_role, outcome,
			signature_path, comments, risk_accepted, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, a.ChangeRequestID, int(a.Stage), a.ActorID, string(a.ActorRole), string(a.Outcome),
		a.SignaturePath, a.Comments, a.RiskAccepted, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListApprovals(ctx context.Context, crID int64) ([]models.Approval, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, change_request_id, stage, actor_id, actor_role, outcome,
		       signature_path, comments, risk_accepted, created_at
		FROM cr_approvals WHERE change_request_id = $1 ORDER BY id ASC
	`, crID)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	return collect(rows, func(r *sql.Rows) (models.Approval, error) {
		var (
			a             models.Approval
			role, outcome string
		)
		err := r.Scan(&a.ID, &a.ChangeRequestID, &a.Stage, &a.ActorID, &role, &outcome,
			&a.SignaturePath, &a.Comments, &a.RiskAccepted, &a.CreatedAt)
		a.ActorRole = models.Role(role)
		a.Outcome = models.Outcome(outcome)
		return a, err
	})
}

func (s *PostgresStore) AddTestingResults(ctx context.Context, results []models.TestingResult) error {
	for i := range results {
		r := &results[i]
		err := s.conn(ctx).QueryRowContext(ctx, `
			INSERT INTO cr_testing_results (change_request_id, test_type, result, notes, tested_by, tested_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, r.ChangeRequestID, r.TestType, string(r.Result), r.Notes, r.TestedBy, r.TestedAt).Scan(&r.ID)
		if err != nil {
			return fmt.Errorf("insert testing result: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListTestingResults(ctx context.Context, crID int64) ([]models.TestingResult, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, change_request_id, test_type, result, notes, tested_by, tested_at
		FROM cr_testing_results WHERE change_request_id = $1 ORDER BY id ASC
	`, crID)
	if err != nil {
		return nil, fmt.Errorf("query testing results: %w", err)
	}
	return collect(rows, func(r *sql.Rows) (models.TestingResult, error) {
		var (
			t      models.TestingResult
			result string
		)
		err := r.Scan(&t.ID, &t.ChangeRequestID, &t.TestType, &result, &t.Notes, &t.TestedBy, &t.TestedAt)
		t.Result = models.TestResult(result)
		return t, err
	})
}

func (s *PostgresStore) AddQAChecklists(ctx context.Context, items []models.QAChecklist) error {
	for i := range items {
		q := &items[i]
		err := s.conn(ctx).QueryRowContext(ctx, `
			INSERT INTO cr_qa_checklists (change_request_id, item, checked, notes, validated, created_by, created_at)
			VALUES ($1, $2, $3, $4, FALSE, $5, $6)
			RETURNING id
		`, q.ChangeRequestID, q.Item, q.Checked, q.Notes, q.CreatedBy, q.CreatedAt).Scan(&q.ID)
		if err != nil {
			return fmt.Errorf("insert qa checklist: %w", err)
		}
	}
	return nil
}

// ValidateQAChecklists stamps every not-yet-validated checklist row of crID.
func (s *PostgresStore) ValidateQAChecklists(ctx context.Context, crID int64, at time.Time) (int, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE cr_qa_checklists SET validated = TRUE, validation_date = $2
		WHERE change_request_id = $1 AND NOT validated
	`, crID, at)
	if err != nil {
		return 0, fmt.Errorf("validate qa checklists: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("validate qa checklists rows: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) ListQAChecklists(ctx context.Context, crID int64) ([]models.QAChecklist, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, change_request_id, item, checked, notes, validated, validation_date, created_by, created_at
		FROM cr_qa_checklists WHERE change_request_id = $1 ORDER BY id ASC
	`, crID)
	if err != nil {
		return nil, fmt.Errorf("query qa checklists: %w", err)
	}
	return collect(rows, func(r *sql.Rows) (models.QAChecklist, error) {
		var (
			q         models.QAChecklist
			validated sql.NullTime
		)
		err := r.Scan(&q.ID, &q.ChangeRequestID, &q.Item, &q.Checked, &q.Notes, &q.Validated, &validated, &q.CreatedBy, &q.CreatedAt)
		q.ValidationDate = timePtr(validated)
		return q, err
	})
}

func (s *PostgresStore) AddDeploymentTeamMember(ctx context.Context, m *models.DeploymentTeamMember) error {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO cr_deployment_team (change_request_id, user_id, role_in_deployment, added_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, m.ChangeRequestID, m.UserID, m.RoleInDeployment, m.AddedBy, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert deployment team member: %w", mapPgError(err))
	}
	return nil
}

func (s *PostgresStore) ListDeploymentTeam(ctx context.Context, crID int64) ([]models.DeploymentTeamMember, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, change_request_id, user_id, role_in_deployment, added_by, created_at
		FROM cr_deployment_team WHERE change_request_id = $1 ORDER BY id ASC
	`, crID)
	if err != nil {
		return nil, fmt.Errorf("query deployment team: %w", err)
	}
	return collect(rows, func(r *sql.Rows) (models.DeploymentTeamMember, error) {
		var m models.DeploymentTeamMember
		err := r.Scan(&m.ID, &m.ChangeRequestID, &m.UserID, &m.RoleInDeployment, &m.AddedBy, &m.CreatedAt)
		return m, err
	})
}

func (s *PostgresStore) AddAttachment(ctx context.Context, a *models.Attachment) error {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO cr_attachments (
			change_request_id, file_kind, original_name, mime_type, size, blob_path, uploaded_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, a.ChangeRequestID, string(a.FileKind), a.OriginalName, a.MimeType, a.Size, a.BlobPath, a.UploadedBy, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, crID int64) ([]models.Attachment, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, change_request_id, file_kind, original_name, mime_type, size, blob_path, uploaded_by, created_at
		FROM cr_attachments WHERE change_request_id = $1 ORDER BY id ASC
	`, crID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	return collect(rows, func(r *sql.Rows) (models.Attachment, error) {
		var (
			a    models.Attachment
			kind string
		)
		err := r.Scan(&a.ID, &a.ChangeRequestID, &kind, &a.OriginalName, &a.MimeType, &a.Size, &a.BlobPath, &a.UploadedBy, &a.CreatedAt)
		a.FileKind = models.FileKind(kind)
		return a, err
	})
}

// collect drains rows through scan and closes them.
func collect[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
