package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"changeflow/internal/changerequest/models"
	"changeflow/pkg/platform/sentinel"
	txcontext "changeflow/pkg/platform/tx"
)

const pgUniqueViolation = "23505"

// PostgresStore persists change requests in PostgreSQL. Inside a transaction started by the
// service's tx runner every query uses the transaction carried in ctx.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) txcontext.Executor {
	return txcontext.Conn(ctx, s.db)
}

const crColumns = `
	id, cr_number, requested_by, line_manager_id, purpose, description, priority,
	priority_justification, current_stage, current_status, assigned_to_it_officer_id,
	category, subcategory, downtime_estimate, downtime_unit, cost, planned_at, last_backup_at,
	noc_closure_notes, incident_triggered, incident_details, rollback_triggered, rollback_details,
	noc_closure_justification, noc_signature_path,
	created_at, updated_at, deployment_completed_at, completed_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChangeRequest(row rowScanner) (*models.ChangeRequest, error) {
	var (
		cr        models.ChangeRequest
		officerID sql.NullInt64
		cost      decimal.NullDecimal
		planned   sql.NullTime
		backup    sql.NullTime
		deployed  sql.NullTime
		completed sql.NullTime
		priority  string
		status    string
		unit      string
	)
	err := row.Scan(
		&cr.ID, &cr.CRNumber, &cr.RequestedBy, &cr.LineManagerID, &cr.Purpose, &cr.Description, &priority,
		&cr.PriorityJustification, &cr.CurrentStage, &status, &officerID,
		&cr.Category, &cr.Subcategory, &cr.DowntimeEstimate, &unit, &cost, &planned, &backup,
		&cr.NOCClosureNotes, &cr.IncidentTriggered, &cr.IncidentDetails, &cr.RollbackTriggered, &cr.RollbackDetails,
		&cr.NOCClosureJustification, &cr.NOCSignaturePath,
		&cr.CreatedAt, &cr.UpdatedAt, &deployed, &completed, &cr.Version,
	)
	if err != nil {
		return nil, err
	}
	cr.Priority = models.Priority(priority)
	cr.CurrentStatus = models.Status(status)
	cr.DowntimeUnit = models.DowntimeUnit(unit)
	if officerID.Valid {
		v := officerID.Int64
		cr.AssignedToITOfficerID = &v
	}
	if cost.Valid {
		v := cost.Decimal
		cr.Cost = &v
	}
	cr.PlannedAt = timePtr(planned)
	cr.LastBackupAt = timePtr(backup)
	cr.DeploymentCompletedAt = timePtr(deployed)
	cr.CompletedAt = timePtr(completed)
	return &cr, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", sentinel.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func (s *PostgresStore) Create(ctx context.Context, cr *models.ChangeRequest) error {
	cr.Version = 1
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO change_requests (
			cr_number, requested_by, line_manager_id, purpose, description, priority,
			priority_justification, current_stage, current_status, created_at, updated_at, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		cr.CRNumber, cr.RequestedBy, cr.LineManagerID, cr.Purpose, cr.Description, string(cr.Priority),
		cr.PriorityJustification, int(cr.CurrentStage), string(cr.CurrentStatus), cr.CreatedAt, cr.UpdatedAt, cr.Version,
	).Scan(&cr.ID)
	if err != nil {
		return fmt.Errorf("insert change request: %w", mapPgError(err))
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*models.ChangeRequest, error) {
	return s.findOne(ctx, `SELECT `+crColumns+` FROM change_requests WHERE id = $1`, id)
}

// FindForUpdate locks the row until the surrounding transaction ends.
func (s *PostgresStore) FindForUpdate(ctx context.Context, id int64) (*models.ChangeRequest, error) {
	if _, ok := txcontext.From(ctx); !ok {
		return nil, fmt.Errorf("find for update outside transaction: %w", sentinel.ErrInvalidState)
	}
	return s.findOne(ctx, `SELECT `+crColumns+` FROM change_requests WHERE id = $1 FOR UPDATE`, id)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, id int64) (*models.ChangeRequest, error) {
	cr, err := scanChangeRequest(s.conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find change request: %w", err)
	}
	return cr, nil
}

// Save writes every mutable column if the stored version still equals cr.Version.
func (s *PostgresStore) Save(ctx context.Context, cr *models.ChangeRequest) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE change_requests SET
			line_manager_id = $3, purpose = $4, description = $5, priority = $6,
			priority_justification = $7, current_stage = $8, current_status = $9,
			assigned_to_it_officer_id = $10, category = $11, subcategory = $12,
			downtime_estimate = $13, downtime_unit = $14, cost = $15, planned_at = $16,
			last_backup_at = $17, noc_closure_notes = $18, incident_triggered = $19,
			incident_details = $20, rollback_triggered = $21, rollback_details = $22,
			noc_closure_justification = $23, noc_signature_path = $24, updated_at = $25,
			deployment_completed_at = $26, completed_at = $27, version = version + 1
		WHERE id = $1 AND version = $2
	`,
		cr.ID, cr.Version,
		cr.LineManagerID, cr.Purpose, cr.Description, string(cr.Priority),
		cr.PriorityJustification, int(cr.CurrentStage), string(cr.CurrentStatus),
		nullInt(cr.AssignedToITOfficerID), cr.Category, cr.Subcategory,
		cr.DowntimeEstimate, string(cr.DowntimeUnit), nullDecimal(cr.Cost), nullTime(cr.PlannedAt),
		nullTime(cr.LastBackupAt), cr.NOCClosureNotes, cr.IncidentTriggered,
		cr.IncidentDetails, cr.RollbackTriggered, cr.RollbackDetails,
		cr.NOCClosureJustification, cr.NOCSignaturePath, cr.UpdatedAt,
		nullTime(cr.DeploymentCompletedAt), nullTime(cr.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("update change request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update change request rows: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.conn(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM change_requests WHERE id = $1)`, cr.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check change request: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	cr.Version++
	return nil
}

// whereBuilder accumulates AND-ed predicates with positional args.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (s *PostgresStore) Search(ctx context.Context, f models.SearchFilter) (*Page, error) {
	var w whereBuilder
	if f.Status != "" {
		w.add("current_status = ?", string(f.Status))
	}
	if f.Stage != 0 {
		w.add("current_stage = ?", int(f.Stage))
	}
	if f.Priority != "" {
		w.add("priority = ?", string(f.Priority))
	}
	if f.Category != "" {
		w.add("category = ?", f.Category)
	}
	if f.RequestedBy != 0 {
		w.add("requested_by = ?", f.RequestedBy)
	}
	if f.CreatedFrom != nil {
		w.add("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		w.add("created_at <= ?", *f.CreatedTo)
	}
	if f.Query != "" {
		w.add("(cr_number ILIKE ? OR purpose ILIKE ? OR description ILIKE ?)", "%"+escapeLike(f.Query)+"%")
	}

	var total int
	if err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_requests`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count change requests: %w", err)
	}

	args := append(w.args, f.Limit, f.Offset)
	query := `SELECT ` + crColumns + ` FROM change_requests` + w.sql() +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	items, err := s.queryMany(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total}, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *PostgresStore) Queue(ctx context.Context, q QueueQuery) ([]*models.ChangeRequest, error) {
	stages := make([]int64, len(q.Stages))
	for i, st := range q.Stages {
		stages[i] = int64(st)
	}
	terminal := []string{string(models.StatusCompleted), string(models.StatusRejected), string(models.StatusDeleted)}

	var w whereBuilder
	w.add("current_stage = ANY(?::int[])", pq.Array(stages))
	w.add("current_status <> ALL(?::text[])", pq.Array(terminal))
	if q.LineManagerID != 0 {
		w.add("line_manager_id = ?", q.LineManagerID)
	}
	if q.AssignedITOfficerID != 0 {
		w.add("assigned_to_it_officer_id = ?", q.AssignedITOfficerID)
	}
	if q.RequestedBy != 0 {
		w.add("requested_by = ?", q.RequestedBy)
	}
	return s.queryMany(ctx, `SELECT `+crColumns+` FROM change_requests`+w.sql()+` ORDER BY created_at ASC, id ASC`, w.args...)
}

func (s *PostgresStore) queryMany(ctx context.Context, query string, args ...any) ([]*models.ChangeRequest, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change requests: %w", err)
	}
	defer rows.Close()

	out := []*models.ChangeRequest{}
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change request: %w", err)
		}
		out = append(out, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change requests: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Statistics(ctx context.Context) (*models.Statistics, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT current_status, current_stage, priority, COUNT(*)
		FROM change_requests
		GROUP BY current_status, current_stage, priority
	`)
	if err != nil {
		return nil, fmt.Errorf("query statistics: %w", err)
	}
	defer rows.Close()

	stats := &models.Statistics{
		ByStatus:   map[models.Status]int{},
		ByStage:    map[models.Stage]int{},
		ByPriority: map[models.Priority]int{},
	}
	for rows.Next() {
		var (
			status, priority string
			stage, n         int
		)
		if err := rows.Scan(&status, &stage, &priority, &n); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		st := models.Status(status)
		stats.Total += n
		stats.ByStatus[st] += n
		stats.ByStage[models.Stage(stage)] += n
		stats.ByPriority[models.Priority(priority)] += n
		if !st.IsTerminal() {
			stats.Pending += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statistics: %w", err)
	}
	return stats, nil
}
