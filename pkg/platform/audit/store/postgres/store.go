package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	audit "changeflow/pkg/platform/audit"
	txcontext "changeflow/pkg/platform/tx"
)

// Store implements audit.Store on the cr_history table. Every append also writes an
// outbox row in the same transaction so downstream consumers see exactly the committed history.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL history store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// outboxPayload is the JSON structure published for each history entry.
type outboxPayload struct {
	EventID         string `json:"event_id"`
	Category        string `json:"category"`
	ChangeRequestID int64  `json:"change_request_id"`
	ActorID         int64  `json:"actor_id"`
	Action          string `json:"action"`
	FromStage       int    `json:"from_stage"`
	ToStage         int    `json:"to_stage"`
	FromStatus      string `json:"from_status"`
	ToStatus        string `json:"to_status"`
	RequestID       string `json:"request_id,omitempty"`
	Timestamp       string `json:"timestamp"`
}

// Append inserts the entry into cr_history and queues it on the outbox.
func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	conn := txcontext.Conn(ctx, s.db)

	err := conn.QueryRowContext(ctx, `
		INSERT INTO cr_history (
			change_request_id, actor_id, action, from_stage, to_stage,
			from_status, to_status, note, request_id, client_ip, client_agent, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		entry.ChangeRequestID,
		entry.ActorID,
		string(entry.Action),
		entry.FromStage,
		entry.ToStage,
		entry.FromStatus,
		entry.ToStatus,
		entry.Note,
		entry.RequestID,
		entry.ClientIP,
		entry.ClientAgent,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}

	eventID := uuid.New()
	payload, err := json.Marshal(outboxPayload{
		EventID:         eventID.String(),
		Category:        string(entry.Action.Category()),
		ChangeRequestID: entry.ChangeRequestID,
		ActorID:         entry.ActorID,
		Action:          string(entry.Action),
		FromStage:       entry.FromStage,
		ToStage:         entry.ToStage,
		FromStatus:      entry.FromStatus,
		ToStatus:        entry.ToStatus,
		RequestID:       entry.RequestID,
		Timestamp:       entry.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal history payload: %w", err)
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		eventID,
		"change_request",
		strconv.FormatInt(entry.ChangeRequestID, 10),
		string(entry.Action),
		payload,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListByChangeRequest returns the history of one change request in append order.
func (s *Store) ListByChangeRequest(ctx context.Context, changeRequestID int64) ([]audit.Entry, error) {
	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT id, change_request_id, actor_id, action, from_stage, to_stage,
		       from_status, to_status, note, request_id, client_ip, client_agent, created_at
		FROM cr_history
		WHERE change_request_id = $1
		ORDER BY id ASC
	`, changeRequestID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e      audit.Entry
			action string
		)
		if err := rows.Scan(
			&e.ID,
			&e.ChangeRequestID,
			&e.ActorID,
			&action,
			&e.FromStage,
			&e.ToStage,
			&e.FromStatus,
			&e.ToStatus,
			&e.Note,
			&e.RequestID,
			&e.ClientIP,
			&e.ClientAgent,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Action = audit.Action(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}
