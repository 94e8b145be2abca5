// Package worker relays committed history entries from the outbox table to a message broker.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
)

// Publisher delivers one outbox payload keyed by aggregate id.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Message is one claimed outbox row.
type Message struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
}

var (
	relayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changeflow_outbox_relayed_total",
		Help: "Outbox rows published to the broker, by event type",
	}, []string{"event_type"})
	relayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "changeflow_outbox_relay_failures_total",
		Help: "Outbox batches left unprocessed after a publish failure",
	})
)

// Relay polls the outbox and publishes unprocessed rows by their seq column. Writes to one
// change request hold its row lock, so seq order is commit order per change request. Rows
// are claimed with FOR UPDATE SKIP LOCKED so several relays can run side by side; a row is
// marked processed only after the broker acknowledged it.
type Relay struct {
	db           *sql.DB
	publisher    Publisher
	logger       *slog.Logger
	batchSize    int
	pollInterval time.Duration
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

func NewRelay(db *sql.DB, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		db:           db,
		publisher:    publisher,
		logger:       slog.Default(),
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n, err := r.ProcessOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			relayFailures.Inc()
			r.logger.WarnContext(ctx, "outbox relay tick failed", "error", err)
			continue
		}
		if n > 0 {
			r.logger.DebugContext(ctx, "outbox rows relayed", "count", n)
		}
	}
}

// ProcessOnce relays one batch and returns how many rows were marked processed. Rows after
// the first publish failure stay unprocessed so per-aggregate order is kept.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	msgs, err := claim(ctx, tx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	done := make([]uuid.UUID, 0, len(msgs))
	var publishErr error
	for _, m := range msgs {
		if publishErr = r.publisher.Publish(ctx, m.AggregateID, m.Payload); publishErr != nil {
			break
		}
		relayedTotal.WithLabelValues(m.EventType).Inc()
		done = append(done, m.ID)
	}

	if len(done) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox SET processed_at = now() WHERE id = ANY($1)`,
			pq.Array(uuidStrings(done)),
		); err != nil {
			return 0, fmt.Errorf("mark outbox processed: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox tx: %w", err)
	}
	if publishErr != nil {
		return len(done), fmt.Errorf("publish outbox row: %w", publishErr)
	}
	return len(done), nil
}

func claim(ctx context.Context, tx *sql.Tx, limit int) ([]Message, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox rows: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.AggregateID, &m.EventType, &m.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
