package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mssola/useragent"

	"changeflow/pkg/requestcontext"
)

// Recorder appends history entries with fail-closed semantics: the write is synchronous and
// runs inside the caller's transaction, so a failed append aborts the state change.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// NewRecorder creates a history recorder backed by store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record validates and appends entry, enriching it with request metadata from ctx.
// Returns an error if persistence fails; the caller MUST fail its operation.
func (r *Recorder) Record(ctx context.Context, entry Entry) (*Entry, error) {
	start := time.Now()

	if entry.ChangeRequestID == 0 {
		return nil, fmt.Errorf("history entry requires ChangeRequestID")
	}
	if !entry.Action.IsValid() {
		return nil, fmt.Errorf("history entry has unknown action %q", entry.Action)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = requestcontext.Now(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	entry.ClientIP = requestcontext.ClientIP(ctx)
	entry.ClientAgent = describeAgent(requestcontext.UserAgent(ctx))

	if err := r.store.Append(ctx, &entry); err != nil {
		if r.metrics != nil {
			r.metrics.IncPersistFailures()
		}
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "CRITICAL: change request history append failed",
				"action", entry.Action,
				"change_request_id", entry.ChangeRequestID,
				"error", err,
			)
		}
		return nil, fmt.Errorf("history persistence failed: %w", err)
	}

	if r.metrics != nil {
		r.metrics.ObservePersistDuration(time.Since(start).Seconds())
		r.metrics.IncRecorded(entry.Action)
	}
	return &entry, nil
}

// List returns the history of one change request in append order.
func (r *Recorder) List(ctx context.Context, changeRequestID int64) ([]Entry, error) {
	return r.store.ListByChangeRequest(ctx, changeRequestID)
}

// describeAgent condenses a raw User-Agent header into "browser version / os".
func describeAgent(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		return "bot"
	}
	name, version := ua.Browser()
	if name == "" {
		return ua.OS()
	}
	if os := ua.OS(); os != "" {
		return name + " " + version + " / " + os
	}
	return name + " " + version
}
