package notification

import (
	"context"
	"log/slog"
)

// LogDispatcher writes notifications to the structured log. Used when no broker is
// configured and as the fallback while the broker circuit is open.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Notify(ctx context.Context, n Notification) error {
	attrs := []any{
		"notification_id", n.ID.String(),
		"kind", n.Kind,
		"cr_number", n.ChangeRequest.CRNumber,
		"stage", n.ChangeRequest.CurrentStage,
		"status", n.ChangeRequest.CurrentStatus,
		"request_id", n.RequestID,
	}
	switch to := n.Recipients.(type) {
	case Explicit:
		attrs = append(attrs, "recipient_ids", to.IDs)
	case ByRole:
		attrs = append(attrs, "recipient_role", to.Role)
	}
	d.logger.InfoContext(ctx, "notification", attrs...)
	return nil
}
