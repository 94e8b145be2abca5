package audit

import "context"

// Store persists history entries. Implementations must be append-only: there is no
// update or delete.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	ListByChangeRequest(ctx context.Context, changeRequestID int64) ([]Entry, error)
}
