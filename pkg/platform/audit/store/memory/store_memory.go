package memory

import (
	"context"
	"sync"

	audit "changeflow/pkg/platform/audit"
)

// InMemoryStore keeps history entries per change request. Ids are assigned on append.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries map[int64][]audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[int64][]audit.Entry)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = 0
	s.entries = make(map[int64][]audit.Entry)
}

func (s *InMemoryStore) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	s.entries[entry.ChangeRequestID] = append(s.entries[entry.ChangeRequestID], *entry)
	return nil
}

func (s *InMemoryStore) ListByChangeRequest(_ context.Context, changeRequestID int64) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry{}, s.entries[changeRequestID]...), nil
}

// Count returns the total number of entries across all change requests.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.entries {
		n += len(list)
	}
	return n
}
