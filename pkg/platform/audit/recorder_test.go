package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "changeflow/pkg/platform/audit"
	"changeflow/pkg/platform/audit/store/memory"
	"changeflow/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Append(context.Context, *audit.Entry) error {
	return errors.New("disk full")
}

func (failingStore) ListByChangeRequest(context.Context, int64) ([]audit.Entry, error) {
	return nil, nil
}

func TestRecorder_RecordEnrichesFromContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	rec := audit.NewRecorder(store)

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-1")
	ctx = requestcontext.WithClientMetadata(ctx, "10.0.0.7",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	entry, err := rec.Record(ctx, audit.Entry{
		ChangeRequestID: 7,
		ActorID:         42,
		Action:          audit.ActionApproved,
		FromStage:       1,
		ToStage:         2,
		FromStatus:      "pending",
		ToStatus:        "pending",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.ID)
	assert.Equal(t, now, entry.CreatedAt)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, "10.0.0.7", entry.ClientIP)
	assert.Contains(t, entry.ClientAgent, "Chrome")

	entries, err := rec.List(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionApproved, entries[0].Action)
}

func TestRecorder_RejectsInvalidEntries(t *testing.T) {
	rec := audit.NewRecorder(memory.NewInMemoryStore())

	t.Run("missing change request", func(t *testing.T) {
		_, err := rec.Record(context.Background(), audit.Entry{Action: audit.ActionCreated})
		require.Error(t, err)
	})

	t.Run("unknown action", func(t *testing.T) {
		_, err := rec.Record(context.Background(), audit.Entry{ChangeRequestID: 1, Action: "teleported"})
		require.Error(t, err)
	})
}

func TestRecorder_FailsClosed(t *testing.T) {
	rec := audit.NewRecorder(failingStore{})

	_, err := rec.Record(context.Background(), audit.Entry{ChangeRequestID: 1, Action: audit.ActionClosed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history persistence failed")
}

func TestRecorder_ConcurrentAppendsKeepOrderPerRequest(t *testing.T) {
	store := memory.NewInMemoryStore()
	rec := audit.NewRecorder(store)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(cr int64) {
			defer wg.Done()
			_, err := rec.Record(context.Background(), audit.Entry{ChangeRequestID: cr, Action: audit.ActionUpdated})
			assert.NoError(t, err)
		}(int64(i%2 + 1))
	}
	wg.Wait()

	assert.Equal(t, 20, store.Count())
	entries, err := rec.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].ID, entries[i-1].ID)
	}
}

func TestAction_Category(t *testing.T) {
	assert.Equal(t, audit.CategoryCompliance, audit.ActionApproved.Category())
	assert.Equal(t, audit.CategoryCompliance, audit.ActionDeleted.Category())
	assert.Equal(t, audit.CategoryOperations, audit.ActionQAChecklistAdded.Category())
	assert.Equal(t, audit.CategoryOperations, audit.Action("unknown").Category())
	assert.False(t, audit.Action("unknown").IsValid())
}
