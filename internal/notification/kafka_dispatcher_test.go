package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"changeflow/internal/changerequest/models"
	"changeflow/pkg/platform/circuit"
)

type fakeProducer struct {
	err     error
	records []*kgo.Record
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.records = append(p.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

type countingDispatcher struct {
	calls int
}

func (d *countingDispatcher) Notify(context.Context, Notification) error {
	d.calls++
	return nil
}

func testNotification(to Recipients) Notification {
	cr := &models.ChangeRequest{ID: 3, CRNumber: "CR-2026-0003", CurrentStage: models.StageQA}
	n := New(KindTestConfirmed, cr, to, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	n.RequestID = "req-1"
	return n
}

func TestKafkaDispatcher_PublishesKeyedRecord(t *testing.T) {
	p := &fakeProducer{}
	d := NewKafkaDispatcher(p, "cr-notifications")

	require.NoError(t, d.Notify(context.Background(), testNotification(ByRole{Role: models.RoleQAOfficer})))
	require.Len(t, p.records, 1)

	rec := p.records[0]
	assert.Equal(t, "cr-notifications", rec.Topic)
	assert.Equal(t, []byte("CR-2026-0003"), rec.Key)

	var decoded struct {
		Kind       string             `json:"kind"`
		Recipients recipientsEnvelope `json:"recipients"`
		RequestID  string             `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, "CR_TEST_CONFIRMED", decoded.Kind)
	assert.Equal(t, recipientsEnvelope{Type: "role", Role: "qa_officer"}, decoded.Recipients)
	assert.Equal(t, "req-1", decoded.RequestID)
}

func TestKafkaDispatcher_FallsBackWhenCircuitOpens(t *testing.T) {
	p := &fakeProducer{err: errors.New("broker unreachable")}
	fallback := &countingDispatcher{}
	d := NewKafkaDispatcher(p, "cr-notifications",
		WithFallback(fallback),
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2))),
	)

	n := testNotification(To(10))
	require.Error(t, d.Notify(context.Background(), n))
	assert.Equal(t, 0, fallback.calls)

	require.NoError(t, d.Notify(context.Background(), n))
	assert.Equal(t, 1, fallback.calls)
	assert.True(t, d.breaker.IsOpen())

	p.err = nil
	require.NoError(t, d.Notify(context.Background(), n))
	require.NoError(t, d.Notify(context.Background(), n))
	assert.False(t, d.breaker.IsOpen())
}

func TestKafkaDispatcher_RejectsMissingRecipients(t *testing.T) {
	d := NewKafkaDispatcher(&fakeProducer{}, "t")
	require.Error(t, d.Notify(context.Background(), testNotification(nil)))
}
