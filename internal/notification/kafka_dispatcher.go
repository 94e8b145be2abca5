package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"changeflow/pkg/platform/circuit"
)

// producer is the subset of *kgo.Client used for publishing.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// recipientsEnvelope is the wire form of Recipients.
type recipientsEnvelope struct {
	Type string  `json:"type"`
	IDs  []int64 `json:"ids,omitempty"`
	Role string  `json:"role,omitempty"`
}

type message struct {
	Notification
	To recipientsEnvelope `json:"recipients"`
}

// KafkaDispatcher publishes notifications to a topic keyed by CR number, so all notices for
// one change request stay ordered on a partition. After repeated broker failures the
// circuit opens and notifications are handed to the fallback dispatcher instead.
type KafkaDispatcher struct {
	producer producer
	topic    string
	breaker  *circuit.Breaker
	fallback Dispatcher
	logger   *slog.Logger
	metrics  *Metrics
}

type KafkaOption func(*KafkaDispatcher)

func WithFallback(d Dispatcher) KafkaOption {
	return func(k *KafkaDispatcher) {
		k.fallback = d
	}
}

func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(k *KafkaDispatcher) {
		k.logger = logger
	}
}

func WithKafkaMetrics(m *Metrics) KafkaOption {
	return func(k *KafkaDispatcher) {
		k.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) KafkaOption {
	return func(k *KafkaDispatcher) {
		k.breaker = b
	}
}

func NewKafkaDispatcher(p producer, topic string, opts ...KafkaOption) *KafkaDispatcher {
	k := &KafkaDispatcher{
		producer: p,
		topic:    topic,
		breaker:  circuit.New("notification-kafka"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *KafkaDispatcher) Notify(ctx context.Context, n Notification) error {
	payload, err := encode(n)
	if err != nil {
		return err
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(n.ChangeRequest.CRNumber),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(n.Kind)},
			{Key: "request_id", Value: []byte(n.RequestID)},
		},
	}

	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		useFallback, change := k.breaker.RecordFailure()
		if change.Opened {
			k.metrics.SetCircuitOpen(true)
			k.logger.WarnContext(ctx, "notification broker circuit opened", "topic", k.topic, "error", err)
		}
		if useFallback && k.fallback != nil {
			return k.fallback.Notify(ctx, n)
		}
		return fmt.Errorf("produce notification: %w", err)
	}

	if _, change := k.breaker.RecordSuccess(); change.Closed {
		k.metrics.SetCircuitOpen(false)
		k.logger.InfoContext(ctx, "notification broker circuit closed", "topic", k.topic)
	}
	return nil
}

func encode(n Notification) ([]byte, error) {
	msg := message{Notification: n}
	switch to := n.Recipients.(type) {
	case Explicit:
		msg.To = recipientsEnvelope{Type: "explicit", IDs: to.IDs}
	case ByRole:
		msg.To = recipientsEnvelope{Type: "role", Role: string(to.Role)}
	default:
		return nil, fmt.Errorf("notification %s has no recipients", n.Kind)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return payload, nil
}
