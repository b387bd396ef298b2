package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/metrics"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func encoded(t *testing.T, offset int64, msg sharedBus.Message) kafka.Message {
	t.Helper()
	km, err := toKafkaMessage(msg)
	require.NoError(t, err)
	km.Offset = offset
	return km
}

func newTestSubscriber(reader *fakeReader, maxTries uint) *KafkaSubscriber {
	s := NewKafkaSubscriber(SubscriberConfig{
		GroupID:      "order-service",
		MaxTries:     maxTries,
		RetryInitial: time.Millisecond,
		RetryMax:     2 * time.Millisecond,
	}, zap.NewNop())
	s.newReader = func(string) messageReader { return reader }
	return s
}

func TestToKafkaMessage_EnvelopeAndHeaders(t *testing.T) {
	msg := sharedBus.Message{
		ID:            "evt-1",
		Topic:         "orders",
		Type:          "OrderPlaced",
		TenantID:      "t-1",
		AggregateID:   "o-1",
		SchemaID:      "OrderPlaced",
		SchemaVersion: 1,
		OccurredAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:       json.RawMessage(`{"order_id":"o-1"}`),
	}

	km, err := toKafkaMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "orders", km.Topic)
	assert.Equal(t, "o-1", string(km.Key))

	headers := map[string]string{}
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "evt-1", headers[sharedBus.HeaderEventID])
	assert.Equal(t, "OrderPlaced", headers[sharedBus.HeaderEventType])
	assert.Equal(t, "t-1", headers[sharedBus.HeaderTenantID])

	back, err := fromKafkaMessage(km)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, back.ID)
	assert.Equal(t, msg.TenantID, back.TenantID)
	assert.JSONEq(t, string(msg.Payload), string(back.Payload))

	_, err = toKafkaMessage(sharedBus.Message{ID: "no-topic"})
	assert.Error(t, err)
}

func TestKafkaSubscriber_CommitsAfterSuccessfulHandling(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		encoded(t, 1, sharedBus.Message{ID: "e-1", Topic: "payments", Type: "PaymentCaptured", Payload: json.RawMessage(`{}`)}),
		{Topic: "payments", Offset: 2, Value: []byte("garbage")},
		encoded(t, 3, sharedBus.Message{ID: "e-3", Topic: "payments", Type: "PaymentCaptured", Payload: json.RawMessage(`{}`)}),
	}}
	s := newTestSubscriber(reader, 5)

	var (
		mu   sync.Mutex
		seen []string
		fail = true
	)
	require.NoError(t, s.Subscribe("payments", func(_ context.Context, m sharedBus.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m.ID)
		if m.ID == "e-3" && fail {
			fail = false
			return errors.New("transient")
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.Committed()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.NoError(t, s.Health(context.Background()))

	assert.Equal(t, []int64{1, 2, 3}, reader.Committed())
	mu.Lock()
	assert.Equal(t, []string{"e-1", "e-3", "e-3"}, seen)
	mu.Unlock()
	assert.True(t, reader.closed)
}

func TestKafkaSubscriber_StopsWithoutCommitWhenRetriesExhausted(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		encoded(t, 7, sharedBus.Message{ID: "e-7", Topic: "payments", Type: "PaymentCaptured", Payload: json.RawMessage(`{}`)}),
	}}
	s := newTestSubscriber(reader, 3)

	calls := 0
	require.NoError(t, s.Subscribe("payments", func(context.Context, sharedBus.Message) error {
		calls++
		return errors.New("always failing")
	}))

	err := s.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Empty(t, reader.Committed())
}

func TestKafkaSubscriber_StoppedTopicIsReported(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		encoded(t, 7, sharedBus.Message{ID: "e-7", Topic: "payments", Type: "PaymentCaptured", Payload: json.RawMessage(`{}`)}),
	}}
	m := metrics.New("test")
	s := newTestSubscriber(reader, 1)
	WithSubscriberMetrics(m)(s)

	require.NoError(t, s.Health(context.Background()))
	require.NoError(t, s.Subscribe("payments", func(context.Context, sharedBus.Message) error {
		return errors.New("poison")
	}))
	require.Error(t, s.Run(context.Background()))

	err := s.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer for payments stopped")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `test_consumer_up{topic="payments"} 0`)
}

func TestKafkaSubscriber_RejectsDuplicateTopic(t *testing.T) {
	s := newTestSubscriber(&fakeReader{}, 1)
	h := func(context.Context, sharedBus.Message) error { return nil }
	require.NoError(t, s.Subscribe("payments", h))
	assert.Error(t, s.Subscribe("payments", h))
}

func TestKafka_Integration(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_BROKERS no definido, se omite el test de integración")
	}
	addrs := strings.Split(brokers, ",")
	topic := "txmessaging-it-" + uuid.NewString()[:8]

	pub := NewKafkaPublisher(NewKafkaWriter(addrs), zap.NewNop())
	defer pub.Close()

	msg := sharedBus.Message{
		ID: uuid.NewString(), Topic: topic, Type: "OrderPlaced", Key: "o-1",
		SchemaVersion: 1, OccurredAt: time.Now().UTC(), Payload: json.RawMessage(`{"order_id":"o-1"}`),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.Eventually(t, func() bool { return pub.Publish(ctx, msg) == nil }, 20*time.Second, time.Second)

	sub := NewKafkaSubscriber(SubscriberConfig{Brokers: addrs, GroupID: "it-" + topic, MaxTries: 1}, zap.NewNop())
	got := make(chan sharedBus.Message, 1)
	require.NoError(t, sub.Subscribe(topic, func(_ context.Context, m sharedBus.Message) error {
		select {
		case got <- m:
		default:
		}
		return nil
	}))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = sub.Run(runCtx) }()

	select {
	case m := <-got:
		assert.Equal(t, msg.ID, m.ID)
		assert.Equal(t, "o-1", m.Key)
	case <-ctx.Done():
		t.Fatal("no se recibió el mensaje publicado")
	}
}
