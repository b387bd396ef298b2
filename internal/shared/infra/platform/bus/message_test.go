package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageFromRecord_UsesEventIDAndAggregateKey(t *testing.T) {
	rec := domain.OutboxRecord{
		ID:            uuid.New(),
		EventID:       "evt-1",
		TenantID:      "tenant-a",
		AggregateID:   "o-1",
		Type:          "OrderPlaced",
		Payload:       json.RawMessage(`{"order_id":"o-1"}`),
		SchemaID:      "OrderPlaced",
		SchemaVersion: 2,
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	msg := MessageFromRecord(rec, "orders")

	assert.Equal(t, "evt-1", msg.ID)
	assert.Equal(t, "orders", msg.Topic)
	assert.Equal(t, "o-1", msg.PartitionKey())
	assert.Equal(t, "2", msg.Headers[HeaderSchemaVersion])
	assert.Equal(t, "tenant-a", msg.Headers[HeaderTenantID])
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(msg.Payload))
}

func TestMessageFromRecord_FallsBackToRecordID(t *testing.T) {
	rec := domain.OutboxRecord{ID: uuid.New(), Type: "OrderPlaced", SchemaVersion: 1}

	msg := MessageFromRecord(rec, "orders")

	assert.Equal(t, rec.ID.String(), msg.ID)
	_, hasTenant := msg.Headers[HeaderTenantID]
	assert.False(t, hasTenant)
}

func TestEnvelope_RoundTrip(t *testing.T) {
	msg := Message{
		ID:            "evt-1",
		Type:          "PaymentCaptured",
		TenantID:      "tenant-a",
		AggregateID:   "p-1",
		SchemaID:      "PaymentCaptured",
		SchemaVersion: 1,
		OccurredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload:       json.RawMessage(`{"order_id":"o-1","amount":10}`),
	}

	raw, err := EncodeEnvelope(msg)
	require.NoError(t, err)

	got, err := DecodeEnvelope("payments", []byte("p-1"), raw, nil)
	require.NoError(t, err)

	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, msg.TenantID, got.TenantID)
	assert.Equal(t, "payments", got.Topic)
	assert.Equal(t, "p-1", got.Key)
	assert.True(t, msg.OccurredAt.Equal(got.OccurredAt))
	assert.JSONEq(t, string(msg.Payload), string(got.Payload))
}

func TestDecodeEnvelope_HeadersFillMissingFields(t *testing.T) {
	headers := map[string]string{HeaderEventID: "evt-9", HeaderEventType: "PaymentCaptured"}

	got, err := DecodeEnvelope("payments", nil, []byte(`{"data":{}}`), headers)
	require.NoError(t, err)
	assert.Equal(t, "evt-9", got.ID)
	assert.Equal(t, domain.DefaultSchemaVersion, got.SchemaVersion)

	_, err = DecodeEnvelope("payments", nil, []byte(`{"data":{}}`), nil)
	assert.Error(t, err)

	_, err = DecodeEnvelope("payments", nil, []byte(`not-json`), nil)
	assert.Error(t, err)
}

func TestResolveTopic(t *testing.T) {
	registry := domain.EventRegistry{"OrderPlaced": {Topic: "orders"}}

	topic, err := ResolveTopic(registry, "OrderPlaced", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "orders", topic)

	topic, err = ResolveTopic(registry, "Unknown", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", topic)

	_, err = ResolveTopic(registry, "Unknown", "")
	assert.ErrorIs(t, err, domain.ErrUnknownEventType)
}
