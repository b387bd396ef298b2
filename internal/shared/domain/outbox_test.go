package domain

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type richEvent struct {
	EventMeta
	Ref    uuid.UUID `json:"ref"`
	At     time.Time `json:"at"`
	Amount float64   `json:"amount"`
}

func TestNewOutboxRecord_NormalizesPayload(t *testing.T) {
	ref := uuid.MustParse("5b8f7a64-2a5e-4c43-9d8e-4f1f0a0a9c11")
	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	evt := richEvent{
		EventMeta: NewEventMeta("RichEvent", "tenant-a", "agg-1"),
		Ref:       ref,
		At:        at,
		Amount:    12.5,
	}
	now := time.Date(2026, 3, 1, 11, 0, 0, 0, time.FixedZone("CET", 3600))

	rec, err := NewOutboxRecord("rich", evt, now)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.NotEqual(t, evt.EventID, rec.ID.String())
	assert.Equal(t, evt.EventID, rec.EventID)
	assert.Equal(t, "RichEvent", rec.Type)
	assert.Equal(t, "tenant-a", rec.TenantID)
	assert.Equal(t, "agg-1", rec.AggregateID)
	assert.Equal(t, "rich", rec.AggregateType)
	assert.Equal(t, OutboxPending, rec.Status)
	assert.Equal(t, 0, rec.AttemptCount)
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
	assert.Equal(t, rec.CreatedAt, rec.NextAttemptAt)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Payload, &payload))
	assert.Equal(t, ref.String(), payload["ref"])
	assert.Equal(t, "2026-03-01T10:30:00Z", payload["at"])
	assert.Equal(t, 12.5, payload["amount"])
	assert.Equal(t, evt.EventID, payload["event_id"])
}

func TestNewOutboxRecord_RequiresName(t *testing.T) {
	_, err := NewOutboxRecord("rich", richEvent{}, time.Now())
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestOutboxStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to OutboxStatus
		allowed  bool
	}{
		{OutboxPending, OutboxPublished, true},
		{OutboxPending, OutboxFailed, true},
		{OutboxFailed, OutboxPending, true},
		{OutboxPublished, OutboxPending, false},
		{OutboxPublished, OutboxFailed, false},
		{OutboxFailed, OutboxPublished, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
	assert.False(t, OutboxStatus("PROCESSING").IsValid())
}

func TestEventRegistry_DecodeAndTopic(t *testing.T) {
	registry := EventRegistry{
		"RichEvent": {Type: reflect.TypeOf(richEvent{}), Topic: "rich"},
	}.Merge(EventRegistry{"Other": {Topic: "other"}})

	topic, ok := registry.TopicFor("RichEvent")
	assert.True(t, ok)
	assert.Equal(t, "rich", topic)

	_, ok = registry.TopicFor("Missing")
	assert.False(t, ok)

	decoded, err := registry.Decode("RichEvent", []byte(`{"name":"RichEvent","amount":3}`))
	require.NoError(t, err)
	evt, ok := decoded.(*richEvent)
	require.True(t, ok)
	assert.Equal(t, 3.0, evt.Amount)

	_, err = registry.Decode("Other", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEventType)
}
