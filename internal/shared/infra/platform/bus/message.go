package bus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
)

// Cabeceras que acompañan a cada mensaje en el broker.
const (
	HeaderEventID       = "event-id"
	HeaderEventType     = "event-type"
	HeaderTenantID      = "tenant-id"
	HeaderAggregateID   = "aggregate-id"
	HeaderSchemaID      = "schema-id"
	HeaderSchemaVersion = "schema-version"
)

// Envelope es el formato de integración que se escribe en el broker.
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	TenantID      string          `json:"tenant_id,omitempty"`
	AggregateID   string          `json:"aggregate_id,omitempty"`
	SchemaID      string          `json:"schema_id"`
	SchemaVersion int             `json:"schema_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Data          json.RawMessage `json:"data"`
}

// MessageFromRecord traduce un registro del outbox al mensaje que se publica.
// El ID del mensaje es el event_id, que es el token que deduplican los consumidores.
func MessageFromRecord(rec domain.OutboxRecord, topic string) Message {
	msg := Message{
		ID:            rec.EventID,
		Topic:         topic,
		Type:          rec.Type,
		Key:           rec.AggregateID,
		TenantID:      rec.TenantID,
		AggregateID:   rec.AggregateID,
		SchemaID:      rec.SchemaID,
		SchemaVersion: rec.SchemaVersion,
		OccurredAt:    rec.CreatedAt,
		Payload:       rec.Payload,
	}
	if msg.ID == "" {
		msg.ID = rec.ID.String()
	}
	msg.Headers = HeadersFor(msg)
	return msg
}

func HeadersFor(msg Message) map[string]string {
	h := map[string]string{
		HeaderEventID:       msg.ID,
		HeaderEventType:     msg.Type,
		HeaderSchemaID:      msg.SchemaID,
		HeaderSchemaVersion: strconv.Itoa(msg.SchemaVersion),
	}
	if msg.TenantID != "" {
		h[HeaderTenantID] = msg.TenantID
	}
	if msg.AggregateID != "" {
		h[HeaderAggregateID] = msg.AggregateID
	}
	for k, v := range msg.Headers {
		h[k] = v
	}
	return h
}

// EncodeEnvelope serializa el mensaje en el sobre JSON del broker.
func EncodeEnvelope(msg Message) ([]byte, error) {
	return json.Marshal(Envelope{
		ID:            msg.ID,
		Type:          msg.Type,
		TenantID:      msg.TenantID,
		AggregateID:   msg.AggregateID,
		SchemaID:      msg.SchemaID,
		SchemaVersion: msg.SchemaVersion,
		OccurredAt:    msg.OccurredAt.UTC(),
		Data:          msg.Payload,
	})
}

// DecodeEnvelope reconstruye el mensaje a partir del sobre leído del broker.
func DecodeEnvelope(topic string, key, value []byte, headers map[string]string) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.ID == "" {
		env.ID = headers[HeaderEventID]
	}
	if env.Type == "" {
		env.Type = headers[HeaderEventType]
	}
	if env.ID == "" || env.Type == "" {
		return Message{}, fmt.Errorf("decode envelope: missing id or type")
	}
	if env.SchemaVersion <= 0 {
		env.SchemaVersion = domain.DefaultSchemaVersion
	}

	return Message{
		ID:            env.ID,
		Topic:         topic,
		Type:          env.Type,
		Key:           string(key),
		TenantID:      env.TenantID,
		AggregateID:   env.AggregateID,
		SchemaID:      env.SchemaID,
		SchemaVersion: env.SchemaVersion,
		OccurredAt:    env.OccurredAt,
		Payload:       env.Data,
		Headers:       headers,
	}, nil
}

// ResolveTopic busca el topic del tipo de evento en el registro; si no está
// registrado usa defaultTopic y, si tampoco hay, devuelve ErrUnknownEventType.
func ResolveTopic(registry domain.EventRegistry, eventType, defaultTopic string) (string, error) {
	if topic, ok := registry.TopicFor(eventType); ok {
		return topic, nil
	}
	if defaultTopic != "" {
		return defaultTopic, nil
	}
	return "", fmt.Errorf("%w: %s has no topic", domain.ErrUnknownEventType, eventType)
}
