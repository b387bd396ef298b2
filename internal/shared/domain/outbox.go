package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus representa el ciclo de vida de un registro del outbox.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

func (s OutboxStatus) IsValid() bool {
	switch s {
	case OutboxPending, OutboxPublished, OutboxFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo indica si el paso de s a next está permitido.
// FAILED -> PENDING solo ocurre al reencolar manualmente un dead-letter.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	switch s {
	case OutboxPending:
		return next == OutboxPublished || next == OutboxFailed
	case OutboxFailed:
		return next == OutboxPending
	default:
		return false
	}
}

// OutboxRecord representa un evento pendiente de publicar en el broker.
type OutboxRecord struct {
	ID            uuid.UUID       `json:"id"`
	EventID       string          `json:"event_id"`
	TenantID      string          `json:"tenant_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id,omitempty"`
	Type          string          `json:"type"` // nombre del evento, ej. "OrderPlaced"
	Payload       json.RawMessage `json:"payload"`
	SchemaID      string          `json:"schema_id"`
	SchemaVersion int             `json:"schema_version"`
	Status        OutboxStatus    `json:"status"`
	AttemptCount  int             `json:"attempt_count"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
	ClaimedBy     string          `json:"claimed_by,omitempty"`
	ClaimedUntil  *time.Time      `json:"claimed_until,omitempty"`
}

// NewOutboxRecord captura un evento como registro PENDING.
// El payload es el snapshot JSON del evento: UUID y fechas quedan como strings.
func NewOutboxRecord(aggregateType string, evt Event, now time.Time) (OutboxRecord, error) {
	meta := evt.Meta()
	if meta.Name == "" {
		return OutboxRecord{}, fmt.Errorf("%w: event without name", ErrUnknownEventType)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return OutboxRecord{}, fmt.Errorf("marshal event %s: %w", meta.Name, err)
	}

	schemaVersion := meta.SchemaVersion
	if schemaVersion <= 0 {
		schemaVersion = DefaultSchemaVersion
	}
	schemaID := meta.SchemaID
	if schemaID == "" {
		schemaID = meta.Name
	}

	now = now.UTC()
	return OutboxRecord{
		ID:            uuid.New(),
		EventID:       meta.EventID,
		TenantID:      meta.TenantID,
		AggregateType: aggregateType,
		AggregateID:   meta.AggregateID,
		Type:          meta.Name,
		Payload:       payload,
		SchemaID:      schemaID,
		SchemaVersion: schemaVersion,
		Status:        OutboxPending,
		CreatedAt:     now,
		NextAttemptAt: now,
	}, nil
}
