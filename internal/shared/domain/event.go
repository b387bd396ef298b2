package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSchemaVersion es la versión de esquema asignada cuando el evento no declara otra.
const DefaultSchemaVersion = 1

// EventMeta agrupa los metadatos comunes de todo evento de dominio.
// Los eventos concretos la embeben para que sus campos se serialicen junto al payload.
type EventMeta struct {
	EventID       string    `json:"event_id"`
	Name          string    `json:"name"`
	OccurredAt    time.Time `json:"occurred_at"`
	TenantID      string    `json:"tenant_id,omitempty"`
	AggregateID   string    `json:"aggregate_id,omitempty"`
	SchemaID      string    `json:"schema_id"`
	SchemaVersion int       `json:"schema_version"`
}

// Meta devuelve una copia de los metadatos. Satisface Event para cualquier tipo que embeba EventMeta.
func (m EventMeta) Meta() EventMeta {
	return m
}

// Event es un hecho inmutable producido por un agregado.
type Event interface {
	Meta() EventMeta
}

// NewEventMeta construye metadatos con un event_id nuevo y occurred_at en UTC.
// El schema_id por defecto es el propio nombre del evento.
func NewEventMeta(name, tenantID, aggregateID string) EventMeta {
	return EventMeta{
		EventID:       uuid.NewString(),
		Name:          name,
		OccurredAt:    time.Now().UTC(),
		TenantID:      tenantID,
		AggregateID:   aggregateID,
		SchemaID:      name,
		SchemaVersion: DefaultSchemaVersion,
	}
}
