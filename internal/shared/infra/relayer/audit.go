package relayer

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeliveryOutcome es el resultado terminal de un registro del outbox.
type DeliveryOutcome string

const (
	DeliveryPublished    DeliveryOutcome = "PUBLISHED"
	DeliveryDeadLettered DeliveryOutcome = "DEAD_LETTERED"
)

// Delivery es una fila del log de auditoría de entregas.
type Delivery struct {
	OutboxID    uuid.UUID
	EventID     string
	EventType   string
	Topic       string
	TenantID    string
	AggregateID string
	Outcome     DeliveryOutcome
	Attempts    int
	LastError   string
	WorkerID    string
	At          time.Time
}

// Auditor recibe los resultados terminales de cada pasada del relayer.
type Auditor interface {
	LogBatch(ctx context.Context, deliveries []Delivery) error
}
