package bus

import (
	"context"
	"encoding/json"
	"time"
)

// Keyer lo implementan los valores que saben su clave de partición.
type Keyer interface {
	PartitionKey() string
}

// Message es la unidad que viaja por el bus. Payload es el snapshot JSON del evento.
type Message struct {
	ID            string
	Topic         string
	Type          string
	Key           string
	TenantID      string
	AggregateID   string
	SchemaID      string
	SchemaVersion int
	OccurredAt    time.Time
	Payload       json.RawMessage
	Headers       map[string]string
}

func (m Message) PartitionKey() string {
	if m.Key != "" {
		return m.Key
	}
	return m.AggregateID
}

// Handler procesa un mensaje entrante. Un error indica que el mensaje no debe confirmarse.
type Handler func(ctx context.Context, msg Message) error

// EventBus es el puerto de publicación/suscripción.
// Publish es at-least-once: devuelve error si algún mensaje no pudo entregarse,
// para que el publicador del outbox aplique su política de reintentos.
// Subscribe solo lo usan los adaptadores de entrada, nunca el núcleo transaccional.
type EventBus interface {
	Publish(ctx context.Context, msgs ...Message) error
	Subscribe(topic string, h Handler) error
}
