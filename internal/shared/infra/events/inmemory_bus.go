package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
)

// InMemoryEventBus entrega los mensajes de forma síncrona a los handlers del topic.
// Sirve para desarrollo local y tests; no sobrevive a reinicios.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]sharedBus.Handler
	published   []sharedBus.Message
}

var _ sharedBus.EventBus = (*InMemoryEventBus)(nil)

func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{subscribers: make(map[string][]sharedBus.Handler)}
}

// Publish entrega cada mensaje a todos los suscriptores de su topic.
// Los errores de los handlers se agregan y se devuelven para que el llamante reintente.
func (b *InMemoryEventBus) Publish(ctx context.Context, msgs ...sharedBus.Message) error {
	var errs []error
	for _, msg := range msgs {
		if msg.Topic == "" {
			errs = append(errs, fmt.Errorf("message %s has no topic", msg.ID))
			continue
		}

		b.mu.Lock()
		b.published = append(b.published, msg)
		handlers := append([]sharedBus.Handler(nil), b.subscribers[msg.Topic]...)
		b.mu.Unlock()

		for _, h := range handlers {
			if err := h(ctx, msg); err != nil {
				errs = append(errs, fmt.Errorf("deliver %s to %s: %w", msg.ID, msg.Topic, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (b *InMemoryEventBus) Subscribe(topic string, h sharedBus.Handler) error {
	if topic == "" || h == nil {
		return errors.New("subscribe requires a topic and a handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], h)
	return nil
}

// Published devuelve una copia de los mensajes publicados hasta ahora.
func (b *InMemoryEventBus) Published() []sharedBus.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]sharedBus.Message(nil), b.published...)
}
