package mocks

import (
	"context"

	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
	"github.com/stretchr/testify/mock"
)

// MockEventBus simula el bus. Cada mensaje publicado se registra como una llamada a Publish.
type MockEventBus struct {
	mock.Mock
}

var _ sharedBus.EventBus = (*MockEventBus)(nil)

func (m *MockEventBus) Publish(ctx context.Context, msgs ...sharedBus.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockEventBus) Subscribe(topic string, h sharedBus.Handler) error {
	args := m.Called(topic, h)
	return args.Error(0)
}
