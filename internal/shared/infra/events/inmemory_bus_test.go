package events

import (
	"context"
	"errors"
	"testing"

	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryEventBus_DeliversByTopic(t *testing.T) {
	bus := NewInMemoryEventBus()

	var orders, payments []string
	require.NoError(t, bus.Subscribe("orders", func(_ context.Context, m sharedBus.Message) error {
		orders = append(orders, m.ID)
		return nil
	}))
	require.NoError(t, bus.Subscribe("payments", func(_ context.Context, m sharedBus.Message) error {
		payments = append(payments, m.ID)
		return nil
	}))

	err := bus.Publish(context.Background(),
		sharedBus.Message{ID: "e-1", Topic: "orders"},
		sharedBus.Message{ID: "e-2", Topic: "payments"},
		sharedBus.Message{ID: "e-3", Topic: "orders"},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"e-1", "e-3"}, orders)
	assert.Equal(t, []string{"e-2"}, payments)
	assert.Len(t, bus.Published(), 3)
}

func TestInMemoryEventBus_ReportsHandlerErrors(t *testing.T) {
	bus := NewInMemoryEventBus()
	boom := errors.New("boom")
	require.NoError(t, bus.Subscribe("orders", func(context.Context, sharedBus.Message) error { return boom }))

	err := bus.Publish(context.Background(), sharedBus.Message{ID: "e-1", Topic: "orders"})
	assert.ErrorIs(t, err, boom)

	err = bus.Publish(context.Background(), sharedBus.Message{ID: "e-2"})
	assert.Error(t, err)

	assert.Error(t, bus.Subscribe("", nil))
}
