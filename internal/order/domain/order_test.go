package domain

import (
	"encoding/json"
	"testing"

	sharedDomain "github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceOrder_RecordsOrderPlaced(t *testing.T) {
	o, err := PlaceOrder("o-1", "t-1", "c-1", 1500, "eur")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "EUR", o.Currency)
	assert.Equal(t, 0, o.Version())

	events := o.PendingEvents()
	require.Len(t, events, 1)
	placed, ok := events[0].(OrderPlaced)
	require.True(t, ok)
	assert.Equal(t, "o-1", placed.OrderID)
	assert.Equal(t, OrderPlacedEvent, placed.Meta().Name)
	assert.Equal(t, "o-1", placed.Meta().AggregateID)
	assert.Equal(t, "t-1", placed.Meta().TenantID)

	rec, err := sharedDomain.NewOutboxRecord(AggregateType, placed, placed.OccurredAt)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Payload, &payload))
	assert.Equal(t, "o-1", payload["order_id"])
}

func TestPlaceOrder_Validation(t *testing.T) {
	cases := map[string]func() error{
		"empty id":       func() error { _, err := PlaceOrder("", "", "c", 1, "EUR"); return err },
		"empty customer": func() error { _, err := PlaceOrder("o", "", " ", 1, "EUR"); return err },
		"zero amount":    func() error { _, err := PlaceOrder("o", "", "c", 0, "EUR"); return err },
		"bad currency":   func() error { _, err := PlaceOrder("o", "", "c", 1, "EURO"); return err },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, fn(), ErrInvalidOrder)
		})
	}
}

func TestOrder_StateMachine(t *testing.T) {
	o := Rehydrate("o-1", 1, "", "c-1", 100, "EUR", StatusPending, "", fixedTime, fixedTime)

	require.NoError(t, o.Pay("p-1"))
	assert.Equal(t, StatusPaid, o.Status)
	require.Len(t, o.PendingEvents(), 1)

	// Mismo pago: no-op sin evento nuevo.
	require.NoError(t, o.Pay("p-1"))
	assert.Len(t, o.PendingEvents(), 1)

	assert.ErrorIs(t, o.Pay("p-2"), ErrInvalidTransition)

	require.NoError(t, o.Cancel("customer request"))
	assert.Equal(t, StatusCancelled, o.Status)
	assert.ErrorIs(t, o.Cancel("again"), ErrInvalidTransition)
	assert.ErrorIs(t, o.Pay("p-3"), ErrInvalidTransition)

	events := o.PullEvents()
	require.Len(t, events, 2)
	assert.Equal(t, OrderPaidEvent, events[0].Meta().Name)
	assert.Equal(t, OrderCancelledEvent, events[1].Meta().Name)
}

func TestOrderNotFoundIsAggregateNotFound(t *testing.T) {
	assert.ErrorIs(t, ErrOrderNotFound, sharedDomain.ErrAggregateNotFound)
}
