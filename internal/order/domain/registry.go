package domain

import (
	"reflect"

	sharedDomain "github.com/davicafu/txmessaging/internal/shared/domain"
)

const OrderTopic = "orders"

func NewEventRegistry() sharedDomain.EventRegistry {
	return sharedDomain.EventRegistry{
		OrderPlacedEvent: {
			Type:  reflect.TypeOf(OrderPlaced{}),
			Topic: OrderTopic,
		},
		OrderPaidEvent: {
			Type:  reflect.TypeOf(OrderPaid{}),
			Topic: OrderTopic,
		},
		OrderCancelledEvent: {
			Type:  reflect.TypeOf(OrderCancelled{}),
			Topic: OrderTopic,
		},
	}
}
