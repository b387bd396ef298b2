package domain

import sharedDomain "github.com/davicafu/txmessaging/internal/shared/domain"

// Nombres de los eventos, usados como "type" en el outbox.
const (
	OrderPlacedEvent    = "OrderPlaced"
	OrderPaidEvent      = "OrderPaid"
	OrderCancelledEvent = "OrderCancelled"
)

type OrderPlaced struct {
	sharedDomain.EventMeta
	OrderID     string `json:"order_id"`
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type OrderPaid struct {
	sharedDomain.EventMeta
	OrderID     string `json:"order_id"`
	PaymentID   string `json:"payment_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type OrderCancelled struct {
	sharedDomain.EventMeta
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}
