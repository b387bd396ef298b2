package events

// Contratos de integración publicados por el servicio de pagos.
// No son entidades del dominio: se definen planos para intercambio entre contextos.

const (
	PaymentTopic         = "payments"
	PaymentCapturedEvent = "PaymentCaptured"
)

type PaymentCaptured struct {
	PaymentID   string `json:"payment_id"`
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}
