package domain

import (
	"fmt"

	sharedDomain "github.com/davicafu/txmessaging/internal/shared/domain"
)

var (
	ErrOrderNotFound     = fmt.Errorf("order: %w", sharedDomain.ErrAggregateNotFound)
	ErrInvalidOrder      = fmt.Errorf("invalid order: %w", sharedDomain.ErrValidation)
	ErrInvalidTransition = fmt.Errorf("order: %w", sharedDomain.ErrInvalidStateTransition)
)

// OrderRepository es el repositorio de pedidos que registra la Unit of Work.
type OrderRepository = sharedDomain.Repository[*Order]

// OrderView es la proyección de lectura que se cachea y se devuelve por HTTP.
type OrderView struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id,omitempty"`
	CustomerID  string      `json:"customer_id"`
	AmountCents int64       `json:"amount_cents"`
	Currency    string      `json:"currency"`
	Status      OrderStatus `json:"status"`
	PaymentID   string      `json:"payment_id,omitempty"`
	Version     int         `json:"version"`
}

func (o *Order) View() OrderView {
	return OrderView{
		ID:          o.AggregateID(),
		TenantID:    o.TenantID,
		CustomerID:  o.CustomerID,
		AmountCents: o.AmountCents,
		Currency:    o.Currency,
		Status:      o.Status,
		PaymentID:   o.PaymentID,
		Version:     o.Version(),
	}
}

func OrderCacheKeyByID(tenantID, id string) string {
	return fmt.Sprintf("order:%s:id:%s", tenantID, id)
}
