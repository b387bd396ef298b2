package domain

import (
	"fmt"
	"strings"
	"time"

	sharedDomain "github.com/davicafu/txmessaging/internal/shared/domain"
)

// AggregateType identifica a Order en la Unit of Work y en el outbox.
const AggregateType = "order"

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPaid      OrderStatus = "PAID"
	StatusCancelled OrderStatus = "CANCELLED"
)

type Order struct {
	sharedDomain.AggregateRoot

	TenantID    string
	CustomerID  string
	AmountCents int64
	Currency    string
	Status      OrderStatus
	PaymentID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PlaceOrder crea un pedido PENDING y registra OrderPlaced.
func PlaceOrder(id, tenantID, customerID string, amountCents int64, currency string) (*Order, error) {
	id = strings.TrimSpace(id)
	customerID = strings.TrimSpace(customerID)
	currency = strings.ToUpper(strings.TrimSpace(currency))

	switch {
	case id == "":
		return nil, fmt.Errorf("%w: id is required", ErrInvalidOrder)
	case customerID == "":
		return nil, fmt.Errorf("%w: customer_id is required", ErrInvalidOrder)
	case amountCents <= 0:
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	case len(currency) != 3:
		return nil, fmt.Errorf("%w: currency must be an ISO-4217 code", ErrInvalidOrder)
	}

	now := time.Now().UTC()
	o := &Order{
		AggregateRoot: sharedDomain.NewAggregateRoot(id),
		TenantID:      tenantID,
		CustomerID:    customerID,
		AmountCents:   amountCents,
		Currency:      currency,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.Record(OrderPlaced{
		EventMeta:   sharedDomain.NewEventMeta(OrderPlacedEvent, tenantID, id),
		OrderID:     id,
		CustomerID:  customerID,
		AmountCents: amountCents,
		Currency:    currency,
	})
	return o, nil
}

// Rehydrate reconstruye un pedido persistido sin registrar eventos.
func Rehydrate(id string, version int, tenantID, customerID string, amountCents int64, currency string,
	status OrderStatus, paymentID string, createdAt, updatedAt time.Time) *Order {
	return &Order{
		AggregateRoot: sharedDomain.RehydrateAggregateRoot(id, version),
		TenantID:      tenantID,
		CustomerID:    customerID,
		AmountCents:   amountCents,
		Currency:      currency,
		Status:        status,
		PaymentID:     paymentID,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

func (o *Order) AggregateType() string {
	return AggregateType
}

func (o *Order) PartitionKey() string {
	return o.AggregateID()
}

// --- Métodos de dominio ---

// Pay marca el pedido como pagado. Repetir el mismo pago es un no-op.
func (o *Order) Pay(paymentID string) error {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return fmt.Errorf("%w: payment_id is required", ErrInvalidOrder)
	}
	if o.Status == StatusPaid && o.PaymentID == paymentID {
		return nil
	}
	if o.Status != StatusPending {
		return fmt.Errorf("%w: cannot pay order in status %s", ErrInvalidTransition, o.Status)
	}

	o.Status = StatusPaid
	o.PaymentID = paymentID
	o.UpdatedAt = time.Now().UTC()
	o.Record(OrderPaid{
		EventMeta:   sharedDomain.NewEventMeta(OrderPaidEvent, o.TenantID, o.AggregateID()),
		OrderID:     o.AggregateID(),
		PaymentID:   paymentID,
		AmountCents: o.AmountCents,
		Currency:    o.Currency,
	})
	return nil
}

func (o *Order) Cancel(reason string) error {
	if o.Status == StatusCancelled {
		return fmt.Errorf("%w: order already cancelled", ErrInvalidTransition)
	}

	o.Status = StatusCancelled
	o.UpdatedAt = time.Now().UTC()
	o.Record(OrderCancelled{
		EventMeta: sharedDomain.NewEventMeta(OrderCancelledEvent, o.TenantID, o.AggregateID()),
		OrderID:   o.AggregateID(),
		Reason:    strings.TrimSpace(reason),
	})
	return nil
}

var _ sharedDomain.Aggregate = (*Order)(nil)
