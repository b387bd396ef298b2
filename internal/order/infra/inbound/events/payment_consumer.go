package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/davicafu/txmessaging/internal/shared/application/inbox"
	"github.com/davicafu/txmessaging/internal/shared/application/uow"
	sharedEvents "github.com/davicafu/txmessaging/internal/shared/events"
	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
	sharedUtils "github.com/davicafu/txmessaging/internal/shared/infra/utils"
)

// ConsumerGroup es el grupo con el que el servicio de pedidos deduplica en el inbox.
const ConsumerGroup = "order-service"

// OrderService es lo que el consumidor necesita del servicio de pedidos.
type OrderService interface {
	ApplyPayment(ctx context.Context, u *uow.UnitOfWork, tenantID string, evt sharedEvents.PaymentCaptured) error
	InvalidateOrder(ctx context.Context, tenantID, id string)
}

// PaymentConsumer aplica los eventos del topic de pagos una sola vez por event_id.
type PaymentConsumer struct {
	inbox   *inbox.Processor
	service OrderService
	log     *zap.Logger
}

func NewPaymentConsumer(processor *inbox.Processor, service OrderService, log *zap.Logger) *PaymentConsumer {
	return &PaymentConsumer{inbox: processor, service: service, log: log}
}

// Register suscribe el consumidor al topic de pagos del bus.
func (c *PaymentConsumer) Register(bus sharedBus.EventBus) error {
	return bus.Subscribe(sharedEvents.PaymentTopic, c.HandleMessage)
}

// HandleMessage es el bus.Handler del topic de pagos. Un error devuelto hace que
// el transporte vuelva a entregar el mensaje.
func (c *PaymentConsumer) HandleMessage(ctx context.Context, msg sharedBus.Message) error {
	if msg.Type != sharedEvents.PaymentCapturedEvent {
		c.log.Debug("Ignoring payment event", zap.String("type", msg.Type), zap.String("event_id", msg.ID))
		return nil
	}

	var evt sharedEvents.PaymentCaptured
	if err := sharedUtils.DecodePayload(msg.Payload, func(p sharedEvents.PaymentCaptured) error {
		evt = p
		return nil
	}); err != nil {
		// Un payload ilegible no mejora con reintentos: se registra y se confirma.
		c.log.Error("❌ Payload de pago inválido", zap.String("event_id", msg.ID), zap.Error(err))
		return nil
	}

	applied, err := c.inbox.Process(ctx, inbox.MessageKey(ConsumerGroup, msg), func(ctx context.Context, u *uow.UnitOfWork) error {
		return c.service.ApplyPayment(ctx, u, msg.TenantID, evt)
	})
	if err != nil {
		c.log.Warn("Failed to process payment event", zap.String("event_id", msg.ID), zap.Error(err))
		return err
	}

	if applied {
		c.service.InvalidateOrder(ctx, msg.TenantID, evt.OrderID)
		c.log.Info("💳 Pago aplicado", zap.String("order_id", evt.OrderID), zap.String("event_id", msg.ID))
	}
	return nil
}
