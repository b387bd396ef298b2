package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	orderDomain "github.com/davicafu/txmessaging/internal/order/domain"
	"github.com/davicafu/txmessaging/internal/shared/application/uow"
	sharedEvents "github.com/davicafu/txmessaging/internal/shared/events"
	sharedCache "github.com/davicafu/txmessaging/internal/shared/infra/platform/cache"
	sharedUtils "github.com/davicafu/txmessaging/internal/shared/infra/utils"
)

const DefaultCacheTTL = 2 * time.Minute

// PlaceOrderCommand son los datos de entrada para crear un pedido.
type PlaceOrderCommand struct {
	TenantID    string
	CustomerID  string
	AmountCents int64
	Currency    string
}

// OrderService define los casos de uso de Order.
// Las escrituras pasan por una Unit of Work, así el cambio de estado y sus
// eventos de outbox se confirman juntos.
type OrderService struct {
	uows     *uow.Factory
	reader   orderDomain.OrderRepository
	cache    sharedCache.Cache
	guard    *sharedCache.Guard
	cacheTTL time.Duration
	log      *zap.Logger
}

type Option func(*OrderService)

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *OrderService) { s.cacheTTL = ttl }
}

// NewOrderService recibe la factoría de UoW para escrituras y un repositorio
// sobre la conexión compartida para lecturas fuera de transacción.
func NewOrderService(uows *uow.Factory, reader orderDomain.OrderRepository, cache sharedCache.Cache, log *zap.Logger, opts ...Option) *OrderService {
	s := &OrderService{
		uows:     uows,
		reader:   reader,
		cache:    cache,
		guard:    sharedCache.NewGuard(),
		cacheTTL: DefaultCacheTTL,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder crea un pedido PENDING y deja OrderPlaced en el outbox.
func (s *OrderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (orderDomain.OrderView, error) {
	var (
		order *orderDomain.Order
		gen   uint64
	)
	err := s.uows.Do(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		o, err := orderDomain.PlaceOrder(uuid.NewString(), cmd.TenantID, cmd.CustomerID, cmd.AmountCents, cmd.Currency)
		if err != nil {
			return err
		}
		gen = s.guard.Generation(orderDomain.OrderCacheKeyByID(o.TenantID, o.AggregateID()))
		repo, err := uow.RepositoryFor[*orderDomain.Order](u, orderDomain.AggregateType)
		if err != nil {
			return err
		}
		order = o
		return repo.Add(o)
	})
	if err != nil {
		s.log.Warn("Failed to place order", zap.String("tenant_id", cmd.TenantID), zap.Error(err))
		return orderDomain.OrderView{}, err
	}

	view := order.View()
	s.guard.AsyncSet(ctx, s.cache, orderDomain.OrderCacheKeyByID(view.TenantID, view.ID), gen, view, s.cacheTTL, s.log)
	s.log.Info("🛒 Pedido creado", zap.String("order_id", view.ID), zap.String("tenant_id", view.TenantID))
	return view, nil
}

// PayOrder marca el pedido como pagado con paymentID.
func (s *OrderService) PayOrder(ctx context.Context, tenantID, id, paymentID string) (orderDomain.OrderView, error) {
	return s.mutate(ctx, tenantID, id, func(o *orderDomain.Order) error {
		return o.Pay(paymentID)
	})
}

func (s *OrderService) CancelOrder(ctx context.Context, tenantID, id, reason string) (orderDomain.OrderView, error) {
	return s.mutate(ctx, tenantID, id, func(o *orderDomain.Order) error {
		return o.Cancel(reason)
	})
}

// mutate carga el pedido dentro de una UoW, aplica fn y confirma. Después del
// commit invalida la proyección cacheada.
func (s *OrderService) mutate(ctx context.Context, tenantID, id string, fn func(*orderDomain.Order) error) (orderDomain.OrderView, error) {
	var order *orderDomain.Order
	err := s.uows.Do(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		o, err := s.load(ctx, u, tenantID, id)
		if err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return orderDomain.OrderView{}, err
	}

	s.InvalidateOrder(ctx, tenantID, id)
	return order.View(), nil
}

// ApplyPayment aplica un PaymentCaptured dentro de la UoW del consumidor.
// Un pedido inexistente o que ya no admite el pago se registra y se descarta:
// reintentar no cambiaría el resultado.
func (s *OrderService) ApplyPayment(ctx context.Context, u *uow.UnitOfWork, tenantID string, evt sharedEvents.PaymentCaptured) error {
	o, err := s.load(ctx, u, tenantID, evt.OrderID)
	if err != nil {
		if errors.Is(err, orderDomain.ErrOrderNotFound) {
			s.log.Warn("⚠️ Pago para pedido desconocido", zap.String("order_id", evt.OrderID), zap.String("payment_id", evt.PaymentID))
			return nil
		}
		return err
	}

	if evt.AmountCents != o.AmountCents || (evt.Currency != "" && evt.Currency != o.Currency) {
		s.log.Warn("⚠️ Importe del pago no coincide con el pedido",
			zap.String("order_id", evt.OrderID),
			zap.Int64("expected", o.AmountCents),
			zap.Int64("received", evt.AmountCents),
		)
	}

	if err := o.Pay(evt.PaymentID); err != nil {
		if errors.Is(err, orderDomain.ErrInvalidTransition) || errors.Is(err, orderDomain.ErrInvalidOrder) {
			s.log.Warn("⚠️ Pago rechazado por el pedido", zap.String("order_id", evt.OrderID), zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// GetOrder obtiene un pedido con cache-aside; en un miss va al repositorio con reintentos.
// La vista leída no se cachea si el pedido se invalidó mientras tanto.
func (s *OrderService) GetOrder(ctx context.Context, tenantID, id string) (orderDomain.OrderView, error) {
	key := orderDomain.OrderCacheKeyByID(tenantID, id)
	gen := s.guard.Generation(key)
	if s.cache != nil {
		var cached orderDomain.OrderView
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	var order *orderDomain.Order
	err := sharedUtils.Retry(ctx, 3, 100*time.Millisecond, func() error {
		o, err := s.reader.Get(ctx, id)
		if err != nil {
			return err
		}
		order = o
		return nil
	}, orderDomain.ErrOrderNotFound)
	if err == nil && order.TenantID != tenantID {
		err = fmt.Errorf("%w: %s", orderDomain.ErrOrderNotFound, id)
	}
	if err != nil {
		if errors.Is(err, orderDomain.ErrOrderNotFound) {
			s.log.Warn("Order not found", zap.String("order_id", id))
		} else {
			s.log.Error("Failed to fetch order", zap.String("order_id", id), zap.Error(err))
		}
		return orderDomain.OrderView{}, err
	}

	view := order.View()
	s.guard.AsyncSet(ctx, s.cache, key, gen, view, s.cacheTTL, s.log)
	return view, nil
}

// InvalidateOrder borra la proyección cacheada; se llama después de cada commit que cambia el pedido.
func (s *OrderService) InvalidateOrder(ctx context.Context, tenantID, id string) {
	s.guard.Invalidate(ctx, s.cache, orderDomain.OrderCacheKeyByID(tenantID, id), s.log)
}

// load obtiene el pedido desde la UoW comprobando que pertenece al tenant.
func (s *OrderService) load(ctx context.Context, u *uow.UnitOfWork, tenantID, id string) (*orderDomain.Order, error) {
	repo, err := uow.RepositoryFor[*orderDomain.Order](u, orderDomain.AggregateType)
	if err != nil {
		return nil, err
	}
	o, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", orderDomain.ErrOrderNotFound, id)
	}
	return o, nil
}
