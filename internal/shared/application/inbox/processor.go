package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/application/uow"
	"github.com/davicafu/txmessaging/internal/shared/domain"
	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/metrics"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
	"go.uber.org/zap"
)

// errDuplicate aborta la UoW sin efectos cuando el mensaje ya se procesó.
var errDuplicate = errors.New("inbox: duplicate message")

// ApplyFunc aplica los efectos de un mensaje dentro de la Unit of Work del consumidor.
type ApplyFunc func(ctx context.Context, u *uow.UnitOfWork) error

// Processor garantiza efectos exactly-once sobre una entrega at-least-once:
// comprobación, efectos y marca del inbox van en la misma transacción.
type Processor struct {
	uows    *uow.Factory
	store   persistence.InboxStore
	metrics *metrics.Metrics
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Processor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(uows *uow.Factory, store persistence.InboxStore, log *zap.Logger, opts ...Option) *Processor {
	p := &Processor{uows: uows, store: store, now: time.Now, log: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process ejecuta apply una sola vez por clave. Devuelve applied=false (sin error)
// si el mensaje ya estaba registrado: el llamante debe confirmarlo igualmente al transporte.
func (p *Processor) Process(ctx context.Context, key domain.InboxKey, apply ApplyFunc) (bool, error) {
	if key.ConsumerGroup == "" || key.EventID == "" {
		return false, fmt.Errorf("inbox key requires consumer group and event id")
	}

	err := p.uows.Do(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
		processed, err := p.store.IsProcessed(ctx, u.Tx(), key)
		if err != nil {
			return err
		}
		if processed {
			return errDuplicate
		}

		if err := apply(ctx, u); err != nil {
			return err
		}
		return p.store.MarkProcessed(ctx, u.Tx(), key, p.now().UTC())
	})

	switch {
	case err == nil:
		p.metrics.InboxProcessed(key.ConsumerGroup)
		return true, nil
	case errors.Is(err, errDuplicate), errors.Is(err, domain.ErrInboxAlreadyProcessed):
		// Otro consumidor pudo registrar la clave entre la comprobación y la marca;
		// sus efectos ganaron y los nuestros se deshicieron con el rollback.
		p.metrics.InboxDuplicate(key.ConsumerGroup)
		p.log.Info("🔁 Mensaje duplicado ignorado",
			zap.String("consumer_group", key.ConsumerGroup),
			zap.String("event_id", key.EventID),
		)
		return false, nil
	default:
		return false, err
	}
}

// MessageKey es la clave del inbox de un mensaje del bus: (tenant del mensaje, group, id del mensaje).
func MessageKey(group string, msg sharedBus.Message) domain.InboxKey {
	return domain.InboxKey{TenantID: msg.TenantID, ConsumerGroup: group, EventID: msg.ID}
}
