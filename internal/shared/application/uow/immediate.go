package uow

import (
	"context"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/metrics"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// immediatePublisher intenta publicar las filas recién confirmadas sin esperar al relayer.
// Reserva las filas por id para no competir con el relayer; cualquier fallo se registra
// y la fila queda PENDING para la siguiente pasada.
type immediatePublisher struct {
	bus          sharedBus.EventBus
	registry     domain.EventRegistry
	defaultTopic string
	timeout      time.Duration
	lease        time.Duration

	outbox  persistence.OutboxRepository
	metrics *metrics.Metrics
	now     func() time.Time
	log     *zap.Logger
}

func (p *immediatePublisher) publish(parent context.Context, records []domain.OutboxRecord) {
	// El commit ya está hecho: la cancelación del llamante no debe cortar la publicación,
	// pero sí el timeout propio.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.timeout)
	defer cancel()

	owner := "uow-" + uuid.NewString()
	ids := make([]uuid.UUID, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}

	claimed, err := p.outbox.ClaimByIDs(ctx, owner, ids, p.lease)
	if err != nil {
		p.metrics.ImmediatePublishFailed()
		p.log.Warn("⚠️ Publicación inmediata: no se pudieron reservar las filas", zap.Error(err))
		return
	}

	for _, rec := range claimed {
		topic, err := sharedBus.ResolveTopic(p.registry, rec.Type, p.defaultTopic)
		if err == nil {
			err = p.bus.Publish(ctx, sharedBus.MessageFromRecord(rec, topic))
		}
		if err != nil {
			p.metrics.ImmediatePublishFailed()
			p.log.Warn("⚠️ Publicación inmediata fallida, queda para el relayer",
				zap.String("outbox_id", rec.ID.String()),
				zap.String("event_type", rec.Type),
				zap.Error(err),
			)
			p.release(parent, rec.ID, owner)
			continue
		}

		if err := p.outbox.MarkPublished(ctx, rec.ID, owner, p.now()); err != nil {
			// Publicado pero sin marcar: el relayer lo volverá a entregar (at-least-once).
			p.log.Warn("⚠️ Evento publicado pero no marcado", zap.String("outbox_id", rec.ID.String()), zap.Error(err))
			continue
		}
		p.metrics.OutboxPublished(rec.Type, metrics.PathImmediate)
	}
}

// release usa su propio contexto: el de la publicación puede haber expirado.
func (p *immediatePublisher) release(parent context.Context, id uuid.UUID, owner string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.timeout)
	defer cancel()
	if err := p.outbox.ReleaseClaim(ctx, id, owner); err != nil {
		p.log.Warn("⚠️ No se pudo liberar el claim; expirará con el lease",
			zap.String("outbox_id", id.String()), zap.Error(err))
	}
}
