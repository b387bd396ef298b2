package relayer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/metrics"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
)

type Config struct {
	Interval       time.Duration
	BatchSize      int
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	LeaseTTL       time.Duration
	PublishTimeout time.Duration
	DefaultTopic   string
	WorkerID       string
}

func DefaultConfig() Config {
	return Config{
		Interval:       time.Second,
		BatchSize:      100,
		MaxAttempts:    10,
		BackoffBase:    time.Second,
		BackoffMax:     5 * time.Minute,
		LeaseTTL:       30 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// DispatchResult resume una pasada del worker.
type DispatchResult struct {
	Claimed      int
	Published    int
	Retried      int
	DeadLettered int
	ClaimLost    int
}

// Worker reclama filas PENDING del outbox, las publica en el bus y las marca.
// Varios workers (en el mismo o en distintos procesos) pueden correr a la vez:
// el lease de cada fila, renovado justo antes de publicarla, garantiza que solo uno la entrega.
type Worker struct {
	repo      persistence.OutboxRepository
	publisher sharedBus.EventBus
	registry  domain.EventRegistry
	cfg       Config

	auditor Auditor
	metrics *metrics.Metrics
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Worker)

func WithAuditor(a Auditor) Option {
	return func(w *Worker) { w.auditor = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func NewOutboxWorker(
	repo persistence.OutboxRepository,
	publisher sharedBus.EventBus,
	registry domain.EventRegistry,
	cfg Config,
	log *zap.Logger,
	opts ...Option,
) *Worker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = max(def.BackoffMax, cfg.BackoffBase)
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.PublishTimeout >= cfg.LeaseTTL {
		cfg.PublishTimeout = cfg.LeaseTTL / 2
	}
	if cfg.WorkerID == "" {
		host, _ := os.Hostname()
		cfg.WorkerID = fmt.Sprintf("relay-%s-%s", host, uuid.NewString()[:8])
	}

	w := &Worker{
		repo:      repo,
		publisher: publisher,
		registry:  registry,
		cfg:       cfg,
		now:       time.Now,
		log:       log.With(zap.String("worker_id", cfg.WorkerID)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) ID() string {
	return w.cfg.WorkerID
}

// Start ejecuta pasadas hasta que se cancele ctx. Tras un error del almacén espera
// con backoff exponencial; si la pasada llenó el lote, repite sin esperar.
func (w *Worker) Start(ctx context.Context) {
	storeBackoff := backoff.NewExponentialBackOff()
	storeBackoff.InitialInterval = w.cfg.Interval
	storeBackoff.MaxInterval = w.cfg.BackoffMax

	timer := time.NewTimer(w.cfg.Interval)
	defer timer.Stop()

	w.log.Info("🚀 Outbox worker iniciado",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("batch_size", w.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("🛑 Outbox worker detenido.")
			return
		case <-timer.C:
		}

		wait := w.cfg.Interval
		res, err := w.ProcessBatch(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			wait = storeBackoff.NextBackOff()
			w.log.Warn("⚠️ Error al reclamar eventos pendientes", zap.Duration("retry_in", wait), zap.Error(err))
		case res.Claimed == w.cfg.BatchSize:
			storeBackoff.Reset()
			wait = 0
		default:
			storeBackoff.Reset()
		}
		timer.Reset(wait)
	}
}

// ProcessBatch hace una pasada: reclama un lote en orden de created_at y entrega cada fila.
func (w *Worker) ProcessBatch(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult

	records, err := w.repo.ClaimPending(ctx, w.cfg.WorkerID, w.cfg.BatchSize, w.cfg.LeaseTTL)
	if err != nil {
		return res, fmt.Errorf("claim pending outbox: %w", err)
	}
	res.Claimed = len(records)
	if len(records) == 0 {
		return res, nil
	}
	w.metrics.OutboxClaimed(len(records))

	deliveries := make([]Delivery, 0, len(records))
	for _, rec := range records {
		if ctx.Err() != nil {
			// Las filas restantes quedan reservadas hasta que caduque el lease.
			break
		}
		if d, ok := w.dispatch(ctx, rec, &res); ok {
			deliveries = append(deliveries, d)
		}
	}

	w.audit(ctx, deliveries)
	w.log.Info("📬 Pasada de outbox completada",
		zap.Int("claimed", res.Claimed),
		zap.Int("published", res.Published),
		zap.Int("retried", res.Retried),
		zap.Int("dead_lettered", res.DeadLettered),
		zap.Int("claim_lost", res.ClaimLost),
	)
	return res, nil
}

// dispatch publica una fila y registra el resultado. Devuelve la entrada de auditoría
// cuando la fila llega a un estado terminal.
func (w *Worker) dispatch(ctx context.Context, rec domain.OutboxRecord, res *DispatchResult) (Delivery, bool) {
	topic, err := sharedBus.ResolveTopic(w.registry, rec.Type, w.cfg.DefaultTopic)
	if err == nil {
		if _, registered := w.registry[rec.Type]; registered {
			if _, derr := w.registry.Decode(rec.Type, rec.Payload); derr != nil {
				// Un payload que no decodifica no mejorará con reintentos.
				return w.deadLetter(ctx, rec, topic, rec.AttemptCount+1, derr, res)
			}
		}

		// El lease del lote pudo caducar mientras se publicaban las filas anteriores.
		if rerr := w.repo.RenewClaim(ctx, rec.ID, w.cfg.WorkerID, w.cfg.LeaseTTL); rerr != nil {
			w.claimLost(rec, rerr, res)
			return Delivery{}, false
		}

		pubCtx, cancel := context.WithTimeout(ctx, w.cfg.PublishTimeout)
		err = w.publisher.Publish(pubCtx, sharedBus.MessageFromRecord(rec, topic))
		cancel()
	}
	if err != nil {
		return w.fail(ctx, rec, topic, err, res)
	}

	now := w.now().UTC()
	if err := w.repo.MarkPublished(ctx, rec.ID, w.cfg.WorkerID, now); err != nil {
		w.claimLost(rec, err, res)
		return Delivery{}, false
	}

	res.Published++
	w.metrics.OutboxPublished(rec.Type, metrics.PathRelay)
	w.log.Debug("✅ Evento publicado y marcado",
		zap.String("outbox_id", rec.ID.String()),
		zap.String("event_type", rec.Type),
	)
	return w.delivery(rec, topic, DeliveryPublished, rec.AttemptCount+1, "", now), true
}

func (w *Worker) fail(ctx context.Context, rec domain.OutboxRecord, topic string, cause error, res *DispatchResult) (Delivery, bool) {
	attempts := rec.AttemptCount + 1
	if attempts >= w.cfg.MaxAttempts {
		return w.deadLetter(ctx, rec, topic, attempts, cause, res)
	}

	next := w.now().UTC().Add(RetryDelay(attempts, w.cfg.BackoffBase, w.cfg.BackoffMax))
	if err := w.repo.ReleaseForRetry(ctx, rec.ID, w.cfg.WorkerID, attempts, next, cause.Error()); err != nil {
		w.claimLost(rec, err, res)
		return Delivery{}, false
	}

	res.Retried++
	w.metrics.OutboxRetried(rec.Type)
	w.log.Warn("⚠️ No se pudo publicar evento",
		zap.String("outbox_id", rec.ID.String()),
		zap.String("event_type", rec.Type),
		zap.Int("attempt", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(cause),
	)
	return Delivery{}, false
}

func (w *Worker) deadLetter(ctx context.Context, rec domain.OutboxRecord, topic string, attempts int, cause error, res *DispatchResult) (Delivery, bool) {
	if err := w.repo.MarkFailed(ctx, rec.ID, w.cfg.WorkerID, attempts, cause.Error()); err != nil {
		w.claimLost(rec, err, res)
		return Delivery{}, false
	}

	res.DeadLettered++
	w.metrics.OutboxDeadLettered(rec.Type)
	w.log.Error("☠️ Evento movido a dead-letter",
		zap.String("outbox_id", rec.ID.String()),
		zap.String("event_id", rec.EventID),
		zap.String("event_type", rec.Type),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	return w.delivery(rec, topic, DeliveryDeadLettered, attempts, cause.Error(), w.now().UTC()), true
}

func (w *Worker) claimLost(rec domain.OutboxRecord, err error, res *DispatchResult) {
	res.ClaimLost++
	level := w.log.Warn
	if !errors.Is(err, domain.ErrOutboxClaimLost) {
		level = w.log.Error
	}
	level("⚠️ No se pudo actualizar el registro del outbox",
		zap.String("outbox_id", rec.ID.String()),
		zap.Error(err),
	)
}

func (w *Worker) delivery(rec domain.OutboxRecord, topic string, outcome DeliveryOutcome, attempts int, lastErr string, at time.Time) Delivery {
	return Delivery{
		OutboxID:    rec.ID,
		EventID:     rec.EventID,
		EventType:   rec.Type,
		Topic:       topic,
		TenantID:    rec.TenantID,
		AggregateID: rec.AggregateID,
		Outcome:     outcome,
		Attempts:    attempts,
		LastError:   lastErr,
		WorkerID:    w.cfg.WorkerID,
		At:          at,
	}
}

// audit nunca falla la pasada: el outbox ya refleja el estado real.
func (w *Worker) audit(ctx context.Context, deliveries []Delivery) {
	if w.auditor == nil || len(deliveries) == 0 {
		return
	}
	if err := w.auditor.LogBatch(ctx, deliveries); err != nil {
		w.log.Warn("⚠️ No se pudo registrar la auditoría de entregas", zap.Int("rows", len(deliveries)), zap.Error(err))
	}
}

// RetryDelay calcula min(base·2^(attempt-1), max).
func RetryDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	return min(delay, maxDelay)
}
