package uow

import (
	"context"
	"fmt"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/metrics"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
	"go.uber.org/zap"
)

// registration guarda cómo construir y guardar un tipo de agregado dentro de una transacción.
type registration struct {
	build func(tx persistence.DBTX) any
	save  func(ctx context.Context, repo any, agg domain.Aggregate) error
}

// Factory crea Units of Work que comparten base de datos, outbox y repositorios registrados.
type Factory struct {
	db        persistence.TxBeginner
	outbox    persistence.OutboxRepository
	repos     map[string]registration
	immediate *immediatePublisher
	metrics   *metrics.Metrics
	now       func() time.Time
	log       *zap.Logger
}

type Option func(*Factory)

// WithImmediatePublish activa la publicación best-effort tras el commit.
// timeout acota toda la publicación; lease es la duración del claim sobre las filas recién escritas.
func WithImmediatePublish(eventBus sharedBus.EventBus, registry domain.EventRegistry, defaultTopic string, timeout, lease time.Duration) Option {
	return func(f *Factory) {
		if eventBus == nil {
			return
		}
		f.immediate = &immediatePublisher{
			bus:          eventBus,
			registry:     registry,
			defaultTopic: defaultTopic,
			timeout:      timeout,
			lease:        lease,
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Factory) { f.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

func NewFactory(db persistence.TxBeginner, outbox persistence.OutboxRepository, log *zap.Logger, opts ...Option) *Factory {
	f := &Factory{
		db:     db,
		outbox: outbox,
		repos:  make(map[string]registration),
		now:    time.Now,
		log:    log,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.immediate != nil {
		f.immediate.outbox = outbox
		f.immediate.metrics = f.metrics
		f.immediate.now = f.now
		f.immediate.log = log
	}
	return f
}

// Register asocia un tipo de agregado con el constructor de su repositorio.
// Debe llamarse durante el arranque, antes de abrir Units of Work.
func Register[T domain.Aggregate](f *Factory, aggregateType string, build func(tx persistence.DBTX) domain.Repository[T]) {
	f.repos[aggregateType] = registration{
		build: func(tx persistence.DBTX) any { return build(tx) },
		save: func(ctx context.Context, repo any, agg domain.Aggregate) error {
			typed, ok := agg.(T)
			if !ok {
				return fmt.Errorf("aggregate %T is not registered as %s", agg, aggregateType)
			}
			saved, err := repo.(domain.Repository[T]).Save(ctx, typed)
			if err != nil {
				return err
			}
			agg.SetVersion(saved.Version())
			return nil
		},
	}
}

// Begin abre una transacción y devuelve la Unit of Work que la posee.
func (f *Factory) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin unit of work: %w", err)
	}
	return &UnitOfWork{
		f:     f,
		tx:    tx,
		repos: make(map[string]any),
		index: make(map[string]int),
	}, nil
}

// Do ejecuta fn dentro de una Unit of Work: commit si fn termina bien,
// rollback si devuelve error o entra en pánico.
func (f *Factory) Do(ctx context.Context, fn func(ctx context.Context, u *UnitOfWork) error) error {
	u, err := f.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = u.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, u); err != nil {
		if rbErr := u.Rollback(); rbErr != nil {
			f.log.Warn("⚠️ Rollback fallido", zap.Error(rbErr))
		}
		return err
	}
	return u.Commit(ctx)
}
