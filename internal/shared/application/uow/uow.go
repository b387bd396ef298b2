package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
	"go.uber.org/zap"
)

// UnitOfWork es el límite transaccional de un caso de uso. No es seguro para uso concurrente.
type UnitOfWork struct {
	f       *Factory
	tx      persistence.Tx
	repos   map[string]any
	tracked []domain.Aggregate
	index   map[string]int
	records []domain.OutboxRecord
	closed  bool
}

// Tx expone la transacción para stores que deben compartirla (inbox, lecturas).
func (u *UnitOfWork) Tx() persistence.DBTX {
	return u.tx
}

// Track registra un agregado para que Commit lo guarde junto con sus eventos pendientes.
func (u *UnitOfWork) Track(agg domain.Aggregate) error {
	if u.closed {
		return domain.ErrUnitOfWorkClosed
	}
	if _, ok := u.f.repos[agg.AggregateType()]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrRepositoryNotRegistered, agg.AggregateType())
	}

	key := agg.AggregateType() + "|" + agg.AggregateID()
	if i, ok := u.index[key]; ok {
		u.tracked[i] = agg
		return nil
	}
	u.index[key] = len(u.tracked)
	u.tracked = append(u.tracked, agg)
	return nil
}

// Records devuelve los registros de outbox escritos por el último Commit.
func (u *UnitOfWork) Records() []domain.OutboxRecord {
	return u.records
}

func (u *UnitOfWork) repository(aggregateType string) (any, error) {
	if u.closed {
		return nil, domain.ErrUnitOfWorkClosed
	}
	return u.repo(aggregateType)
}

func (u *UnitOfWork) repo(aggregateType string) (any, error) {
	if repo, ok := u.repos[aggregateType]; ok {
		return repo, nil
	}
	reg, ok := u.f.repos[aggregateType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRepositoryNotRegistered, aggregateType)
	}
	repo := reg.build(u.tx)
	u.repos[aggregateType] = repo
	return repo, nil
}

type versionSnapshot struct {
	agg     domain.Aggregate
	version int
}

// Commit guarda los agregados con eventos pendientes, escribe un registro de outbox
// por evento y confirma la transacción. Los eventos solo se vacían tras un commit correcto.
// La publicación inmediata posterior nunca hace fallar el commit.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.closed {
		return domain.ErrUnitOfWorkClosed
	}
	u.closed = true

	now := u.f.now().UTC()
	var (
		snapshots []versionSnapshot
		records   []domain.OutboxRecord
	)

	abort := func(err error) error {
		for _, s := range snapshots {
			s.agg.SetVersion(s.version)
		}
		if rbErr := u.tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			u.f.log.Warn("⚠️ Rollback fallido", zap.Error(rbErr))
		}
		u.f.log.Warn("⚠️ Commit abortado", zap.Error(err))
		return err
	}

	for _, agg := range u.tracked {
		events := agg.PendingEvents()
		if len(events) == 0 {
			continue
		}

		repo, err := u.repo(agg.AggregateType())
		if err != nil {
			return abort(err)
		}

		snapshots = append(snapshots, versionSnapshot{agg: agg, version: agg.Version()})
		if err := u.f.repos[agg.AggregateType()].save(ctx, repo, agg); err != nil {
			return abort(fmt.Errorf("save %s %s: %w", agg.AggregateType(), agg.AggregateID(), err))
		}

		for _, evt := range events {
			rec, err := domain.NewOutboxRecord(agg.AggregateType(), evt, now)
			if err != nil {
				return abort(err)
			}
			if rec.AggregateID == "" {
				rec.AggregateID = agg.AggregateID()
			}
			if err := u.f.outbox.Append(ctx, u.tx, rec); err != nil {
				return abort(err)
			}
			records = append(records, rec)
		}
	}

	if err := u.tx.Commit(); err != nil {
		return abort(fmt.Errorf("commit unit of work: %w", err))
	}

	for _, agg := range u.tracked {
		agg.PullEvents()
	}
	u.records = records

	if u.f.immediate != nil && len(records) > 0 {
		u.f.immediate.publish(ctx, records)
	}
	return nil
}

// Rollback descarta la transacción. Es idempotente y no hace nada tras un Commit.
func (u *UnitOfWork) Rollback() error {
	if u.closed {
		return nil
	}
	u.closed = true
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback unit of work: %w", err)
	}
	return nil
}
