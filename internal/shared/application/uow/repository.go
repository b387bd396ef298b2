package uow

import (
	"context"
	"fmt"

	"github.com/davicafu/txmessaging/internal/shared/domain"
)

// TrackingRepository envuelve el repositorio de un tipo de agregado ligado a la
// transacción de la UoW. Todo agregado obtenido o añadido queda registrado para el Commit.
type TrackingRepository[T domain.Aggregate] struct {
	u     *UnitOfWork
	inner domain.Repository[T]
}

// RepositoryFor devuelve el repositorio del tipo indicado dentro de u.
func RepositoryFor[T domain.Aggregate](u *UnitOfWork, aggregateType string) (*TrackingRepository[T], error) {
	repo, err := u.repository(aggregateType)
	if err != nil {
		return nil, err
	}
	typed, ok := repo.(domain.Repository[T])
	if !ok {
		return nil, fmt.Errorf("%w: %s is registered with a different aggregate type", domain.ErrRepositoryNotRegistered, aggregateType)
	}
	return &TrackingRepository[T]{u: u, inner: typed}, nil
}

// Get carga el agregado y lo registra en la UoW.
func (r *TrackingRepository[T]) Get(ctx context.Context, id string) (T, error) {
	agg, err := r.inner.Get(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := r.u.Track(agg); err != nil {
		var zero T
		return zero, err
	}
	return agg, nil
}

// Add registra un agregado nuevo; se insertará en el Commit.
func (r *TrackingRepository[T]) Add(agg T) error {
	return r.u.Track(agg)
}
