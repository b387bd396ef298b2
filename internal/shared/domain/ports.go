package domain

import "context"

// Repository carga y guarda un tipo de agregado.
//
// Get debe devolver ErrAggregateNotFound (envuelto) si no existe.
// Save debe devolver ErrConcurrencyConflict (envuelto) si la versión almacenada
// no coincide con la versión con la que se cargó el agregado, sin escribir nada.
type Repository[T Aggregate] interface {
	Get(ctx context.Context, id string) (T, error)
	Save(ctx context.Context, aggregate T) (T, error)
}
