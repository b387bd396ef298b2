package cache

import (
	"context"
	"time"
)

// Cache es una caché clave-valor para proyecciones de lectura.
// Nunca es fuente de verdad: un fallo de caché solo degrada latencia.
type Cache interface {
	// Get rellena dest (puntero) y devuelve true si hay hit; (false, nil) en un miss.
	Get(ctx context.Context, key string, dest any) (bool, error)

	// Set serializa val y lo guarda durante ttl.
	Set(ctx context.Context, key string, val any, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
}
