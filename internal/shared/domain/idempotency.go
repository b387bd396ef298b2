package domain

import (
	"context"
	"strings"
	"time"
)

type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencySucceeded  IdempotencyStatus = "SUCCEEDED"
	IdempotencyFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyKey es la clave compuesta (tenant, Idempotency-Key, método, ruta).
type IdempotencyKey struct {
	TenantID string
	Key      string
	Method   string
	Path     string
}

// String forma una clave estable para almacenes clave-valor.
func (k IdempotencyKey) String() string {
	return strings.Join([]string{k.TenantID, k.Key, strings.ToUpper(k.Method), k.Path}, "|")
}

type IdempotencyRecord struct {
	IdempotencyKey
	RequestHash  string
	Status       IdempotencyStatus
	StatusCode   int
	ResponseBody []byte
	CreatedAt    time.Time
	ExpiresAt    *time.Time
}

// Expired indica si el registro ha superado su TTL en now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// IdempotencyStore persiste los registros de idempotencia.
type IdempotencyStore interface {
	// Get devuelve ErrIdempotencyRecordNotFound si no existe.
	Get(ctx context.Context, key IdempotencyKey) (IdempotencyRecord, error)

	// Create inserta el registro; devuelve false (sin error) si ya existía uno con la misma clave.
	Create(ctx context.Context, rec IdempotencyRecord) (bool, error)

	// Transition cambia el estado de from a to solo si el registro sigue en from con el mismo hash.
	Transition(ctx context.Context, key IdempotencyKey, requestHash string, from, to IdempotencyStatus) (bool, error)

	// SaveResponse fija el estado terminal y la respuesta cacheada de un registro IN_PROGRESS.
	SaveResponse(ctx context.Context, key IdempotencyKey, status IdempotencyStatus, statusCode int, body []byte) error

	// DeleteExpired borra el registro si ha expirado en now.
	DeleteExpired(ctx context.Context, key IdempotencyKey, now time.Time) (bool, error)
}
