package domain

import "errors"

// ---------- Errores compartidos ----------
var (
	ErrValidation                = errors.New("validation failed")
	ErrInvalidStateTransition    = errors.New("invalid state transition")
	ErrAggregateNotFound         = errors.New("aggregate not found")
	ErrConcurrencyConflict       = errors.New("concurrency conflict")
	ErrIdempotencyKeyMismatch    = errors.New("idempotency key reused with a different payload")
	ErrStateConflict             = errors.New("request with this idempotency key is already in progress")
	ErrIdempotencyRecordNotFound = errors.New("idempotency record not found")
	ErrInboxAlreadyProcessed     = errors.New("inbox message already processed")
	ErrOutboxRecordNotFound      = errors.New("outbox record not found")
	ErrOutboxClaimLost           = errors.New("outbox record is not claimed by this owner")
	ErrUnitOfWorkClosed          = errors.New("unit of work already closed")
	ErrRepositoryNotRegistered   = errors.New("repository not registered")
	ErrUnknownEventType          = errors.New("unknown event type")
)
