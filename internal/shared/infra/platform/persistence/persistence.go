package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/google/uuid"
)

// DBTX es el subconjunto común de *sql.DB y *sql.Tx.
// Los repositorios reciben un DBTX para poder ejecutarse dentro o fuera de una transacción.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx es una transacción abierta. *sql.Tx la satisface.
type Tx interface {
	DBTX
	Commit() error
	Rollback() error
}

// TxBeginner abre transacciones. *sql.DB lo satisface a través de SQLBeginner.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
}

// SQLBeginner adapta *sql.DB a TxBeginner.
type SQLBeginner struct {
	DB *sql.DB
}

func (b SQLBeginner) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	return b.DB.BeginTx(ctx, opts)
}

// OutboxAppender escribe registros en el outbox. Nunca hace commit:
// tx debe ser la transacción de la Unit of Work.
type OutboxAppender interface {
	Append(ctx context.Context, tx DBTX, rec domain.OutboxRecord) error
}

// OutboxRepository define el contrato completo sobre la tabla outbox.
// Cualquier mutación posterior al claim exige que owner siga siendo el dueño del lease;
// si no, devuelve domain.ErrOutboxClaimLost.
type OutboxRepository interface {
	OutboxAppender

	// ClaimPending reserva hasta limit registros PENDING vencidos (next_attempt_at <= now)
	// por orden de created_at, de forma exclusiva entre publicadores.
	ClaimPending(ctx context.Context, owner string, limit int, lease time.Duration) ([]domain.OutboxRecord, error)

	// ClaimByIDs reserva los registros indicados si siguen PENDING y sin lease activo.
	ClaimByIDs(ctx context.Context, owner string, ids []uuid.UUID, lease time.Duration) ([]domain.OutboxRecord, error)

	MarkPublished(ctx context.Context, id uuid.UUID, owner string, at time.Time) error
	ReleaseForRetry(ctx context.Context, id uuid.UUID, owner string, attempts int, nextAttemptAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, owner string, attempts int, lastErr string) error

	// RenewClaim extiende el lease de owner a now+lease. Falla con ErrOutboxClaimLost
	// si el lease ya caducó o lo tiene otro publicador.
	RenewClaim(ctx context.Context, id uuid.UUID, owner string, lease time.Duration) error

	// ReleaseClaim suelta el lease sin consumir intento.
	ReleaseClaim(ctx context.Context, id uuid.UUID, owner string) error

	Get(ctx context.Context, id uuid.UUID) (domain.OutboxRecord, error)

	// Requeue devuelve un registro FAILED a PENDING con attempt_count = 0.
	Requeue(ctx context.Context, id uuid.UUID) error
}

// InboxStore es el libro de deduplicación del lado consumidor.
// Ambas operaciones se ejecutan en la transacción del consumidor.
type InboxStore interface {
	IsProcessed(ctx context.Context, tx DBTX, key domain.InboxKey) (bool, error)

	// MarkProcessed devuelve domain.ErrInboxAlreadyProcessed si la clave ya existía.
	MarkProcessed(ctx context.Context, tx DBTX, key domain.InboxKey, receivedAt time.Time) error
}
