package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/persistence"
	"github.com/google/uuid"
)

const outboxColumns = `id, event_id, tenant_id, aggregate_type, aggregate_id, type, payload,
	schema_id, schema_version, status, attempt_count, last_error,
	created_at, next_attempt_at, published_at, claimed_by, claimed_until`

// Option configura los stores SQL.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sustituye el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// OutboxRepo implementa persistence.OutboxRepository sobre SQLite o Postgres.
type OutboxRepo struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewOutboxRepo(db *sql.DB, d Dialect, opts ...Option) *OutboxRepo {
	o := buildOptions(opts)
	return &OutboxRepo{db: db, dialect: d, now: o.now}
}

// Append inserta el registro dentro de la transacción recibida. No hace commit.
func (r *OutboxRepo) Append(ctx context.Context, tx persistence.DBTX, rec domain.OutboxRecord) error {
	if rec.ID == uuid.Nil {
		return fmt.Errorf("outbox record without id")
	}
	if rec.Status == "" {
		rec.Status = domain.OutboxPending
	}
	if rec.NextAttemptAt.IsZero() {
		rec.NextAttemptAt = rec.CreatedAt
	}

	_, err := tx.ExecContext(ctx, r.dialect.Rebind(`INSERT INTO outbox (`+outboxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID.String(), rec.EventID, rec.TenantID, rec.AggregateType, rec.AggregateID, rec.Type, string(rec.Payload),
		rec.SchemaID, rec.SchemaVersion, string(rec.Status), rec.AttemptCount, rec.LastError,
		toMicros(rec.CreatedAt), toMicros(rec.NextAttemptAt), nullMicros(rec.PublishedAt), rec.ClaimedBy, nullMicros(rec.ClaimedUntil),
	)
	if err != nil {
		return fmt.Errorf("insert outbox record %s: %w", rec.ID, err)
	}
	return nil
}

// ClaimPending reserva un lote de registros vencidos con un lease para owner.
// En Postgres la subconsulta usa FOR UPDATE SKIP LOCKED; SQLite serializa los
// escritores, así que el UPDATE ... RETURNING es atómico por sí mismo.
func (r *OutboxRepo) ClaimPending(ctx context.Context, owner string, limit int, lease time.Duration) ([]domain.OutboxRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := r.now()
	nowUs := toMicros(now)

	lock := ""
	if r.dialect == Postgres {
		lock = "FOR UPDATE SKIP LOCKED"
	}

	query := `UPDATE outbox SET claimed_by = ?, claimed_until = ?
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status = 'PENDING'
			  AND next_attempt_at <= ?
			  AND (claimed_until IS NULL OR claimed_until <= ?)
			ORDER BY created_at, id
			LIMIT ?
			` + lock + `
		)
		RETURNING ` + outboxColumns

	return r.claim(ctx, r.dialect.Rebind(query), owner, toMicros(now.Add(lease)), nowUs, nowUs, limit)
}

// ClaimByIDs reserva registros concretos si siguen PENDING y sin lease activo.
func (r *OutboxRepo) ClaimByIDs(ctx context.Context, owner string, ids []uuid.UUID, lease time.Duration) ([]domain.OutboxRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	now := r.now()

	args := []any{owner, toMicros(now.Add(lease))}
	for _, id := range ids {
		args = append(args, id.String())
	}
	args = append(args, toMicros(now))

	query := `UPDATE outbox SET claimed_by = ?, claimed_until = ?
		WHERE id IN (` + placeholders(len(ids)) + `)
		  AND status = 'PENDING'
		  AND (claimed_until IS NULL OR claimed_until <= ?)
		RETURNING ` + outboxColumns

	return r.claim(ctx, r.dialect.Rebind(query), args...)
}

func (r *OutboxRepo) claim(ctx context.Context, query string, args ...any) ([]domain.OutboxRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claim outbox records: %w", err)
	}
	defer rows.Close()

	var records []domain.OutboxRecord
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim outbox records: %w", err)
	}

	// RETURNING no garantiza orden.
	slices.SortFunc(records, func(a, b domain.OutboxRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return records, nil
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, id uuid.UUID, owner string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`UPDATE outbox
		SET status = 'PUBLISHED', published_at = ?, claimed_by = '', claimed_until = NULL
		WHERE id = ? AND claimed_by = ? AND status = 'PENDING'`),
		toMicros(at), id.String(), owner,
	)
	if err != nil {
		return fmt.Errorf("mark outbox record %s published: %w", id, err)
	}
	return r.checkClaimed(ctx, res, id)
}

func (r *OutboxRepo) ReleaseForRetry(ctx context.Context, id uuid.UUID, owner string, attempts int, nextAttemptAt time.Time, lastErr string) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`UPDATE outbox
		SET attempt_count = ?, next_attempt_at = ?, last_error = ?, claimed_by = '', claimed_until = NULL
		WHERE id = ? AND claimed_by = ? AND status = 'PENDING'`),
		attempts, toMicros(nextAttemptAt), lastErr, id.String(), owner,
	)
	if err != nil {
		return fmt.Errorf("release outbox record %s for retry: %w", id, err)
	}
	return r.checkClaimed(ctx, res, id)
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, owner string, attempts int, lastErr string) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`UPDATE outbox
		SET status = 'FAILED', attempt_count = ?, last_error = ?, claimed_by = '', claimed_until = NULL
		WHERE id = ? AND claimed_by = ? AND status = 'PENDING'`),
		attempts, lastErr, id.String(), owner,
	)
	if err != nil {
		return fmt.Errorf("mark outbox record %s failed: %w", id, err)
	}
	return r.checkClaimed(ctx, res, id)
}

func (r *OutboxRepo) RenewClaim(ctx context.Context, id uuid.UUID, owner string, lease time.Duration) error {
	now := r.now()
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`UPDATE outbox
		SET claimed_until = ?
		WHERE id = ? AND claimed_by = ? AND status = 'PENDING' AND claimed_until > ?`),
		toMicros(now.Add(lease)), id.String(), owner, toMicros(now),
	)
	if err != nil {
		return fmt.Errorf("renew outbox claim %s: %w", id, err)
	}
	return r.checkClaimed(ctx, res, id)
}

func (r *OutboxRepo) ReleaseClaim(ctx context.Context, id uuid.UUID, owner string) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`UPDATE outbox
		SET claimed_by = '', claimed_until = NULL
		WHERE id = ? AND claimed_by = ? AND status = 'PENDING'`),
		id.String(), owner,
	)
	if err != nil {
		return fmt.Errorf("release outbox record %s: %w", id, err)
	}
	return r.checkClaimed(ctx, res, id)
}

func (r *OutboxRepo) Get(ctx context.Context, id uuid.UUID) (domain.OutboxRecord, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT `+outboxColumns+` FROM outbox WHERE id = ?`), id.String())
	rec, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OutboxRecord{}, fmt.Errorf("%w: %s", domain.ErrOutboxRecordNotFound, id)
	}
	return rec, err
}

// Requeue devuelve un dead-letter a PENDING con el contador de intentos a cero.
func (r *OutboxRepo) Requeue(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`UPDATE outbox
		SET status = 'PENDING', attempt_count = 0, last_error = '', next_attempt_at = ?, claimed_by = '', claimed_until = NULL
		WHERE id = ? AND status = 'FAILED'`),
		toMicros(r.now()), id.String(),
	)
	if err != nil {
		return fmt.Errorf("requeue outbox record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if n == 1 {
		return nil
	}

	rec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: outbox record %s is %s", domain.ErrStateConflict, id, rec.Status)
}

// ListByStatus devuelve hasta limit registros en el estado indicado, los más antiguos primero.
func (r *OutboxRepo) ListByStatus(ctx context.Context, status domain.OutboxStatus, limit int) ([]domain.OutboxRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`SELECT `+outboxColumns+`
		FROM outbox WHERE status = ? ORDER BY created_at, id LIMIT ?`),
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list outbox records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.OutboxRecord, 0)
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// checkClaimed distingue entre registro inexistente y lease perdido cuando el UPDATE no afecta filas.
func (r *OutboxRepo) checkClaimed(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", domain.ErrOutboxClaimLost, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutbox(s rowScanner) (domain.OutboxRecord, error) {
	var (
		rec          domain.OutboxRecord
		id           string
		payload      string
		status       string
		createdAt    int64
		nextAttempt  int64
		publishedAt  sql.NullInt64
		claimedUntil sql.NullInt64
	)
	err := s.Scan(&id, &rec.EventID, &rec.TenantID, &rec.AggregateType, &rec.AggregateID, &rec.Type, &payload,
		&rec.SchemaID, &rec.SchemaVersion, &status, &rec.AttemptCount, &rec.LastError,
		&createdAt, &nextAttempt, &publishedAt, &rec.ClaimedBy, &claimedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan outbox record: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return rec, fmt.Errorf("invalid UUID in outbox row: %w", err)
	}
	rec.ID = parsed
	rec.Payload = []byte(payload)
	rec.Status = domain.OutboxStatus(status)
	rec.CreatedAt = fromMicros(createdAt)
	rec.NextAttemptAt = fromMicros(nextAttempt)
	rec.PublishedAt = timePtr(publishedAt)
	rec.ClaimedUntil = timePtr(claimedUntil)
	return rec, nil
}

// Verificación en tiempo de compilación.
var _ persistence.OutboxRepository = (*OutboxRepo)(nil)
