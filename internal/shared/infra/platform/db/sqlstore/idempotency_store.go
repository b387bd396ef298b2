package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
)

const idempotencyKeyWhere = `tenant_id = ? AND idempotency_key = ? AND method = ? AND path = ?`

// IdempotencyStore implementa domain.IdempotencyStore sobre SQLite o Postgres.
type IdempotencyStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewIdempotencyStore(db *sql.DB, d Dialect) *IdempotencyStore {
	return &IdempotencyStore{db: db, dialect: d}
}

func keyArgs(key domain.IdempotencyKey) []any {
	return []any{key.TenantID, key.Key, strings.ToUpper(key.Method), key.Path}
}

func (s *IdempotencyStore) Get(ctx context.Context, key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	var (
		rec       domain.IdempotencyRecord
		status    string
		createdAt int64
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT tenant_id, idempotency_key, method, path,
		request_hash, status, status_code, response_body, created_at, expires_at
		FROM idempotency WHERE `+idempotencyKeyWhere), keyArgs(key)...,
	).Scan(&rec.TenantID, &rec.Key, &rec.Method, &rec.Path,
		&rec.RequestHash, &status, &rec.StatusCode, &rec.ResponseBody, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, fmt.Errorf("%w: %s", domain.ErrIdempotencyRecordNotFound, key)
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	rec.Status = domain.IdempotencyStatus(status)
	rec.CreatedAt = fromMicros(createdAt)
	rec.ExpiresAt = timePtr(expiresAt)
	return rec, nil
}

func (s *IdempotencyStore) Create(ctx context.Context, rec domain.IdempotencyRecord) (bool, error) {
	args := append(keyArgs(rec.IdempotencyKey),
		rec.RequestHash, string(rec.Status), rec.StatusCode, rec.ResponseBody,
		toMicros(rec.CreatedAt), nullMicros(rec.ExpiresAt),
	)
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO idempotency
		(tenant_id, idempotency_key, method, path, request_hash, status, status_code, response_body, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, idempotency_key, method, path) DO NOTHING`), args...)
	if err != nil {
		return false, fmt.Errorf("create idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	return n == 1, nil
}

func (s *IdempotencyStore) Transition(ctx context.Context, key domain.IdempotencyKey, requestHash string, from, to domain.IdempotencyStatus) (bool, error) {
	args := append([]any{string(to)}, keyArgs(key)...)
	args = append(args, string(from), requestHash)
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`UPDATE idempotency
		SET status = ?, status_code = 0, response_body = NULL
		WHERE `+idempotencyKeyWhere+` AND status = ? AND request_hash = ?`), args...)
	if err != nil {
		return false, fmt.Errorf("transition idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	return n == 1, nil
}

func (s *IdempotencyStore) SaveResponse(ctx context.Context, key domain.IdempotencyKey, status domain.IdempotencyStatus, statusCode int, body []byte) error {
	args := append([]any{string(status), statusCode, body}, keyArgs(key)...)
	args = append(args, string(domain.IdempotencyInProgress))
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`UPDATE idempotency
		SET status = ?, status_code = ?, response_body = ?
		WHERE `+idempotencyKeyWhere+` AND status = ?`), args...)
	if err != nil {
		return fmt.Errorf("save idempotency response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no in-progress record for %s", domain.ErrStateConflict, key)
	}
	return nil
}

func (s *IdempotencyStore) DeleteExpired(ctx context.Context, key domain.IdempotencyKey, now time.Time) (bool, error) {
	args := append(keyArgs(key), toMicros(now))
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM idempotency
		WHERE `+idempotencyKeyWhere+` AND expires_at IS NOT NULL AND expires_at <= ?`), args...)
	if err != nil {
		return false, fmt.Errorf("delete expired idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	return n == 1, nil
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
