package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/go-redis/redis/v8"
)

// maxCASRetries acota los reintentos de WATCH cuando otra petición modifica la misma clave.
const maxCASRetries = 5

// IdempotencyStore guarda cada registro como un JSON con TTL igual a su expires_at.
type IdempotencyStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewIdempotencyStore(client *redis.Client, prefix string) *IdempotencyStore {
	return &IdempotencyStore{client: client, prefix: prefix, now: time.Now}
}

type redisRecord struct {
	TenantID     string     `json:"tenant_id"`
	Key          string     `json:"key"`
	Method       string     `json:"method"`
	Path         string     `json:"path"`
	RequestHash  string     `json:"request_hash"`
	Status       string     `json:"status"`
	StatusCode   int        `json:"status_code"`
	ResponseBody []byte     `json:"response_body,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func toRedis(rec domain.IdempotencyRecord) redisRecord {
	return redisRecord{
		TenantID:     rec.TenantID,
		Key:          rec.Key,
		Method:       strings.ToUpper(rec.Method),
		Path:         rec.Path,
		RequestHash:  rec.RequestHash,
		Status:       string(rec.Status),
		StatusCode:   rec.StatusCode,
		ResponseBody: rec.ResponseBody,
		CreatedAt:    rec.CreatedAt.UTC(),
		ExpiresAt:    rec.ExpiresAt,
	}
}

func (r redisRecord) toDomain() domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		IdempotencyKey: domain.IdempotencyKey{TenantID: r.TenantID, Key: r.Key, Method: r.Method, Path: r.Path},
		RequestHash:    r.RequestHash,
		Status:         domain.IdempotencyStatus(r.Status),
		StatusCode:     r.StatusCode,
		ResponseBody:   r.ResponseBody,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}

func (s *IdempotencyStore) redisKey(key domain.IdempotencyKey) string {
	return s.prefix + "idempotency:" + key.String()
}

// ttl convierte expires_at en el TTL de Redis; 0 significa sin expiración.
func (s *IdempotencyStore) ttl(expiresAt *time.Time) time.Duration {
	if expiresAt == nil {
		return 0
	}
	ttl := expiresAt.Sub(s.now())
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}

func (s *IdempotencyStore) Get(ctx context.Context, key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	rec, err := s.read(ctx, s.client, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return rec.toDomain(), nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *IdempotencyStore) read(ctx context.Context, c getter, key domain.IdempotencyKey) (redisRecord, error) {
	data, err := c.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return redisRecord{}, fmt.Errorf("%w: %s", domain.ErrIdempotencyRecordNotFound, key)
	}
	if err != nil {
		return redisRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return redisRecord{}, fmt.Errorf("decode idempotency record: %w", err)
	}
	return rec, nil
}

func (s *IdempotencyStore) Create(ctx context.Context, rec domain.IdempotencyRecord) (bool, error) {
	data, err := json.Marshal(toRedis(rec))
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, s.redisKey(rec.IdempotencyKey), data, s.ttl(rec.ExpiresAt)).Result()
	if err != nil {
		return false, fmt.Errorf("create idempotency record: %w", err)
	}
	return ok, nil
}

// update aplica mutate bajo WATCH/MULTI. mutate devuelve false si el registro no cumple la condición.
func (s *IdempotencyStore) update(ctx context.Context, key domain.IdempotencyKey, mutate func(*redisRecord) bool) (bool, error) {
	rk := s.redisKey(key)
	var applied bool

	txf := func(tx *redis.Tx) error {
		applied = false
		rec, err := s.read(ctx, tx, key)
		if errors.Is(err, domain.ErrIdempotencyRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !mutate(&rec) {
			return nil
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, data, redis.KeepTTL)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, txf, rk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("update idempotency record: %w", err)
		}
		return applied, nil
	}
	return false, nil
}

func (s *IdempotencyStore) Transition(ctx context.Context, key domain.IdempotencyKey, requestHash string, from, to domain.IdempotencyStatus) (bool, error) {
	return s.update(ctx, key, func(rec *redisRecord) bool {
		if rec.Status != string(from) || rec.RequestHash != requestHash {
			return false
		}
		rec.Status = string(to)
		rec.StatusCode = 0
		rec.ResponseBody = nil
		return true
	})
}

func (s *IdempotencyStore) SaveResponse(ctx context.Context, key domain.IdempotencyKey, status domain.IdempotencyStatus, statusCode int, body []byte) error {
	ok, err := s.update(ctx, key, func(rec *redisRecord) bool {
		if rec.Status != string(domain.IdempotencyInProgress) {
			return false
		}
		rec.Status = string(status)
		rec.StatusCode = statusCode
		rec.ResponseBody = body
		return true
	})
	if err != nil {
		return fmt.Errorf("save idempotency response: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: no in-progress record for %s", domain.ErrStateConflict, key)
	}
	return nil
}

// DeleteExpired borra el registro si expires_at <= now. Redis ya lo elimina por TTL;
// esto cubre la diferencia entre el reloj de la app y el del servidor.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context, key domain.IdempotencyKey, now time.Time) (bool, error) {
	rk := s.redisKey(key)
	var deleted bool

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.read(ctx, tx, key)
		if errors.Is(err, domain.ErrIdempotencyRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.ExpiresAt == nil || now.Before(*rec.ExpiresAt) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, rk)
			return nil
		})
		deleted = err == nil
		return err
	}, rk)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete expired idempotency record: %w", err)
	}
	return deleted, nil
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
