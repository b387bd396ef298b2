package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davicafu/txmessaging/internal/shared/domain"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/metrics"
	"go.uber.org/zap"
)

// Outcome es el resultado de consultar el registro de idempotencia.
type Outcome string

const (
	OutcomeNew      Outcome = "NEW"
	OutcomeReplay   Outcome = "REPLAY"
	OutcomeRetry    Outcome = "RETRY"
	OutcomeConflict Outcome = "CONFLICT"
	OutcomeMismatch Outcome = "MISMATCH"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultRetryAfter = 2 * time.Second

	// MaxKeyLength limita el tamaño de la cabecera Idempotency-Key.
	MaxKeyLength = 255

	// maxBeginRounds acota los reintentos cuando otra petición gana una carrera sobre la misma clave.
	maxBeginRounds = 3
)

var ErrInvalidKey = fmt.Errorf("invalid idempotency key: %w", domain.ErrValidation)

// Decision describe qué debe hacer el llamante con la petición.
type Decision struct {
	Outcome Outcome
	Record  domain.IdempotencyRecord
}

// Err traduce los resultados que no deben ejecutar el handler a su error de dominio.
func (d Decision) Err() error {
	switch d.Outcome {
	case OutcomeConflict:
		return domain.ErrStateConflict
	case OutcomeMismatch:
		return domain.ErrIdempotencyKeyMismatch
	default:
		return nil
	}
}

// Execute indica si el handler de negocio debe ejecutarse.
func (d Decision) Execute() bool {
	return d.Outcome == OutcomeNew || d.Outcome == OutcomeRetry
}

// Response es la respuesta que se cachea para los replays.
// Retryable marca respuestas que invitan al cliente a reintentar (p. ej. un 409 con Retry-After):
// no se cachean y la clave queda libre para el reintento.
type Response struct {
	StatusCode int
	Body       []byte
	Retryable  bool
}

// Handler ejecuta el comando protegido por la clave.
type Handler func(ctx context.Context) (Response, error)

type Service struct {
	store      domain.IdempotencyStore
	ttl        time.Duration
	retryAfter time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
	log        *zap.Logger
}

type Option func(*Service)

// WithTTL fija la vida de los registros; 0 significa que no expiran.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

func WithRetryAfter(d time.Duration) Option {
	return func(s *Service) { s.retryAfter = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store domain.IdempotencyStore, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		ttl:        DefaultTTL,
		retryAfter: DefaultRetryAfter,
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RetryAfter es la espera sugerida al cliente ante un CONFLICT.
func (s *Service) RetryAfter() time.Duration {
	return s.retryAfter
}

// ValidateKey comprueba la clave antes de tocar el almacén.
func ValidateKey(key domain.IdempotencyKey) error {
	switch {
	case key.Key == "":
		return fmt.Errorf("%w: key is required", ErrInvalidKey)
	case len(key.Key) > MaxKeyLength:
		return fmt.Errorf("%w: key longer than %d characters", ErrInvalidKey, MaxKeyLength)
	case key.Method == "" || key.Path == "":
		return fmt.Errorf("%w: method and path are required", ErrInvalidKey)
	}
	return nil
}

// Begin reserva la clave para esta petición o decide que no debe ejecutarse.
func (s *Service) Begin(ctx context.Context, key domain.IdempotencyKey, body []byte) (Decision, error) {
	if err := ValidateKey(key); err != nil {
		return Decision{}, err
	}
	hash := CanonicalHash(body)

	for round := 0; round < maxBeginRounds; round++ {
		now := s.now().UTC()

		rec, err := s.store.Get(ctx, key)
		if errors.Is(err, domain.ErrIdempotencyRecordNotFound) {
			fresh := s.newRecord(key, hash, now)
			created, err := s.store.Create(ctx, fresh)
			if err != nil {
				return Decision{}, err
			}
			if created {
				return s.decide(key, Decision{Outcome: OutcomeNew, Record: fresh}), nil
			}
			continue
		}
		if err != nil {
			return Decision{}, err
		}

		if rec.Expired(now) {
			if _, err := s.store.DeleteExpired(ctx, key, now); err != nil {
				return Decision{}, err
			}
			continue
		}

		if rec.RequestHash != hash {
			return s.decide(key, Decision{Outcome: OutcomeMismatch, Record: rec}), nil
		}

		switch rec.Status {
		case domain.IdempotencySucceeded:
			return s.decide(key, Decision{Outcome: OutcomeReplay, Record: rec}), nil
		case domain.IdempotencyInProgress:
			return s.decide(key, Decision{Outcome: OutcomeConflict, Record: rec}), nil
		case domain.IdempotencyFailed:
			ok, err := s.store.Transition(ctx, key, hash, domain.IdempotencyFailed, domain.IdempotencyInProgress)
			if err != nil {
				return Decision{}, err
			}
			if ok {
				rec.Status = domain.IdempotencyInProgress
				rec.StatusCode = 0
				rec.ResponseBody = nil
				return s.decide(key, Decision{Outcome: OutcomeRetry, Record: rec}), nil
			}
		default:
			return Decision{}, fmt.Errorf("idempotency record %s has unknown status %q", key, rec.Status)
		}
	}

	// Otra petición sigue moviendo el registro: el cliente debe reintentar más tarde.
	return s.decide(key, Decision{Outcome: OutcomeConflict}), nil
}

// Complete guarda la respuesta. Los 5xx y las respuestas reintentables se registran
// como FAILED para permitir el reintento.
func (s *Service) Complete(ctx context.Context, key domain.IdempotencyKey, resp Response) error {
	status := domain.IdempotencySucceeded
	if resp.StatusCode >= 500 || resp.Retryable {
		status = domain.IdempotencyFailed
	}
	return s.store.SaveResponse(ctx, key, status, resp.StatusCode, resp.Body)
}

// Fail libera la clave para que un reintento con el mismo cuerpo vuelva a ejecutar.
func (s *Service) Fail(ctx context.Context, key domain.IdempotencyKey) error {
	return s.store.SaveResponse(ctx, key, domain.IdempotencyFailed, 0, nil)
}

// Execute compone begin → handler → complete/fail. En REPLAY devuelve la respuesta
// cacheada sin invocar al handler; en CONFLICT y MISMATCH devuelve el error de la decisión.
// Si el handler entra en pánico la clave se libera antes de propagarlo.
func (s *Service) Execute(ctx context.Context, key domain.IdempotencyKey, body []byte, h Handler) (Response, Outcome, error) {
	d, err := s.Begin(ctx, key, body)
	if err != nil {
		return Response{}, "", err
	}

	switch d.Outcome {
	case OutcomeReplay:
		return Response{StatusCode: d.Record.StatusCode, Body: d.Record.ResponseBody}, d.Outcome, nil
	case OutcomeConflict, OutcomeMismatch:
		return Response{}, d.Outcome, d.Err()
	}

	// La respuesta se persiste aunque el contexto de la petición se haya cancelado.
	saveCtx := context.WithoutCancel(ctx)
	defer func() {
		if p := recover(); p != nil {
			s.release(saveCtx, key)
			panic(p)
		}
	}()

	resp, herr := h(ctx)
	if herr != nil {
		s.release(saveCtx, key)
		return Response{}, d.Outcome, herr
	}

	if err := s.Complete(saveCtx, key, resp); err != nil {
		return resp, d.Outcome, err
	}
	return resp, d.Outcome, nil
}

func (s *Service) release(ctx context.Context, key domain.IdempotencyKey) {
	if err := s.Fail(ctx, key); err != nil {
		s.log.Warn("⚠️ No se pudo liberar la clave de idempotencia",
			zap.String("key", key.String()), zap.Error(err))
	}
}

func (s *Service) newRecord(key domain.IdempotencyKey, hash string, now time.Time) domain.IdempotencyRecord {
	rec := domain.IdempotencyRecord{
		IdempotencyKey: key,
		RequestHash:    hash,
		Status:         domain.IdempotencyInProgress,
		CreatedAt:      now,
	}
	if s.ttl > 0 {
		exp := now.Add(s.ttl)
		rec.ExpiresAt = &exp
	}
	return rec
}

func (s *Service) decide(key domain.IdempotencyKey, d Decision) Decision {
	s.metrics.IdempotencyOutcome(string(d.Outcome))
	switch d.Outcome {
	case OutcomeMismatch:
		s.log.Warn("🚫 Clave de idempotencia reutilizada con otro cuerpo", zap.String("key", key.String()))
	case OutcomeConflict:
		s.log.Warn("⏳ Petición con la misma clave aún en curso", zap.String("key", key.String()))
	}
	return d
}
