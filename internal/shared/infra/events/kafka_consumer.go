package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
	"github.com/davicafu/txmessaging/internal/shared/infra/platform/metrics"
)

// messageReader es el subconjunto de *kafka.Reader que usa el consumidor.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type SubscriberConfig struct {
	Brokers []string
	GroupID string

	// MaxTries acota los intentos del handler por mensaje; 0 reintenta hasta que se cancele el contexto.
	MaxTries     uint
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// KafkaSubscriber consume un topic por suscripción dentro de un consumer group.
// El offset solo se confirma cuando el handler termina sin error, así que la entrega es at-least-once.
type KafkaSubscriber struct {
	cfg       SubscriberConfig
	newReader func(topic string) messageReader
	metrics   *metrics.Metrics
	log       *zap.Logger

	mu       sync.Mutex
	handlers map[string]sharedBus.Handler
	stopped  map[string]error
}

type SubscriberOption func(*KafkaSubscriber)

// WithSubscriberMetrics publica el gauge consumer_up por topic.
func WithSubscriberMetrics(m *metrics.Metrics) SubscriberOption {
	return func(s *KafkaSubscriber) { s.metrics = m }
}

func NewKafkaSubscriber(cfg SubscriberConfig, log *zap.Logger, opts ...SubscriberOption) *KafkaSubscriber {
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 200 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 10 * time.Second
	}
	s := &KafkaSubscriber{
		cfg:      cfg,
		log:      log,
		handlers: make(map[string]sharedBus.Handler),
		stopped:  make(map[string]error),
	}
	s.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registra el handler de un topic. Debe llamarse antes de Run.
func (s *KafkaSubscriber) Subscribe(topic string, h sharedBus.Handler) error {
	if topic == "" || h == nil {
		return errors.New("subscribe requires a topic and a handler")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.handlers[topic]; dup {
		return fmt.Errorf("topic %s already has a handler", topic)
	}
	s.handlers[topic] = h
	return nil
}

// Run consume todos los topics suscritos hasta que se cancele ctx.
func (s *KafkaSubscriber) Run(ctx context.Context) error {
	s.mu.Lock()
	handlers := make(map[string]sharedBus.Handler, len(s.handlers))
	for topic, h := range s.handlers {
		handlers[topic] = h
	}
	s.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for topic, h := range handlers {
		reader := s.newReader(topic)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()
			s.metrics.ConsumerUp(topic, true)
			err := s.consume(ctx, reader, topic, h)
			s.metrics.ConsumerUp(topic, false)
			if err != nil {
				s.markStopped(topic, err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (s *KafkaSubscriber) markStopped(topic string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped[topic] = err
}

// Health falla si algún topic dejó de consumirse por un error; una parada por
// cancelación del contexto no cuenta.
func (s *KafkaSubscriber) Health(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for topic, err := range s.stopped {
		errs = append(errs, fmt.Errorf("consumer for %s stopped: %w", topic, err))
	}
	return errors.Join(errs...)
}

func (s *KafkaSubscriber) consume(ctx context.Context, reader messageReader, topic string, h sharedBus.Handler) error {
	s.log.Info("🎧 Iniciando consumidor de Kafka",
		zap.String("topic", topic),
		zap.String("group", s.cfg.GroupID),
		zap.Strings("brokers", s.cfg.Brokers),
	)

	for {
		km, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("Consumidor de Kafka detenido", zap.String("topic", topic))
				return nil
			}
			s.log.Error("Error al leer mensaje de Kafka", zap.String("topic", topic), zap.Error(err))
			return fmt.Errorf("fetch from %s: %w", topic, err)
		}

		msg, err := fromKafkaMessage(km)
		if err != nil {
			// Un sobre ilegible no se arregla reintentando: se registra y se confirma.
			s.log.Error("☠️ Mensaje de Kafka ilegible descartado",
				zap.String("topic", topic),
				zap.Int("partition", km.Partition),
				zap.Int64("offset", km.Offset),
				zap.Error(err),
			)
		} else if err := s.handle(ctx, h, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Sin commit: el mensaje se volverá a entregar al reiniciar el consumidor.
			s.log.Error("❌ Handler agotó los reintentos; se detiene el consumo del topic",
				zap.String("topic", topic),
				zap.String("event_id", msg.ID),
				zap.Error(err),
			)
			return fmt.Errorf("handle %s from %s: %w", msg.ID, topic, err)
		}

		if err := reader.CommitMessages(ctx, km); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset on %s: %w", topic, err)
		}
	}
}

func (s *KafkaSubscriber) handle(ctx context.Context, h sharedBus.Handler, msg sharedBus.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial
	b.MaxInterval = s.cfg.RetryMax

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Warn("⚠️ Handler falló, reintentando",
				zap.String("event_id", msg.ID),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	}
	if s.cfg.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(s.cfg.MaxTries))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, h(ctx, msg)
	}, opts...)
	return err
}

func fromKafkaMessage(km kafka.Message) (sharedBus.Message, error) {
	headers := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}
	return sharedBus.DecodeEnvelope(km.Topic, km.Key, km.Value, headers)
}
