package events

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/txmessaging/internal/shared/infra/platform/bus"
)

// NewKafkaWriter crea un writer sin topic fijo: cada mensaje lleva el suyo.
// El balanceo por hash de la clave mantiene en orden los eventos de un mismo agregado.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewKafkaPublisher(writer *kafka.Writer, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, log: log}
}

// Publish escribe los mensajes como sobres JSON con las cabeceras de metadatos.
// Devuelve error si el broker no confirma la escritura de todos ellos.
func (p *KafkaPublisher) Publish(ctx context.Context, msgs ...sharedBus.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	out := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		km, err := toKafkaMessage(msg)
		if err != nil {
			return err
		}
		out = append(out, km)
	}

	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		p.log.Error("❌ Error publicando en Kafka", zap.Int("messages", len(out)), zap.Error(err))
		return fmt.Errorf("kafka write: %w", err)
	}

	p.log.Debug("📤 Mensajes publicados en Kafka", zap.Int("messages", len(out)))
	return nil
}

// Subscribe no está soportado por el publicador; el consumo usa KafkaSubscriber.
func (p *KafkaPublisher) Subscribe(string, sharedBus.Handler) error {
	return fmt.Errorf("kafka publisher does not consume: use KafkaSubscriber")
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toKafkaMessage(msg sharedBus.Message) (kafka.Message, error) {
	if msg.Topic == "" {
		return kafka.Message{}, fmt.Errorf("message %s has no topic", msg.ID)
	}
	value, err := sharedBus.EncodeEnvelope(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", msg.ID, err)
	}

	headers := sharedBus.HeadersFor(msg)
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	km := kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.PartitionKey()),
		Value: value,
		Time:  msg.OccurredAt,
	}
	for _, k := range names {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(headers[k])})
	}
	return km, nil
}

var _ sharedBus.EventBus = (*KafkaPublisher)(nil)
