package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"currency-ledger/internal/domain"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, ev domain.AccountEvent) error
	Close() error
}

// Noop drops every event. Used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, domain.AccountEvent) error { return nil }
func (Noop) Close() error                                        { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
			WriteTimeout: 10 * time.Second,
			Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				log.Debug(fmt.Sprintf(msg, args...))
			}),
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				log.Warn(fmt.Sprintf(msg, args...))
			}),
		},
		topic: topic,
	}
}

// encodeMessage keys by account id so all events of one account land on the
// same partition in order.
func encodeMessage(ev domain.AccountEvent) (kafka.Message, error) {
	v, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.AccountID),
		Value: v,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "correlation_id", Value: []byte(ev.CorrelationID)},
		},
	}, nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, ev domain.AccountEvent) error {
	msg, err := encodeMessage(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event to %s: %w", ev.Type, k.topic, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error { return k.writer.Close() }
