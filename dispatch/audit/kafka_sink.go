package audit

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON, keyed by tenant so a tenant's events stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

func (s *KafkaSink) Emit(ctx context.Context, event Event) error {
	event = normalize(event)
	value, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit event")
	}

	msg := kafka.Message{
		Key:   []byte(event.TenantID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "priority", Value: []byte(event.Priority)},
		},
	}
	if err = s.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "failed to publish audit event %s", event.EventType)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
