package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every event as JSON to a topic.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink creates a producer for brokers. Connections are made lazily
// on the first write.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Handle(ctx context.Context, ev Event) error {
	msg, err := newMessage(ev)
	if err != nil {
		return err
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to topic %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// newMessage keys events by session so one session stays on one partition
func newMessage(ev Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	key := ev.SessionID
	if key == "" {
		key = ev.Group
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  ev.Time,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}, nil
}
