package events

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

type KafkaClient struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaClient connects a writer and a reader to topic. Each server
// instance must pass its own groupID so that every instance receives
// every room event.
func NewKafkaClient(brokers []string, topic string, groupID string) *KafkaClient {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
	})

	return &KafkaClient{
		writer: writer,
		reader: reader,
	}
}

// Publish keys messages by room code so one room's events stay ordered
// within a partition.
func (k *KafkaClient) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	msg := kafka.Message{
		Key:   []byte(event.RoomCode),
		Value: data,
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

// ConsumeEvents blocks until ctx is done or the reader fails. Undecodable
// messages and handler failures are logged and skipped.
func (k *KafkaClient) ConsumeEvents(ctx context.Context, handler Handler) error {
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "failed to read message")
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			zlog.Warn().Err(err).Int64("offset", msg.Offset).Msg("discarding undecodable event")
			continue
		}

		if err := handler(ctx, event); err != nil {
			zlog.Warn().Err(err).Str("type", string(event.Type)).Str("room", event.RoomCode).Msg("event handler failed")
		}
	}
}

func (k *KafkaClient) Close() error {
	if err := k.writer.Close(); err != nil {
		return errors.Wrap(err, "failed to close writer")
	}
	if err := k.reader.Close(); err != nil {
		return errors.Wrap(err, "failed to close reader")
	}
	return nil
}
