// Package kafka publishes artifact notifications.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-data-wind-service/internal/config"
	"github.com/couchcryptid/storm-data-wind-service/internal/domain"
)

// Writer produces artifact notifications to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured artifact topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaArtifactTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish sends one message per artifact in a single WriteMessages call.
func (w *Writer) Publish(ctx context.Context, records []domain.ArtifactRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish artifact notifications: %w", err)
	}
	w.logger.Debug("artifact notifications published", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an ArtifactRecord into a Kafka message keyed by
// boundary abbreviation.
func serializeToMessage(record domain.ArtifactRecord) (kafkago.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize artifact record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(record.Abbreviation),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "layer", Value: []byte(record.Layer)},
			{Key: "written_at", Value: []byte(record.WrittenAt.Format(time.RFC3339))},
		},
	}, nil
}
