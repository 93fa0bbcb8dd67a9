package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/aqi-fusion-service/internal/alert"
	"github.com/couchcryptid/aqi-fusion-service/internal/config"
	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
)

func newTopicWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
}

// SnapshotWriter publishes AQI snapshots, keyed by location so a
// location's snapshots stay ordered within one partition.
type SnapshotWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewSnapshotWriter creates a producer for the snapshot sink topic.
func NewSnapshotWriter(cfg *config.Config, logger *slog.Logger) *SnapshotWriter {
	return &SnapshotWriter{
		writer: newTopicWriter(cfg.KafkaBrokers, cfg.KafkaSnapshotTopic),
		logger: logger,
	}
}

func (w *SnapshotWriter) PublishSnapshot(ctx context.Context, snap domain.AQISnapshot) error {
	msg, err := serializeSnapshot(snap)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *SnapshotWriter) Close() error {
	return w.writer.Close()
}

// ForecastWriter publishes forecast points in per-location batches.
type ForecastWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewForecastWriter creates a producer for the forecast sink topic.
func NewForecastWriter(cfg *config.Config, logger *slog.Logger) *ForecastWriter {
	return &ForecastWriter{
		writer: newTopicWriter(cfg.KafkaBrokers, cfg.KafkaForecastTopic),
		logger: logger,
	}
}

func (w *ForecastWriter) PublishForecast(ctx context.Context, points []domain.ForecastPoint) error {
	if len(points) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(points))
	for i, fp := range points {
		data, err := json.Marshal(fp)
		if err != nil {
			return fmt.Errorf("serialize forecast point: %w", err)
		}
		msgs[i] = kafkago.Message{
			Key:   []byte(fp.Location.ID),
			Value: data,
			Headers: []kafkago.Header{
				{Key: "target_hour", Value: []byte(strconv.Itoa(fp.TargetHour))},
			},
		}
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *ForecastWriter) Close() error {
	return w.writer.Close()
}

// IntentWriter publishes notification intents for the delivery layer.
// It implements alert.IntentSink.
type IntentWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewIntentWriter creates a producer for the notification intent topic.
func NewIntentWriter(cfg *config.Config, logger *slog.Logger) *IntentWriter {
	return &IntentWriter{
		writer: newTopicWriter(cfg.KafkaBrokers, cfg.KafkaIntentTopic),
		logger: logger,
	}
}

func (w *IntentWriter) Publish(ctx context.Context, intent alert.Intent) error {
	msg, err := serializeIntent(intent)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *IntentWriter) Close() error {
	return w.writer.Close()
}

// serializeSnapshot marshals an AQISnapshot into a Kafka message.
func serializeSnapshot(snap domain.AQISnapshot) (kafkago.Message, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize snapshot: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(snap.Location.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "category", Value: []byte(snap.Category)},
			{Key: "computed_at", Value: []byte(snap.ComputedAt.Format(time.RFC3339))},
		},
	}, nil
}

// serializeIntent marshals a notification intent into a Kafka message,
// keyed by rule and location so retries for a pair stay ordered.
func serializeIntent(intent alert.Intent) (kafkago.Message, error) {
	data, err := json.Marshal(intent)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize intent: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(intent.RuleID + "|" + intent.Location.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "category", Value: []byte(intent.Category)},
			{Key: "created_at", Value: []byte(intent.CreatedAt.Format(time.RFC3339))},
		},
	}, nil
}
