// Package events publishes task notifications for external processors.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// TaskSubmittedEvent is the message body written for every accepted task.
type TaskSubmittedEvent struct {
	Type           string    `json:"type"`
	TaskID         int64     `json:"task_id"`
	ImageID        int64     `json:"image_id"`
	ProcessingType string    `json:"processing_type"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

const typeTaskSubmitted = "task.submitted"

func encodeTaskSubmitted(task *db.Task) (kafka.Message, error) {
	body, err := json.Marshal(TaskSubmittedEvent{
		Type:           typeTaskSubmitted,
		TaskID:         task.ID,
		ImageID:        task.ImageID,
		ProcessingType: task.ProcessingType,
		Status:         task.Status,
		CreatedAt:      task.CreatedAt,
	})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(task.ImageID, 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(typeTaskSubmitted)},
		},
	}, nil
}

// publishBatchTimeout bounds how long a synchronous publish waits for a
// batch to fill. Publishes happen one task at a time.
const publishBatchTimeout = 10 * time.Millisecond

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes task events to a Kafka topic
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a producer for topic. Messages keyed by image id
// land on the same partition, so events for one image stay ordered.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	slog.Info("kafka_publisher_init", "brokers", brokers, "topic", topic)
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: publishBatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w, topic: topic}
}

// TaskSubmitted publishes a task.submitted event.
func (p *KafkaPublisher) TaskSubmitted(ctx context.Context, task *db.Task) error {
	msg, err := encodeTaskSubmitted(task)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("kafka_publish_failed", "topic", p.topic, "task_id", task.ID, "error", err)
		return errors.Wrap(err, "failed to publish event")
	}
	slog.Info("kafka_event_published", "topic", p.topic, "task_id", task.ID, "image_id", task.ImageID)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Noop discards every event. Used when no brokers are configured.
type Noop struct{}

func (Noop) TaskSubmitted(ctx context.Context, task *db.Task) error {
	slog.Debug("event_discarded", "type", typeTaskSubmitted, "task_id", task.ID)
	return nil
}

func (Noop) Close() error { return nil }
