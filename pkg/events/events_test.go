package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func testTask() *db.Task {
	return &db.Task{
		ID:             3,
		ImageID:        11,
		ProcessingType: "resize",
		Status:         db.StatusPending,
		CreatedAt:      time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_TaskSubmitted(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, topic: "tasks"}

	if err := p.TaskSubmitted(context.Background(), testTask()); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}

	msg := w.msgs[0]
	if string(msg.Key) != "11" {
		t.Errorf("key = %q, want 11", msg.Key)
	}
	var ev TaskSubmittedEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if ev.Type != "task.submitted" || ev.TaskID != 3 || ev.ImageID != 11 || ev.ProcessingType != "resize" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &recordingWriter{err: boom}, topic: "tasks"}

	if err := p.TaskSubmitted(context.Background(), testTask()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestNoop(t *testing.T) {
	if err := (Noop{}).TaskSubmitted(context.Background(), testTask()); err != nil {
		t.Errorf("noop returned error: %v", err)
	}
}

func TestNewKafkaPublisher_WriterSettings(t *testing.T) {
	p := NewKafkaPublisher([]string{"broker-1:9092"}, "image-tasks")
	t.Cleanup(func() { p.Close() })

	w, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("writer is %T, want *kafka.Writer", p.writer)
	}
	tests := []struct {
		name string
		ok   bool
	}{
		{"topic", w.Topic == "image-tasks"},
		{"broker", w.Addr.String() == "broker-1:9092"},
		{"hash balancer", isHash(w.Balancer)},
		{"batch timeout under 100ms", w.BatchTimeout > 0 && w.BatchTimeout < 100*time.Millisecond},
		{"leader ack", w.RequiredAcks == kafka.RequireOne},
	}
	for _, tt := range tests {
		if !tt.ok {
			t.Errorf("unexpected writer %s: %+v", tt.name, w)
		}
	}
}

func isHash(b kafka.Balancer) bool {
	_, ok := b.(*kafka.Hash)
	return ok
}
