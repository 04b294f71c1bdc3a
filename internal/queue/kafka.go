package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/task-dispatch/internal/models"
)

// Producer publishes to one topic. The same type backs the
// assignment-requests, task-events and dead-letter topics.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Producer{writer: w}
}

// Publish marshals v and writes it keyed by key.
func (p *Producer) Publish(ctx context.Context, key string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

// PublishAssignmentRequest enqueues {taskId} for the dispatcher.
func (p *Producer) PublishAssignmentRequest(ctx context.Context, taskID string) error {
	return p.Publish(ctx, taskID, models.AssignmentRequest{TaskID: taskID})
}

// PublishEvent enqueues a lifecycle event, keyed by task so events for
// one task stay ordered within a partition.
func (p *Producer) PublishEvent(ctx context.Context, ev models.LifecycleEvent) error {
	return p.Publish(ctx, ev.Data.TaskID, ev)
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// NewReader builds a consumer-group reader with the settings the
// worker binaries share.
func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}
