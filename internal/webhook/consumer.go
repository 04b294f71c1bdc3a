package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/task-dispatch/internal/models"
)

// MessageReader is the subset of kafka.Reader the consumer loop needs.
// Fetch and commit are split so the offset advances only after Deliver
// resolves the event (delivered, dropped or dead-lettered); ReadMessage
// would commit at read time and lose the event on failure.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer drains the task-events topic and hands each lifecycle event
// to the delivery worker.
type Consumer struct {
	Reader MessageReader
	Worker *Worker
	Logger *slog.Logger
}

func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.Logger.Info("webhook consumer shutting down")
				return
			}
			c.Logger.Error("event queue read error", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		var ev models.LifecycleEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.Logger.Error("invalid lifecycle event", "error", err)
			c.commit(ctx, m)
			continue
		}
		if err := c.Worker.Deliver(ctx, ev); err != nil {
			// uncommitted; the group re-serves the event and delivery
			// (at-least-once by contract) runs again
			c.Logger.Error("event delivery failed", "type", ev.Type, "task_id", ev.Data.TaskID, "error", err)
			continue
		}
		c.commit(ctx, m)
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.Reader.CommitMessages(ctx, m); err != nil {
		c.Logger.Error("offset commit failed", "error", err)
	}
}
