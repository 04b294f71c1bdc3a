package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/task-dispatch/internal/models"
)

// MessageReader is the subset of kafka.Reader the consumer loop needs.
// Fetch and commit are split so offsets advance only after a pass
// succeeds; ReadMessage would commit at read time and lose the message
// on failure.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer drains the assignment-requests topic and runs one matching
// pass per message. Read errors back off exponentially; malformed
// messages are dropped.
type Consumer struct {
	Reader  MessageReader
	Service *Service
	Logger  *slog.Logger
}

func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.Logger.Info("assignment consumer shutting down")
				return
			}
			c.Logger.Error("assignment queue read error", "error", err, "backoff", backoff)
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

		var req models.AssignmentRequest
		if err := json.Unmarshal(m.Value, &req); err != nil {
			c.Logger.Error("invalid assignment request", "error", err)
			c.commit(ctx, m)
			continue
		}
		if err := c.Service.Process(ctx, req.TaskID); err != nil {
			// leave the offset uncommitted; the pass is idempotent,
			// so a redelivery re-runs it safely
			c.Logger.Error("matching pass failed", "task_id", req.TaskID, "error", err)
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
