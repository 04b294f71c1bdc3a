package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/task-dispatch/internal/models"
	"github.com/example/task-dispatch/internal/observability"
	"github.com/example/task-dispatch/internal/storage"
)

// DeveloperLookup is the slice of the store the worker needs.
type DeveloperLookup interface {
	GetDeveloper(ctx context.Context, id string) (*models.Developer, error)
}

// DeadLetterPublisher receives events whose delivery exhausted the
// retry budget. Satisfied by *queue.Producer bound to the dead-letter
// topic.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, key string, v interface{}) error
}

// DeadLetter wraps an undeliverable event with enough context to
// replay it later.
type DeadLetter struct {
	Event    models.LifecycleEvent `json:"event"`
	Error    string                `json:"error"`
	Attempts int                   `json:"attempts"`
	FailedAt time.Time             `json:"failed_at"`
}

// Worker forwards lifecycle events to developer webhooks. Delivery is
// at-least-once: a non-success response is retried with exponential
// backoff and dead-lettered once the budget is spent.
type Worker struct {
	Store       DeveloperLookup
	DeadLetters DeadLetterPublisher
	Client      *http.Client
	Logger      *slog.Logger

	Attempts int           // total delivery attempts, min 1
	Backoff  time.Duration // initial retry delay, doubled per attempt
	Secret   string        // optional HMAC key for X-Signature
}

const (
	defaultAttempts = 3
	defaultBackoff  = 500 * time.Millisecond
)

// envelope is the body POSTed to the developer endpoint.
type envelope struct {
	Type string           `json:"type"`
	Data models.EventData `json:"data"`
}

// Deliver processes one dequeued event. It only returns an error for
// infrastructure failures worth redelivering the queue message for;
// endpoint failures end in the dead-letter topic instead.
func (w *Worker) Deliver(ctx context.Context, ev models.LifecycleEvent) error {
	dev, err := w.Store.GetDeveloper(ctx, ev.DeveloperID)
	if errors.Is(err, storage.ErrNotFound) {
		observability.WebhookDropped.Inc()
		w.Logger.Warn("event for unknown developer dropped", "type", ev.Type, "developer_id", ev.DeveloperID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load developer: %w", err)
	}
	if dev.WebhookURL == "" {
		observability.WebhookDropped.Inc()
		w.Logger.Info("developer has no webhook configured", "type", ev.Type, "developer_id", ev.DeveloperID)
		return nil
	}

	body, err := json.Marshal(envelope{Type: ev.Type, Data: ev.Data})
	if err != nil {
		return err
	}

	attempts := w.Attempts
	if attempts < 1 {
		attempts = defaultAttempts
	}
	delay := w.Backoff
	if delay <= 0 {
		delay = defaultBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			observability.WebhookRetries.Inc()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
		lastErr = w.post(ctx, dev.WebhookURL, body)
		if lastErr == nil {
			observability.WebhookDeliveries.Inc()
			return nil
		}
		w.Logger.Warn("webhook delivery failed",
			"type", ev.Type, "url", dev.WebhookURL, "attempt", attempt, "error", lastErr)
	}

	observability.WebhookDeadLetters.Inc()
	dl := DeadLetter{Event: ev, Error: lastErr.Error(), Attempts: attempts, FailedAt: time.Now()}
	if w.DeadLetters == nil {
		w.Logger.Error("no dead-letter sink configured, event lost", "type", ev.Type, "task_id", ev.Data.TaskID)
		return nil
	}
	if err := w.DeadLetters.Publish(ctx, ev.Data.TaskID, dl); err != nil {
		// keep the queue message so it is redelivered
		return fmt.Errorf("dead-letter publish: %w", err)
	}
	return nil
}

func (w *Worker) post(ctx context.Context, url string, body []byte) error {
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Secret != "" {
		req.Header.Set("X-Signature", sign(w.Secret, body))
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
