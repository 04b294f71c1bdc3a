package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/task-dispatch/internal/models"
	"github.com/example/task-dispatch/internal/storage"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

func runConsumer(t *testing.T, w *Worker, reader *fakeReader) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		(&Consumer{Reader: reader, Worker: w, Logger: slog.Default()}).Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("consumer did not stop on cancellation")
		}
	}
}

func TestConsumerCommitsAfterDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	store.PutDeveloper(&models.Developer{ID: "dev1", WebhookURL: srv.URL})
	reader := &fakeReader{msgs: make(chan kafka.Message, 2)}
	body, _ := json.Marshal(testEvent())
	reader.msgs <- kafka.Message{Value: []byte("{not json")}
	reader.msgs <- kafka.Message{Value: body}

	stop := runConsumer(t, newWorker(store, &deadLetterRecorder{}), reader)
	defer stop()

	// the malformed message and the delivered event both advance the offset
	deadline := time.After(2 * time.Second)
	for reader.commits() != 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 committed offsets, got %d", reader.commits())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type failingDeadLetters struct{}

func (failingDeadLetters) Publish(context.Context, string, interface{}) error {
	return errors.New("broker unavailable")
}

func TestConsumerLeavesOffsetUncommittedWhenDeadLetterFails(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(500)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	store.PutDeveloper(&models.Developer{ID: "dev1", WebhookURL: srv.URL})
	w := newWorker(store, failingDeadLetters{})
	w.Attempts = 1

	reader := &fakeReader{msgs: make(chan kafka.Message, 1)}
	body, _ := json.Marshal(testEvent())
	reader.msgs <- kafka.Message{Value: body}

	stop := runConsumer(t, w, reader)

	// wait until the delivery attempt has run, then shut down
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("delivery attempt did not run in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	stop()

	if got := reader.commits(); got != 0 {
		t.Fatalf("event that failed dead-lettering must stay uncommitted, got %d commits", got)
	}
}
