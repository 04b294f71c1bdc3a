package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/task-dispatch/internal/models"
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

func TestConsumerRunsMatchingPassPerMessage(t *testing.T) {
	svc, store, riders, _ := newTestService()
	seedTask(t, store, "t1")
	seedRider(t, store, "r1", 1)
	placeRider(riders, "r1", models.PresenceAvailable, 40.71, -74.00)

	reader := &fakeReader{msgs: make(chan kafka.Message, 2)}
	body, _ := json.Marshal(models.AssignmentRequest{TaskID: "t1"})
	reader.msgs <- kafka.Message{Value: []byte("{not json")}
	reader.msgs <- kafka.Message{Value: body}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		(&Consumer{Reader: reader, Service: svc, Logger: slog.Default()}).Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		task, err := store.GetTask(context.Background(), "t1")
		if err == nil && task.Status == models.StatusAssigned {
			break
		}
		select {
		case <-deadline:
			t.Fatal("task was not assigned in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// both the malformed message and the processed one advance the offset
	deadline = time.After(time.Second)
	for reader.commits() != 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 committed offsets, got %d", reader.commits())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancellation")
	}
}

type failingEvents struct{}

func (failingEvents) PublishEvent(context.Context, models.LifecycleEvent) error {
	return context.DeadlineExceeded
}

func TestConsumerLeavesOffsetUncommittedWhenPassFails(t *testing.T) {
	svc, store, riders, _ := newTestService()
	svc.Events = failingEvents{}
	seedTask(t, store, "t1")
	seedRider(t, store, "r1", 1)
	placeRider(riders, "r1", models.PresenceAvailable, 40.71, -74.00)

	reader := &fakeReader{msgs: make(chan kafka.Message, 1)}
	body, _ := json.Marshal(models.AssignmentRequest{TaskID: "t1"})
	reader.msgs <- kafka.Message{Value: body}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		(&Consumer{Reader: reader, Service: svc, Logger: slog.Default()}).Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		task, err := store.GetTask(context.Background(), "t1")
		if err == nil && task.Status == models.StatusAssigned {
			break
		}
		select {
		case <-deadline:
			t.Fatal("pass did not run in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if got := reader.commits(); got != 0 {
		t.Fatalf("failed pass must not commit its offset, got %d commits", got)
	}
}
