package actor

import (
	"sync"

	"github.com/example/task-dispatch/internal/models"
)

// Task mirrors Rider but only fans out status echoes. The
// authoritative status lives in the store and is written before the
// broadcast is issued.
type Task struct {
	mu        sync.Mutex
	observers []*Observer
}

func NewTask() *Task {
	return &Task{}
}

type statusFrame struct {
	Type   string            `json:"type"`
	Status models.TaskStatus `json:"status"`
}

// PostStatus broadcasts a status transition to all observers.
func (t *Task) PostStatus(status models.TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = broadcast(t.observers, statusFrame{Type: "statusUpdate", Status: status})
}

func (t *Task) Subscribe(o *Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}
