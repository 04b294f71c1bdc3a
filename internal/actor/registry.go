package actor

import "sync"

// RiderRegistry maps rider ids to their actors. Actors are created
// lazily on first access and never evicted; runtime state for an id the
// store has never seen is harmless.
type RiderRegistry struct {
	mu        sync.Mutex
	riders    map[string]*Rider
	snapshots Snapshotter
}

func NewRiderRegistry(snapshots Snapshotter) *RiderRegistry {
	return &RiderRegistry{riders: make(map[string]*Rider), snapshots: snapshots}
}

func (rr *RiderRegistry) Get(id string) *Rider {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	r, ok := rr.riders[id]
	if !ok {
		r = NewRider(id, rr.snapshots)
		rr.riders[id] = r
	}
	return r
}

// TaskRegistry is the task-side counterpart.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]*Task)}
}

func (tr *TaskRegistry) Get(id string) *Task {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	t, ok := tr.tasks[id]
	if !ok {
		t = NewTask()
		tr.tasks[id] = t
	}
	return t
}
