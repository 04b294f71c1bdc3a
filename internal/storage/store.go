package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/task-dispatch/internal/models"
)

var (
	// ErrNotFound is returned for any missing task, rider or developer.
	ErrNotFound = errors.New("not found")
	// ErrTerminalState is returned when deleting a task that already
	// progressed past created/assigned.
	ErrTerminalState = errors.New("task cannot be deleted in its current state")
)

// Store is the relational contract the core depends on. Postgres backs
// it in production; MemoryStore backs tests and local runs.
type Store interface {
	CreateRider(ctx context.Context, r *models.Rider) error
	GetRider(ctx context.Context, id, developerID string) (*models.Rider, error)
	ListRiders(ctx context.Context, developerID string) ([]models.Rider, error)

	CreateTask(ctx context.Context, t *models.Task, waypoints []models.Waypoint) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetTaskForDeveloper(ctx context.Context, id, developerID string) (*models.Task, error)
	ListTasks(ctx context.Context, developerID string, status models.TaskStatus) ([]models.Task, error)
	ListWaypoints(ctx context.Context, taskID string) ([]models.Waypoint, error)
	UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) error
	UpdateTaskAssignment(ctx context.Context, id, riderID string, status models.TaskStatus) error
	DeleteTask(ctx context.Context, id, developerID string) error

	GetDeveloper(ctx context.Context, id string) (*models.Developer, error)
}

// MemoryStore keeps everything in maps. Good enough for tests and for
// running the binaries without Postgres.
type MemoryStore struct {
	mu         sync.RWMutex
	riders     map[string]*models.Rider
	tasks      map[string]*models.Task
	waypoints  map[string][]models.Waypoint
	developers map[string]*models.Developer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		riders:     make(map[string]*models.Rider),
		tasks:      make(map[string]*models.Task),
		waypoints:  make(map[string][]models.Waypoint),
		developers: make(map[string]*models.Developer),
	}
}

func (m *MemoryStore) CreateRider(_ context.Context, r *models.Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.riders[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRider(_ context.Context, id, developerID string) (*models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.riders[id]
	if !ok || r.DeveloperID != developerID {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListRiders(_ context.Context, developerID string) ([]models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Rider, 0)
	for _, r := range m.riders {
		if r.DeveloperID == developerID {
			out = append(out, *r)
		}
	}
	// map iteration is random; fix the order so matching passes are
	// deterministic
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateTask(_ context.Context, t *models.Task, waypoints []models.Waypoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	m.waypoints[t.ID] = append([]models.Waypoint(nil), waypoints...)
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetTaskForDeveloper(_ context.Context, id, developerID string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok || t.DeveloperID != developerID {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTasks(_ context.Context, developerID string, status models.TaskStatus) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Task, 0)
	for _, t := range m.tasks {
		if t.DeveloperID != developerID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListWaypoints(_ context.Context, taskID string) ([]models.Waypoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Waypoint(nil), m.waypoints[taskID]...), nil
}

func (m *MemoryStore) UpdateTaskStatus(_ context.Context, id string, status models.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

func (m *MemoryStore) UpdateTaskAssignment(_ context.Context, id, riderID string, status models.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.RiderID = riderID
	t.Status = status
	return nil
}

func (m *MemoryStore) DeleteTask(_ context.Context, id, developerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.DeveloperID != developerID {
		return ErrNotFound
	}
	if t.Status != models.StatusCreated && t.Status != models.StatusAssigned {
		return ErrTerminalState
	}
	delete(m.tasks, id)
	delete(m.waypoints, id)
	return nil
}

func (m *MemoryStore) GetDeveloper(_ context.Context, id string) (*models.Developer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.developers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// PutDeveloper exists for wiring and tests; developer registration
// itself is handled outside this service.
func (m *MemoryStore) PutDeveloper(d *models.Developer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.developers[d.ID] = &cp
}
