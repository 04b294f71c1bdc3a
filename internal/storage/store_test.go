package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/task-dispatch/internal/models"
)

func seedTask(t *testing.T, store *MemoryStore, id string, status models.TaskStatus) {
	t.Helper()
	err := store.CreateTask(context.Background(), &models.Task{
		ID:          id,
		DeveloperID: "dev1",
		Status:      status,
		CreatedAt:   time.Now(),
	}, []models.Waypoint{{TaskID: id, Type: "pickup"}, {TaskID: id, Type: "destination"}})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDeleteTaskAllowedWhilePending(t *testing.T) {
	ctx := context.Background()
	for _, status := range []models.TaskStatus{models.StatusCreated, models.StatusAssigned} {
		store := NewMemoryStore()
		seedTask(t, store, "t1", status)
		if err := store.DeleteTask(ctx, "t1", "dev1"); err != nil {
			t.Fatalf("delete in %s: %v", status, err)
		}
		if _, err := store.GetTask(ctx, "t1"); !errors.Is(err, ErrNotFound) {
			t.Fatal("task still present after delete")
		}
		wps, _ := store.ListWaypoints(ctx, "t1")
		if len(wps) != 0 {
			t.Fatal("waypoints not cascaded on delete")
		}
	}
}

func TestDeleteTaskRejectedInTerminalStates(t *testing.T) {
	ctx := context.Background()
	for _, status := range []models.TaskStatus{
		models.StatusAccepted, models.StatusEnRoute, models.StatusArrived,
		models.StatusCompleted, models.StatusCancelled, models.StatusAssignmentFailed,
	} {
		store := NewMemoryStore()
		seedTask(t, store, "t1", status)
		if err := store.DeleteTask(ctx, "t1", "dev1"); !errors.Is(err, ErrTerminalState) {
			t.Fatalf("delete in %s: expected ErrTerminalState, got %v", status, err)
		}
	}
}

func TestDeleteTaskScopedToDeveloper(t *testing.T) {
	store := NewMemoryStore()
	seedTask(t, store, "t1", models.StatusCreated)
	if err := store.DeleteTask(context.Background(), "t1", "other-dev"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign developer, got %v", err)
	}
}

func TestListTasksFiltersByStatus(t *testing.T) {
	store := NewMemoryStore()
	seedTask(t, store, "t1", models.StatusCreated)
	seedTask(t, store, "t2", models.StatusCompleted)

	all, err := store.ListTasks(context.Background(), "dev1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(all))
	}

	done, err := store.ListTasks(context.Background(), "dev1", models.StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 || done[0].ID != "t2" {
		t.Fatalf("status filter broken: %+v", done)
	}
}

func TestUpdateTaskAssignment(t *testing.T) {
	store := NewMemoryStore()
	seedTask(t, store, "t1", models.StatusCreated)

	if err := store.UpdateTaskAssignment(context.Background(), "t1", "r9", models.StatusAssigned); err != nil {
		t.Fatal(err)
	}
	task, _ := store.GetTask(context.Background(), "t1")
	if task.RiderID != "r9" || task.Status != models.StatusAssigned {
		t.Fatalf("assignment not persisted: %+v", task)
	}

	if err := store.UpdateTaskAssignment(context.Background(), "missing", "r9", models.StatusAssigned); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRidersScopedToDeveloper(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i, dev := range []string{"dev1", "dev1", "dev2"} {
		err := store.CreateRider(ctx, &models.Rider{
			ID:          string(rune('a' + i)),
			DeveloperID: dev,
			CreatedAt:   time.Unix(int64(i), 0),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	riders, err := store.ListRiders(ctx, "dev1")
	if err != nil {
		t.Fatal(err)
	}
	if len(riders) != 2 {
		t.Fatalf("expected 2 riders for dev1, got %d", len(riders))
	}
	// creation order is preserved for deterministic matching
	if riders[0].ID != "a" || riders[1].ID != "b" {
		t.Fatalf("unexpected order %+v", riders)
	}

	if _, err := store.GetRider(ctx, "c", "dev1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign rider, got %v", err)
	}
}
