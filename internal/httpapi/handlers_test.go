package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/task-dispatch/internal/actor"
	"github.com/example/task-dispatch/internal/dispatcher"
	"github.com/example/task-dispatch/internal/models"
	"github.com/example/task-dispatch/internal/storage"
)

type nopEvents struct{}

func (nopEvents) PublishEvent(context.Context, models.LifecycleEvent) error { return nil }

func newTestServer() (*Server, *storage.MemoryStore, *actor.RiderRegistry) {
	store := storage.NewMemoryStore()
	riders := actor.NewRiderRegistry(nil)
	tasks := actor.NewTaskRegistry()
	dispatch := &dispatcher.Service{
		Store:  store,
		Riders: riders,
		Events: nopEvents{},
		Logger: slog.Default(),
	}
	return NewServer(store, riders, tasks, dispatch, nil, slog.Default()), store, riders
}

func doJSON(t *testing.T, srv *Server, method, path, dev string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if dev != "" {
		req.Header.Set("X-Developer-ID", dev)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func validTaskBody() map[string]interface{} {
	return map[string]interface{}{
		"description": "deliver flowers",
		"auto_assign": false,
		"waypoints": []map[string]interface{}{
			{"latitude": 40.7128, "longitude": -74.0060, "address": "A st", "type": "pickup"},
			{"latitude": 40.7306, "longitude": -73.9352, "address": "B st", "type": "destination"},
		},
	}
}

func TestCreateTaskRequiresDeveloper(t *testing.T) {
	srv, _, _ := newTestServer()
	rec := doJSON(t, srv, "POST", "/api/v1/tasks", "", validTaskBody())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateTaskPersistsTaskAndWaypoints(t *testing.T) {
	srv, store, _ := newTestServer()
	rec := doJSON(t, srv, "POST", "/api/v1/tasks", "dev1", validTaskBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	tasks, err := store.ListTasks(context.Background(), "dev1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Status != models.StatusCreated || task.Pickup.Lat != 40.7128 {
		t.Fatalf("unexpected task %+v", task)
	}
	wps, _ := store.ListWaypoints(context.Background(), task.ID)
	if len(wps) != 2 {
		t.Fatalf("expected 2 waypoints, got %d", len(wps))
	}
}

func TestCreateTaskRejectsMissingPickup(t *testing.T) {
	srv, _, _ := newTestServer()
	body := validTaskBody()
	body["waypoints"] = []map[string]interface{}{
		{"latitude": 40.7, "longitude": -74.0, "address": "B st", "type": "destination"},
		{"latitude": 40.8, "longitude": -74.1, "address": "C st", "type": "stop"},
	}
	rec := doJSON(t, srv, "POST", "/api/v1/tasks", "dev1", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateTaskRejectsDuplicatePickup(t *testing.T) {
	srv, _, _ := newTestServer()
	body := validTaskBody()
	body["waypoints"] = []map[string]interface{}{
		{"latitude": 40.7, "longitude": -74.0, "address": "A st", "type": "pickup"},
		{"latitude": 40.8, "longitude": -74.1, "address": "B st", "type": "pickup"},
		{"latitude": 40.9, "longitude": -74.2, "address": "C st", "type": "destination"},
	}
	rec := doJSON(t, srv, "POST", "/api/v1/tasks", "dev1", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteTaskTerminalStateMapsToBadRequest(t *testing.T) {
	srv, store, _ := newTestServer()
	err := store.CreateTask(context.Background(), &models.Task{
		ID:          "t1",
		DeveloperID: "dev1",
		Status:      models.StatusCompleted,
		CreatedAt:   time.Now(),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, srv, "DELETE", "/api/v1/tasks/t1", "dev1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if _, err := store.GetTask(context.Background(), "t1"); err != nil {
		t.Fatal("terminal task must survive the delete attempt")
	}
}

func TestRiderLocationRejectsOutOfRangeCoordinates(t *testing.T) {
	srv, store, _ := newTestServer()
	err := store.CreateRider(context.Background(), &models.Rider{
		ID: "r1", DeveloperID: "dev1", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, srv, "PATCH", "/api/v1/riders/r1/location", "dev1",
		map[string]interface{}{"latitude": 91.0, "longitude": 0.0, "timestamp": 1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRiderPresenceUpdatesActor(t *testing.T) {
	srv, store, riders := newTestServer()
	err := store.CreateRider(context.Background(), &models.Rider{
		ID: "r1", DeveloperID: "dev1", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, srv, "PATCH", "/api/v1/riders/r1/presence", "dev1",
		map[string]interface{}{"presence": "available"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	presence, _ := riders.Get("r1").State()
	if presence != models.PresenceAvailable {
		t.Fatalf("actor presence not updated, got %s", presence)
	}
}

func TestRiderPresenceRejectsUnknownValue(t *testing.T) {
	srv, store, _ := newTestServer()
	err := store.CreateRider(context.Background(), &models.Rider{
		ID: "r1", DeveloperID: "dev1", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, srv, "PATCH", "/api/v1/riders/r1/presence", "dev1",
		map[string]interface{}{"presence": "sleeping"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAvailableRidersSortsByDistance(t *testing.T) {
	srv, store, riders := newTestServer()
	for i, id := range []string{"near", "far"} {
		err := store.CreateRider(context.Background(), &models.Rider{
			ID: id, DeveloperID: "dev1", CreatedAt: time.Unix(int64(i), 0),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	for _, r := range []struct {
		id       string
		lat, lng float64
	}{
		{"far", 40.9, -74.5},
		{"near", 40.7128, -74.0060},
	} {
		riders.Get(r.id).SetPresence(models.PresenceAvailable)
		riders.Get(r.id).SetLocation(models.Location{Latitude: r.lat, Longitude: r.lng, Timestamp: 1})
	}

	rec := doJSON(t, srv, "GET", "/api/v1/riders/available?lat=40.7128&lng=-74.0060&radius=100", "dev1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data []struct {
			ID       string  `json:"id"`
			Distance float64 `json:"distance"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 2 || resp.Data[0].ID != "near" {
		t.Fatalf("expected near first, got %+v", resp.Data)
	}
}

func TestTaskStatusUpdatePersistsBeforeBroadcast(t *testing.T) {
	srv, store, _ := newTestServer()
	err := store.CreateTask(context.Background(), &models.Task{
		ID: "t1", DeveloperID: "dev1", Status: models.StatusAssigned, CreatedAt: time.Now(),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, srv, "PATCH", "/api/v1/tasks/t1/status", "dev1",
		map[string]interface{}{"status": "en_route"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	task, _ := store.GetTask(context.Background(), "t1")
	if task.Status != models.StatusEnRoute {
		t.Fatalf("status not persisted, got %s", task.Status)
	}
}

func TestManualAssignUnknownRiderIs404(t *testing.T) {
	srv, store, _ := newTestServer()
	err := store.CreateTask(context.Background(), &models.Task{
		ID: "t1", DeveloperID: "dev1", Status: models.StatusCreated, CreatedAt: time.Now(),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, srv, "PATCH", "/api/v1/tasks/t1/assign", "dev1",
		map[string]interface{}{"rider_id": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
