package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/task-dispatch/internal/actor"
	"github.com/example/task-dispatch/internal/dispatcher"
	"github.com/example/task-dispatch/internal/geo"
	"github.com/example/task-dispatch/internal/models"
	"github.com/example/task-dispatch/internal/storage"
)

// AssignmentEnqueuer pushes {taskId} onto the assignment-requests
// queue. Nil when Kafka is not configured; auto-assign then runs inline.
type AssignmentEnqueuer interface {
	PublishAssignmentRequest(ctx context.Context, taskID string) error
}

type Server struct {
	Store    storage.Store
	Riders   *actor.RiderRegistry
	Tasks    *actor.TaskRegistry
	Dispatch *dispatcher.Service
	Assign   AssignmentEnqueuer

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(store storage.Store, riders *actor.RiderRegistry, tasks *actor.TaskRegistry,
	dispatch *dispatcher.Service, assign AssignmentEnqueuer, logger *slog.Logger) *Server {
	s := &Server{
		Store:    store,
		Riders:   riders,
		Tasks:    tasks,
		Dispatch: dispatch,
		Assign:   assign,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/riders", s.handleCreateRider).Methods("POST")
	api.HandleFunc("/riders/available", s.handleAvailableRiders).Methods("GET")
	api.HandleFunc("/riders/{id}/presence", s.handleRiderPresence).Methods("PATCH")
	api.HandleFunc("/riders/{id}/location", s.handleRiderLocation).Methods("PATCH")
	api.HandleFunc("/riders/{id}/ws", s.handleRiderWS).Methods("GET")

	api.HandleFunc("/tasks", s.handleCreateTask).Methods("POST")
	api.HandleFunc("/tasks", s.handleListTasks).Methods("GET")
	api.HandleFunc("/tasks/{id}", s.handleGetTask).Methods("GET")
	api.HandleFunc("/tasks/{id}", s.handleDeleteTask).Methods("DELETE")
	api.HandleFunc("/tasks/{id}/available", s.handleTaskAvailableRiders).Methods("GET")
	api.HandleFunc("/tasks/{id}/status", s.handleTaskStatus).Methods("PATCH")
	api.HandleFunc("/tasks/{id}/assign", s.handleAssignTask).Methods("PATCH")
	api.HandleFunc("/tasks/{id}/realtime", s.handleTaskWS).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// developerID pulls the authenticated developer from the request.
// Credential checking itself happens upstream of this service.
func developerID(r *http.Request) string { return r.Header.Get("X-Developer-ID") }

func (s *Server) requireDeveloper(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := developerID(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing developer identity")
		return "", false
	}
	return id, true
}

// ---- riders ----

type createRiderRequest struct {
	Name        string   `json:"name"`
	Phone       string   `json:"phone"`
	Email       string   `json:"email"`
	VehicleType string   `json:"vehicle_type"`
	Tags        []string `json:"tags"`
}

func (s *Server) handleCreateRider(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	var req createRiderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rider := &models.Rider{
		ID:          uuid.NewString(),
		DeveloperID: dev,
		Name:        req.Name,
		Phone:       req.Phone,
		Email:       req.Email,
		VehicleType: req.VehicleType,
		Tags:        req.Tags,
		CreatedAt:   time.Now(),
	}
	if err := s.Store.CreateRider(r.Context(), rider); err != nil {
		s.logger.Error("create rider", "error", err)
		writeError(w, http.StatusInternalServerError, "error creating rider")
		return
	}
	writeJSON(w, http.StatusCreated, rider)
}

type presenceRequest struct {
	Presence models.Presence `json:"presence"`
}

func validPresence(p models.Presence) bool {
	switch p {
	case models.PresenceOffline, models.PresenceOnline, models.PresenceBusy, models.PresenceAvailable:
		return true
	}
	return false
}

func (s *Server) handleRiderPresence(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	riderID := mux.Vars(r)["id"]
	if _, err := s.Store.GetRider(r.Context(), riderID, dev); err != nil {
		s.writeStoreError(w, err, "rider")
		return
	}
	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validPresence(req.Presence) {
		writeError(w, http.StatusBadRequest, "invalid presence")
		return
	}
	p := s.Riders.Get(riderID).SetPresence(req.Presence)
	writeJSON(w, http.StatusOK, map[string]interface{}{"presence": p})
}

func (s *Server) handleRiderLocation(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	riderID := mux.Vars(r)["id"]
	if _, err := s.Store.GetRider(r.Context(), riderID, dev); err != nil {
		s.writeStoreError(w, err, "rider")
		return
	}
	var loc models.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	s.Riders.Get(riderID).SetLocation(loc)
	writeJSON(w, http.StatusOK, map[string]interface{}{"location": loc})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleRiderWS(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	riderID := mux.Vars(r)["id"]
	if _, err := s.Store.GetRider(r.Context(), riderID, dev); err != nil {
		s.writeStoreError(w, err, "rider")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the response
	}
	s.Riders.Get(riderID).Subscribe(actor.NewWSObserver(conn))
}

type availableRider struct {
	models.Rider
	Distance float64          `json:"distance"`
	Location *models.Location `json:"location"`
}

func (s *Server) handleAvailableRiders(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	radius, err3 := strconv.ParseFloat(q.Get("radius"), 64)
	if err1 != nil || err2 != nil || err3 != nil || radius <= 0 {
		writeError(w, http.StatusBadRequest, "lat, lng and radius are required")
		return
	}
	out, err := s.availableNear(r.Context(), dev, lat, lng, radius)
	if err != nil {
		s.logger.Error("list available riders", "error", err)
		writeError(w, http.StatusInternalServerError, "error fetching riders")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// availableNear filters the developer's riders to those currently
// available with a location within radius km, sorted by distance.
// radius <= 0 means no radius cut.
func (s *Server) availableNear(ctx context.Context, dev string, lat, lng, radius float64) ([]availableRider, error) {
	riders, err := s.Store.ListRiders(ctx, dev)
	if err != nil {
		return nil, err
	}
	out := make([]availableRider, 0)
	for _, rd := range riders {
		presence, loc := s.Riders.Get(rd.ID).State()
		if presence != models.PresenceAvailable || loc == nil {
			continue
		}
		d := geo.Distance(lat, lng, loc.Latitude, loc.Longitude)
		if radius > 0 && d > radius {
			continue
		}
		out = append(out, availableRider{Rider: rd, Distance: d, Location: loc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// ---- tasks ----

type waypointRequest struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Address     string  `json:"address"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	TimeWindow  *struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"time_window"`
	Priority string `json:"priority"`
}

type createTaskRequest struct {
	Description string            `json:"description"`
	AutoAssign  bool              `json:"auto_assign"`
	Waypoints   []waypointRequest `json:"waypoints"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var pickup, destination *waypointRequest
	for i := range req.Waypoints {
		switch req.Waypoints[i].Type {
		case "pickup":
			if pickup != nil {
				writeError(w, http.StatusBadRequest, "waypoints must contain exactly one pickup")
				return
			}
			pickup = &req.Waypoints[i]
		case "destination":
			if destination != nil {
				writeError(w, http.StatusBadRequest, "waypoints must contain exactly one destination")
				return
			}
			destination = &req.Waypoints[i]
		case "stop":
		default:
			writeError(w, http.StatusBadRequest, "unknown waypoint type")
			return
		}
	}
	if pickup == nil || destination == nil {
		writeError(w, http.StatusBadRequest, "waypoints must contain exactly one pickup and one destination")
		return
	}

	now := time.Now()
	task := &models.Task{
		ID:            uuid.NewString(),
		DeveloperID:   dev,
		Description:   req.Description,
		AutoAssign:    req.AutoAssign,
		Status:        models.StatusCreated,
		Pickup:        models.Coord{Lat: pickup.Latitude, Lng: pickup.Longitude},
		PickupAddress: pickup.Address,
		Destination:   models.Coord{Lat: destination.Latitude, Lng: destination.Longitude},
		DestAddress:   destination.Address,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	waypoints := make([]models.Waypoint, 0, len(req.Waypoints))
	for _, wp := range req.Waypoints {
		m := models.Waypoint{
			TaskID:      task.ID,
			Latitude:    wp.Latitude,
			Longitude:   wp.Longitude,
			Address:     wp.Address,
			Type:        wp.Type,
			Description: wp.Description,
			Priority:    wp.Priority,
		}
		if wp.TimeWindow != nil {
			start, end := wp.TimeWindow.Start, wp.TimeWindow.End
			m.TimeWindowStart, m.TimeWindowEnd = &start, &end
		}
		waypoints = append(waypoints, m)
	}

	if err := s.Store.CreateTask(r.Context(), task, waypoints); err != nil {
		s.logger.Error("create task", "error", err)
		writeError(w, http.StatusInternalServerError, "error creating task")
		return
	}

	if req.AutoAssign {
		s.enqueueAssignment(r.Context(), task.ID)
	}

	writeJSON(w, http.StatusCreated, task)
}

// enqueueAssignment hands the task to the dispatcher. Without a queue
// transport the pass runs in-process; creation never waits on matching
// either way.
func (s *Server) enqueueAssignment(ctx context.Context, taskID string) {
	if s.Assign != nil {
		if err := s.Assign.PublishAssignmentRequest(ctx, taskID); err != nil {
			s.logger.Error("enqueue assignment request", "task_id", taskID, "error", err)
		}
		return
	}
	go func() {
		if err := s.Dispatch.Process(context.Background(), taskID); err != nil {
			s.logger.Error("inline assignment pass", "task_id", taskID, "error", err)
		}
	}()
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	status := models.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := s.Store.ListTasks(r.Context(), dev, status)
	if err != nil {
		s.logger.Error("list tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "error fetching tasks")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	taskID := mux.Vars(r)["id"]
	task, err := s.Store.GetTaskForDeveloper(r.Context(), taskID, dev)
	if err != nil {
		s.writeStoreError(w, err, "task")
		return
	}
	waypoints, err := s.Store.ListWaypoints(r.Context(), taskID)
	if err != nil {
		s.logger.Error("list waypoints", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "error fetching task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"task": task, "waypoints": waypoints})
}

func (s *Server) handleTaskAvailableRiders(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	taskID := mux.Vars(r)["id"]
	task, err := s.Store.GetTaskForDeveloper(r.Context(), taskID, dev)
	if err != nil {
		s.writeStoreError(w, err, "task")
		return
	}
	out, err := s.availableNear(r.Context(), dev, task.Pickup.Lat, task.Pickup.Lng, 0)
	if err != nil {
		s.logger.Error("list available riders for task", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "error fetching riders")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type statusRequest struct {
	Status models.TaskStatus `json:"status"`
}

func validStatusUpdate(s models.TaskStatus) bool {
	switch s {
	case models.StatusCreated, models.StatusAssigned, models.StatusAccepted,
		models.StatusEnRoute, models.StatusArrived, models.StatusCompleted, models.StatusCancelled:
		return true
	}
	return false
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	taskID := mux.Vars(r)["id"]
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validStatusUpdate(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if _, err := s.Store.GetTaskForDeveloper(r.Context(), taskID, dev); err != nil {
		s.writeStoreError(w, err, "task")
		return
	}
	if err := s.Store.UpdateTaskStatus(r.Context(), taskID, req.Status); err != nil {
		s.writeStoreError(w, err, "task")
		return
	}
	// store first, then echo to observers
	s.Tasks.Get(taskID).PostStatus(req.Status)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": req.Status})
}

type assignRequest struct {
	RiderID string `json:"rider_id"`
}

func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	taskID := mux.Vars(r)["id"]
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RiderID == "" {
		writeError(w, http.StatusBadRequest, "rider_id is required")
		return
	}
	if err := s.Dispatch.AssignManual(r.Context(), taskID, req.RiderID, dev); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task or rider not found")
			return
		}
		s.logger.Error("manual assignment", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "error assigning task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"task_id": taskID, "rider_id": req.RiderID})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	taskID := mux.Vars(r)["id"]
	err := s.Store.DeleteTask(r.Context(), taskID, dev)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, storage.ErrTerminalState):
		writeError(w, http.StatusBadRequest, "task cannot be cancelled in its current state")
	case err != nil:
		s.logger.Error("delete task", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "error cancelling task")
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": taskID})
	}
}

func (s *Server) handleTaskWS(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.requireDeveloper(w, r)
	if !ok {
		return
	}
	taskID := mux.Vars(r)["id"]
	if _, err := s.Store.GetTaskForDeveloper(r.Context(), taskID, dev); err != nil {
		s.writeStoreError(w, err, "task")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.Tasks.Get(taskID).Subscribe(actor.NewWSObserver(conn))
}

// ---- helpers ----

func (s *Server) writeStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	s.logger.Error("store error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": msg})
}
