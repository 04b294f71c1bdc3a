package models

import "time"

// Presence is a rider's coarse availability state. Transitions are
// free-form: any value may replace any other.
type Presence string

const (
	PresenceOffline   Presence = "offline"
	PresenceOnline    Presence = "online"
	PresenceBusy      Presence = "busy"
	PresenceAvailable Presence = "available"
)

// TaskStatus tracks a task through its lifecycle. The store holds the
// authoritative value; actors only echo it to observers.
type TaskStatus string

const (
	StatusCreated          TaskStatus = "created"
	StatusAssigned         TaskStatus = "assigned"
	StatusAccepted         TaskStatus = "accepted"
	StatusEnRoute          TaskStatus = "en_route"
	StatusArrived          TaskStatus = "arrived"
	StatusCompleted        TaskStatus = "completed"
	StatusCancelled        TaskStatus = "cancelled"
	StatusAssignmentFailed TaskStatus = "assignment_failed"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a rider's last reported position. Coordinate bounds are
// enforced by the API layer before it reaches the actor.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

type Rider struct {
	ID          string    `json:"id"`
	DeveloperID string    `json:"developer_id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email,omitempty"`
	VehicleType string    `json:"vehicle_type"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Waypoint struct {
	TaskID          string     `json:"task_id"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	Address         string     `json:"address"`
	Type            string     `json:"type"` // pickup, stop, destination
	Description     string     `json:"description,omitempty"`
	TimeWindowStart *time.Time `json:"time_window_start,omitempty"`
	TimeWindowEnd   *time.Time `json:"time_window_end,omitempty"`
	Priority        string     `json:"priority,omitempty"`
}

// Task denormalizes pickup/destination from its waypoints so the
// dispatcher never needs a waypoint query on the hot path.
type Task struct {
	ID            string     `json:"id"`
	DeveloperID   string     `json:"developer_id"`
	Description   string     `json:"description"`
	AutoAssign    bool       `json:"auto_assign"`
	Status        TaskStatus `json:"status"`
	RiderID       string     `json:"rider_id,omitempty"`
	Pickup        Coord      `json:"pickup"`
	PickupAddress string     `json:"pickup_address"`
	Destination   Coord      `json:"destination"`
	DestAddress   string     `json:"destination_address"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Developer struct {
	ID         string `json:"id"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// AssignmentRequest is the assignment-requests queue message.
type AssignmentRequest struct {
	TaskID string `json:"taskId"`
}

// Lifecycle event types carried on the task-events queue.
const (
	EventTaskAssigned         = "task.assigned"
	EventTaskAssignmentFailed = "task.assignment_failed"
)

type EventData struct {
	TaskID  string `json:"taskId"`
	RiderID string `json:"riderId,omitempty"`
}

// LifecycleEvent lives only on the queue until delivered.
type LifecycleEvent struct {
	Type        string    `json:"type"`
	DeveloperID string    `json:"developerId"`
	Data        EventData `json:"data"`
}
