package actor

import (
	"sync"

	"github.com/example/task-dispatch/internal/models"
)

// Rider is the single point of truth for one rider's live presence,
// location and observer connections. All operations on the same rider
// are serialized by the actor's lock; riders never block each other.
type Rider struct {
	mu        sync.Mutex
	presence  models.Presence
	location  *models.Location
	observers []*Observer

	snapshots Snapshotter // optional write-through, best-effort
	id        string
}

// Snapshotter receives a copy of the runtime state after each mutation.
// Failures are ignored: the actor stays authoritative.
type Snapshotter interface {
	SnapshotRider(id string, presence models.Presence, loc *models.Location)
}

func NewRider(id string, snapshots Snapshotter) *Rider {
	return &Rider{id: id, presence: models.PresenceOffline, snapshots: snapshots}
}

// Broadcast frame shapes. Observers see exactly one frame per mutation,
// in mutation order.
type presenceFrame struct {
	Type     string          `json:"type"`
	Presence models.Presence `json:"presence"`
}

type locationFrame struct {
	Type     string           `json:"type"`
	Location *models.Location `json:"location"`
}

// TaskOffer is pushed to a rider's observers when a task is assigned.
type TaskOffer struct {
	Type        string       `json:"type"`
	TaskID      string       `json:"taskId"`
	Pickup      models.Coord `json:"pickup"`
	Destination models.Coord `json:"destination"`
}

// SetPresence replaces presence unconditionally and returns the new
// value. No transition table is enforced.
func (r *Rider) SetPresence(p models.Presence) models.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence = p
	r.observers = broadcast(r.observers, presenceFrame{Type: "presenceUpdate", Presence: p})
	r.snapshot()
	return p
}

// SetLocation replaces the last-known location. Coordinate bounds are
// the caller's responsibility.
func (r *Rider) SetLocation(loc models.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := loc
	r.location = &l
	r.observers = broadcast(r.observers, locationFrame{Type: "locationUpdate", Location: &l})
	r.snapshot()
}

// State returns a snapshot of (presence, location). The location is a
// copy; callers cannot mutate actor state through it.
func (r *Rider) State() (models.Presence, *models.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.location == nil {
		return r.presence, nil
	}
	l := *r.location
	return r.presence, &l
}

// SendOffer pushes an application-level payload to all live observers
// without touching state.
func (r *Rider) SendOffer(offer TaskOffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = broadcast(r.observers, offer)
}

// Subscribe registers a realtime observer. It stays registered until a
// broadcast to it fails.
func (r *Rider) Subscribe(o *Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Claim atomically flips presence from available to busy and reports
// whether this caller won. Two concurrent matching passes over the same
// rider see exactly one true.
func (r *Rider) Claim() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presence != models.PresenceAvailable {
		return false
	}
	r.presence = models.PresenceBusy
	r.observers = broadcast(r.observers, presenceFrame{Type: "presenceUpdate", Presence: r.presence})
	r.snapshot()
	return true
}

// Release undoes a Claim whose assignment did not commit, or frees a
// rider that rejected an offer. It only acts on a busy rider.
func (r *Rider) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presence != models.PresenceBusy {
		return
	}
	r.presence = models.PresenceAvailable
	r.observers = broadcast(r.observers, presenceFrame{Type: "presenceUpdate", Presence: r.presence})
	r.snapshot()
}

func (r *Rider) snapshot() {
	if r.snapshots == nil {
		return
	}
	var loc *models.Location
	if r.location != nil {
		l := *r.location
		loc = &l
	}
	r.snapshots.SnapshotRider(r.id, r.presence, loc)
}
