package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/task-dispatch/internal/actor"
	"github.com/example/task-dispatch/internal/geo"
	"github.com/example/task-dispatch/internal/models"
	"github.com/example/task-dispatch/internal/observability"
	"github.com/example/task-dispatch/internal/storage"
)

// EventPublisher is the lifecycle-events side of the queue transport.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.LifecycleEvent) error
}

// Service runs matching passes: it selects the nearest available rider
// for a task, claims it, commits the assignment and emits lifecycle
// events.
type Service struct {
	Store  storage.Store
	Riders *actor.RiderRegistry
	Events EventPublisher
	Logger *slog.Logger

	// QueryTimeout bounds the per-pass candidate state fan-out.
	// Candidates that do not answer in time are excluded.
	QueryTimeout time.Duration
}

const defaultQueryTimeout = 2 * time.Second

type candidate struct {
	rider    models.Rider
	location *models.Location
	distance float64
}

// Process handles one assignment request from the queue. The queue is
// at-least-once, so the pass must be idempotent: a task that is no
// longer in status created is left alone.
func (s *Service) Process(ctx context.Context, taskID string) error {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	task, err := s.Store.GetTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		s.Logger.Warn("assignment request for unknown task", "task_id", taskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if task.Status != models.StatusCreated {
		s.Logger.Info("skipping assignment, task no longer pending", "task_id", taskID, "status", task.Status)
		return nil
	}

	riders, err := s.Store.ListRiders(ctx, task.DeveloperID)
	if err != nil {
		return fmt.Errorf("list riders: %w", err)
	}
	if len(riders) == 0 {
		s.Logger.Info("no riders registered for developer", "task_id", taskID, "developer_id", task.DeveloperID)
		return s.failAssignment(ctx, task)
	}

	candidates := s.collectCandidates(ctx, riders, task.Pickup)

	winner, claimed := s.claimNearest(candidates)
	if !claimed {
		s.Logger.Info("no available riders for task", "task_id", taskID)
		return s.failAssignment(ctx, task)
	}

	if err := s.Store.UpdateTaskAssignment(ctx, task.ID, winner.ID, models.StatusAssigned); err != nil {
		// give the rider back so a redelivered pass can claim it again
		s.Riders.Get(winner.ID).Release()
		return fmt.Errorf("commit assignment: %w", err)
	}

	s.Riders.Get(winner.ID).SendOffer(actor.TaskOffer{
		Type:        "taskOffer",
		TaskID:      task.ID,
		Pickup:      task.Pickup,
		Destination: task.Destination,
	})

	observability.AssignmentsTotal.Inc()
	s.Logger.Info("task assigned", "task_id", task.ID, "rider_id", winner.ID)

	return s.emit(ctx, models.LifecycleEvent{
		Type:        models.EventTaskAssigned,
		DeveloperID: task.DeveloperID,
		Data:        models.EventData{TaskID: task.ID, RiderID: winner.ID},
	})
}

// collectCandidates queries every rider's actor concurrently and keeps
// those that are available with a known location. Results are stored
// positionally so candidate order (and therefore the tie-break) follows
// the store's iteration order, not goroutine scheduling.
func (s *Service) collectCandidates(ctx context.Context, riders []models.Rider, pickup models.Coord) []candidate {
	timeout := s.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]*candidate, len(riders))
	var wg sync.WaitGroup
	for i := range riders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done := make(chan struct{})
			var presence models.Presence
			var loc *models.Location
			go func() {
				presence, loc = s.Riders.Get(riders[i].ID).State()
				close(done)
			}()
			select {
			case <-done:
			case <-qctx.Done():
				// actor did not answer in time, exclude it. The query
				// goroutine stays parked until the actor lock frees,
				// then exits; one goroutine per stuck actor, not per
				// pass, is the bound.
				return
			}
			if presence != models.PresenceAvailable || loc == nil {
				return
			}
			results[i] = &candidate{
				rider:    riders[i],
				location: loc,
				distance: geo.Distance(pickup.Lat, pickup.Lng, loc.Latitude, loc.Longitude),
			}
		}(i)
	}
	wg.Wait()

	out := make([]candidate, 0, len(riders))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// claimNearest picks the candidate with strictly minimum distance and
// claims it (available -> busy) on its actor. A tie goes to the
// first-evaluated candidate. If the claim is lost to a concurrent pass
// the candidate is dropped and selection repeats on the remainder.
func (s *Service) claimNearest(candidates []candidate) (models.Rider, bool) {
	remaining := append([]candidate(nil), candidates...)
	for len(remaining) > 0 {
		best := 0
		for i := 1; i < len(remaining); i++ {
			if remaining[i].distance < remaining[best].distance {
				best = i
			}
		}
		if s.Riders.Get(remaining[best].rider.ID).Claim() {
			return remaining[best].rider, true
		}
		observability.ClaimConflicts.Inc()
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return models.Rider{}, false
}

func (s *Service) failAssignment(ctx context.Context, task *models.Task) error {
	if err := s.Store.UpdateTaskStatus(ctx, task.ID, models.StatusAssignmentFailed); err != nil {
		return fmt.Errorf("mark assignment_failed: %w", err)
	}
	observability.AssignmentFails.Inc()
	return s.emit(ctx, models.LifecycleEvent{
		Type:        models.EventTaskAssignmentFailed,
		DeveloperID: task.DeveloperID,
		Data:        models.EventData{TaskID: task.ID},
	})
}

func (s *Service) emit(ctx context.Context, ev models.LifecycleEvent) error {
	if err := s.Events.PublishEvent(ctx, ev); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// AssignManual commits a developer-chosen rider to a task. It verifies
// both belong to the developer but, matching the auto path's contract,
// does not re-check rider availability.
func (s *Service) AssignManual(ctx context.Context, taskID, riderID, developerID string) error {
	task, err := s.Store.GetTaskForDeveloper(ctx, taskID, developerID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	rider, err := s.Store.GetRider(ctx, riderID, developerID)
	if err != nil {
		return fmt.Errorf("load rider: %w", err)
	}

	if err := s.Store.UpdateTaskAssignment(ctx, task.ID, rider.ID, models.StatusAssigned); err != nil {
		return fmt.Errorf("commit assignment: %w", err)
	}

	s.Riders.Get(rider.ID).SendOffer(actor.TaskOffer{
		Type:        "taskOffer",
		TaskID:      task.ID,
		Pickup:      task.Pickup,
		Destination: task.Destination,
	})

	observability.AssignmentsTotal.Inc()
	s.Logger.Info("task assigned manually", "task_id", task.ID, "rider_id", rider.ID)

	return s.emit(ctx, models.LifecycleEvent{
		Type:        models.EventTaskAssigned,
		DeveloperID: task.DeveloperID,
		Data:        models.EventData{TaskID: task.ID, RiderID: rider.ID},
	})
}
