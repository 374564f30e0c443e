// Package memory provides in-process implementations of the repository
// interfaces. They back STORE_BACKEND=memory and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// rideEntry is one active ride guarded by its own lock.
type rideEntry struct {
	mu   sync.Mutex
	ride domain.Ride
}

// TransitionEvent is an audit record of a successful transition.
type TransitionEvent struct {
	RideID  string
	From    domain.RideStatus
	To      domain.RideStatus
	ActorID string
	At      time.Time
}

// RideRepository keeps active rides and history in maps.
//
// mu guards the shape of the maps. Transitions that stay in the active list
// share mu and serialize on the entry lock; transitions into a terminal state
// take mu exclusively so the move to history is never observed half done.
// Lock order is always mu then entry.
type RideRepository struct {
	mu      sync.RWMutex
	active  map[string]*rideEntry
	history map[string]domain.Ride

	eventsMu sync.Mutex
	events   []TransitionEvent

	userExists func(ctx context.Context, userID string) bool
}

// NewRideRepository creates an empty store. userExists stands in for the
// foreign keys on rider and driver; nil accepts every id.
func NewRideRepository(userExists func(ctx context.Context, userID string) bool) *RideRepository {
	return &RideRepository{
		active:     make(map[string]*rideEntry),
		history:    make(map[string]domain.Ride),
		userExists: userExists,
	}
}

// Create appends a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	if r.userExists != nil && !r.userExists(ctx, ride.RiderID) {
		return repository.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[ride.ID]; ok {
		return repository.ErrConflict
	}
	if _, ok := r.history[ride.ID]; ok {
		return repository.ErrConflict
	}
	r.active[ride.ID] = &rideEntry{ride: *ride}
	return nil
}

// GetByID retrieves a ride from active or history.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(id)
}

func (r *RideRepository) lookupLocked(id string) (*domain.Ride, error) {
	if e, ok := r.active[id]; ok {
		e.mu.Lock()
		ride := e.ride
		e.mu.Unlock()
		return &ride, nil
	}
	if ride, ok := r.history[id]; ok {
		return &ride, nil
	}
	return nil, repository.ErrNotFound
}

// TryTransition applies t if its precondition holds.
func (r *RideRepository) TryTransition(ctx context.Context, id string, t domain.Transition) (*domain.Ride, error) {
	if t.To.IsTerminal() {
		r.mu.Lock()
		defer r.mu.Unlock()
	} else {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	e, ok := r.active[id]
	if !ok {
		current, err := r.lookupLocked(id)
		if err != nil {
			return nil, err
		}
		return nil, &repository.StaleError{Current: current}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !t.Matches(&e.ride) || !domain.CanTransition(e.ride.Status, t.To) {
		current := e.ride
		return nil, &repository.StaleError{Current: &current}
	}
	if t.DriverID != "" && r.userExists != nil && !r.userExists(ctx, t.DriverID) {
		return nil, repository.ErrNotFound
	}

	from := e.ride.Status
	t.Apply(&e.ride)
	updated := e.ride

	if t.To.IsTerminal() {
		r.moveToHistoryLocked(id, updated)
	}
	r.recordLocked(TransitionEvent{RideID: id, From: from, To: t.To, ActorID: t.ActorID, At: t.At})

	return &updated, nil
}

// moveToHistoryLocked requires mu held exclusively.
func (r *RideRepository) moveToHistoryLocked(id string, ride domain.Ride) {
	if _, done := r.history[id]; !done {
		r.history[id] = ride
	}
	delete(r.active, id)
}

// recordLocked appends to the audit trail. Non-terminal transitions hold only
// the read lock, so the slice has its own guard.
func (r *RideRepository) recordLocked(ev TransitionEvent) {
	r.eventsMu.Lock()
	r.events = append(r.events, ev)
	r.eventsMu.Unlock()
}

// Events returns a copy of the audit trail.
func (r *RideRepository) Events() []TransitionEvent {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	out := make([]TransitionEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ListPending returns requested rides in the given cells.
func (r *RideRepository) ListPending(ctx context.Context, cells []string) ([]*domain.Ride, error) {
	var filter map[string]bool
	if cells != nil {
		filter = make(map[string]bool, len(cells))
		for _, c := range cells {
			filter[c] = true
		}
	}
	return r.collectActive(func(ride *domain.Ride) bool {
		if ride.Status != domain.RideStatusRequested {
			return false
		}
		return filter == nil || filter[ride.PickupCell]
	}), nil
}

// ListPendingBefore returns requested rides older than before.
func (r *RideRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Ride, error) {
	rides := r.collectActive(func(ride *domain.Ride) bool {
		return ride.Status == domain.RideStatusRequested && ride.RequestedAt.Before(before)
	})
	if limit > 0 && len(rides) > limit {
		rides = rides[:limit]
	}
	return rides, nil
}

// ListAcceptedByDriver returns the driver's accepted rides.
func (r *RideRepository) ListAcceptedByDriver(ctx context.Context, driverID string) ([]*domain.Ride, error) {
	return r.collectActive(func(ride *domain.Ride) bool {
		return ride.Status == domain.RideStatusAccepted && ride.DriverID == driverID
	}), nil
}

// ListActiveByRider returns the rider's active rides.
func (r *RideRepository) ListActiveByRider(ctx context.Context, riderID string) ([]*domain.Ride, error) {
	return r.collectActive(func(ride *domain.Ride) bool {
		return ride.RiderID == riderID
	}), nil
}

// ListHistoryByRider returns the rider's finished rides, newest first.
func (r *RideRepository) ListHistoryByRider(ctx context.Context, riderID string) ([]*domain.Ride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Ride
	for _, ride := range r.history {
		if ride.RiderID != riderID {
			continue
		}
		ride := ride
		result = append(result, &ride)
	}
	sort.Slice(result, func(i, j int) bool {
		return finishedAt(result[i]).After(finishedAt(result[j]))
	})
	return result, nil
}

// CountActive returns the number of rides in active lists.
func (r *RideRepository) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// CountHistory returns the number of rides in history lists.
func (r *RideRepository) CountHistory() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.history)
}

// collectActive snapshots matching active rides ordered by request time.
func (r *RideRepository) collectActive(keep func(*domain.Ride) bool) []*domain.Ride {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Ride
	for _, e := range r.active {
		e.mu.Lock()
		ride := e.ride
		e.mu.Unlock()
		if keep(&ride) {
			result = append(result, &ride)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].RequestedAt.Equal(result[j].RequestedAt) {
			return result[i].RequestedAt.Before(result[j].RequestedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func finishedAt(r *domain.Ride) time.Time {
	if !r.CompletedAt.IsZero() {
		return r.CompletedAt
	}
	return r.CancelledAt
}

var _ repository.RideRepository = (*RideRepository)(nil)
