package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/geo"
	"dispatch/internal/logging"
	"dispatch/internal/repository/memory"
)

// recordingBroadcaster captures envelopes in order.
type recordingBroadcaster struct {
	mu   sync.Mutex
	envs []events.Envelope
	err  error
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, env events.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envs = append(b.envs, env)
	return b.err
}

func (b *recordingBroadcaster) messages(typ events.Type) []events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Envelope
	for _, env := range b.envs {
		if env.Message != nil && env.Message.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	msgs []events.Message
}

func (p *recordingPublisher) Publish(_ context.Context, key string, msg events.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type testEnv struct {
	users    *memory.UserRepository
	presence *memory.PresenceRepository
	rides    *memory.RideRepository
	index    *memory.LocationIndex

	bcast *recordingBroadcaster
	pub   *recordingPublisher

	notifier *NotificationService
	matching *MatchingService
	drivers  *DriverService
	dispatch *RideService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	presence := memory.NewPresenceRepository()
	users := memory.NewUserRepository(presence)
	rides := memory.NewRideRepository(users.Exists)
	index := memory.NewLocationIndex()
	bcast := &recordingBroadcaster{}
	pub := &recordingPublisher{}

	logger := logging.Discard()
	notifier := NewNotificationService(bcast, pub, logger)
	matching := NewMatchingService(rides, presence, index, DefaultRadiusKm)

	return &testEnv{
		users:    users,
		presence: presence,
		rides:    rides,
		index:    index,
		bcast:    bcast,
		pub:      pub,
		notifier: notifier,
		matching: matching,
		drivers:  NewDriverService(presence, index, notifier, logger),
		dispatch: NewRideService(rides, users, matching, notifier, logger),
	}
}

func (e *testEnv) addRider(t *testing.T, id string) {
	t.Helper()
	if err := e.users.Create(context.Background(), &domain.User{ID: id, Name: id, Phone: "+1-" + id, Role: domain.RoleRider}); err != nil {
		t.Fatalf("add rider %s: %v", id, err)
	}
}

// addDriver registers a driver and optionally puts them online at loc.
func (e *testEnv) addDriver(t *testing.T, id string, online bool, loc *domain.Coordinate) {
	t.Helper()
	ctx := context.Background()
	if err := e.users.Create(ctx, &domain.User{ID: id, Name: id, Phone: "+2-" + id, Role: domain.RoleDriver}); err != nil {
		t.Fatalf("add driver %s: %v", id, err)
	}
	if loc != nil {
		if _, err := e.drivers.UpdateLocation(ctx, id, *loc); err != nil {
			t.Fatalf("locate %s: %v", id, err)
		}
	}
	if online {
		if _, err := e.drivers.SetOnline(ctx, id, true); err != nil {
			t.Fatalf("online %s: %v", id, err)
		}
	}
}

// seedRide stores a requested ride directly, bypassing fan-out.
func (e *testEnv) seedRide(t *testing.T, id, riderID string, pickup domain.Coordinate, requestedAt time.Time) {
	t.Helper()
	ride := &domain.Ride{
		ID:          id,
		RiderID:     riderID,
		Pickup:      domain.Location{Lat: pickup.Lat, Lng: pickup.Lng},
		Dropoff:     domain.Location{Lat: pickup.Lat + 0.1, Lng: pickup.Lng},
		PickupCell:  geo.Cell(pickup),
		Status:      domain.RideStatusRequested,
		Fare:        100,
		RequestedAt: requestedAt,
	}
	if err := e.rides.Create(context.Background(), ride); err != nil {
		t.Fatalf("seed ride %s: %v", id, err)
	}
}

// northOf returns the point km kilometers due north of the origin.
func northOf(km float64) domain.Coordinate {
	return domain.Coordinate{Lat: km / geo.EarthRadiusKm * 180 / math.Pi, Lng: 0}
}

func ptr(c domain.Coordinate) *domain.Coordinate { return &c }
