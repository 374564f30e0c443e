package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
)

func TestFindPendingRidesNearRadiusFilter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.addRider(t, "rider")
	env.addDriver(t, "d1", true, ptr(domain.Coordinate{Lat: 0, Lng: 0}))

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	distances := map[string]float64{"r1": 1, "r4_9": 4.9, "r5": 5.0, "r5_1": 5.1, "r10": 10}
	i := 0
	for id, km := range distances {
		env.seedRide(t, id, "rider", northOf(km), base.Add(time.Duration(i)*time.Second))
		i++
	}

	got, err := env.matching.FindPendingRidesNear(context.Background(), "d1")
	if err != nil {
		t.Fatalf("FindPendingRidesNear: %v", err)
	}

	want := []struct {
		id string
		km float64
	}{{"r1", 1}, {"r4_9", 4.9}, {"r5", 5.0}}
	if len(got) != len(want) {
		t.Fatalf("got %d rides, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Ride.ID != w.id || got[i].DistanceKm != w.km {
			t.Errorf("[%d] = %s %.2f km, want %s %.2f km", i, got[i].Ride.ID, got[i].DistanceKm, w.id, w.km)
		}
	}
}

func TestFindPendingRidesNearTieBreak(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.addRider(t, "rider")
	env.addDriver(t, "d1", true, ptr(domain.Coordinate{Lat: 12.9, Lng: 77.6}))

	pickup := domain.Coordinate{Lat: 12.905, Lng: 77.6}
	older := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)

	env.seedRide(t, "a-newer", "rider", pickup, newer)
	env.seedRide(t, "z-older", "rider", pickup, older)
	env.seedRide(t, "b-older", "rider", pickup, older)

	got, err := env.matching.FindPendingRidesNear(context.Background(), "d1")
	if err != nil {
		t.Fatalf("FindPendingRidesNear: %v", err)
	}

	want := []string{"b-older", "z-older", "a-newer"}
	if len(got) != len(want) {
		t.Fatalf("got %d rides, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].Ride.ID != id {
			t.Errorf("[%d] = %s, want %s", i, got[i].Ride.ID, id)
		}
	}
}

func TestFindPendingRidesNearPresenceErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.addDriver(t, "offline", false, ptr(domain.Coordinate{Lat: 1, Lng: 1}))
	env.addDriver(t, "nowhere", true, nil)

	tests := []struct {
		driver string
		want   error
	}{
		{"offline", ErrNotOnline},
		{"nowhere", ErrNoLocation},
		{"", ErrInvalidDriverID},
	}
	for _, tt := range tests {
		_, err := env.matching.FindPendingRidesNear(context.Background(), tt.driver)
		if !errors.Is(err, tt.want) {
			t.Errorf("driver %q: err = %v, want %v", tt.driver, err, tt.want)
		}
	}
}

func TestEligibleDriversFor(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.addDriver(t, "near", true, ptr(northOf(1)))
	env.addDriver(t, "nearer", true, ptr(northOf(0.5)))
	env.addDriver(t, "far", true, ptr(northOf(6)))
	env.addDriver(t, "offline", false, ptr(northOf(0.2)))

	// Index entry left behind by a driver whose durable presence is offline.
	env.addDriver(t, "stale", false, nil)
	_ = env.index.UpdateLocation(context.Background(), "stale", northOf(0.1))

	ride := &domain.Ride{ID: "r", Pickup: domain.Location{Lat: 0, Lng: 0}}
	got, err := env.matching.EligibleDriversFor(context.Background(), ride)
	if err != nil {
		t.Fatalf("EligibleDriversFor: %v", err)
	}

	want := []string{"nearer", "near"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}

// redisSphereIndex filters the way Redis GEORADIUS does, on a 6372.797 km
// sphere.
type redisSphereIndex struct {
	mu   sync.Mutex
	locs map[string]domain.Coordinate
}

const redisEarthRadiusKm = 6372.797

func (x *redisSphereIndex) UpdateLocation(_ context.Context, driverID string, c domain.Coordinate) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.locs == nil {
		x.locs = make(map[string]domain.Coordinate)
	}
	x.locs[driverID] = c
	return nil
}

func (x *redisSphereIndex) FindNearbyDrivers(_ context.Context, center domain.Coordinate, radiusKm float64) ([]domain.DriverLocation, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []domain.DriverLocation
	for id, c := range x.locs {
		if geo.DistanceKm(center, c)*redisEarthRadiusKm/geo.EarthRadiusKm <= radiusKm {
			out = append(out, domain.DriverLocation{DriverID: id, Coordinate: c})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out, nil
}

func (x *redisSphereIndex) RemoveLocation(_ context.Context, driverID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.locs, driverID)
	return nil
}

func TestEligibleDriversForRadiusEdgeWithRedisDistances(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	index := &redisSphereIndex{}
	matching := NewMatchingService(env.rides, env.presence, index, 5)

	for id, km := range map[string]float64{"edge": 4.999, "exact": 5, "outside": 5.01} {
		loc := northOf(km)
		env.addDriver(t, id, true, &loc)
		_ = index.UpdateLocation(context.Background(), id, loc)
	}

	got, err := matching.EligibleDriversFor(context.Background(), &domain.Ride{ID: "r", Pickup: domain.Location{}})
	if err != nil {
		t.Fatalf("EligibleDriversFor: %v", err)
	}
	if len(got) != 2 || got[0] != "edge" || got[1] != "exact" {
		t.Fatalf("got %v, want [edge exact]", got)
	}
}
