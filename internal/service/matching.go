package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/observability"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

const (
	// DefaultRadiusKm is the matching radius when none is configured.
	DefaultRadiusKm = 5.0

	// radiusToleranceKm absorbs float error for rides on the boundary.
	radiusToleranceKm = 1e-9

	// Redis measures geo distance on a 6372.797 km sphere, about 0.03% longer
	// than ours, so the index is queried slightly wider than the radius.
	indexSlackFactor = 1.001
	indexSlackKm     = 0.01
)

// indexRadiusKm is the radius used against the geo index. The exact
// haversine check afterwards is the real filter.
func indexRadiusKm(radiusKm float64) float64 {
	return radiusKm*indexSlackFactor + indexSlackKm
}

// CandidateRide is a pending ride offered to a driver.
type CandidateRide struct {
	Ride       *domain.Ride
	DistanceKm float64
}

// MatchingService finds pending rides for drivers and drivers for new rides.
type MatchingService struct {
	rideRepo      repository.RideRepository
	presenceRepo  repository.PresenceRepository
	locationStore redis.LocationStoreInterface
	radiusKm      float64
}

// NewMatchingService creates a new MatchingService. A non-positive radius
// uses DefaultRadiusKm.
func NewMatchingService(
	rideRepo repository.RideRepository,
	presenceRepo repository.PresenceRepository,
	locationStore redis.LocationStoreInterface,
	radiusKm float64,
) *MatchingService {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	return &MatchingService{
		rideRepo:      rideRepo,
		presenceRepo:  presenceRepo,
		locationStore: locationStore,
		radiusKm:      radiusKm,
	}
}

// RadiusKm returns the configured matching radius.
func (s *MatchingService) RadiusKm() float64 {
	return s.radiusKm
}

// FindPendingRidesNear returns requested rides within the radius of the
// driver's location, closest first. Equal distances are ordered oldest
// request first, then by ride id.
func (s *MatchingService) FindPendingRidesNear(ctx context.Context, driverID string) ([]CandidateRide, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	presence, err := s.presenceRepo.Get(ctx, driverID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !presence.IsOnline {
		return nil, ErrNotOnline
	}
	if presence.Location == nil {
		return nil, ErrNoLocation
	}
	origin := *presence.Location

	pending, err := s.rideRepo.ListPending(ctx, geo.CoverCells(origin, s.radiusKm))
	if err != nil {
		return nil, storeErr(fmt.Errorf("list pending rides: %w", err))
	}

	type scored struct {
		ride *domain.Ride
		dist float64
	}
	hits := make([]scored, 0, len(pending))
	for _, ride := range pending {
		d := geo.DistanceKm(origin, ride.Pickup.Coordinate())
		if d <= s.radiusKm+radiusToleranceKm {
			hits = append(hits, scored{ride: ride, dist: d})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		if !a.ride.RequestedAt.Equal(b.ride.RequestedAt) {
			return a.ride.RequestedAt.Before(b.ride.RequestedAt)
		}
		return a.ride.ID < b.ride.ID
	})

	out := make([]CandidateRide, len(hits))
	for i, h := range hits {
		out[i] = CandidateRide{Ride: h.ride, DistanceKm: geo.RoundKm(h.dist)}
	}
	return out, nil
}

// EligibleDriversFor returns the drivers a new ride should be offered to,
// closest first. The geo index narrows the search; durable presence has the
// final say on who is online.
func (s *MatchingService) EligibleDriversFor(ctx context.Context, ride *domain.Ride) ([]string, error) {
	pickup := ride.Pickup.Coordinate()

	nearby, err := s.locationStore.FindNearbyDrivers(ctx, pickup, indexRadiusKm(s.radiusKm))
	if err != nil {
		return nil, fmt.Errorf("find nearby drivers: %w", err)
	}
	if len(nearby) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(nearby))
	for _, loc := range nearby {
		ids = append(ids, loc.DriverID)
	}
	presence, err := s.presenceRepo.GetMany(ctx, ids)
	if err != nil {
		return nil, storeErr(fmt.Errorf("load presence: %w", err))
	}

	type scored struct {
		id   string
		dist float64
	}
	hits := make([]scored, 0, len(ids))
	for _, id := range ids {
		p, ok := presence[id]
		if !ok || !p.Dispatchable() {
			continue
		}
		d := geo.DistanceKm(pickup, *p.Location)
		if d > s.radiusKm+radiusToleranceKm {
			continue
		}
		hits = append(hits, scored{id: id, dist: d})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].id < hits[j].id
	})

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.id
	}
	return out, nil
}

// offeredDrivers is EligibleDriversFor for fan-out. A failed lookup is
// logged and counted, and the event then reaches no drivers.
func (s *MatchingService) offeredDrivers(ctx context.Context, ride *domain.Ride, logger *slog.Logger) []string {
	ids, err := s.EligibleDriversFor(ctx, ride)
	if err != nil {
		observability.EventPublishFailures.WithLabelValues("eligibility").Inc()
		logger.Warn("eligible driver lookup failed",
			slog.String("ride_id", ride.ID),
			slog.Any("error", err),
		)
	}
	return ids
}
