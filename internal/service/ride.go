package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/observability"
	"dispatch/internal/repository"
)

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role domain.Role
}

// RideService is the dispatch API: request, accept, complete and cancel.
// Every status change goes through the store's conditional transition, and
// events are emitted only after it returns.
type RideService struct {
	rideRepo repository.RideRepository
	userRepo repository.UserRepository
	matching *MatchingService
	notifier *NotificationService
	logger   *slog.Logger
	now      func() time.Time
}

// NewRideService creates a new RideService.
func NewRideService(
	rideRepo repository.RideRepository,
	userRepo repository.UserRepository,
	matching *MatchingService,
	notifier *NotificationService,
	logger *slog.Logger,
) *RideService {
	return &RideService{
		rideRepo: rideRepo,
		userRepo: userRepo,
		matching: matching,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "dispatch")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RequestRideInput contains the parameters for requesting a ride.
type RequestRideInput struct {
	RiderID string
	Pickup  domain.Location
	Dropoff domain.Location
	Fare    float64
}

// RequestRide records a new ride and offers it to eligible drivers. The ride
// is returned even if the offer could not be delivered.
func (s *RideService) RequestRide(ctx context.Context, in RequestRideInput) (*domain.Ride, error) {
	if err := validateRequest(in); err != nil {
		return nil, err
	}

	rider, err := s.userRepo.GetByID(ctx, in.RiderID)
	if err != nil {
		return nil, storeErr(err)
	}
	if rider.Role != domain.RoleRider {
		return nil, ErrForbiddenRole
	}

	ride := &domain.Ride{
		ID:          uuid.New().String(),
		RiderID:     in.RiderID,
		Pickup:      in.Pickup,
		Dropoff:     in.Dropoff,
		PickupCell:  geo.Cell(in.Pickup.Coordinate()),
		Status:      domain.RideStatusRequested,
		Fare:        in.Fare,
		RequestedAt: s.now(),
	}
	if err := s.rideRepo.Create(ctx, ride); err != nil {
		return nil, storeErr(fmt.Errorf("create ride: %w", err))
	}
	observability.RidesRequested.Inc()

	s.notifier.NotifyRideCreated(ctx, ride, s.matching.offeredDrivers(ctx, ride, s.logger))

	return ride, nil
}

// ListPendingRides returns requested rides near the driver.
func (s *RideService) ListPendingRides(ctx context.Context, driverID string) ([]CandidateRide, error) {
	return s.matching.FindPendingRidesNear(ctx, driverID)
}

// AcceptRide assigns the ride to the driver. Exactly one concurrent caller
// wins; the others get ErrAlreadyTaken.
func (s *RideService) AcceptRide(ctx context.Context, driverID, rideID string) (*domain.Ride, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if rideID == "" {
		return nil, ErrInvalidRideID
	}

	ride, err := s.rideRepo.TryTransition(ctx, rideID, domain.Transition{
		From:     domain.RideStatusRequested,
		To:       domain.RideStatusAccepted,
		DriverID: driverID,
		At:       s.now(),
		ActorID:  driverID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStale) {
			observability.AcceptConflicts.Inc()
			return nil, ErrAlreadyTaken
		}
		return nil, storeErr(err)
	}
	observability.RideTransitions.WithLabelValues(string(ride.Status)).Inc()

	s.notifier.NotifyRideAccepted(ctx, ride, s.matching.offeredDrivers(ctx, ride, s.logger))
	return ride, nil
}

// CompleteRide finishes a ride accepted by the driver and moves it to the
// rider's history.
func (s *RideService) CompleteRide(ctx context.Context, driverID, rideID string) (*domain.Ride, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if rideID == "" {
		return nil, ErrInvalidRideID
	}

	ride, err := s.rideRepo.TryTransition(ctx, rideID, domain.Transition{
		From:             domain.RideStatusAccepted,
		ExpectedDriverID: driverID,
		To:               domain.RideStatusCompleted,
		At:               s.now(),
		ActorID:          driverID,
	})
	if err != nil {
		var stale *repository.StaleError
		if errors.As(err, &stale) {
			return nil, classifyCompleteFailure(stale.Current, driverID)
		}
		return nil, storeErr(err)
	}
	observability.RideTransitions.WithLabelValues(string(ride.Status)).Inc()

	s.notifier.NotifyRideCompleted(ctx, ride)
	return ride, nil
}

func classifyCompleteFailure(current *domain.Ride, driverID string) error {
	if current != nil && !current.Status.IsTerminal() &&
		current.DriverID != "" && current.DriverID != driverID {
		return ErrUnauthorized
	}
	return ErrInvalidState
}

// CancelRide cancels a ride. The rider may cancel while it is requested or
// accepted; the assigned driver may cancel once accepted.
func (s *RideService) CancelRide(ctx context.Context, actorID, rideID, reason string) (*domain.Ride, error) {
	if actorID == "" {
		return nil, ErrInvalidRiderID
	}
	if rideID == "" {
		return nil, ErrInvalidRideID
	}

	current, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, storeErr(err)
	}
	if current.Status.IsTerminal() {
		return nil, ErrInvalidState
	}

	isRider := current.RiderID == actorID
	isDriver := current.DriverID != "" && current.DriverID == actorID
	if !isRider && !isDriver {
		return nil, ErrUnauthorized
	}

	ride, err := s.rideRepo.TryTransition(ctx, rideID, domain.Transition{
		From:             current.Status,
		ExpectedDriverID: current.DriverID,
		To:               domain.RideStatusCancelled,
		At:               s.now(),
		Reason:           reason,
		ActorID:          actorID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStale) {
			return nil, ErrStaleRide
		}
		return nil, storeErr(err)
	}
	observability.RideTransitions.WithLabelValues(string(ride.Status)).Inc()

	var offeredTo []string
	if current.Status == domain.RideStatusRequested {
		offeredTo = s.matching.offeredDrivers(ctx, ride, s.logger)
	}
	s.notifier.NotifyRideCancelled(ctx, ride, offeredTo)
	return ride, nil
}

// GetRide returns a ride the actor may see: their own, one assigned to them,
// or any pending ride for a driver.
func (s *RideService) GetRide(ctx context.Context, actor Actor, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}

	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, storeErr(err)
	}

	switch {
	case ride.RiderID == actor.ID:
	case ride.DriverID != "" && ride.DriverID == actor.ID:
	case actor.Role == domain.RoleDriver && ride.Status == domain.RideStatusRequested:
	default:
		return nil, ErrUnauthorized
	}
	return ride, nil
}

// ListAcceptedRides returns the rides a driver has accepted and not finished.
func (s *RideService) ListAcceptedRides(ctx context.Context, driverID string) ([]*domain.Ride, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	rides, err := s.rideRepo.ListAcceptedByDriver(ctx, driverID)
	return rides, storeErr(err)
}

// ListActiveRides returns a rider's unfinished rides.
func (s *RideService) ListActiveRides(ctx context.Context, riderID string) ([]*domain.Ride, error) {
	if riderID == "" {
		return nil, ErrInvalidRiderID
	}
	rides, err := s.rideRepo.ListActiveByRider(ctx, riderID)
	return rides, storeErr(err)
}

// ListRideHistory returns a rider's completed and cancelled rides.
func (s *RideService) ListRideHistory(ctx context.Context, riderID string) ([]*domain.Ride, error) {
	if riderID == "" {
		return nil, ErrInvalidRiderID
	}
	rides, err := s.rideRepo.ListHistoryByRider(ctx, riderID)
	return rides, storeErr(err)
}

func validateRequest(in RequestRideInput) error {
	if in.RiderID == "" {
		return ErrInvalidRiderID
	}
	if !geo.ValidCoordinate(in.Pickup.Coordinate()) {
		return ErrInvalidPickupLocation
	}
	if !geo.ValidCoordinate(in.Dropoff.Coordinate()) {
		return ErrInvalidDropoffLocation
	}
	if math.IsNaN(in.Fare) || math.IsInf(in.Fare, 0) || in.Fare < 0 {
		return ErrInvalidFare
	}
	return nil
}
