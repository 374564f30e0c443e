package repository

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// RideRepository defines the persistence operations for rides. A ride lives
// in exactly one of the rider's active or history lists.
type RideRepository interface {
	// Create appends a new requested ride to the rider's active list.
	// Returns ErrNotFound if the rider does not exist.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride from the active list or from history.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// TryTransition applies t atomically if its precondition holds and returns
	// the updated ride. Terminal transitions move the ride to history in the
	// same unit. Returns *StaleError if the precondition failed and
	// ErrNotFound if the ride does not exist.
	TryTransition(ctx context.Context, id string, t domain.Transition) (*domain.Ride, error)

	// ListPending returns requested rides whose pickup cell is in cells.
	// A nil cells slice scans every active ride.
	ListPending(ctx context.Context, cells []string) ([]*domain.Ride, error)

	// ListPendingBefore returns up to limit requested rides older than before.
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Ride, error)

	// ListAcceptedByDriver returns the driver's accepted rides.
	ListAcceptedByDriver(ctx context.Context, driverID string) ([]*domain.Ride, error)

	// ListActiveByRider returns the rider's active rides, oldest first.
	ListActiveByRider(ctx context.Context, riderID string) ([]*domain.Ride, error)

	// ListHistoryByRider returns the rider's finished rides, newest first.
	ListHistoryByRider(ctx context.Context, riderID string) ([]*domain.Ride, error)
}
