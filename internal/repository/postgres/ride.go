package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

const rideColumns = `id, rider_id, pickup_lat, pickup_lng, pickup_address, pickup_cell,
	dropoff_lat, dropoff_lng, dropoff_address, driver_id, status, fare,
	requested_at, accepted_at, completed_at, cancelled_at, cancel_reason`

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
// Active rides live in rides, finished rides in ride_history.
type RideRepository struct {
	db *sql.DB
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{db: db}
}

// Create persists a new requested ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	query := `
		INSERT INTO rides (id, rider_id, pickup_lat, pickup_lng, pickup_address, pickup_cell,
			dropoff_lat, dropoff_lng, dropoff_address, driver_id, status, fare, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		ride.ID,
		ride.RiderID,
		ride.Pickup.Lat,
		ride.Pickup.Lng,
		ride.Pickup.Address,
		ride.PickupCell,
		ride.Dropoff.Lat,
		ride.Dropoff.Lng,
		ride.Dropoff.Address,
		nullString(ride.DriverID),
		ride.Status,
		ride.Fare,
		ride.RequestedAt,
	)
	return classify(err)
}

// GetByID retrieves a ride from the active table or from history.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	return r.getByID(ctx, r.db, id)
}

func (r *RideRepository) getByID(ctx context.Context, q Querier, id string) (*domain.Ride, error) {
	query := `
		SELECT ` + rideColumns + ` FROM rides WHERE id = $1
		UNION ALL
		SELECT ` + rideColumns + ` FROM ride_history WHERE id = $1
		LIMIT 1
	`
	ride, err := scanRide(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, classify(err)
	}
	return ride, nil
}

// TryTransition applies t with a conditional UPDATE. A terminal target moves
// the row to ride_history inside the same transaction.
func (r *RideRepository) TryTransition(ctx context.Context, id string, t domain.Transition) (*domain.Ride, error) {
	if !domain.CanTransition(t.From, t.To) {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &repository.StaleError{Current: current}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ride, err := r.transition(ctx, tx, id, t)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return ride, nil
}

func (r *RideRepository) transition(ctx context.Context, q Querier, id string, t domain.Transition) (*domain.Ride, error) {
	query := `
		UPDATE rides
		SET status = $1::text,
			driver_id = COALESCE(driver_id, $2),
			accepted_at = CASE WHEN $1::text = 'accepted' THEN $3 ELSE accepted_at END,
			completed_at = CASE WHEN $1::text = 'completed' THEN $3 ELSE completed_at END,
			cancelled_at = CASE WHEN $1::text = 'cancelled' THEN $3 ELSE cancelled_at END,
			cancel_reason = CASE WHEN $1::text = 'cancelled' THEN $4 ELSE cancel_reason END
		WHERE id = $5 AND status = $6::text AND ($7::text = '' OR driver_id = $7::text)
		RETURNING ` + rideColumns

	ride, err := scanRide(q.QueryRowContext(ctx, query,
		t.To,
		nullString(t.DriverID),
		t.At,
		nullString(t.Reason),
		id,
		t.From,
		t.ExpectedDriverID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := r.getByID(ctx, q, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &repository.StaleError{Current: current}
	}
	if err != nil {
		return nil, classify(err)
	}

	if t.To.IsTerminal() {
		if err := moveToHistory(ctx, q, id); err != nil {
			return nil, err
		}
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO ride_events (ride_id, from_status, to_status, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id, t.From, t.To, nullString(t.ActorID), t.At,
	)
	if err != nil {
		return nil, classify(err)
	}

	return ride, nil
}

// moveToHistory relocates a ride row. The insert is keyed by id so running it
// twice never produces a second history entry.
func moveToHistory(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ride_history (`+rideColumns+`)
		SELECT `+rideColumns+` FROM rides WHERE id = $1
		ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return classify(err)
	}

	result, err := q.ExecContext(ctx, `DELETE FROM rides WHERE id = $1`, id)
	if err != nil {
		return classify(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return fmt.Errorf("move ride %s to history: %w", id, repository.ErrNotFound)
	}
	return nil
}

// ListPending returns requested rides in the given pickup cells.
func (r *RideRepository) ListPending(ctx context.Context, cells []string) ([]*domain.Ride, error) {
	if cells == nil {
		return r.list(ctx, `SELECT `+rideColumns+` FROM rides
			WHERE status = 'requested' ORDER BY requested_at, id`)
	}
	return r.list(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE status = 'requested' AND pickup_cell = ANY($1)
		ORDER BY requested_at, id`, pq.Array(cells))
}

// ListPendingBefore returns requested rides older than before.
func (r *RideRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Ride, error) {
	return r.list(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE status = 'requested' AND requested_at < $1
		ORDER BY requested_at, id LIMIT $2`, before, limit)
}

// ListAcceptedByDriver returns the driver's accepted rides.
func (r *RideRepository) ListAcceptedByDriver(ctx context.Context, driverID string) ([]*domain.Ride, error) {
	return r.list(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE driver_id = $1 AND status = 'accepted'
		ORDER BY accepted_at, id`, driverID)
}

// ListActiveByRider returns the rider's active rides.
func (r *RideRepository) ListActiveByRider(ctx context.Context, riderID string) ([]*domain.Ride, error) {
	return r.list(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE rider_id = $1 ORDER BY requested_at, id`, riderID)
}

// ListHistoryByRider returns the rider's finished rides, newest first.
func (r *RideRepository) ListHistoryByRider(ctx context.Context, riderID string) ([]*domain.Ride, error) {
	return r.list(ctx, `SELECT `+rideColumns+` FROM ride_history
		WHERE rider_id = $1
		ORDER BY COALESCE(completed_at, cancelled_at) DESC, id
		LIMIT 100`, riderID)
}

func (r *RideRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Ride, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, classify(err)
		}
		rides = append(rides, ride)
	}
	return rides, classify(rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (*domain.Ride, error) {
	var ride domain.Ride
	var driverID sql.NullString
	var acceptedAt, completedAt, cancelledAt sql.NullTime
	var cancelReason sql.NullString

	err := s.Scan(
		&ride.ID,
		&ride.RiderID,
		&ride.Pickup.Lat,
		&ride.Pickup.Lng,
		&ride.Pickup.Address,
		&ride.PickupCell,
		&ride.Dropoff.Lat,
		&ride.Dropoff.Lng,
		&ride.Dropoff.Address,
		&driverID,
		&ride.Status,
		&ride.Fare,
		&ride.RequestedAt,
		&acceptedAt,
		&completedAt,
		&cancelledAt,
		&cancelReason,
	)
	if err != nil {
		return nil, err
	}

	ride.DriverID = driverID.String
	ride.AcceptedAt = acceptedAt.Time
	ride.CompletedAt = completedAt.Time
	ride.CancelledAt = cancelledAt.Time
	ride.CancelReason = cancelReason.String
	return &ride, nil
}

var _ repository.RideRepository = (*RideRepository)(nil)
