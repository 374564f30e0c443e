package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

const presenceColumns = `driver_id, is_online, lat, lng, location_updated_at`

// PresenceRepository is a PostgreSQL implementation of repository.PresenceRepository.
type PresenceRepository struct {
	q Querier
}

// NewPresenceRepository creates a new PostgreSQL presence repository.
func NewPresenceRepository(db *sql.DB) *PresenceRepository {
	return &PresenceRepository{q: db}
}

// NewPresenceRepositoryWithTx creates a presence repository using a transaction.
func NewPresenceRepositoryWithTx(tx *sql.Tx) *PresenceRepository {
	return &PresenceRepository{q: tx}
}

// Create registers an offline driver.
func (r *PresenceRepository) Create(ctx context.Context, driverID string) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO driver_presence (driver_id) VALUES ($1)`, driverID)
	return classify(err)
}

// Get retrieves a driver's presence.
func (r *PresenceRepository) Get(ctx context.Context, driverID string) (*domain.DriverPresence, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+presenceColumns+` FROM driver_presence WHERE driver_id = $1`, driverID)
	return scanPresenceRow(row)
}

// GetMany retrieves the presence of known drivers in ids.
func (r *PresenceRepository) GetMany(ctx context.Context, ids []string) (map[string]*domain.DriverPresence, error) {
	result := make(map[string]*domain.DriverPresence, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.q.QueryContext(ctx, `SELECT `+presenceColumns+` FROM driver_presence WHERE driver_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, classify(err)
		}
		result[p.DriverID] = p
	}
	return result, classify(rows.Err())
}

// SetOnline toggles the online flag.
func (r *PresenceRepository) SetOnline(ctx context.Context, driverID string, online bool) (*domain.DriverPresence, error) {
	row := r.q.QueryRowContext(ctx, `
		UPDATE driver_presence SET is_online = $1, updated_at = now()
		WHERE driver_id = $2
		RETURNING `+presenceColumns, online, driverID)
	return scanPresenceRow(row)
}

// UpdateLocation overwrites the last known location.
func (r *PresenceRepository) UpdateLocation(ctx context.Context, driverID string, c domain.Coordinate) (*domain.DriverPresence, error) {
	row := r.q.QueryRowContext(ctx, `
		UPDATE driver_presence
		SET lat = $1, lng = $2, location_updated_at = now(), updated_at = now()
		WHERE driver_id = $3
		RETURNING `+presenceColumns, c.Lat, c.Lng, driverID)
	return scanPresenceRow(row)
}

// ListOnline returns all online drivers.
func (r *PresenceRepository) ListOnline(ctx context.Context) ([]*domain.DriverPresence, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+presenceColumns+` FROM driver_presence WHERE is_online ORDER BY driver_id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var result []*domain.DriverPresence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, classify(err)
		}
		result = append(result, p)
	}
	return result, classify(rows.Err())
}

func scanPresenceRow(row *sql.Row) (*domain.DriverPresence, error) {
	p, err := scanPresence(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, classify(err)
	}
	return p, nil
}

func scanPresence(s scanner) (*domain.DriverPresence, error) {
	var p domain.DriverPresence
	var lat, lng sql.NullFloat64
	var updatedAt sql.NullTime

	if err := s.Scan(&p.DriverID, &p.IsOnline, &lat, &lng, &updatedAt); err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		p.Location = &domain.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
	}
	p.LocationUpdatedAt = updatedAt.Time
	return &p, nil
}

var _ repository.PresenceRepository = (*PresenceRepository)(nil)
