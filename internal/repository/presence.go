package repository

import (
	"context"

	"dispatch/internal/domain"
)

// PresenceRepository is the durable store of driver presence.
type PresenceRepository interface {
	// Create registers an offline driver without a location.
	Create(ctx context.Context, driverID string) error

	// Get retrieves a driver's presence.
	Get(ctx context.Context, driverID string) (*domain.DriverPresence, error)

	// GetMany retrieves the presence of every known driver in ids.
	// Unknown ids are skipped.
	GetMany(ctx context.Context, ids []string) (map[string]*domain.DriverPresence, error)

	// SetOnline toggles the online flag and returns the new presence.
	SetOnline(ctx context.Context, driverID string, online bool) (*domain.DriverPresence, error)

	// UpdateLocation overwrites the last known location and returns the new presence.
	UpdateLocation(ctx context.Context, driverID string, c domain.Coordinate) (*domain.DriverPresence, error)

	// ListOnline returns all online drivers.
	ListOnline(ctx context.Context) ([]*domain.DriverPresence, error)
}
