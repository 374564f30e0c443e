package service

import (
	"context"
	"log/slog"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// DriverService is the presence registry. Durable presence is the source of
// truth; the geo index and the realtime group follow it.
type DriverService struct {
	presenceRepo  repository.PresenceRepository
	locationStore redis.LocationStoreInterface
	notifier      *NotificationService
	logger        *slog.Logger
}

// NewDriverService creates a new DriverService.
func NewDriverService(
	presenceRepo repository.PresenceRepository,
	locationStore redis.LocationStoreInterface,
	notifier *NotificationService,
	logger *slog.Logger,
) *DriverService {
	return &DriverService{
		presenceRepo:  presenceRepo,
		locationStore: locationStore,
		notifier:      notifier,
		logger:        logger.With(slog.String("component", "presence")),
	}
}

// SetOnline toggles the driver's availability. Accepted rides are not
// touched when a driver goes offline.
func (s *DriverService) SetOnline(ctx context.Context, driverID string, online bool) (*domain.DriverPresence, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	p, err := s.presenceRepo.SetOnline(ctx, driverID, online)
	if err != nil {
		return nil, storeErr(err)
	}

	s.syncIndex(ctx, p)
	if s.notifier != nil {
		s.notifier.NotifyPresenceChanged(ctx, driverID, online)
	}
	return p, nil
}

// UpdateLocation overwrites the driver's last known location.
func (s *DriverService) UpdateLocation(ctx context.Context, driverID string, c domain.Coordinate) (*domain.DriverPresence, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if !geo.ValidCoordinate(c) {
		return nil, ErrInvalidLocation
	}

	p, err := s.presenceRepo.UpdateLocation(ctx, driverID, c)
	if err != nil {
		return nil, storeErr(err)
	}

	s.syncIndex(ctx, p)
	return p, nil
}

// GetPresence returns the driver's presence.
func (s *DriverService) GetPresence(ctx context.Context, driverID string) (*domain.DriverPresence, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	p, err := s.presenceRepo.Get(ctx, driverID)
	if err != nil {
		return nil, storeErr(err)
	}
	return p, nil
}

// RebuildIndex loads every online driver into the geo index. Run at startup
// so an empty or stale index does not hide drivers from new rides.
func (s *DriverService) RebuildIndex(ctx context.Context) (int, error) {
	online, err := s.presenceRepo.ListOnline(ctx)
	if err != nil {
		return 0, storeErr(err)
	}

	n := 0
	for _, p := range online {
		if !p.Dispatchable() {
			continue
		}
		if err := s.locationStore.UpdateLocation(ctx, p.DriverID, *p.Location); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// syncIndex mirrors p into the geo index. Index failures are logged only;
// matching rechecks durable presence.
func (s *DriverService) syncIndex(ctx context.Context, p *domain.DriverPresence) {
	var err error
	if p.Dispatchable() {
		err = s.locationStore.UpdateLocation(ctx, p.DriverID, *p.Location)
	} else {
		err = s.locationStore.RemoveLocation(ctx, p.DriverID)
	}
	if err != nil {
		s.logger.Warn("geo index update failed",
			slog.String("driver_id", p.DriverID),
			slog.Any("error", err),
		)
	}
}
