package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// PresenceRepository keeps driver presence in a map.
type PresenceRepository struct {
	mu      sync.RWMutex
	drivers map[string]domain.DriverPresence
	now     func() time.Time
}

// NewPresenceRepository creates an empty presence store.
func NewPresenceRepository() *PresenceRepository {
	return &PresenceRepository{
		drivers: make(map[string]domain.DriverPresence),
		now:     time.Now,
	}
}

// Create registers an offline driver.
func (r *PresenceRepository) Create(ctx context.Context, driverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drivers[driverID]; ok {
		return repository.ErrConflict
	}
	r.drivers[driverID] = domain.DriverPresence{DriverID: driverID}
	return nil
}

// Get retrieves a driver's presence.
func (r *PresenceRepository) Get(ctx context.Context, driverID string) (*domain.DriverPresence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.drivers[driverID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clonePresence(p), nil
}

// GetMany retrieves the presence of known drivers in ids.
func (r *PresenceRepository) GetMany(ctx context.Context, ids []string) (map[string]*domain.DriverPresence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*domain.DriverPresence, len(ids))
	for _, id := range ids {
		if p, ok := r.drivers[id]; ok {
			result[id] = clonePresence(p)
		}
	}
	return result, nil
}

// SetOnline toggles the online flag.
func (r *PresenceRepository) SetOnline(ctx context.Context, driverID string, online bool) (*domain.DriverPresence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.drivers[driverID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p.IsOnline = online
	r.drivers[driverID] = p
	return clonePresence(p), nil
}

// UpdateLocation overwrites the last known location.
func (r *PresenceRepository) UpdateLocation(ctx context.Context, driverID string, c domain.Coordinate) (*domain.DriverPresence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.drivers[driverID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	loc := c
	p.Location = &loc
	p.LocationUpdatedAt = r.now()
	r.drivers[driverID] = p
	return clonePresence(p), nil
}

// ListOnline returns all online drivers ordered by id.
func (r *PresenceRepository) ListOnline(ctx context.Context) ([]*domain.DriverPresence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*domain.DriverPresence
	for _, p := range r.drivers {
		if p.IsOnline {
			result = append(result, clonePresence(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DriverID < result[j].DriverID })
	return result, nil
}

func clonePresence(p domain.DriverPresence) *domain.DriverPresence {
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	return &p
}

var _ repository.PresenceRepository = (*PresenceRepository)(nil)
