package memory

import (
	"context"
	"sort"
	"sync"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/redis"
)

// LocationIndex is an in-process nearby-driver index.
type LocationIndex struct {
	mu        sync.RWMutex
	locations map[string]domain.Coordinate
}

// NewLocationIndex creates an empty index.
func NewLocationIndex() *LocationIndex {
	return &LocationIndex{locations: make(map[string]domain.Coordinate)}
}

// UpdateLocation stores a driver's position.
func (i *LocationIndex) UpdateLocation(ctx context.Context, driverID string, c domain.Coordinate) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.locations[driverID] = c
	return nil
}

// RemoveLocation drops a driver from the index.
func (i *LocationIndex) RemoveLocation(ctx context.Context, driverID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.locations, driverID)
	return nil
}

// FindNearbyDrivers returns drivers within radiusKm of center, closest first.
func (i *LocationIndex) FindNearbyDrivers(ctx context.Context, center domain.Coordinate, radiusKm float64) ([]domain.DriverLocation, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	type hit struct {
		loc  domain.DriverLocation
		dist float64
	}
	var hits []hit
	for id, c := range i.locations {
		d := geo.DistanceKm(center, c)
		if d <= radiusKm {
			hits = append(hits, hit{loc: domain.DriverLocation{DriverID: id, Coordinate: c}, dist: d})
		}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].dist != hits[b].dist {
			return hits[a].dist < hits[b].dist
		}
		return hits[a].loc.DriverID < hits[b].loc.DriverID
	})

	result := make([]domain.DriverLocation, len(hits))
	for n, h := range hits {
		result[n] = h.loc
	}
	return result, nil
}

// Contains reports whether driverID is indexed.
func (i *LocationIndex) Contains(driverID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.locations[driverID]
	return ok
}

var _ redis.LocationStoreInterface = (*LocationIndex)(nil)
