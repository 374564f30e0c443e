package domain

import "time"

// DriverPresence is a driver's online flag plus last known location.
type DriverPresence struct {
	DriverID          string
	IsOnline          bool
	Location          *Coordinate
	LocationUpdatedAt time.Time
}

// Dispatchable reports whether the driver may be offered pending rides.
func (p *DriverPresence) Dispatchable() bool {
	return p != nil && p.IsOnline && p.Location != nil
}

// DriverLocation is an entry of the nearby-driver index.
type DriverLocation struct {
	DriverID string
	Coordinate
}
