package domain

import "time"

// RideStatus represents the lifecycle position of a ride.
type RideStatus string

const (
	RideStatusRequested RideStatus = "requested"
	RideStatusAccepted  RideStatus = "accepted"
	RideStatusOngoing   RideStatus = "ongoing" // reserved for trip-start tracking
	RideStatusCompleted RideStatus = "completed"
	RideStatusCancelled RideStatus = "cancelled"
)

// allowedTransitions lists every forward edge of the ride lifecycle.
var allowedTransitions = map[RideStatus][]RideStatus{
	RideStatusRequested: {RideStatusAccepted, RideStatusCancelled},
	RideStatusAccepted:  {RideStatusOngoing, RideStatusCompleted, RideStatusCancelled},
	RideStatusOngoing:   {RideStatusCompleted, RideStatusCancelled},
}

// CanTransition reports whether a ride may move from one status to another.
func CanTransition(from, to RideStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// Valid reports whether s is a known status.
func (s RideStatus) Valid() bool {
	switch s {
	case RideStatusRequested, RideStatusAccepted, RideStatusOngoing,
		RideStatusCompleted, RideStatusCancelled:
		return true
	}
	return false
}

// Coordinate is a point on the earth in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a coordinate with a human readable address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// Coordinate drops the address.
func (l Location) Coordinate() Coordinate {
	return Coordinate{Lat: l.Lat, Lng: l.Lng}
}

// Ride is a rider-initiated transportation request and its lifecycle state.
type Ride struct {
	ID           string
	RiderID      string
	Pickup       Location
	Dropoff      Location
	PickupCell   string // geohash of Pickup, used to prune pending-ride scans
	DriverID     string // empty until accepted
	Status       RideStatus
	Fare         float64
	RequestedAt  time.Time
	AcceptedAt   time.Time
	CompletedAt  time.Time
	CancelledAt  time.Time
	CancelReason string
}

// Transition describes a conditional status change. It is applied only when
// the stored ride still has status From and, if ExpectedDriverID is set, that
// driver.
type Transition struct {
	From             RideStatus
	ExpectedDriverID string
	To               RideStatus
	DriverID         string // assigned on acceptance
	At               time.Time
	Reason           string
	ActorID          string
}

// Apply mutates r according to t. The caller has already checked the
// precondition.
func (t Transition) Apply(r *Ride) {
	r.Status = t.To
	if t.DriverID != "" && r.DriverID == "" {
		r.DriverID = t.DriverID
	}
	switch t.To {
	case RideStatusAccepted:
		r.AcceptedAt = t.At
	case RideStatusCompleted:
		r.CompletedAt = t.At
	case RideStatusCancelled:
		r.CancelledAt = t.At
		r.CancelReason = t.Reason
	}
}

// Matches reports whether r satisfies the precondition of t.
func (t Transition) Matches(r *Ride) bool {
	if r.Status != t.From {
		return false
	}
	if t.ExpectedDriverID != "" && r.DriverID != t.ExpectedDriverID {
		return false
	}
	return true
}
