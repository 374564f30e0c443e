// Package events defines the realtime wire contract and the durable
// lifecycle event sinks.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"dispatch/internal/domain"
)

// Type is the name carried in a frame's "type" field.
type Type string

// Server to client.
const (
	TypeRideCreated   Type = "ride.created"
	TypeRideAccepted  Type = "ride.accepted"
	TypeRideCompleted Type = "ride.completed"
	TypeRideCancelled Type = "ride.cancelled"
	TypePresenceState Type = "presence.state"
	TypeError         Type = "error"
	TypePong          Type = "pong"
)

// Client to server.
const (
	TypeDriverOnline   Type = "driver.online"
	TypeDriverOffline  Type = "driver.offline"
	TypeDriverLocation Type = "driver.location"
	TypePing           Type = "ping"
)

// GroupOnlineDrivers is the fan-out group of drivers currently online.
const GroupOnlineDrivers = "drivers:online"

// Payload is implemented by every message body.
type Payload interface {
	EventType() Type
}

// Message is a tagged frame.
type Message struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps p in a Message.
func Encode(p Payload) (Message, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", p.EventType(), err)
	}
	return Message{Type: p.EventType(), Data: data}, nil
}

// Decode unmarshals m.Data into dst after checking the tag.
func Decode(m Message, dst Payload) error {
	if m.Type != dst.EventType() {
		return fmt.Errorf("decode: got %q, want %q", m.Type, dst.EventType())
	}
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, dst)
}

type RideCreated struct {
	RideID      string          `json:"rideId"`
	RiderID     string          `json:"riderId"`
	Pickup      domain.Location `json:"pickup"`
	Dropoff     domain.Location `json:"dropoff"`
	Fare        float64         `json:"fare"`
	RequestedAt time.Time       `json:"requestedAt"`
}

func (RideCreated) EventType() Type { return TypeRideCreated }

type RideAccepted struct {
	RideID   string `json:"rideId"`
	RiderID  string `json:"riderId"`
	DriverID string `json:"driverId"`
}

func (RideAccepted) EventType() Type { return TypeRideAccepted }

type RideCompleted struct {
	RideID   string `json:"rideId"`
	RiderID  string `json:"riderId"`
	DriverID string `json:"driverId"`
}

func (RideCompleted) EventType() Type { return TypeRideCompleted }

type RideCancelled struct {
	RideID   string `json:"rideId"`
	RiderID  string `json:"riderId"`
	DriverID string `json:"driverId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (RideCancelled) EventType() Type { return TypeRideCancelled }

// PresenceState tells a freshly connected driver what the server believes.
type PresenceState struct {
	DriverID                    string             `json:"driverId"`
	IsOnline                    bool               `json:"isOnline"`
	Location                    *domain.Coordinate `json:"location"`
	LocationPushIntervalSeconds int                `json:"locationPushIntervalSeconds"`
}

func (PresenceState) EventType() Type { return TypePresenceState }

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (Error) EventType() Type { return TypeError }

type Pong struct{}

func (Pong) EventType() Type { return TypePong }

type DriverOnline struct{}

func (DriverOnline) EventType() Type { return TypeDriverOnline }

type DriverOffline struct{}

func (DriverOffline) EventType() Type { return TypeDriverOffline }

type DriverLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (DriverLocation) EventType() Type { return TypeDriverLocation }

type Ping struct{}

func (Ping) EventType() Type { return TypePing }

// Target selects recipients. A message goes to every UserID and, if Group is
// set, every member of Group, minus Exclude. Each connection receives it at
// most once.
type Target struct {
	UserIDs []string `json:"userIds,omitempty"`
	Group   string   `json:"group,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Membership adds or removes a user from a group.
type Membership struct {
	UserID string `json:"userId"`
	Group  string `json:"group"`
	Join   bool   `json:"join"`
}

// Envelope is the unit passed to the realtime hub, possibly through the
// cross-instance bus. Exactly one of Message or Membership is set.
type Envelope struct {
	Target     Target      `json:"target"`
	Message    *Message    `json:"message,omitempty"`
	Membership *Membership `json:"membership,omitempty"`
}
