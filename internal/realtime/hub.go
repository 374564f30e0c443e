// Package realtime is the WebSocket fan-out gateway.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"dispatch/internal/events"
	"dispatch/internal/observability"
)

// Hub tracks this instance's connections and the group memberships of their
// users. Delivery never blocks: a full connection buffer drops the frame.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*Client]struct{}
	groups map[string]map[string]struct{}

	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]map[*Client]struct{}),
		groups: make(map[string]map[string]struct{}),
		logger: logger.With(slog.String("component", "hub")),
	}
}

// Register adds c under its user.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.conns[c.userID] = set
	}
	set[c] = struct{}{}
	observability.RealtimeConnections.Inc()
}

// Unregister removes c. Group memberships of the user are kept; they follow
// durable presence, not the socket.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.userID)
	}
	observability.RealtimeConnections.Dec()
}

// Join adds userID to group.
func (h *Hub) Join(userID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	members[userID] = struct{}{}
}

// Leave removes userID from group.
func (h *Hub) Leave(userID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// IsMember reports whether userID belongs to group.
func (h *Hub) IsMember(userID, group string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.groups[group][userID]
	return ok
}

// Broadcast applies a membership change or delivers a message to its target.
func (h *Hub) Broadcast(_ context.Context, env events.Envelope) error {
	if m := env.Membership; m != nil {
		if m.Join {
			h.Join(m.UserID, m.Group)
		} else {
			h.Leave(m.UserID, m.Group)
		}
		return nil
	}
	if env.Message == nil {
		return nil
	}

	frame, err := json.Marshal(env.Message)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for userID := range h.recipientsLocked(env.Target) {
		for c := range h.conns[userID] {
			if c.enqueue(frame) {
				observability.RealtimeDelivered.Inc()
				continue
			}
			observability.RealtimeDropped.Inc()
			h.logger.Warn("dropping frame for slow connection",
				slog.String("user_id", userID),
				slog.String("type", string(env.Message.Type)),
			)
		}
	}
	return nil
}

func (h *Hub) recipientsLocked(t events.Target) map[string]struct{} {
	out := make(map[string]struct{}, len(t.UserIDs))
	for _, id := range t.UserIDs {
		out[id] = struct{}{}
	}
	if t.Group != "" {
		for id := range h.groups[t.Group] {
			out[id] = struct{}{}
		}
	}
	for _, id := range t.Exclude {
		delete(out, id)
	}
	return out
}
