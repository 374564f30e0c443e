package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/logging"
)

func testClient(userID string, buffer int) *Client {
	return newClient(userID, domain.RoleDriver, nil, ClientConfig{SendBuffer: buffer}.withDefaults(), logging.Discard())
}

func drain(c *Client) []events.Message {
	var out []events.Message
	for {
		select {
		case frame := <-c.send:
			var m events.Message
			_ = json.Unmarshal(frame, &m)
			out = append(out, m)
		default:
			return out
		}
	}
}

func mustEnvelope(t *testing.T, p events.Payload, target events.Target) events.Envelope {
	t.Helper()
	msg, err := events.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return events.Envelope{Target: target, Message: &msg}
}

func TestHubGroupRoutingWithExclusion(t *testing.T) {
	t.Parallel()

	hub := NewHub(logging.Discard())
	winner := testClient("d1", 8)
	loser := testClient("d2", 8)
	offline := testClient("d3", 8)
	rider := testClient("r1", 8)
	for _, c := range []*Client{winner, loser, offline, rider} {
		hub.Register(c)
	}
	hub.Join("d1", events.GroupOnlineDrivers)
	hub.Join("d2", events.GroupOnlineDrivers)

	env := mustEnvelope(t, events.RideAccepted{RideID: "x", RiderID: "r1", DriverID: "d1"}, events.Target{
		UserIDs: []string{"r1"},
		Group:   events.GroupOnlineDrivers,
		Exclude: []string{"d1"},
	})
	if err := hub.Broadcast(context.Background(), env); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if got := drain(winner); len(got) != 0 {
		t.Errorf("excluded winner got %d frames", len(got))
	}
	if got := drain(offline); len(got) != 0 {
		t.Errorf("non-member got %d frames", len(got))
	}
	if got := drain(loser); len(got) != 1 || got[0].Type != events.TypeRideAccepted {
		t.Errorf("group member got %v", got)
	}
	if got := drain(rider); len(got) != 1 {
		t.Errorf("rider got %d frames", len(got))
	}
}

func TestHubDeliversOncePerConnection(t *testing.T) {
	t.Parallel()

	hub := NewHub(logging.Discard())
	phone := testClient("d1", 8)
	tablet := testClient("d1", 8)
	hub.Register(phone)
	hub.Register(tablet)
	hub.Join("d1", events.GroupOnlineDrivers)

	// Listed directly and through the group.
	env := mustEnvelope(t, events.Pong{}, events.Target{UserIDs: []string{"d1"}, Group: events.GroupOnlineDrivers})
	_ = hub.Broadcast(context.Background(), env)

	if n := len(drain(phone)); n != 1 {
		t.Errorf("phone got %d frames, want 1", n)
	}
	if n := len(drain(tablet)); n != 1 {
		t.Errorf("tablet got %d frames, want 1", n)
	}
}

func TestHubMembershipEnvelope(t *testing.T) {
	t.Parallel()

	hub := NewHub(logging.Discard())
	ctx := context.Background()

	_ = hub.Broadcast(ctx, events.Envelope{Membership: &events.Membership{UserID: "d1", Group: events.GroupOnlineDrivers, Join: true}})
	if !hub.IsMember("d1", events.GroupOnlineDrivers) {
		t.Fatal("expected d1 to join")
	}

	_ = hub.Broadcast(ctx, events.Envelope{Membership: &events.Membership{UserID: "d1", Group: events.GroupOnlineDrivers}})
	if hub.IsMember("d1", events.GroupOnlineDrivers) {
		t.Fatal("expected d1 to leave")
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	hub := NewHub(logging.Discard())
	slow := testClient("d1", 1)
	hub.Register(slow)

	env := mustEnvelope(t, events.Pong{}, events.Target{UserIDs: []string{"d1"}})
	for i := 0; i < 3; i++ {
		if err := hub.Broadcast(context.Background(), env); err != nil {
			t.Fatalf("broadcast must not fail on a full buffer: %v", err)
		}
	}

	if n := len(drain(slow)); n != 1 {
		t.Errorf("got %d frames, want 1", n)
	}
}

func TestHubUnregister(t *testing.T) {
	t.Parallel()

	hub := NewHub(logging.Discard())
	c := testClient("d1", 4)
	hub.Register(c)
	hub.Unregister(c)
	hub.Unregister(c)

	env := mustEnvelope(t, events.Pong{}, events.Target{UserIDs: []string{"d1"}})
	_ = hub.Broadcast(context.Background(), env)

	if n := len(drain(c)); n != 0 {
		t.Errorf("unregistered client got %d frames", n)
	}
}
