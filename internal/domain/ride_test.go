package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to RideStatus
		want     bool
	}{
		{RideStatusRequested, RideStatusAccepted, true},
		{RideStatusRequested, RideStatusCancelled, true},
		{RideStatusAccepted, RideStatusCompleted, true},
		{RideStatusAccepted, RideStatusCancelled, true},
		{RideStatusAccepted, RideStatusOngoing, true},
		{RideStatusOngoing, RideStatusCompleted, true},
		{RideStatusRequested, RideStatusCompleted, false},
		{RideStatusAccepted, RideStatusRequested, false},
		{RideStatusCompleted, RideStatusRequested, false},
		{RideStatusCompleted, RideStatusAccepted, false},
		{RideStatusCompleted, RideStatusCancelled, false},
		{RideStatusCancelled, RideStatusRequested, false},
		{RideStatusCancelled, RideStatusAccepted, false},
		{RideStatusRequested, RideStatusRequested, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransition_TerminalStatesAreFinal(t *testing.T) {
	t.Parallel()

	all := []RideStatus{RideStatusRequested, RideStatusAccepted, RideStatusOngoing, RideStatusCompleted, RideStatusCancelled}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal status %s must not move to %s", from, to)
			}
		}
	}
}

func TestTransition_ApplyAccept(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ride := &Ride{ID: "r1", Status: RideStatusRequested}
	tr := Transition{From: RideStatusRequested, To: RideStatusAccepted, DriverID: "d1", At: now}

	if !tr.Matches(ride) {
		t.Fatal("expected precondition to hold")
	}
	tr.Apply(ride)

	if ride.Status != RideStatusAccepted {
		t.Errorf("expected accepted, got %s", ride.Status)
	}
	if ride.DriverID != "d1" {
		t.Errorf("expected driver d1, got %q", ride.DriverID)
	}
	if !ride.AcceptedAt.Equal(now) {
		t.Errorf("expected acceptedAt %v, got %v", now, ride.AcceptedAt)
	}
}

func TestTransition_MatchesChecksDriver(t *testing.T) {
	t.Parallel()

	ride := &Ride{Status: RideStatusAccepted, DriverID: "d1"}
	if (Transition{From: RideStatusAccepted, ExpectedDriverID: "d2"}).Matches(ride) {
		t.Error("expected mismatch for a different driver")
	}
	if !(Transition{From: RideStatusAccepted, ExpectedDriverID: "d1"}).Matches(ride) {
		t.Error("expected match for the assigned driver")
	}
	if (Transition{From: RideStatusRequested}).Matches(ride) {
		t.Error("expected mismatch for a different status")
	}
}
