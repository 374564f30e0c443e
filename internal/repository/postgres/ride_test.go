package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

var (
	rideColumnNames = strings.Fields(strings.NewReplacer(",", " ").Replace(rideColumns))
	requestedAt     = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
)

// rideRow is one rides row in rideColumns order.
func rideRow(status domain.RideStatus, driverID string) reply {
	var driverVal, acceptedAt, completedAt driver.Value
	if driverID != "" {
		driverVal = driverID
		acceptedAt = requestedAt.Add(time.Minute)
	}
	if status == domain.RideStatusCompleted {
		completedAt = requestedAt.Add(time.Hour)
	}
	return reply{
		columns: rideColumnNames,
		rows: [][]driver.Value{{
			"r1", "u1", 12.9, 77.6, "MG Road", "tdr1",
			12.95, 77.65, "Indiranagar", driverVal, string(status), 150.0,
			requestedAt, acceptedAt, completedAt, nil, nil,
		}},
	}
}

func noRows() reply { return reply{columns: rideColumnNames} }

const (
	stmtUpdate  = "UPDATE rides"
	stmtHistory = "INSERT INTO ride_history"
	stmtDelete  = "DELETE FROM rides"
	stmtAudit   = "INSERT INTO ride_events"
	stmtLookup  = "UNION ALL"
)

var statements = []string{stmtHistory, stmtDelete, stmtAudit, stmtUpdate, stmtLookup}

func accept(driverID string) domain.Transition {
	return domain.Transition{
		From:     domain.RideStatusRequested,
		To:       domain.RideStatusAccepted,
		DriverID: driverID,
		At:       requestedAt.Add(time.Minute),
		ActorID:  driverID,
	}
}

func complete(driverID string) domain.Transition {
	return domain.Transition{
		From:             domain.RideStatusAccepted,
		ExpectedDriverID: driverID,
		To:               domain.RideStatusCompleted,
		At:               requestedAt.Add(time.Hour),
		ActorID:          driverID,
	}
}

func TestTryTransition_AcceptStaysActive(t *testing.T) {
	t.Parallel()

	f, db := newFakeDB(t,
		on(stmtUpdate, rideRow(domain.RideStatusAccepted, "d1")),
		on(stmtAudit, reply{affected: 1}),
	)
	ride, err := NewRideRepository(db).TryTransition(context.Background(), "r1", accept("d1"))
	if err != nil {
		t.Fatalf("TryTransition: %v", err)
	}
	if ride.Status != domain.RideStatusAccepted || ride.DriverID != "d1" || ride.AcceptedAt.IsZero() {
		t.Errorf("ride = %+v", ride)
	}

	if got := f.ran(statements...); strings.Join(got, ",") != stmtUpdate+","+stmtAudit {
		t.Errorf("statements = %v", got)
	}
	if commits, _ := f.txCounts(); commits != 1 {
		t.Errorf("commits = %d, want 1", commits)
	}
}

func TestTryTransition_CompleteMovesToHistory(t *testing.T) {
	t.Parallel()

	f, db := newFakeDB(t,
		on(stmtHistory, reply{affected: 1}),
		on(stmtDelete, reply{affected: 1}),
		on(stmtAudit, reply{affected: 1}),
		on(stmtUpdate, rideRow(domain.RideStatusCompleted, "d1")),
	)
	ride, err := NewRideRepository(db).TryTransition(context.Background(), "r1", complete("d1"))
	if err != nil {
		t.Fatalf("TryTransition: %v", err)
	}
	if ride.Status != domain.RideStatusCompleted || ride.CompletedAt.IsZero() {
		t.Errorf("ride = %+v", ride)
	}

	want := []string{stmtUpdate, stmtHistory, stmtDelete, stmtAudit}
	if got := f.ran(statements...); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("statements = %v, want %v", got, want)
	}
	if commits, _ := f.txCounts(); commits != 1 {
		t.Errorf("commits = %d, want 1", commits)
	}
}

func TestTryTransition_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rules   []rule
		tr      domain.Transition
		want    error
		current domain.RideStatus
	}{
		{
			name: "already taken",
			rules: []rule{
				on(stmtUpdate, noRows()),
				on(stmtLookup, rideRow(domain.RideStatusAccepted, "d2")),
			},
			tr:      accept("d1"),
			want:    repository.ErrStale,
			current: domain.RideStatusAccepted,
		},
		{
			name: "unknown ride",
			rules: []rule{
				on(stmtUpdate, noRows()),
				on(stmtLookup, noRows()),
			},
			tr:   accept("d1"),
			want: repository.ErrNotFound,
		},
		{
			name: "unknown driver",
			rules: []rule{
				on(stmtUpdate, reply{err: &pq.Error{Code: codeForeignKeyViolation, Message: "rides_driver_id_fkey"}}),
			},
			tr:   accept("ghost"),
			want: repository.ErrNotFound,
		},
		{
			name: "row vanished before move",
			rules: []rule{
				on(stmtHistory, reply{affected: 0}),
				on(stmtDelete, reply{affected: 0}),
				on(stmtUpdate, rideRow(domain.RideStatusCompleted, "d1")),
			},
			tr:   complete("d1"),
			want: repository.ErrNotFound,
		},
		{
			name: "connection lost",
			rules: []rule{
				on(stmtUpdate, reply{err: driver.ErrBadConn}),
			},
			tr:   accept("d1"),
			want: repository.ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, db := newFakeDB(t, tt.rules...)
			_, err := NewRideRepository(db).TryTransition(context.Background(), "r1", tt.tr)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if tt.current != "" {
				var stale *repository.StaleError
				if !errors.As(err, &stale) || stale.Current == nil || stale.Current.Status != tt.current {
					t.Errorf("stale current = %+v", stale)
				}
			}
			if commits, _ := f.txCounts(); commits != 0 {
				t.Errorf("failed transition committed")
			}
			for _, stmt := range f.ran(statements...) {
				if stmt == stmtAudit {
					t.Errorf("failed transition wrote an audit row")
				}
			}
		})
	}
}

func TestTryTransition_DisallowedSkipsUpdate(t *testing.T) {
	t.Parallel()

	f, db := newFakeDB(t, on(stmtLookup, rideRow(domain.RideStatusCompleted, "d1")))
	_, err := NewRideRepository(db).TryTransition(context.Background(), "r1", domain.Transition{
		From: domain.RideStatusCompleted,
		To:   domain.RideStatusAccepted,
		At:   requestedAt,
	})
	if !errors.Is(err, repository.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if got := f.ran(statements...); len(got) != 1 || got[0] != stmtLookup {
		t.Errorf("statements = %v", got)
	}
}
