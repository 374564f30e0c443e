package repository

import (
	"errors"
	"fmt"

	"dispatch/internal/domain"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrStale is returned when a conditional transition's precondition no
	// longer holds.
	ErrStale = errors.New("stale ride state")

	// ErrUnavailable wraps transient storage failures. The operation may be
	// retried as a whole.
	ErrUnavailable = errors.New("store unavailable")

	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("entity already exists")
)

// StaleError carries the ride as it was found when a transition lost.
type StaleError struct {
	Current *domain.Ride
}

func (e *StaleError) Error() string {
	if e.Current == nil {
		return ErrStale.Error()
	}
	return fmt.Sprintf("%s: ride %s is %s", ErrStale, e.Current.ID, e.Current.Status)
}

// Is makes errors.Is(err, ErrStale) hold.
func (e *StaleError) Is(target error) bool {
	return target == ErrStale
}
