package service

import (
	"errors"

	"dispatch/internal/repository"
)

var (
	// ErrNotOnline is returned when an offline driver asks for pending rides.
	ErrNotOnline = errors.New("driver is not online")

	// ErrNoLocation is returned when an online driver has not reported a location.
	ErrNoLocation = errors.New("driver has no location")

	// ErrAlreadyTaken is returned when another driver accepted the ride first,
	// or the ride is no longer requested.
	ErrAlreadyTaken = errors.New("ride already taken")

	// ErrStaleRide is returned when the ride changed between read and write.
	ErrStaleRide = errors.New("ride changed concurrently")

	// ErrUnauthorized is returned when the caller does not own the ride.
	ErrUnauthorized = errors.New("not allowed to act on this ride")

	// ErrInvalidState is returned when the ride's status forbids the operation.
	ErrInvalidState = errors.New("ride is not in a valid state for this operation")

	// ErrStoreUnavailable is returned when storage failed transiently.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrForbiddenRole is returned when the caller's role may not use the operation.
	ErrForbiddenRole = errors.New("role not permitted")

	// ErrInvalidRiderID is returned when rider ID is empty.
	ErrInvalidRiderID = errors.New("invalid rider id")

	// ErrInvalidRideID is returned when ride ID is empty.
	ErrInvalidRideID = errors.New("invalid ride id")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidPickupLocation is returned when pickup coordinates are invalid.
	ErrInvalidPickupLocation = errors.New("invalid pickup location")

	// ErrInvalidDropoffLocation is returned when dropoff coordinates are invalid.
	ErrInvalidDropoffLocation = errors.New("invalid dropoff location")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidFare is returned when the fare is negative or not finite.
	ErrInvalidFare = errors.New("invalid fare")

	// ErrInvalidUser is returned when registration data is incomplete.
	ErrInvalidUser = errors.New("invalid user")
)

// Error codes carried in API responses and gateway error frames.
const (
	CodeNotFound         = "not_found"
	CodeNotOnline        = "not_online"
	CodeNoLocation       = "no_location"
	CodeAlreadyTaken     = "already_taken"
	CodeStale            = "stale"
	CodeUnauthorized     = "unauthorized"
	CodeInvalidState     = "invalid_state"
	CodeStoreUnavailable = "store_unavailable"
	CodeForbiddenRole    = "forbidden_role"
	CodeInvalidRequest   = "invalid_request"
	CodeConflict         = "conflict"
	CodeUnauthenticated  = "unauthenticated"
	CodeInternal         = "internal"
)

// ErrorCode classifies err for clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNotOnline):
		return CodeNotOnline
	case errors.Is(err, ErrNoLocation):
		return CodeNoLocation
	case errors.Is(err, ErrAlreadyTaken):
		return CodeAlreadyTaken
	case errors.Is(err, ErrStaleRide):
		return CodeStale
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, repository.ErrUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, ErrForbiddenRole):
		return CodeForbiddenRole
	case errors.Is(err, repository.ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrInvalidRiderID),
		errors.Is(err, ErrInvalidRideID),
		errors.Is(err, ErrInvalidDriverID),
		errors.Is(err, ErrInvalidPickupLocation),
		errors.Is(err, ErrInvalidDropoffLocation),
		errors.Is(err, ErrInvalidLocation),
		errors.Is(err, ErrInvalidFare),
		errors.Is(err, ErrInvalidUser):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

// storeErr maps transient repository failures to ErrStoreUnavailable and
// passes everything else through.
func storeErr(err error) error {
	if errors.Is(err, repository.ErrUnavailable) {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return err
}
