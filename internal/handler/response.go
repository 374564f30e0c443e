package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := service.ErrorCode(err)
	status := mapErrorToHTTPStatus(code)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(status, Response{
		Success: false,
		Message: http.StatusText(status),
		Error:   msg,
		Code:    code,
	})
}

// respondBadRequest rejects a malformed body.
func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Message: http.StatusText(http.StatusBadRequest),
		Error:   msg,
		Code:    service.CodeInvalidRequest,
	})
}

// respondJSON sends a successful response with the given status code.
func respondJSON(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Response{Success: true, Message: message, Data: data})
}

// mapErrorToHTTPStatus maps an error code to its HTTP status.
func mapErrorToHTTPStatus(code string) int {
	switch code {
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeNotOnline, service.CodeNoLocation, service.CodeInvalidRequest:
		return http.StatusBadRequest
	case service.CodeAlreadyTaken, service.CodeStale, service.CodeInvalidState, service.CodeConflict:
		return http.StatusConflict
	case service.CodeUnauthorized, service.CodeForbiddenRole:
		return http.StatusForbidden
	case service.CodeUnauthenticated:
		return http.StatusUnauthorized
	case service.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RideResponse is the HTTP representation of a ride.
type RideResponse struct {
	ID           string          `json:"id"`
	RiderID      string          `json:"rider_id"`
	DriverID     string          `json:"driver_id,omitempty"`
	Pickup       domain.Location `json:"pickup"`
	Dropoff      domain.Location `json:"dropoff"`
	Status       string          `json:"status"`
	Fare         float64         `json:"fare"`
	RequestedAt  time.Time       `json:"requested_at"`
	AcceptedAt   *time.Time      `json:"accepted_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
}

func toRideResponse(r *domain.Ride) RideResponse {
	return RideResponse{
		ID:           r.ID,
		RiderID:      r.RiderID,
		DriverID:     r.DriverID,
		Pickup:       r.Pickup,
		Dropoff:      r.Dropoff,
		Status:       string(r.Status),
		Fare:         r.Fare,
		RequestedAt:  r.RequestedAt,
		AcceptedAt:   optionalTime(r.AcceptedAt),
		CompletedAt:  optionalTime(r.CompletedAt),
		CancelledAt:  optionalTime(r.CancelledAt),
		CancelReason: r.CancelReason,
	}
}

func toRideResponses(rides []*domain.Ride) []RideResponse {
	out := make([]RideResponse, len(rides))
	for i, r := range rides {
		out[i] = toRideResponse(r)
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
