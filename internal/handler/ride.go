package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/middleware"
	"dispatch/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rideService *service.RideService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService) *RideHandler {
	return &RideHandler{rideService: rideService}
}

// RequestRideRequest is the HTTP request body for requesting a ride.
type RequestRideRequest struct {
	Pickup  *domain.Location `json:"pickup"`
	Dropoff *domain.Location `json:"dropoff"`
	Fare    float64          `json:"fare"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	Reason string `json:"reason,omitempty"`
}

// PendingRideResponse is a ride offered to a driver.
type PendingRideResponse struct {
	RideResponse
	DistanceKm float64 `json:"distance_km"`
}

// RequestRide handles POST /v1/rides
func (h *RideHandler) RequestRide(c *gin.Context) {
	var req RequestRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	if req.Pickup == nil || req.Dropoff == nil {
		respondBadRequest(c, "pickup and dropoff are required")
		return
	}

	ride, err := h.rideService.RequestRide(c.Request.Context(), service.RequestRideInput{
		RiderID: middleware.UserID(c),
		Pickup:  *req.Pickup,
		Dropoff: *req.Dropoff,
		Fare:    req.Fare,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, "ride requested", toRideResponse(ride))
}

// ListPending handles GET /v1/rides/pending
func (h *RideHandler) ListPending(c *gin.Context) {
	candidates, err := h.rideService.ListPendingRides(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]PendingRideResponse, len(candidates))
	for i, cand := range candidates {
		out[i] = PendingRideResponse{RideResponse: toRideResponse(cand.Ride), DistanceKm: cand.DistanceKm}
	}
	respondJSON(c, http.StatusOK, "", out)
}

// AcceptRide handles POST /v1/rides/:id/accept
func (h *RideHandler) AcceptRide(c *gin.Context) {
	ride, err := h.rideService.AcceptRide(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "ride accepted", toRideResponse(ride))
}

// CompleteRide handles POST /v1/rides/:id/complete
func (h *RideHandler) CompleteRide(c *gin.Context) {
	ride, err := h.rideService.CompleteRide(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "ride completed", toRideResponse(ride))
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	var req CancelRideRequest
	// Body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}
	}

	ride, err := h.rideService.CancelRide(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "ride cancelled", toRideResponse(ride))
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	actor := service.Actor{ID: middleware.UserID(c), Role: middleware.Role(c)}
	ride, err := h.rideService.GetRide(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "", toRideResponse(ride))
}

// ListAccepted handles GET /v1/rides/accepted
func (h *RideHandler) ListAccepted(c *gin.Context) {
	rides, err := h.rideService.ListAcceptedRides(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "", toRideResponses(rides))
}

// ListActive handles GET /v1/rides/active
func (h *RideHandler) ListActive(c *gin.Context) {
	rides, err := h.rideService.ListActiveRides(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "", toRideResponses(rides))
}

// ListHistory handles GET /v1/rides/history
func (h *RideHandler) ListHistory(c *gin.Context) {
	rides, err := h.rideService.ListRideHistory(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "", toRideResponses(rides))
}
