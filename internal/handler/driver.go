package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/middleware"
	"dispatch/internal/service"
)

// DriverHandler handles HTTP requests for driver presence.
type DriverHandler struct {
	driverService *service.DriverService
	pushInterval  time.Duration
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(driverService *service.DriverService, pushInterval time.Duration) *DriverHandler {
	return &DriverHandler{driverService: driverService, pushInterval: pushInterval}
}

// SetPresenceRequest is the HTTP request body for going online or offline.
type SetPresenceRequest struct {
	Online *bool `json:"online"`
}

// UpdateLocationRequest is the HTTP request body for updating driver location.
type UpdateLocationRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// PresenceResponse is the HTTP representation of driver presence.
type PresenceResponse struct {
	DriverID                    string             `json:"driver_id"`
	IsOnline                    bool               `json:"is_online"`
	Location                    *domain.Coordinate `json:"location"`
	LocationUpdatedAt           *time.Time         `json:"location_updated_at,omitempty"`
	LocationPushIntervalSeconds int                `json:"location_push_interval_seconds"`
}

func (h *DriverHandler) toPresenceResponse(p *domain.DriverPresence) PresenceResponse {
	return PresenceResponse{
		DriverID:                    p.DriverID,
		IsOnline:                    p.IsOnline,
		Location:                    p.Location,
		LocationUpdatedAt:           optionalTime(p.LocationUpdatedAt),
		LocationPushIntervalSeconds: int(h.pushInterval / time.Second),
	}
}

// GetPresence handles GET /v1/drivers/me/presence
func (h *DriverHandler) GetPresence(c *gin.Context) {
	p, err := h.driverService.GetPresence(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "", h.toPresenceResponse(p))
}

// SetPresence handles PUT /v1/drivers/me/presence
func (h *DriverHandler) SetPresence(c *gin.Context) {
	var req SetPresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		respondBadRequest(c, "online is required")
		return
	}

	p, err := h.driverService.SetOnline(c.Request.Context(), middleware.UserID(c), *req.Online)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "presence updated", h.toPresenceResponse(p))
}

// UpdateLocation handles PUT /v1/drivers/me/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		respondBadRequest(c, "lat and lng are required")
		return
	}

	p, err := h.driverService.UpdateLocation(c.Request.Context(), middleware.UserID(c), domain.Coordinate{Lat: *req.Lat, Lng: *req.Lng})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "location updated", h.toPresenceResponse(p))
}
