package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"dispatch/internal/middleware"
	"dispatch/internal/realtime"
)

// WSHandler upgrades authenticated requests to the realtime gateway.
type WSHandler struct {
	gateway *realtime.Gateway
	logger  *slog.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(gateway *realtime.Gateway, logger *slog.Logger) *WSHandler {
	return &WSHandler{gateway: gateway, logger: logger}
}

// Connect handles GET /v1/ws
func (h *WSHandler) Connect(c *gin.Context) {
	if err := h.gateway.Serve(c.Writer, c.Request, middleware.UserID(c), middleware.Role(c)); err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
	}
}
