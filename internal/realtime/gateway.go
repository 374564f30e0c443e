package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/service"
)

const inboundTimeout = 5 * time.Second

// PresenceService is the subset of the presence registry the gateway drives.
type PresenceService interface {
	GetPresence(ctx context.Context, driverID string) (*domain.DriverPresence, error)
	SetOnline(ctx context.Context, driverID string, online bool) (*domain.DriverPresence, error)
	UpdateLocation(ctx context.Context, driverID string, c domain.Coordinate) (*domain.DriverPresence, error)
}

// Gateway upgrades authenticated requests and serves the connection.
type Gateway struct {
	hub          *Hub
	presence     PresenceService
	upgrader     websocket.Upgrader
	cfg          ClientConfig
	pushInterval time.Duration
	logger       *slog.Logger
}

// NewGateway creates a new Gateway. pushInterval is advertised to drivers
// as the expected location update period.
func NewGateway(hub *Hub, presence PresenceService, cfg ClientConfig, pushInterval time.Duration, logger *slog.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		cfg:          cfg.withDefaults(),
		pushInterval: pushInterval,
		logger:       logger.With(slog.String("component", "gateway")),
	}
}

// Serve upgrades the request and blocks until the connection closes.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, userID string, role domain.Role) error {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	logger := g.logger.With(slog.String("user_id", userID), slog.String("role", string(role)))
	c := newClient(userID, role, conn, g.cfg, logger)
	g.hub.Register(c)
	defer g.hub.Unregister(c)

	go c.writePump()

	if role == domain.RoleDriver {
		ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
		g.restorePresence(ctx, c)
		cancel()
	}

	logger.Info("connected")
	c.readPump(func(msg events.Message) { g.handle(c, msg) })
	logger.Info("disconnected")
	return nil
}

// restorePresence rejoins the online group from durable state so a
// reconnecting driver keeps receiving offers without re-announcing.
func (g *Gateway) restorePresence(ctx context.Context, c *Client) {
	p, err := g.presence.GetPresence(ctx, c.userID)
	if err != nil {
		c.logger.Warn("presence lookup failed", slog.Any("error", err))
		g.sendError(c, err)
		return
	}
	if p.IsOnline {
		g.hub.Join(c.userID, events.GroupOnlineDrivers)
	} else {
		g.hub.Leave(c.userID, events.GroupOnlineDrivers)
	}
	g.sendPresence(c, p)
}

func (g *Gateway) handle(c *Client, msg events.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()

	switch msg.Type {
	case events.TypePing:
		c.sendPayload(events.Pong{})
		return
	case events.TypeDriverOnline, events.TypeDriverOffline, events.TypeDriverLocation:
		if c.role != domain.RoleDriver {
			g.sendError(c, service.ErrForbiddenRole)
			return
		}
	default:
		c.sendPayload(events.Error{Code: service.CodeInvalidRequest, Message: "unknown message type " + string(msg.Type)})
		return
	}

	var (
		p   *domain.DriverPresence
		err error
	)
	switch msg.Type {
	case events.TypeDriverOnline:
		p, err = g.presence.SetOnline(ctx, c.userID, true)
	case events.TypeDriverOffline:
		p, err = g.presence.SetOnline(ctx, c.userID, false)
	case events.TypeDriverLocation:
		var loc events.DriverLocation
		if err = events.Decode(msg, &loc); err != nil {
			c.sendPayload(events.Error{Code: service.CodeInvalidRequest, Message: "malformed location"})
			return
		}
		p, err = g.presence.UpdateLocation(ctx, c.userID, domain.Coordinate{Lat: loc.Lat, Lng: loc.Lng})
	}
	if err != nil {
		g.sendError(c, err)
		return
	}
	g.sendPresence(c, p)
}

func (g *Gateway) sendPresence(c *Client, p *domain.DriverPresence) {
	c.sendPayload(events.PresenceState{
		DriverID:                    p.DriverID,
		IsOnline:                    p.IsOnline,
		Location:                    p.Location,
		LocationPushIntervalSeconds: int(g.pushInterval / time.Second),
	})
}

func (g *Gateway) sendError(c *Client, err error) {
	msg := err.Error()
	if code := service.ErrorCode(err); code == service.CodeInternal {
		c.logger.Error("inbound event failed", slog.Any("error", err))
		msg = "internal error"
	}
	c.sendPayload(events.Error{Code: service.ErrorCode(err), Message: msg})
}
