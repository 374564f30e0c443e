package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dispatch/internal/domain"
	"dispatch/internal/events"
)

const maxMessageSize = 4096

// ClientConfig controls the per-connection pumps.
type ClientConfig struct {
	WriteTimeout time.Duration
	PongWait     time.Duration
	SendBuffer   int
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

// Client is one WebSocket connection. Only writePump writes to conn.
type Client struct {
	userID string
	role   domain.Role
	conn   *websocket.Conn
	cfg    ClientConfig
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(userID string, role domain.Role, conn *websocket.Conn, cfg ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		userID: userID,
		role:   role,
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

// enqueue queues frame without blocking. Returns false if the buffer is
// full or the client is closed.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// sendPayload encodes p and queues it.
func (c *Client) sendPayload(p events.Payload) {
	msg, err := events.Encode(p)
	if err != nil {
		c.logger.Error("encode frame", slog.Any("error", err))
		return
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("marshal frame", slog.Any("error", err))
		return
	}
	if !c.enqueue(frame) {
		c.logger.Warn("dropping direct frame", slog.String("type", string(p.EventType())))
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump decodes inbound frames and hands them to handle until the
// connection fails.
func (c *Client) readPump(handle func(events.Message)) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		var msg events.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", slog.Any("error", err))
			}
			return
		}
		handle(msg)
	}
}

// writePump drains send and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
