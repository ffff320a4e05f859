// Package server manages individual WebSocket sessions, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/friendchat/internal/chat"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

// FrameHandler executes one inbound frame on behalf of an authenticated
// caller. Errors mean the frame was dropped; they never reach the peer.
type FrameHandler interface {
	Handle(ctx context.Context, caller chat.User, raw []byte) error
}

// Client is one open WebSocket session. It is created only for an
// authenticated identity, which it keeps for its whole lifetime.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	handler        FrameHandler
	identity       chat.User
	addr           string
	mu             sync.Mutex
	closed         bool
	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig
	log            *zap.Logger
}

var _ Subscriber = (*Client)(nil)

// NewClient creates a session for identity on conn. The client's send
// channel is buffered to absorb bursts of fan-out.
func NewClient(conn *websocket.Conn, hub *Hub, handler FrameHandler, identity chat.User, addr string, log *zap.Logger) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		handler:        handler,
		identity:       identity,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		log: log.With(
			zap.String("session_id", id),
			zap.String("handle", identity.Username),
			zap.String("remote_addr", addr),
		),
	}
}

// ID returns the session id used in logs.
func (c *Client) ID() string {
	return c.id
}

// Identity returns the authenticated user of the session.
func (c *Client) Identity() chat.User {
	return c.identity
}

// GetSendChan returns the client's send channel for reading outgoing frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) handle() string {
	return c.identity.Username
}

// Deliver queues a frame without blocking. It fails when the session is
// closed or its buffer is full.
func (c *Client) Deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops accepting frames. The write pump drains what is queued, sends
// a close frame and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("Error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs the read error according to its kind. Every read
// error ends the session.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Frame exceeded maximum size", zap.Int64("max_bytes", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("Client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("Client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("Unexpected WebSocket close", zap.Error(err))
	default:
		c.log.Warn("WebSocket read error", zap.Error(err))
	}
}

// allowFrame reports whether the session is within its rate limit.
func (c *Client) allowFrame() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.log.Warn("Rate limit exceeded; discarding frame",
			zap.Int("burst", c.rateLimit.Burst),
			zap.Duration("interval", c.rateLimit.RefillInterval))
		return false
	}
	return true
}

// readPump processes inbound frames one at a time, in arrival order, until
// the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("Error closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if messageType != websocket.TextMessage {
			c.log.Debug("Ignoring non-text frame", zap.Int("type", messageType))
			continue
		}
		if !c.allowFrame() {
			continue
		}

		// Errors are logged and counted by the handler.
		_ = c.handler.Handle(context.Background(), c.identity, raw)
	}
}

// writePump writes queued frames, one envelope per WebSocket message, and
// keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("Error closing connection in writePump", zap.Error(err))
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		c.writeCloseMessage()
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error writing frame", zap.Error(err))
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() {
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.log.Warn("Error writing close message", zap.Error(err))
	}
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("Error writing ping message", zap.Error(err))
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
