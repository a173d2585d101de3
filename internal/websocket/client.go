package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"telecare/internal/models"
	"telecare/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 * 1024
	defaultSendBufferSize = 256
)

// Dispatcher handles decoded commands for a connection and cleans up after
// it disconnects
type Dispatcher interface {
	Dispatch(ctx context.Context, c *Client, cmd *Command)
	Disconnected(c *Client, departures []Departure)
}

// ClientOptions tunes one connection
type ClientOptions struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBufferSize int
	MessagesPerMin int // 0 disables
	IP             string
	UserAgent      string
}

func (o *ClientOptions) withDefaults() {
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = defaultSendBufferSize
	}
}

// Client represents a WebSocket connection of an authenticated user
type Client struct {
	ID          string
	UserID      string
	Kind        models.ParticipantKind
	Conn        *websocket.Conn
	IP          string
	UserAgent   string
	ConnectedAt time.Time

	hub        *Hub
	dispatcher Dispatcher
	opts       ClientOptions

	// Outbound queue. sendMu guards closing it against concurrent sends.
	send       chan *WSMessage
	sendMu     sync.Mutex
	sendClosed bool
	dropOnce   sync.Once
	closeOnce  sync.Once

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool

	// Rate limiting
	messageCount int
	windowStart  time.Time
}

// NewClient creates a new WebSocket client. conn may be nil in tests; the
// outbound queue is then read through Outbound.
func NewClient(conn *websocket.Conn, userID string, kind models.ParticipantKind, opts ClientOptions) *Client {
	opts.withDefaults()
	return &Client{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		Conn:        conn,
		IP:          opts.IP,
		UserAgent:   opts.UserAgent,
		ConnectedAt: time.Now(),
		opts:        opts,
		send:        make(chan *WSMessage, opts.SendBufferSize),
		rooms:       make(map[string]struct{}),
	}
}

// Outbound exposes the queue the write pump drains
func (c *Client) Outbound() <-chan *WSMessage {
	return c.send
}

// Rooms returns the rooms the client is in
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReadPump decodes inbound frames and hands them to the dispatcher until the
// connection fails. It unregisters the client on exit.
func (c *Client) ReadPump(ctx context.Context, d Dispatcher) {
	c.mu.Lock()
	c.dispatcher = d
	c.mu.Unlock()

	defer func() {
		if c.hub != nil {
			c.hub.disconnect(c)
		}
		c.Close()
		c.logDisconnection()
	}()

	c.Conn.SetReadLimit(c.opts.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	c.logConnection()

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithFields(map[string]interface{}{
					"connection_id": c.ID,
					"user_id":       c.UserID,
					"error":         err.Error(),
				}).Warn("WebSocket read error")
			}
			return
		}

		if !c.checkRateLimit() {
			c.SendError("", "", "rate_limited", "Rate limit exceeded", true)
			continue
		}

		cmd, err := DecodeCommand(data)
		if err != nil {
			c.SendError("", "", "bad_request", err.Error(), false)
			continue
		}

		d.Dispatch(ctx, c, cmd)
	}
}

// WritePump writes queued messages to the connection, one frame each, and
// keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if err := json.NewEncoder(w).Encode(msg); err != nil {
				logger.WithError(err).Error("Failed to encode outbound message")
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ErrSendBufferFull is returned when a message cannot be queued
var ErrSendBufferFull = errors.New("client send buffer full")

// SendMessage queues a message for this client
func (c *Client) SendMessage(msg *WSMessage) error {
	if !c.enqueue(msg) {
		return ErrSendBufferFull
	}
	return nil
}

// SendError queues an error frame for this client only
func (c *Client) SendError(forType MessageType, requestID, code, message string, retryable bool) {
	msg := NewWSMessage(MessageTypeError, &ErrorPayload{
		For:       forType,
		Code:      code,
		Message:   message,
		Retryable: retryable,
	}).Reply(requestID)
	c.SendMessage(msg)
}

// enqueue never blocks. A full queue marks the client as too slow and it is
// dropped in the background.
func (c *Client) enqueue(msg *WSMessage) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		if c.hub != nil {
			c.dropOnce.Do(func() { go c.hub.drop(c) })
		}
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// Close closes the underlying connection once
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// markClosed stops further joins and returns the rooms held at that moment
func (c *Client) markClosed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Client) addRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.rooms[roomID] = struct{}{}
	return true
}

func (c *Client) removeRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

// Member describes the connection as a room member
func (c *Client) Member() Member {
	return Member{ConnectionID: c.ID, UserID: c.UserID, Kind: c.Kind}
}

func (c *Client) notifyDisconnected(departures []Departure) {
	c.mu.Lock()
	d := c.dispatcher
	c.mu.Unlock()

	if d != nil {
		d.Disconnected(c, departures)
	}
}

// checkRateLimit counts inbound frames in fixed one-minute windows
func (c *Client) checkRateLimit() bool {
	if c.opts.MessagesPerMin <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.windowStart) > time.Minute {
		c.windowStart = now
		c.messageCount = 0
	}

	c.messageCount++
	return c.messageCount <= c.opts.MessagesPerMin
}

func (c *Client) logConnection() {
	logger.LogUserAction(c.UserID, "websocket_connected", map[string]interface{}{
		"connection_id": c.ID,
		"kind":          c.Kind,
		"ip":            c.IP,
		"user_agent":    c.UserAgent,
	})
}

func (c *Client) logDisconnection() {
	logger.LogUserAction(c.UserID, "websocket_disconnected", map[string]interface{}{
		"connection_id":    c.ID,
		"duration_seconds": time.Since(c.ConnectedAt).Seconds(),
	})
}
