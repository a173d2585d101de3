package websocket

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"telecare/internal/models"
	"telecare/pkg/logger"
)

// ErrNotRegistered is returned for operations on an unknown connection id
var ErrNotRegistered = errors.New("connection not registered")

// Member is a snapshot of one connection in a room
type Member struct {
	ConnectionID string                 `json:"connection_id"`
	UserID       string                 `json:"user_id"`
	Kind         models.ParticipantKind `json:"kind"`
}

// Departure reports a room a connection was removed from and who is left
type Departure struct {
	RoomID    string
	Remaining []Member
}

// HubStats contains hub statistics
type HubStats struct {
	TotalClients int       `json:"total_clients"`
	OnlineUsers  int       `json:"online_users"`
	ActiveRooms  int       `json:"active_rooms"`
	LastUpdated  time.Time `json:"last_updated"`
}

const (
	chatRoomPrefix = "chat:"
	callRoomPrefix = "call:"
)

// ChatRoomID names the room of a chat thread
func ChatRoomID(threadID string) string {
	return chatRoomPrefix + threadID
}

// CallRoomID names the room of a call session
func CallRoomID(callID string) string {
	return callRoomPrefix + callID
}

// CallIDFromRoom extracts the call id from a call room id
func CallIDFromRoom(roomID string) (string, bool) {
	if !strings.HasPrefix(roomID, callRoomPrefix) {
		return "", false
	}
	return strings.TrimPrefix(roomID, callRoomPrefix), true
}

// room is one named group of connections. Membership changes and broadcasts
// for a room run under its own lock, so delivery order within a room matches
// call order.
type room struct {
	mu      sync.Mutex
	members map[string]*Client
	closed  bool
}

// Hub is the connection registry and room coordinator
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	userClients map[string]map[string]*Client
	rooms       map[string]*room
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		userClients: make(map[string]map[string]*Client),
		rooms:       make(map[string]*room),
	}
}

// Register adds a live connection and returns its id
func (h *Hub) Register(client *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.hub = h
	h.clients[client.ID] = client
	if h.userClients[client.UserID] == nil {
		h.userClients[client.UserID] = make(map[string]*Client)
	}
	h.userClients[client.UserID][client.ID] = client

	logger.WithFields(map[string]interface{}{
		"connection_id": client.ID,
		"user_id":       client.UserID,
		"total_clients": len(h.clients),
	}).Info("Client registered")

	return client.ID
}

// Unregister removes the connection from the registry and from every room
// it joined. Unknown ids are a no-op and return nil.
func (h *Hub) Unregister(connectionID string) []Departure {
	h.mu.Lock()
	client, ok := h.clients[connectionID]
	if ok {
		delete(h.clients, connectionID)
		if conns := h.userClients[client.UserID]; conns != nil {
			delete(conns, connectionID)
			if len(conns) == 0 {
				delete(h.userClients, client.UserID)
			}
		}
	}
	h.mu.Unlock()

	if !ok {
		return nil
	}

	roomIDs := client.markClosed()
	departures := make([]Departure, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		remaining, left := h.leave(client, roomID)
		if left {
			departures = append(departures, Departure{RoomID: roomID, Remaining: remaining})
		}
	}

	client.closeSend()

	logger.WithFields(map[string]interface{}{
		"connection_id": connectionID,
		"user_id":       client.UserID,
		"rooms_left":    len(departures),
	}).Info("Client unregistered")

	return departures
}

// Join adds the connection to a room and returns the members that were
// already there. Joining twice is a no-op that still returns the current
// members; joined reports whether membership changed.
func (h *Hub) Join(connectionID, roomID string) (existing []Member, joined bool, err error) {
	client := h.client(connectionID)
	if client == nil {
		return nil, false, ErrNotRegistered
	}

	for {
		r := h.getOrCreateRoom(roomID)

		r.mu.Lock()
		if r.closed {
			// Emptied and removed between lookup and lock
			r.mu.Unlock()
			continue
		}

		if !client.addRoom(roomID) {
			r.mu.Unlock()
			h.dropRoomIfEmpty(roomID, r)
			return nil, false, ErrNotRegistered
		}

		_, already := r.members[connectionID]
		existing = snapshot(r.members, connectionID)
		r.members[connectionID] = client
		r.mu.Unlock()

		return existing, !already, nil
	}
}

// Leave removes the connection from a room and returns who is left
func (h *Hub) Leave(connectionID, roomID string) ([]Member, bool) {
	client := h.client(connectionID)
	if client == nil {
		return nil, false
	}
	return h.leave(client, roomID)
}

func (h *Hub) leave(client *Client, roomID string) ([]Member, bool) {
	client.removeRoom(roomID)

	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()
	if r == nil {
		return nil, false
	}

	r.mu.Lock()
	_, present := r.members[client.ID]
	delete(r.members, client.ID)
	remaining := snapshot(r.members, "")
	empty := len(r.members) == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()

	if empty {
		h.removeRoom(roomID, r)
	}
	return remaining, present
}

// Broadcast delivers msg to every member of the room except exclude and
// returns how many members it was queued for
func (h *Hub) Broadcast(roomID string, msg *WSMessage, exclude string) int {
	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for id, client := range r.members {
		if id == exclude {
			continue
		}
		if client.enqueue(msg) {
			delivered++
		}
	}
	return delivered
}

// SendTo delivers msg to one connection. It returns false when the target is
// not registered or cannot accept the message.
func (h *Hub) SendTo(connectionID string, msg *WSMessage) bool {
	client := h.client(connectionID)
	if client == nil {
		return false
	}
	return client.enqueue(msg)
}

// SendToUser delivers msg to every live connection of a user
func (h *Hub) SendToUser(userID string, msg *WSMessage) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.userClients[userID]))
	for _, c := range h.userClients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(msg) {
			delivered++
		}
	}
	return delivered
}

// Members returns the current members of a room
func (h *Hub) Members(roomID string) []Member {
	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()
	if r == nil {
		return []Member{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.members, "")
}

// IsMember reports whether the connection is currently in the room
func (h *Hub) IsMember(connectionID, roomID string) bool {
	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()
	if r == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[connectionID]
	return ok
}

// IsRegistered reports whether the connection is live
func (h *Hub) IsRegistered(connectionID string) bool {
	return h.client(connectionID) != nil
}

// Connection returns a snapshot of a registered connection
func (h *Hub) Connection(connectionID string) (Member, bool) {
	client := h.client(connectionID)
	if client == nil {
		return Member{}, false
	}
	return client.Member(), true
}

// CloseRoom evicts every member of a room and returns who was evicted
func (h *Hub) CloseRoom(roomID string) []Member {
	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()
	if r == nil {
		return []Member{}
	}

	r.mu.Lock()
	evicted := snapshot(r.members, "")
	for id, client := range r.members {
		client.removeRoom(roomID)
		delete(r.members, id)
	}
	r.closed = true
	r.mu.Unlock()

	h.removeRoom(roomID, r)

	return evicted
}

// UserConnectionCount returns how many live connections a user holds
func (h *Hub) UserConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[userID])
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return HubStats{
		TotalClients: len(h.clients),
		OnlineUsers:  len(h.userClients),
		ActiveRooms:  len(h.rooms),
		LastUpdated:  time.Now(),
	}
}

// Shutdown closes and unregisters every connection
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
		h.disconnect(c)
	}
}

// disconnect unregisters the client and runs the dispatcher cleanup. Only
// the caller that actually removed the client runs the cleanup.
func (h *Hub) disconnect(client *Client) {
	if departures := h.Unregister(client.ID); departures != nil {
		client.notifyDisconnected(departures)
	}
}

// drop is used when a client's outbound queue overflows
func (h *Hub) drop(client *Client) {
	logger.WithFields(map[string]interface{}{
		"connection_id": client.ID,
		"user_id":       client.UserID,
	}).Warn("Client send buffer full, dropping connection")

	client.Close()
	h.disconnect(client)
}

func (h *Hub) client(connectionID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[connectionID]
}

func (h *Hub) getOrCreateRoom(roomID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{members: make(map[string]*Client)}
		h.rooms[roomID] = r
	}
	return r
}

func (h *Hub) dropRoomIfEmpty(roomID string, r *room) {
	r.mu.Lock()
	empty := len(r.members) == 0 && !r.closed
	if empty {
		r.closed = true
	}
	r.mu.Unlock()

	if empty {
		h.removeRoom(roomID, r)
	}
}

func (h *Hub) removeRoom(roomID string, r *room) {
	h.mu.Lock()
	if h.rooms[roomID] == r {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()
}

// snapshot lists members sorted by connection id, skipping exclude
func snapshot(members map[string]*Client, exclude string) []Member {
	out := make([]Member, 0, len(members))
	for id, c := range members {
		if id == exclude {
			continue
		}
		out = append(out, c.Member())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}
