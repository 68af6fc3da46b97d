// Package room manages websocket connections and room-scoped fan-out. A Hub
// tracks which connections are in which room; Clients pump messages between
// the socket and the hub.
package room

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Sender is the outbound surface the engines use. Broadcasts are
// fire-and-forget: a lost delivery is superseded by the next state change.
type Sender interface {
	Broadcast(roomKey string, payload any)
	BroadcastExcept(roomKey string, exceptConnID string, payload any)
	SendToUser(roomKey string, userID int64, payload any)
	SendToConn(connID string, payload any)
}

// Hub tracks active clients and their room memberships.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	byID  map[string]*Client
	log   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		byID:  make(map[string]*Client),
		log:   log,
	}
}

// Register adds a connected client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID[c.ID] = c
	h.log.Debug().Str("conn_id", c.ID).Int64("user_id", c.UserID).Msg("client registered")
}

// Unregister removes a client from every room and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.byID[c.ID]; !ok {
		return
	}
	delete(h.byID, c.ID)
	for key, members := range h.rooms {
		if _, ok := members[c]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, key)
			}
		}
	}
	c.closeSend()
	h.log.Debug().Str("conn_id", c.ID).Int64("user_id", c.UserID).Msg("client unregistered")
}

// Join adds the client to a room.
func (h *Hub) Join(roomKey string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomKey]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[roomKey] = members
	}
	members[c] = struct{}{}
}

// Leave removes the client from a room.
func (h *Hub) Leave(roomKey string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomKey]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, roomKey)
	}
}

// InRoom reports whether the client is currently a member of the room.
func (h *Hub) InRoom(roomKey string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomKey][c]
	return ok
}

// Broadcast sends a payload to every member of a room.
func (h *Hub) Broadcast(roomKey string, payload any) {
	h.BroadcastExcept(roomKey, "", payload)
}

// BroadcastExcept sends a payload to every room member except the named
// connection.
func (h *Hub) BroadcastExcept(roomKey string, exceptConnID string, payload any) {
	data, ok := h.marshal(payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomKey] {
		if c.ID == exceptConnID {
			continue
		}
		c.enqueue(data)
	}
}

// SendToUser delivers a payload to every connection of one user inside a
// room. Used for owner-only and challenged-user-only notifications.
func (h *Hub) SendToUser(roomKey string, userID int64, payload any) {
	data, ok := h.marshal(payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomKey] {
		if c.UserID == userID {
			c.enqueue(data)
		}
	}
}

// SendToConn delivers a payload to a single connection.
func (h *Hub) SendToConn(connID string, payload any) {
	data, ok := h.marshal(payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.byID[connID]; ok {
		c.enqueue(data)
	}
}

func (h *Hub) marshal(payload any) ([]byte, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal outbound payload")
		return nil, false
	}
	return data, true
}
