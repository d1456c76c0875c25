// Package realtime is the websocket transport: it keeps one session per
// connected socket, groups sessions into named rooms and fans events out to
// them. Hub implements services.Broadcaster.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"chatbridge/internal/services"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func encode(event string, payload any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: payload})
}

// Hub tracks connected clients and their room memberships. It is safe for
// concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
}

var _ services.Broadcaster = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
}

// unregister forgets c and returns the rooms it was joined to.
func (h *Hub) unregister(c *Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.ID] == c {
		delete(h.clients, c.ID)
	}
	joined := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		joined = append(joined, roomID)
		h.dropMember(roomID, c.ID)
	}
	c.rooms = map[string]struct{}{}
	return joined
}

// dropMember must be called with h.mu held.
func (h *Hub) dropMember(roomID, socketID string) {
	members := h.rooms[roomID]
	if members == nil {
		return
	}
	delete(members, socketID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// Join adds socketID to roomID's fan-out group.
func (h *Hub) Join(socketID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[socketID]
	if !ok {
		return false
	}
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[socketID] = c
	c.rooms[roomID] = struct{}{}
	return true
}

func (h *Hub) LeaveTransportRoom(socketID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[socketID]; ok {
		delete(c.rooms, roomID)
	}
	h.dropMember(roomID, socketID)
}

// RoomsOf lists the rooms socketID is joined to.
func (h *Hub) RoomsOf(socketID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[socketID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		out = append(out, roomID)
	}
	return out
}

// Members returns the ids of the sockets joined to roomID.
func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		out = append(out, id)
	}
	return out
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) EmitToRoom(roomID, event string, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Str("roomId", roomID).Msg("Failed to encode event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[roomID] {
		c.enqueue(data)
	}
}

func (h *Hub) EmitToSocket(socketID, event string, payload any) bool {
	data, err := encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Str("socketId", socketID).Msg("Failed to encode event")
		return false
	}
	h.mu.RLock()
	c, ok := h.clients[socketID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.enqueue(data)
}

func (h *Hub) CloseSocket(socketID string) bool {
	h.mu.RLock()
	c, ok := h.clients[socketID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	c.close()
	return true
}

// Shutdown closes every session.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
	log.Info().Int("sockets", len(clients)).Msg("Realtime hub shut down")
}
