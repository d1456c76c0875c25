package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chatbridge/internal/apperr"
	"chatbridge/internal/services"
)

// Inbound events.
const (
	EventJoinRoom   = "join-room"
	EventLeaveRoom  = "leave-room"
	EventDisconnect = "disconnect"
)

const eventTimeout = 15 * time.Second

// Options configures the websocket endpoint.
type Options struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	// CheckOrigin decides whether an upgrade request's Origin is allowed.
	// Nil allows every origin.
	CheckOrigin func(r *http.Request) bool
}

// Server upgrades HTTP requests to websocket sessions and routes their events
// into the room engine and the message pipeline.
type Server struct {
	hub      *Hub
	rooms    *services.RoomService
	messages *services.MessageService
	upgrader websocket.Upgrader
	opts     Options
	sessions sync.WaitGroup
}

// NewServer creates a new Server.
func NewServer(hub *Hub, rooms *services.RoomService, messages *services.MessageService, opts Options) (*Server, error) {
	if hub == nil {
		return nil, fmt.Errorf("hub cannot be nil")
	}
	if rooms == nil || messages == nil {
		return nil, fmt.Errorf("room and message services are required")
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 20 * time.Second
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		hub:      hub,
		rooms:    rooms,
		messages: messages,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	c := newClient(id, conn, log.With().Str("socketId", id).Logger())
	s.hub.register(c)
	c.log.Info().Str("remoteAddr", r.RemoteAddr).Msg("User connected")

	s.sessions.Add(1)
	go c.writePump(s.opts.PingInterval)
	go func() {
		defer s.sessions.Done()
		c.readPump(s.opts.PingInterval, s.opts.PingTimeout, s.dispatch)
		s.cleanup(c)
	}()
}

// Wait blocks until every session finished its disconnect cleanup or ctx ends.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) cleanup(c *Client) {
	c.close()
	joined := s.hub.unregister(c)
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	s.rooms.Disconnect(ctx, c.ID, joined)
	c.log.Info().Strs("rooms", joined).Msg("User disconnected")
}

func (s *Server) dispatch(c *Client, env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch env.Event {
	case EventJoinRoom:
		roomID, ok := roomIDOf(env.Data)
		if !ok {
			s.hub.EmitToSocket(c.ID, services.EventError, "Room not found")
			return
		}
		s.joinRoom(ctx, c, roomID)
	case EventLeaveRoom:
		roomID, ok := roomIDOf(env.Data)
		if !ok {
			return
		}
		s.hub.LeaveTransportRoom(c.ID, roomID)
		if _, err := s.rooms.LeaveRoom(ctx, c.ID, roomID); err != nil {
			c.log.Warn().Err(err).Str("roomId", roomID).Msg("Leave failed")
		}
	case services.EventChatMessage:
		var in services.ChatInput
		if err := json.Unmarshal(env.Data, &in); err != nil || in.RoomID == "" {
			s.hub.EmitToSocket(c.ID, services.EventError, "Invalid message payload")
			return
		}
		if _, err := s.messages.HandleChatMessage(ctx, c.ID, in); err != nil {
			c.log.Debug().Err(err).Str("roomId", in.RoomID).Msg("Chat message rejected")
		}
	case EventDisconnect:
		c.close()
	default:
		c.log.Debug().Str("event", env.Event).Msg("Ignoring unknown event")
	}
}

// joinRoom puts the socket in the room's fan-out group before the engine
// emits room-users, then replays the timeline to the socket. When storage is
// down the socket stays in the group so local broadcasts still reach it.
func (s *Server) joinRoom(ctx context.Context, c *Client, roomID string) {
	s.hub.Join(c.ID, roomID)

	if _, err := s.rooms.JoinRoom(ctx, c.ID, roomID); err != nil {
		switch apperr.KindOf(err) {
		case apperr.RoomNotFound, apperr.InvalidID:
			s.hub.LeaveTransportRoom(c.ID, roomID)
			s.hub.EmitToSocket(c.ID, services.EventError, "Room not found")
		case apperr.PersistenceUnavailable:
			s.hub.EmitToSocket(c.ID, services.EventWarning, "Database not available - messages won't be saved")
		default:
			s.hub.EmitToSocket(c.ID, services.EventError, apperr.Message(err))
		}
		c.log.Warn().Err(err).Str("roomId", roomID).Msg("Join failed")
		return
	}

	history, err := s.messages.History(ctx, roomID)
	if err != nil {
		c.log.Warn().Err(err).Str("roomId", roomID).Msg("Failed to load history")
		return
	}
	// Replay blocks on a full buffer; room fan-out drops instead.
	for i, p := range history {
		data, err := encode(services.EventChatMessage, p)
		if err != nil {
			c.log.Error().Err(err).Str("roomId", roomID).Msg("Failed to encode history entry")
			continue
		}
		if !c.deliver(ctx, data) {
			c.log.Warn().Err(ctx.Err()).Str("roomId", roomID).Int("sent", i).Int("history", len(history)).Msg("History replay interrupted")
			return
		}
	}
	c.log.Debug().Str("roomId", roomID).Int("history", len(history)).Msg("History sent")
}

// roomIDOf accepts either a bare string or an object with a roomId field.
func roomIDOf(data json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		id = strings.TrimSpace(id)
		return id, id != ""
	}
	var obj struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		id = strings.TrimSpace(obj.RoomID)
		return id, id != ""
	}
	return "", false
}
