package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"chatbridge/internal/apperr"
	"chatbridge/internal/db"
	"chatbridge/internal/models"
)

// PresenceService is the membership view of rooms. It never reads and rewrites
// the socket set itself; every change goes through the gateway's atomic
// add/pull primitives.
type PresenceService struct {
	rooms db.RoomStore
	users db.UserStore
	now   func() time.Time
}

// NewPresenceService creates a new PresenceService.
func NewPresenceService(rooms db.RoomStore, users db.UserStore) (*PresenceService, error) {
	if rooms == nil {
		return nil, fmt.Errorf("room store cannot be nil")
	}
	if users == nil {
		return nil, fmt.Errorf("user store cannot be nil")
	}
	return &PresenceService{rooms: rooms, users: users, now: time.Now}, nil
}

func roomErr(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return apperr.Wrap(apperr.RoomNotFound, "Room not found", err)
	}
	return storeErr("Failed to update room", err)
}

// AddSocket adds socketID to the room and opens it if it was closed.
func (s *PresenceService) AddSocket(ctx context.Context, roomID, socketID string) (*models.Room, error) {
	room, err := s.rooms.AddRoomSocket(ctx, roomID, socketID, s.now())
	if err != nil {
		return nil, roomErr(err)
	}
	log.Debug().Str("roomId", roomID).Str("socketId", socketID).Int("sockets", len(room.ConnectedSockets)).Msg("Socket added to room")
	return room, nil
}

// RemoveSocket pulls socketID from the room and closes it if no socket remains.
func (s *PresenceService) RemoveSocket(ctx context.Context, roomID, socketID string) (*models.Room, error) {
	room, err := s.rooms.RemoveRoomSocket(ctx, roomID, socketID, s.now())
	if err != nil {
		return nil, roomErr(err)
	}
	if room.Status == models.RoomStatusClosed {
		log.Info().Str("roomId", roomID).Msg("Room closed, last socket left")
	}
	return room, nil
}

// Connections builds the membership view of an already loaded room. The
// status is derived from the socket set.
func Connections(room *models.Room) *models.RoomConnections {
	sockets := room.ConnectedSockets
	if sockets == nil {
		sockets = []string{}
	}
	status := models.RoomStatusClosed
	if len(sockets) > 0 {
		status = models.RoomStatusOpen
	}
	if status != room.Status {
		log.Warn().Str("roomId", string(room.ID)).Str("stored", room.Status).Str("derived", status).Msg("Stale room status")
	}
	return &models.RoomConnections{
		RoomID:           string(room.ID),
		Status:           status,
		ConnectedSockets: sockets,
		ConnectedCount:   len(sockets),
	}
}

// ReadConnections returns the sockets of a room and its effective status.
func (s *PresenceService) ReadConnections(ctx context.Context, roomID string) (*models.RoomConnections, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, roomErr(err)
	}
	return Connections(room), nil
}

// ReadConnectionsWithRoles is ReadConnections with each socket joined to its user.
func (s *PresenceService) ReadConnectionsWithRoles(ctx context.Context, roomID string) (*models.RoomConnections, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, roomErr(err)
	}
	return s.WithRoles(ctx, room), nil
}

// WithRoles is Connections plus a best-effort user lookup per socket. Sockets
// with no resolvable user get role "unknown".
func (s *PresenceService) WithRoles(ctx context.Context, room *models.Room) *models.RoomConnections {
	conns := Connections(room)
	bySocket := map[string]models.User{}
	if len(conns.ConnectedSockets) > 0 {
		users, err := s.users.UsersBySockets(ctx, conns.ConnectedSockets)
		if err != nil {
			log.Warn().Err(err).Str("roomId", conns.RoomID).Msg("Failed to resolve users for room sockets")
		}
		for _, u := range users {
			if u.SocketID != nil {
				bySocket[*u.SocketID] = u
			}
		}
	}

	conns.Users = make([]models.SocketPresence, 0, len(conns.ConnectedSockets))
	for _, socketID := range conns.ConnectedSockets {
		p := models.SocketPresence{SocketID: socketID, Role: "unknown"}
		if u, ok := bySocket[socketID]; ok {
			phone := u.Phone
			p.Phone = &phone
			p.Role = u.Role
		}
		conns.Users = append(conns.Users, p)
	}
	return conns
}
