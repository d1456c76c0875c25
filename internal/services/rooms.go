package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"chatbridge/internal/apperr"
	"chatbridge/internal/db"
	"chatbridge/internal/models"
)

// RoomView is a room as returned by the HTTP surface.
type RoomView struct {
	models.Room
	MessageCount   int64  `json:"messageCount"`
	ConnectedCount int    `json:"connectedCount"`
	Link           string `json:"link,omitempty"`
}

// CreateRoomInput describes a room creation request.
type CreateRoomInput struct {
	Name        string
	Phone       string
	Channel     string
	Source      string
	UserAgent   string
	IPAddress   string
	CreatedFrom string
}

// JoinResult is the outcome of a join.
type JoinResult struct {
	Room        *models.Room
	User        *models.User
	Connections *models.RoomConnections
}

// ForceDisconnectResult reports a forced disconnect.
type ForceDisconnectResult struct {
	Success          bool     `json:"success"`
	SocketID         string   `json:"socketId"`
	Reason           string   `json:"reason"`
	RemainingSockets []string `json:"remainingSockets"`
	ConnectedCount   int      `json:"connectedCount"`
	Note             string   `json:"note,omitempty"`
}

// SocketOutcome is one entry of a DisconnectAll run.
type SocketOutcome struct {
	SocketID string `json:"socketId"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// DisconnectAllResult reports a DisconnectAll run. Partial failure is not an error.
type DisconnectAllResult struct {
	TotalSockets      int             `json:"totalSockets"`
	DisconnectedCount int             `json:"disconnectedCount"`
	FailedCount       int             `json:"failedCount"`
	Results           []SocketOutcome `json:"results"`
}

// RoomService coordinates joins, leaves, open/close transitions and forced
// disconnects, and owns room creation and deletion.
type RoomService struct {
	store     db.Gateway
	presence  *PresenceService
	users     *UserDirectory
	bus       Broadcaster
	appDomain string
	qrCache   *cache.Cache
	now       func() time.Time
}

// NewRoomService creates a new RoomService.
func NewRoomService(store db.Gateway, presence *PresenceService, users *UserDirectory, bus Broadcaster, appDomain string) (*RoomService, error) {
	if store == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if presence == nil {
		return nil, fmt.Errorf("PresenceService cannot be nil")
	}
	if users == nil {
		return nil, fmt.Errorf("UserDirectory cannot be nil")
	}
	if bus == nil {
		return nil, fmt.Errorf("broadcaster cannot be nil")
	}
	return &RoomService{
		store:     store,
		presence:  presence,
		users:     users,
		bus:       bus,
		appDomain: strings.TrimRight(appDomain, "/"),
		qrCache:   cache.New(10*time.Minute, 20*time.Minute),
		now:       time.Now,
	}, nil
}

func (s *RoomService) loadRoom(ctx context.Context, roomID string) (*models.Room, error) {
	if !models.DocID(roomID).Valid() {
		return nil, apperr.New(apperr.InvalidID, "Invalid room ID")
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, roomErr(err)
	}
	return room, nil
}

func (s *RoomService) emitRoomUsers(ctx context.Context, room *models.Room) *models.RoomConnections {
	conns := s.presence.WithRoles(ctx, room)
	s.bus.EmitToRoom(string(room.ID), EventRoomUsers, conns)
	return conns
}

// JoinRoom attaches socketID to the room: it adds the socket to the
// membership set (reopening a closed room in the same step), resolves the
// room's user by phone, records socketID as the user's active socket and
// emits room-users. A user directory failure leaves the room open with the
// socket counted; the session's disconnect cleanup pulls it again.
func (s *RoomService) JoinRoom(ctx context.Context, socketID, roomID string) (*JoinResult, error) {
	if _, err := s.loadRoom(ctx, roomID); err != nil {
		return nil, err
	}

	room, err := s.presence.AddSocket(ctx, roomID, socketID)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindOrCreateByPhone(ctx, room.Phone)
	if err == nil {
		err = s.users.OnConnect(ctx, string(user.ID), socketID)
	}
	conns := s.emitRoomUsers(ctx, room)
	if err != nil {
		return nil, err
	}

	log.Info().Str("roomId", roomID).Str("socketId", socketID).Str("userId", string(user.ID)).Int("connected", conns.ConnectedCount).Msg("Socket joined room")
	return &JoinResult{Room: room, User: user, Connections: conns}, nil
}

// unbindSocket clears the active socket of whichever user holds socketID.
func (s *RoomService) unbindSocket(ctx context.Context, socketID string) (bool, error) {
	user, err := s.users.FindBySocket(ctx, socketID)
	if err != nil || user == nil {
		return false, err
	}
	return s.users.OnDisconnect(ctx, string(user.ID), socketID)
}

// LeaveRoom detaches socketID from the room, closing it when the last socket
// leaves, and emits room-users.
func (s *RoomService) LeaveRoom(ctx context.Context, socketID, roomID string) (*models.RoomConnections, error) {
	if _, err := s.unbindSocket(ctx, socketID); err != nil {
		log.Warn().Err(err).Str("socketId", socketID).Msg("Failed to unbind user on leave")
	}
	room, err := s.presence.RemoveSocket(ctx, roomID, socketID)
	if err != nil {
		return nil, err
	}
	return s.emitRoomUsers(ctx, room), nil
}

// Disconnect cleans up after a socket session ended: the user is unbound if it
// still holds socketID and the socket leaves every room it was joined to.
// Rooms still listing the socket in storage are included.
func (s *RoomService) Disconnect(ctx context.Context, socketID string, joined []string) {
	if _, err := s.unbindSocket(ctx, socketID); err != nil {
		log.Error().Err(err).Str("socketId", socketID).Msg("Error handling user disconnection")
	}

	rooms := map[string]struct{}{}
	for _, id := range joined {
		rooms[id] = struct{}{}
	}
	stored, err := s.store.RoomIDsWithSocket(ctx, socketID)
	if err != nil {
		log.Error().Err(err).Str("socketId", socketID).Msg("Failed to look up rooms for socket")
	}
	for _, id := range stored {
		rooms[id] = struct{}{}
	}

	for roomID := range rooms {
		room, err := s.presence.RemoveSocket(ctx, roomID, socketID)
		if err != nil {
			if !apperr.Is(err, apperr.RoomNotFound) {
				log.Error().Err(err).Str("roomId", roomID).Str("socketId", socketID).Msg("Failed to remove socket from room")
			}
			continue
		}
		s.emitRoomUsers(ctx, room)
	}
}

// ForceDisconnect removes socketID from the room, tells the socket why and
// closes its transport session.
func (s *RoomService) ForceDisconnect(ctx context.Context, roomID, socketID, reason string) (*ForceDisconnectResult, error) {
	if !models.DocID(roomID).Valid() {
		return nil, apperr.New(apperr.InvalidID, "Invalid room ID")
	}
	if strings.TrimSpace(socketID) == "" {
		return nil, apperr.New(apperr.MissingRequiredField, "socketId is required")
	}
	if reason == "" {
		reason = "Disconnected by administrator"
	}

	unbound, err := s.unbindSocket(ctx, socketID)
	if err != nil {
		return nil, err
	}

	room, err := s.presence.RemoveSocket(ctx, roomID, socketID)
	if err != nil {
		return nil, err
	}

	s.bus.EmitToSocket(socketID, EventDisconnected, map[string]string{"reason": reason})
	s.bus.LeaveTransportRoom(socketID, roomID)
	s.bus.CloseSocket(socketID)

	conns := s.emitRoomUsers(ctx, room)

	res := &ForceDisconnectResult{
		Success:          true,
		SocketID:         socketID,
		Reason:           reason,
		RemainingSockets: conns.ConnectedSockets,
		ConnectedCount:   conns.ConnectedCount,
	}
	if !unbound {
		res.Note = "No user was bound to this socket"
	}
	log.Info().Str("roomId", roomID).Str("socketId", socketID).Str("reason", reason).Int("remaining", conns.ConnectedCount).Msg("Socket force-disconnected")
	return res, nil
}

// DisconnectAll force-disconnects every socket in the room concurrently.
func (s *RoomService) DisconnectAll(ctx context.Context, roomID, reason string) (*DisconnectAllResult, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	sockets := append([]string(nil), room.ConnectedSockets...)

	var wg sync.WaitGroup
	results := make(chan SocketOutcome, len(sockets))
	for _, socketID := range sockets {
		wg.Add(1)
		go func(socketID string) {
			defer wg.Done()
			out := SocketOutcome{SocketID: socketID, Success: true}
			if _, err := s.ForceDisconnect(ctx, roomID, socketID, reason); err != nil {
				out.Success = false
				out.Error = apperr.Message(err)
				log.Warn().Err(err).Str("roomId", roomID).Str("socketId", socketID).Msg("Failed to disconnect socket")
			}
			results <- out
		}(socketID)
	}
	wg.Wait()
	close(results)

	res := &DisconnectAllResult{TotalSockets: len(sockets), Results: make([]SocketOutcome, 0, len(sockets))}
	for out := range results {
		if out.Success {
			res.DisconnectedCount++
		} else {
			res.FailedCount++
		}
		res.Results = append(res.Results, out)
	}
	log.Info().Str("roomId", roomID).Int("total", res.TotalSockets).Int("disconnected", res.DisconnectedCount).Int("failed", res.FailedCount).Msg("Disconnect-all finished")
	return res, nil
}

func (s *RoomService) view(ctx context.Context, room *models.Room) (*RoomView, error) {
	count, err := countMessages(ctx, s.store, room)
	if err != nil {
		return nil, err
	}
	conns := Connections(room)
	room.Status = conns.Status
	room.ConnectedSockets = conns.ConnectedSockets
	return &RoomView{Room: *room, MessageCount: count, ConnectedCount: conns.ConnectedCount}, nil
}

// InviteLink is the browser URL a contact uses to join roomID.
func (s *RoomService) InviteLink(room *models.Room) string {
	return fmt.Sprintf("%s/chat/%s?phone=%s", s.appDomain, room.ID, url.QueryEscape(room.Phone))
}

func validateCreate(in CreateRoomInput) error {
	if strings.TrimSpace(in.Phone) == "" || strings.TrimSpace(in.Channel) == "" || strings.TrimSpace(in.Source) == "" {
		return apperr.New(apperr.MissingRequiredField, "Missing required fields: phone, channel, source")
	}
	return nil
}

func (s *RoomService) insertRoom(ctx context.Context, in CreateRoomInput) (*models.Room, error) {
	now := s.now()
	stamp := models.ISOTime(now)
	name := in.Name
	if name == "" {
		name = "Chat-" + in.Phone + "-" + in.Channel + "-" + strconv.FormatInt(now.UnixMilli(), 10)
	}
	if in.UserAgent == "" {
		in.UserAgent = "Unknown"
	}
	if in.IPAddress == "" {
		in.IPAddress = "Unknown"
	}
	room := &models.Room{
		ID:               models.NewDocID(),
		Name:             name,
		Phone:            in.Phone,
		Channel:          in.Channel,
		Source:           in.Source,
		Status:           models.RoomStatusOpen,
		ConnectedSockets: []string{},
		OpenedAt:         stamp,
		CreatedAt:        stamp,
		UpdatedAt:        stamp,
		CreatedFrom:      in.CreatedFrom,
		Metadata: models.RoomMetadata{
			UserAgent:  in.UserAgent,
			IPAddress:  in.IPAddress,
			Timestamp:  stamp,
			APIVersion: "v1",
		},
	}

	contact, err := s.store.FindContactByPhone(ctx, in.Phone)
	switch {
	case err == nil:
		room.ContactID = contact.ID.Ptr()
		username := contact.Username
		room.Username = &username
		room.Tags = contact.Tags
	case !errors.Is(err, db.ErrNotFound):
		log.Warn().Err(err).Str("phone", in.Phone).Msg("Failed to look up contact for new room")
	}

	if err := s.store.CreateRoom(ctx, room); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, apperr.Wrap(apperr.Conflict, "A room with this phone already exists", err)
		}
		return nil, storeErr("Failed to create room", err)
	}

	if n, err := s.store.BindOrphanWatiMessages(ctx, in.Phone, string(room.ID)); err != nil {
		log.Warn().Err(err).Str("roomId", string(room.ID)).Msg("Failed to bind orphan WhatsApp messages")
	} else if n > 0 {
		log.Info().Str("roomId", string(room.ID)).Int64("bound", n).Msg("Bound orphan WhatsApp messages to new room")
	}

	log.Info().Str("roomId", string(room.ID)).Str("phone", room.Phone).Str("createdFrom", room.CreatedFrom).Msg("Room created")
	return room, nil
}

// CreateRoom creates an open, empty room. A second room for the same phone is a conflict.
func (s *RoomService) CreateRoom(ctx context.Context, in CreateRoomInput) (*RoomView, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	if in.CreatedFrom == "" {
		in.CreatedFrom = "api"
	}
	switch _, err := s.store.FindRoomByPhone(ctx, in.Phone); {
	case err == nil:
		return nil, apperr.New(apperr.Conflict, "A room with this phone already exists")
	case !errors.Is(err, db.ErrNotFound):
		return nil, storeErr("Failed to find room", err)
	}
	room, err := s.insertRoom(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, room)
}

// RoomFromWebhook returns the room for the phone, creating it if needed, and
// binds it to the phone's user. created reports whether a room was inserted.
func (s *RoomService) RoomFromWebhook(ctx context.Context, in CreateRoomInput) (view *RoomView, created bool, err error) {
	if err := validateCreate(in); err != nil {
		return nil, false, err
	}
	in.CreatedFrom = "webhook"

	room, err := s.store.FindRoomByPhone(ctx, in.Phone)
	switch {
	case errors.Is(err, db.ErrNotFound):
		if room, err = s.insertRoom(ctx, in); err != nil {
			return nil, false, err
		}
		created = true
	case err != nil:
		return nil, false, storeErr("Failed to find room", err)
	}

	user, err := s.users.FindOrCreateByPhone(ctx, in.Phone)
	if err != nil {
		log.Warn().Err(err).Str("phone", in.Phone).Msg("Failed to resolve user for webhook room")
	} else if err := s.users.BindRoom(ctx, string(user.ID), string(room.ID)); err != nil {
		log.Warn().Err(err).Str("userId", string(user.ID)).Msg("Failed to bind room to user")
	}

	view, err = s.view(ctx, room)
	if err != nil {
		return nil, false, err
	}
	view.Link = s.InviteLink(room)
	return view, created, nil
}

// GetRoom returns the room with its message and connection counts.
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*RoomView, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, room)
}

// ListRooms returns one page of rooms, newest first.
func (s *RoomService) ListRooms(ctx context.Context, page, limit int) ([]RoomView, error) {
	rooms, err := s.store.ListRooms(ctx, Page(page, limit), limit)
	if err != nil {
		return nil, storeErr("Failed to list rooms", err)
	}
	out := make([]RoomView, 0, len(rooms))
	for i := range rooms {
		v, err := s.view(ctx, &rooms[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// DeleteRoom removes the room and its chat messages. Its WhatsApp messages
// become orphans again.
func (s *RoomService) DeleteRoom(ctx context.Context, roomID string) error {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRoom(ctx, roomID); err != nil {
		return roomErr(err)
	}
	for _, socketID := range room.ConnectedSockets {
		s.bus.LeaveTransportRoom(socketID, roomID)
	}
	s.qrCache.Delete(roomID)
	log.Info().Str("roomId", roomID).Msg("Room deleted")
	return nil
}

// InviteQR returns a PNG QR code of the room's invite link.
func (s *RoomService) InviteQR(ctx context.Context, roomID string) ([]byte, error) {
	if png, ok := s.qrCache.Get(roomID); ok {
		return png.([]byte), nil
	}
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(s.InviteLink(room), qrcode.Medium, 256)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to render QR code", err)
	}
	s.qrCache.Set(roomID, png, cache.DefaultExpiration)
	return png, nil
}
