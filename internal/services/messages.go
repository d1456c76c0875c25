package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chatbridge/internal/apperr"
	"chatbridge/internal/db"
	"chatbridge/internal/models"
)

// ChatInput is a chat-message event sent by a socket.
type ChatInput struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	Username string `json:"username"`
	Type     string `json:"type"`
	Welcome  bool   `json:"welcome"`
	Read     bool   `json:"read"`
}

// ChatPayload is the chat-message event delivered to sockets.
type ChatPayload struct {
	ID             string `json:"id"`
	RoomID         string `json:"roomId,omitempty"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
	SocketID       string `json:"socketId,omitempty"`
	Username       string `json:"username"`
	Type           string `json:"type"`
	Source         string `json:"source"`
	Welcome        bool   `json:"welcome,omitempty"`
	Read           bool   `json:"read"`
	Phone          string `json:"phone,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	TicketID       string `json:"ticketId,omitempty"`
}

// MessageService persists socket chat messages and serves the merged timeline.
type MessageService struct {
	store     db.Gateway
	bus       Broadcaster
	forwarder EventForwarder
	now       func() time.Time
}

// NewMessageService creates a new MessageService. forwarder may be nil.
func NewMessageService(store db.Gateway, bus Broadcaster, forwarder EventForwarder) (*MessageService, error) {
	if store == nil {
		return nil, fmt.Errorf("gateway cannot be nil for MessageService")
	}
	if bus == nil {
		return nil, fmt.Errorf("broadcaster cannot be nil for MessageService")
	}
	if forwarder == nil {
		forwarder = nopForwarder{}
	}
	return &MessageService{store: store, bus: bus, forwarder: forwarder, now: time.Now}, nil
}

func defaultUsername(socketID string) string {
	id := socketID
	if len(id) > 6 {
		id = id[:6]
	}
	return "User-" + id
}

// HandleChatMessage persists a message from socketID and broadcasts it to the
// room. When the store is unavailable the message is broadcast unsaved with a
// fresh UUID, and the sender gets a warning. That id is random, not an epoch
// millisecond string, so clients must order by timestamp rather than id. A
// missing room is reported to the sender as an error event.
func (s *MessageService) HandleChatMessage(ctx context.Context, socketID string, in ChatInput) (*ChatPayload, error) {
	username := in.Username
	if username == "" {
		username = defaultUsername(socketID)
	}
	msgType := in.Type
	if msgType == "" {
		msgType = "text"
	}
	now := s.now()

	room, err := s.store.GetRoom(ctx, in.RoomID)
	if errors.Is(err, db.ErrNotFound) {
		s.bus.EmitToSocket(socketID, EventError, "Room not found")
		return nil, apperr.Wrap(apperr.RoomNotFound, "Room not found", err)
	}

	if err == nil {
		msg := &models.ChatMessage{
			ID:        models.NewDocID(),
			RoomID:    in.RoomID,
			Content:   in.Message,
			Timestamp: models.StampFromTime(now),
			SocketID:  socketID,
			Username:  username,
			Type:      msgType,
			Welcome:   in.Welcome,
			Read:      in.Read,
			Phone:     &room.Phone,
			ContactID: room.ContactID,
		}
		if room.Tags != "" {
			tags := room.Tags
			msg.Tags = &tags
		}
		if err = s.store.InsertMessage(ctx, msg); err == nil {
			payload := chatPayload(msg)
			s.bus.EmitToRoom(in.RoomID, EventChatMessage, payload)
			s.forwarder.Forward(ForwardChatMessage, msg)
			return payload, nil
		}
	}

	log.Warn().Err(err).Str("roomId", in.RoomID).Str("socketId", socketID).Msg("Database not available, sending message locally")
	local := &ChatPayload{
		ID:        uuid.NewString(),
		RoomID:    in.RoomID,
		Content:   in.Message,
		Timestamp: models.ISOTime(now),
		SocketID:  socketID,
		Username:  username,
		Type:      msgType,
		Source:    models.SourceChat,
		Welcome:   in.Welcome,
		Read:      in.Read,
	}
	s.bus.EmitToRoom(in.RoomID, EventChatMessage, local)
	s.bus.EmitToSocket(socketID, EventWarning, "Message sent locally - not saved to database")
	return local, nil
}

func chatPayload(m *models.ChatMessage) *ChatPayload {
	return &ChatPayload{
		ID:        string(m.ID),
		RoomID:    m.RoomID,
		Content:   m.Content,
		Timestamp: string(m.Timestamp),
		SocketID:  m.SocketID,
		Username:  m.Username,
		Type:      m.Type,
		Source:    models.SourceChat,
		Welcome:   m.Welcome,
		Read:      m.Read,
	}
}

// EntryPayload renders a timeline entry as a chat-message event.
func EntryPayload(roomID string, e models.TimelineEntry) *ChatPayload {
	return &ChatPayload{
		ID:             e.ID,
		RoomID:         roomID,
		Content:        e.Content,
		Timestamp:      models.ISOTime(time.UnixMilli(e.Timestamp)),
		SocketID:       e.SocketID,
		Username:       e.Username,
		Type:           e.Type,
		Source:         e.Source,
		Phone:          e.Phone,
		ConversationID: e.ConversationID,
		TicketID:       e.TicketID,
	}
}

func chatEntry(m models.ChatMessage) models.TimelineEntry {
	username := m.Username
	if username == "" {
		username = defaultUsername(m.SocketID)
	}
	msgType := m.Type
	if msgType == "" {
		msgType = "text"
	}
	return models.TimelineEntry{
		ID:        string(m.ID),
		Content:   m.Content,
		Timestamp: m.Timestamp.Millis(),
		SocketID:  m.SocketID,
		Username:  username,
		Type:      msgType,
		Source:    models.SourceChat,
	}
}

func watiEntry(m models.WatiMessage) models.TimelineEntry {
	id := m.MessageID
	if id == "" {
		id = string(m.ID)
	}
	return models.TimelineEntry{
		ID:             id,
		Content:        m.Message,
		Timestamp:      m.Date.Millis(),
		Username:       m.Username,
		Type:           m.TypeMessage,
		Source:         models.SourceWhatsApp,
		Phone:          m.Phone,
		ConversationID: m.ConversationID,
		TicketID:       m.TicketID,
	}
}

// sourceRank orders chat before whatsapp on equal timestamps.
func sourceRank(source string) int {
	if source == models.SourceChat {
		return 0
	}
	return 1
}

// SortTimeline orders entries by timestamp, then source, then id.
func SortTimeline(entries []models.TimelineEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if ra, rb := sourceRank(a.Source), sourceRank(b.Source); ra != rb {
			return ra < rb
		}
		return strings.Compare(a.ID, b.ID) < 0
	})
}

// ReadTimeline returns one page of the room's merged chat and WhatsApp
// timeline in ascending timestamp order. A non-positive limit returns
// everything.
func (s *MessageService) ReadTimeline(ctx context.Context, roomID string, page, limit int) ([]models.TimelineEntry, error) {
	if !models.DocID(roomID).Valid() {
		return nil, apperr.New(apperr.InvalidID, "Invalid room ID")
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, roomErr(err)
	}

	chats, err := s.store.MessagesByRoom(ctx, roomID)
	if err != nil {
		return nil, storeErr("Failed to read messages", err)
	}
	watis, err := s.store.WatiMessagesForRoom(ctx, roomID, room.Phone)
	if err != nil {
		return nil, storeErr("Failed to read WhatsApp messages", err)
	}

	entries := make([]models.TimelineEntry, 0, len(chats)+len(watis))
	for _, m := range chats {
		entries = append(entries, chatEntry(m))
	}
	for _, m := range watis {
		entries = append(entries, watiEntry(m))
	}
	SortTimeline(entries)

	if limit <= 0 {
		return entries, nil
	}
	skip := Page(page, limit)
	if skip < 0 || skip >= len(entries) {
		return []models.TimelineEntry{}, nil
	}
	end := len(entries)
	if limit < end-skip {
		end = skip + limit
	}
	return entries[skip:end], nil
}

// History returns the whole timeline of a room as chat-message payloads.
func (s *MessageService) History(ctx context.Context, roomID string) ([]*ChatPayload, error) {
	entries, err := s.ReadTimeline(ctx, roomID, 1, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*ChatPayload, len(entries))
	for i, e := range entries {
		out[i] = EntryPayload(roomID, e)
	}
	return out, nil
}

func countMessages(ctx context.Context, store db.MessageStore, room *models.Room) (int64, error) {
	chats, err := store.CountMessagesByRoom(ctx, string(room.ID))
	if err != nil {
		return 0, storeErr("Failed to count messages", err)
	}
	watis, err := store.CountWatiMessagesByPhone(ctx, room.Phone)
	if err != nil {
		return 0, storeErr("Failed to count WhatsApp messages", err)
	}
	return chats + watis, nil
}

// MessageCount is the number of chat messages in the room plus the WhatsApp
// messages for its phone.
func (s *MessageService) MessageCount(ctx context.Context, room *models.Room) (int64, error) {
	return countMessages(ctx, s.store, room)
}
