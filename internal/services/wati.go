package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"chatbridge/internal/apperr"
	"chatbridge/internal/db"
	"chatbridge/internal/models"
)

// watiZone is the fixed UTC-3 offset WATI dates are stored in.
var watiZone = time.FixedZone("UTC-3", -3*60*60)

// watiLayout has no zone designator; readers treat it as UTC wall time.
const watiLayout = "2006-01-02T15:04:05.000"

// UnixSeconds is a provider timestamp sent either as a JSON number or a numeric string.
type UnixSeconds int64

func (u *UnixSeconds) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", string(b), err)
	}
	*u = UnixSeconds(int64(f))
	return nil
}

// WatiPayload is the body WATI posts for an inbound WhatsApp message.
type WatiPayload struct {
	ID             string      `json:"id"`
	SenderName     string      `json:"senderName"`
	WaID           string      `json:"waId"`
	Text           string      `json:"text"`
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId"`
	TicketID       string      `json:"ticketId"`
	Timestamp      UnixSeconds `json:"timestamp"`
}

// IngestResult reports what Ingest did with a payload.
type IngestResult struct {
	Message   *models.WatiMessage
	Duplicate bool
}

// WatiService ingests WATI webhook messages into the per-room timeline.
type WatiService struct {
	store     db.Gateway
	bus       Broadcaster
	forwarder EventForwarder
	secret    string
	seen      *cache.Cache
	now       func() time.Time
}

// NewWatiService creates a new WatiService. Provider ids seen within
// dedupeWindow are acknowledged without a second insert. An empty secret
// disables signature checks.
func NewWatiService(store db.Gateway, bus Broadcaster, forwarder EventForwarder, secret string, dedupeWindow time.Duration) (*WatiService, error) {
	if store == nil {
		return nil, fmt.Errorf("gateway cannot be nil for WatiService")
	}
	if forwarder == nil {
		forwarder = nopForwarder{}
	}
	if dedupeWindow <= 0 {
		dedupeWindow = 10 * time.Minute
	}
	return &WatiService{
		store:     store,
		bus:       bus,
		forwarder: forwarder,
		secret:    secret,
		seen:      cache.New(dedupeWindow, 2*dedupeWindow),
		now:       time.Now,
	}, nil
}

// ValidSignature checks an X-Wati-Signature header: hex HMAC-SHA256 of body.
func (s *WatiService) ValidSignature(body []byte, signature string) bool {
	if s.secret == "" {
		return true
	}
	if signature == "" {
		log.Warn().Msg("No signature provided in X-Wati-Signature header")
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

// WatiDate renders Unix seconds as ISO-8601 wall time in UTC-3 with no zone suffix.
func WatiDate(sec int64) models.Stamp {
	return models.Stamp(time.Unix(sec, 0).In(watiZone).Format(watiLayout))
}

// Decode parses a webhook body.
func (s *WatiService) Decode(body []byte) (*WatiPayload, error) {
	var p WatiPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperr.Wrap(apperr.Invalid, "Invalid JSON payload", err)
	}
	return &p, nil
}

// Ingest stores a WATI message, bound to the room whose phone equals waId or
// orphaned when no such room exists. Bound messages are also broadcast to the
// room.
func (s *WatiService) Ingest(ctx context.Context, p *WatiPayload) (*IngestResult, error) {
	phone := strings.TrimSpace(p.WaID)
	if phone == "" {
		return nil, apperr.New(apperr.MissingRequiredField, "waId is required")
	}

	if p.ID != "" {
		if err := s.seen.Add(p.ID, struct{}{}, cache.DefaultExpiration); err != nil {
			log.Info().Str("messageId", p.ID).Str("waId", phone).Msg("Duplicate WATI message ignored")
			return &IngestResult{Duplicate: true}, nil
		}
	}

	msg, room, err := s.persist(ctx, phone, p)
	if err != nil {
		if p.ID != "" {
			s.seen.Delete(p.ID)
		}
		return nil, err
	}

	if room != nil && s.bus != nil {
		s.bus.EmitToRoom(string(room.ID), EventChatMessage, EntryPayload(string(room.ID), watiEntry(*msg)))
	}
	s.forwarder.Forward(ForwardWatiMessage, msg)

	ev := log.Info().Str("messageId", msg.MessageID).Str("waId", phone)
	if room != nil {
		ev = ev.Str("roomId", string(room.ID))
	}
	ev.Bool("orphan", room == nil).Msg("WATI message ingested")
	return &IngestResult{Message: msg}, nil
}

func (s *WatiService) persist(ctx context.Context, phone string, p *WatiPayload) (*models.WatiMessage, *models.Room, error) {
	room, err := s.store.FindRoomByPhone(ctx, phone)
	switch {
	case errors.Is(err, db.ErrNotFound):
		room = nil
	case err != nil:
		return nil, nil, storeErr("Failed to look up room", err)
	}

	sec := int64(p.Timestamp)
	if sec == 0 {
		sec = s.now().Unix()
	}
	messageID := p.ID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	msg := &models.WatiMessage{
		ID:             models.NewDocID(),
		MessageID:      messageID,
		Phone:          phone,
		Username:       p.SenderName,
		Message:        p.Text,
		TypeMessage:    p.Type,
		ConversationID: p.ConversationID,
		TicketID:       p.TicketID,
		Date:           WatiDate(sec),
		CreatedAt:      nowISO(s.now),
	}
	if room != nil {
		msg.RoomID = room.ID.Ptr()
	}
	if contact, err := s.store.FindContactByPhone(ctx, phone); err == nil {
		msg.ContactID = contact.ID.Ptr()
		if contact.Tags != "" {
			tags := contact.Tags
			msg.Tags = &tags
		}
	}

	if err := s.store.InsertWatiMessage(ctx, msg); err != nil {
		return nil, nil, storeErr("Failed to save WhatsApp message", err)
	}
	return msg, room, nil
}
