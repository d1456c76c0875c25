package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"chatbridge/internal/apperr"
	"chatbridge/internal/db"
	"chatbridge/internal/models"
)

// ContactInput is the body of a contact create request.
type ContactInput struct {
	Source   string `json:"source"`
	Phone    string `json:"phone"`
	Username string `json:"username"`
	Notes    string `json:"notes"`
	Tags     string `json:"tags"`
}

// ContactPatch is a partial contact update. Nil fields are left unchanged.
type ContactPatch struct {
	Source   *string `json:"source"`
	Phone    *string `json:"phone"`
	Username *string `json:"username"`
	Notes    *string `json:"notes"`
	Tags     *string `json:"tags"`
}

// ContactResult is a contact plus the fan-out it caused.
type ContactResult struct {
	Contact *models.Contact     `json:"contact"`
	Updates models.FanOutResult `json:"updates"`
}

// ContactPage is one page of a contact listing.
type ContactPage struct {
	Contacts   []models.Contact `json:"contacts"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int64            `json:"totalPages"`
}

// ContactService manages contacts and keeps rooms and messages pointing at them.
type ContactService struct {
	store db.ContactStore
	now   func() time.Time
}

// NewContactService creates a new ContactService.
func NewContactService(store db.ContactStore) (*ContactService, error) {
	if store == nil {
		return nil, fmt.Errorf("contact store cannot be nil")
	}
	return &ContactService{store: store, now: time.Now}, nil
}

func takenErr(field string) error {
	return apperr.New(apperr.Conflict, "A contact with this "+field+" already exists")
}

func (s *ContactService) checkTaken(ctx context.Context, phone, username, excludeID string) error {
	field, err := s.store.ContactTaken(ctx, phone, username, excludeID)
	if err != nil {
		return storeErr("Failed to check contact uniqueness", err)
	}
	if field != "" {
		return takenErr(field)
	}
	return nil
}

// fanOut runs one best-effort batch update. Failures count as zero modifications.
func fanOut(what string, coll db.Collection, fn func() (int64, error)) int64 {
	n, err := fn()
	if err != nil {
		log.Error().Err(err).Str("collection", string(coll)).Str("update", what).Msg("Contact fan-out failed")
		return 0
	}
	return n
}

// Create inserts a contact and links every room and message with its phone to it.
func (s *ContactService) Create(ctx context.Context, in ContactInput) (*ContactResult, error) {
	in.Source = strings.TrimSpace(in.Source)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Username = strings.TrimSpace(in.Username)
	if in.Source == "" || in.Phone == "" || in.Username == "" {
		return nil, apperr.New(apperr.MissingRequiredField, "Missing required fields: source, phone, and username are required")
	}
	if err := s.checkTaken(ctx, in.Phone, in.Username, ""); err != nil {
		return nil, err
	}

	c := &models.Contact{
		ID:        models.NewDocID(),
		Source:    in.Source,
		Phone:     in.Phone,
		Username:  in.Username,
		Notes:     in.Notes,
		Tags:      in.Tags,
		CreatedAt: nowISO(s.now),
	}
	if err := s.store.CreateContact(ctx, c); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, apperr.Wrap(apperr.Conflict, "A contact with this phone or username already exists", err)
		}
		return nil, storeErr("Failed to create contact", err)
	}

	id := string(c.ID)
	updates := models.FanOutResult{
		RoomsUpdated: fanOut("link", db.Rooms, func() (int64, error) {
			return s.store.LinkContactByPhone(ctx, db.Rooms, c.Phone, id, c.Username)
		}),
		MessagesUpdated: fanOut("link", db.Messages, func() (int64, error) {
			return s.store.LinkContactByPhone(ctx, db.Messages, c.Phone, id, c.Username)
		}),
		WhatsappMessagesUpdated: fanOut("link", db.WatiMessages, func() (int64, error) {
			return s.store.LinkContactByPhone(ctx, db.WatiMessages, c.Phone, id, c.Username)
		}),
	}
	log.Info().Str("contactId", id).Str("phone", c.Phone).
		Int64("rooms", updates.RoomsUpdated).
		Int64("messages", updates.MessagesUpdated).
		Int64("whatsappMessages", updates.WhatsappMessagesUpdated).
		Msg("Contact created")
	return &ContactResult{Contact: c, Updates: updates}, nil
}

// Get returns one contact.
func (s *ContactService) Get(ctx context.Context, id string) (*models.Contact, error) {
	if err := checkID(id, "contact"); err != nil {
		return nil, err
	}
	c, err := s.store.GetContact(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.Wrap(apperr.NotFound, "Contact not found", err)
	}
	if err != nil {
		return nil, storeErr("Failed to get contact", err)
	}
	return c, nil
}

// List returns one page of contacts, optionally filtered by a case-insensitive
// substring of phone or username.
func (s *ContactService) List(ctx context.Context, search string, page, limit int) (*ContactPage, error) {
	if page < 1 {
		page = 1
	}
	contacts, total, err := s.store.ListContacts(ctx, strings.TrimSpace(search), Page(page, limit), limit)
	if err != nil {
		return nil, storeErr("Failed to list contacts", err)
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	out := &ContactPage{Contacts: contacts, Total: total, Page: page, Limit: limit}
	if limit > 0 {
		out.TotalPages = (total + int64(limit) - 1) / int64(limit)
	}
	return out, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Update applies a partial update and rewrites dependents: a phone change is
// copied to rooms and messages, a username change to rooms, and a tags change
// to every document linked to the contact.
func (s *ContactService) Update(ctx context.Context, id string, patch ContactPatch) (*ContactResult, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := *current
	if patch.Source != nil {
		next.Source = strings.TrimSpace(*patch.Source)
	}
	if patch.Phone != nil {
		next.Phone = strings.TrimSpace(*patch.Phone)
	}
	if patch.Username != nil {
		next.Username = strings.TrimSpace(*patch.Username)
	}
	if patch.Notes != nil {
		next.Notes = *patch.Notes
	}
	if patch.Tags != nil {
		next.Tags = *patch.Tags
	}
	if next.Source == "" || next.Phone == "" || next.Username == "" {
		return nil, apperr.New(apperr.MissingRequiredField, "source, phone and username cannot be empty")
	}

	phoneChanged := next.Phone != current.Phone
	usernameChanged := next.Username != current.Username
	tagsChanged := next.Tags != current.Tags

	if phoneChanged || usernameChanged {
		phone, username := "", ""
		if phoneChanged {
			phone = next.Phone
		}
		if usernameChanged {
			username = next.Username
		}
		if err := s.checkTaken(ctx, phone, username, id); err != nil {
			return nil, err
		}
	}

	stamp := nowISO(s.now)
	next.UpdatedAt = &stamp
	if err := s.store.UpdateContact(ctx, &next); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, apperr.Wrap(apperr.Conflict, "A contact with this phone or username already exists", err)
		}
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "Contact not found", err)
		}
		return nil, storeErr("Failed to update contact", err)
	}

	var updates models.FanOutResult
	if phoneChanged {
		updates.RoomsUpdated = fanOut("phone", db.Rooms, func() (int64, error) {
			return s.store.ReplacePhone(ctx, db.Rooms, current.Phone, next.Phone)
		})
		updates.MessagesUpdated = fanOut("phone", db.Messages, func() (int64, error) {
			return s.store.ReplacePhone(ctx, db.Messages, current.Phone, next.Phone)
		})
		updates.WhatsappMessagesUpdated = fanOut("phone", db.WatiMessages, func() (int64, error) {
			return s.store.ReplacePhone(ctx, db.WatiMessages, current.Phone, next.Phone)
		})
	}
	if usernameChanged {
		n := fanOut("username", db.Rooms, func() (int64, error) {
			return s.store.RenameContactRooms(ctx, id, next.Username)
		})
		updates.RoomsUpdated = maxInt64(updates.RoomsUpdated, n)
	}
	if tagsChanged {
		updates.RoomsUpdated = maxInt64(updates.RoomsUpdated, fanOut("tags", db.Rooms, func() (int64, error) {
			return s.store.ReplaceTags(ctx, db.Rooms, id, next.Tags)
		}))
		updates.MessagesUpdated = maxInt64(updates.MessagesUpdated, fanOut("tags", db.Messages, func() (int64, error) {
			return s.store.ReplaceTags(ctx, db.Messages, id, next.Tags)
		}))
		updates.WhatsappMessagesUpdated = maxInt64(updates.WhatsappMessagesUpdated, fanOut("tags", db.WatiMessages, func() (int64, error) {
			return s.store.ReplaceTags(ctx, db.WatiMessages, id, next.Tags)
		}))
	}

	log.Info().Str("contactId", id).Bool("phoneChanged", phoneChanged).Bool("usernameChanged", usernameChanged).Bool("tagsChanged", tagsChanged).Msg("Contact updated")
	return &ContactResult{Contact: &next, Updates: updates}, nil
}
