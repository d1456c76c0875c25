// Package db is the persistence gateway. It offers CRUD over the rooms, users,
// messages, wati-messages, contacts, responses and settings collections, plus
// the atomic membership primitives the room engine relies on. Two backends
// implement it: MongoDB and SQL (postgres or sqlite) through sqlx.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatbridge/internal/models"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a write violates a unique key.
	ErrConflict = errors.New("duplicate key")
	// ErrUnavailable wraps every other backend failure.
	ErrUnavailable = errors.New("database not available")
)

// Collection names a collection that contact fan-out rewrites.
type Collection string

const (
	Rooms        Collection = "rooms"
	Messages     Collection = "messages"
	WatiMessages Collection = "wati-messages"
)

// RoomStore persists rooms and their membership sets.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	FindRoomByPhone(ctx context.Context, phone string) (*models.Room, error)
	ListRooms(ctx context.Context, skip, limit int) ([]models.Room, error)
	DeleteRoom(ctx context.Context, id string) error
	// AddRoomSocket adds socketID to the membership set and, in the same
	// atomic step, reopens the room if it was closed. It returns the room as
	// committed.
	AddRoomSocket(ctx context.Context, roomID, socketID string, now time.Time) (*models.Room, error)
	// RemoveRoomSocket pulls socketID from the membership set and closes the
	// room only if the set is empty at commit time.
	RemoveRoomSocket(ctx context.Context, roomID, socketID string, now time.Time) (*models.Room, error)
	RoomIDsWithSocket(ctx context.Context, socketID string) ([]string, error)
}

// UserStore persists users keyed by phone.
type UserStore interface {
	UpsertUserByPhone(ctx context.Context, phone string, now time.Time) (*models.User, error)
	FindUserBySocket(ctx context.Context, socketID string) (*models.User, error)
	UsersBySockets(ctx context.Context, socketIDs []string) ([]models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	MarkUserConnected(ctx context.Context, userID, socketID string, now time.Time) error
	// MarkUserDisconnected clears the user's socket. When socketID is not
	// empty the update applies only while the user still holds that socket.
	MarkUserDisconnected(ctx context.Context, userID, socketID string, now time.Time) (bool, error)
	AddUserRoom(ctx context.Context, userID, roomID string) error
}

// MessageStore persists chat and WhatsApp messages.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *models.ChatMessage) error
	MessagesByRoom(ctx context.Context, roomID string) ([]models.ChatMessage, error)
	CountMessagesByRoom(ctx context.Context, roomID string) (int64, error)
	InsertWatiMessage(ctx context.Context, msg *models.WatiMessage) error
	// WatiMessagesForRoom returns messages bound to roomID plus orphans with phone.
	WatiMessagesForRoom(ctx context.Context, roomID, phone string) ([]models.WatiMessage, error)
	CountWatiMessagesByPhone(ctx context.Context, phone string) (int64, error)
	BindOrphanWatiMessages(ctx context.Context, phone, roomID string) (int64, error)
}

// ContactStore persists contacts and rewrites their references.
type ContactStore interface {
	CreateContact(ctx context.Context, c *models.Contact) error
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	FindContactByPhone(ctx context.Context, phone string) (*models.Contact, error)
	// ContactTaken reports which unique field ("phone" or "username") another
	// contact already holds, or "" if neither.
	ContactTaken(ctx context.Context, phone, username, excludeID string) (string, error)
	ListContacts(ctx context.Context, search string, skip, limit int) ([]models.Contact, int64, error)
	UpdateContact(ctx context.Context, c *models.Contact) error

	LinkContactByPhone(ctx context.Context, coll Collection, phone, contactID, username string) (int64, error)
	ReplacePhone(ctx context.Context, coll Collection, oldPhone, newPhone string) (int64, error)
	RenameContactRooms(ctx context.Context, contactID, username string) (int64, error)
	ReplaceTags(ctx context.Context, coll Collection, contactID, tags string) (int64, error)
}

// ResponseStore persists canned responses.
type ResponseStore interface {
	ListResponses(ctx context.Context, atajo string) ([]models.Response, error)
	GetResponse(ctx context.Context, id string) (*models.Response, error)
	FindResponseByAtajo(ctx context.Context, atajo string) (*models.Response, error)
	CreateResponse(ctx context.Context, r *models.Response) error
	UpdateResponse(ctx context.Context, r *models.Response) error
	DeleteResponse(ctx context.Context, id string) error
}

// SettingsStore persists the settings document.
type SettingsStore interface {
	GetSettings(ctx context.Context, id string) (*models.Settings, error)
	SaveSettings(ctx context.Context, s *models.Settings) error
}

// Gateway is the full persistence surface.
type Gateway interface {
	RoomStore
	UserStore
	MessageStore
	ContactStore
	ResponseStore
	SettingsStore

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Options selects and configures a backend.
type Options struct {
	MongoURI      string
	MongoDatabase string
	Driver        string
	DSN           string
}

// Open connects to MongoDB when a URI is configured and to the SQL backend otherwise.
func Open(ctx context.Context, opts Options) (Gateway, error) {
	if opts.MongoURI != "" {
		store, err := OpenMongo(ctx, opts.MongoURI, opts.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to open mongo gateway: %w", err)
		}
		return store, nil
	}
	store, err := OpenSQL(ctx, opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql gateway: %w", err)
	}
	return store, nil
}
