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

// UserDirectory maps phone numbers to users and tracks their active socket.
type UserDirectory struct {
	users db.UserStore
	now   func() time.Time
}

// NewUserDirectory creates a new UserDirectory.
func NewUserDirectory(users db.UserStore) (*UserDirectory, error) {
	if users == nil {
		return nil, fmt.Errorf("user store cannot be nil")
	}
	return &UserDirectory{users: users, now: time.Now}, nil
}

// FindOrCreateByPhone returns the user for phone, creating it with the default
// role on first sighting.
func (d *UserDirectory) FindOrCreateByPhone(ctx context.Context, phone string) (*models.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, apperr.New(apperr.MissingRequiredField, "phone is required")
	}
	u, err := d.users.UpsertUserByPhone(ctx, phone, d.now())
	if err != nil {
		return nil, storeErr("Failed to find or create user", err)
	}
	return u, nil
}

// OnConnect records socketID as the user's active socket. Last writer wins.
func (d *UserDirectory) OnConnect(ctx context.Context, userID, socketID string) error {
	if err := d.users.MarkUserConnected(ctx, userID, socketID, d.now()); err != nil {
		return storeErr("Failed to handle user connection", err)
	}
	log.Debug().Str("userId", userID).Str("socketId", socketID).Msg("User connected")
	return nil
}

// OnDisconnect clears the user's active socket. With a non-empty socketID it
// only applies while the user still holds that socket, so a stale session
// cannot unbind a newer one. It reports whether the user was unbound.
func (d *UserDirectory) OnDisconnect(ctx context.Context, userID, socketID string) (bool, error) {
	ok, err := d.users.MarkUserDisconnected(ctx, userID, socketID, d.now())
	if err != nil {
		return false, storeErr("Failed to handle user disconnection", err)
	}
	if ok {
		log.Debug().Str("userId", userID).Str("socketId", socketID).Msg("User disconnected")
	}
	return ok, nil
}

// BindRoom adds roomID to the user's room set.
func (d *UserDirectory) BindRoom(ctx context.Context, userID, roomID string) error {
	if err := d.users.AddUserRoom(ctx, userID, roomID); err != nil {
		return storeErr("Failed to update user room", err)
	}
	return nil
}

// FindBySocket returns the user currently holding socketID, or nil.
func (d *UserDirectory) FindBySocket(ctx context.Context, socketID string) (*models.User, error) {
	u, err := d.users.FindUserBySocket(ctx, socketID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("Failed to find user", err)
	}
	return u, nil
}

// List returns all users, newest first.
func (d *UserDirectory) List(ctx context.Context) ([]models.User, error) {
	users, err := d.users.ListUsers(ctx)
	if err != nil {
		return nil, storeErr("Failed to list users", err)
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}
