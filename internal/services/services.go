// Package services holds the room presence and messaging engine and the
// catalog services (contacts, responses, settings, upload) built on the
// persistence gateway.
package services

import (
	"errors"
	"math"
	"time"

	"chatbridge/internal/apperr"
	"chatbridge/internal/db"
	"chatbridge/internal/models"
)

// Events emitted over the realtime transport.
const (
	EventChatMessage  = "chat-message"
	EventRoomUsers    = "room-users"
	EventError        = "error"
	EventWarning      = "warning"
	EventDisconnected = "disconnected"
)

// Broadcaster is the room-scoped event bus the engine emits through.
type Broadcaster interface {
	// EmitToRoom delivers event to every socket joined to roomID.
	EmitToRoom(roomID, event string, payload any)
	// EmitToSocket delivers event to one socket. It reports false when the
	// socket is not connected to this node.
	EmitToSocket(socketID, event string, payload any) bool
	// CloseSocket terminates the transport session of socketID.
	CloseSocket(socketID string) bool
	// LeaveTransportRoom detaches socketID from roomID's fan-out group.
	LeaveTransportRoom(socketID, roomID string)
}

// EventForwarder hands persisted messages to downstream consumers.
type EventForwarder interface {
	Forward(eventType string, payload any)
}

// Forwarded event types.
const (
	ForwardChatMessage = "chat.message"
	ForwardWatiMessage = "wati.message"
)

type nopForwarder struct{}

func (nopForwarder) Forward(string, any) {}

// storeErr converts a gateway error into an apperr kind.
func storeErr(message string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, message, err)
	case errors.Is(err, db.ErrConflict):
		return apperr.Wrap(apperr.Conflict, message, err)
	case errors.Is(err, db.ErrUnavailable):
		return apperr.Wrap(apperr.PersistenceUnavailable, "Database not available", err)
	}
	return apperr.Wrap(apperr.Internal, message, err)
}

func checkID(id, what string) error {
	if !models.DocID(id).Valid() {
		return apperr.New(apperr.InvalidID, "Invalid "+what+" ID")
	}
	return nil
}

// Page converts a 1-based page and a page size into a skip count. Non-positive
// pages read as the first page; pages too large to address saturate at
// math.MaxInt, which lies past the end of any result.
func Page(page, limit int) int {
	if page < 1 || limit < 1 {
		return 0
	}
	if page-1 > math.MaxInt/limit {
		return math.MaxInt
	}
	return (page - 1) * limit
}

func nowISO(now func() time.Time) string {
	return models.ISOTime(now())
}
