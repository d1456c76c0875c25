// Package apperr classifies failures into the kinds surfaced to socket and HTTP clients.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is a failure class.
type Kind string

const (
	RoomNotFound           Kind = "RoomNotFound"
	NotFound               Kind = "NotFound"
	InvalidID              Kind = "InvalidId"
	MissingRequiredField   Kind = "MissingRequiredField"
	Invalid                Kind = "Invalid"
	Conflict               Kind = "Conflict"
	PersistenceUnavailable Kind = "PersistenceUnavailable"
	TransportError         Kind = "TransportError"
	UploadError            Kind = "UploadError"
	Internal               Kind = "Internal"
)

// Error carries a Kind and the message shown to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}

// HTTPStatus maps a kind to its response code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidID, MissingRequiredField, Invalid:
		return http.StatusBadRequest
	case RoomNotFound, NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case PersistenceUnavailable:
		return http.StatusServiceUnavailable
	case TransportError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
