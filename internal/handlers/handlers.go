// Package handlers exposes the HTTP surface: room administration, the merged
// message timeline, contacts, canned responses, settings, uploads, users and
// the WATI webhook.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"chatbridge/internal/apperr"
	"chatbridge/internal/delivery"
	"chatbridge/internal/services"
)

// Deps are the collaborators the handlers call into. Upload and Delivery may
// be nil; their routes then answer 503.
type Deps struct {
	Rooms     *services.RoomService
	Presence  *services.PresenceService
	Messages  *services.MessageService
	Wati      *services.WatiService
	Contacts  *services.ContactService
	Responses *services.ResponseService
	Settings  *services.SettingsService
	Users     *services.UserDirectory
	Upload    *services.UploadService
	Delivery  *delivery.Manager
	Socket    http.Handler
}

// Handler serves the HTTP API.
type Handler struct {
	Deps
	opts Options
}

// New creates a Handler. Every core collaborator is required.
func New(deps Deps, opts Options) (*Handler, error) {
	switch {
	case deps.Rooms == nil:
		return nil, fmt.Errorf("RoomService cannot be nil")
	case deps.Presence == nil:
		return nil, fmt.Errorf("PresenceService cannot be nil")
	case deps.Messages == nil:
		return nil, fmt.Errorf("MessageService cannot be nil")
	case deps.Wati == nil:
		return nil, fmt.Errorf("WatiService cannot be nil")
	case deps.Contacts == nil:
		return nil, fmt.Errorf("ContactService cannot be nil")
	case deps.Responses == nil:
		return nil, fmt.Errorf("ResponseService cannot be nil")
	case deps.Settings == nil:
		return nil, fmt.Errorf("SettingsService cannot be nil")
	case deps.Users == nil:
		return nil, fmt.Errorf("UserDirectory cannot be nil")
	}
	return &Handler{Deps: deps, opts: opts}, nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// fail maps err to its status and writes the {error} body. Internal failures
// are logged with the request id and reported generically.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	message := apperr.Message(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("kind", string(kind)).Msg("Request failed")
	}
	if kind == apperr.Internal {
		message = "Internal server error"
	}
	respondError(w, status, message)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.Invalid, "Invalid JSON body", err)
	}
	return nil
}

// pageParams reads 1-based page and limit query parameters.
func pageParams(r *http.Request, defaultLimit int) (page, limit int) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	return page, limit
}
