package handlers

import (
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"chatbridge/internal/models"
)

// Options configures the middleware chain.
type Options struct {
	AllowedOrigins []string
	// Development additionally accepts any http://localhost:* and
	// http://127.0.0.1:* origin.
	Development bool
}

// AllowOrigin applies the CORS origin rule. Requests without an Origin
// header are always allowed.
func (o Options) AllowOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	if o.Development && (strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")) {
		return true
	}
	return slices.Contains(o.AllowedOrigins, origin)
}

// CheckOrigin is AllowOrigin for a websocket upgrade request.
func (o Options) CheckOrigin(r *http.Request) bool {
	return o.AllowOrigin(r.Header.Get("Origin"))
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				hlog.FromRequest(r).Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
				respondError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Routes builds the router wrapped in logging, recovery and CORS middleware.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	if h.Socket != nil {
		r.Handle("/ws", h.Socket)
	}

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/rooms", h.ListRooms).Methods(http.MethodGet)
	api.HandleFunc("/rooms", h.CreateRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}", h.GetRoom).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}", h.DeleteRoom).Methods(http.MethodDelete)
	api.HandleFunc("/rooms/{roomId}/connections", h.RoomConnections).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}/disconnect", h.ForceDisconnect).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}/disconnect-all", h.DisconnectAll).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}/qr", h.RoomQR).Methods(http.MethodGet)

	api.HandleFunc("/messages/{roomId}", h.Timeline).Methods(http.MethodGet)

	api.HandleFunc("/webhook", h.WebhookRoom).Methods(http.MethodGet)
	api.HandleFunc("/webhook/webhook-wati", h.WatiWebhook).Methods(http.MethodPost)

	api.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)

	api.HandleFunc("/contact", h.ListContacts).Methods(http.MethodGet)
	api.HandleFunc("/contact", h.CreateContact).Methods(http.MethodPost)
	api.HandleFunc("/contact/{contactId}", h.GetContact).Methods(http.MethodGet)
	api.HandleFunc("/contact/{contactId}", h.UpdateContact).Methods(http.MethodPut)

	api.HandleFunc("/responses", h.ListResponses).Methods(http.MethodGet)
	api.HandleFunc("/responses", h.CreateResponse).Methods(http.MethodPost)
	api.HandleFunc("/responses/{responseId}", h.GetResponse).Methods(http.MethodGet)
	api.HandleFunc("/responses/{responseId}", h.UpdateResponse).Methods(http.MethodPut)
	api.HandleFunc("/responses/{responseId}", h.DeleteResponse).Methods(http.MethodDelete)

	api.HandleFunc("/settings", h.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", h.SaveSettings).Methods(http.MethodPost)

	api.HandleFunc("/upload", h.UploadImage).Methods(http.MethodPost)
	api.HandleFunc("/upload/test-config", h.UploadTestConfig).Methods(http.MethodGet)

	api.HandleFunc("/events", h.PendingEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/status", h.DeliveryStatus).Methods(http.MethodGet)
	api.HandleFunc("/events/retry", h.RetryEvents).Methods(http.MethodPost)
	api.HandleFunc("/events/{eventId}/retry", h.RetryEvents).Methods(http.MethodPost)
	api.HandleFunc("/events/{eventId}", h.EventStatus).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	cors := handlers.CORS(
		handlers.AllowedOriginValidator(h.opts.AllowOrigin),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Wati-Signature"}),
		handlers.AllowCredentials(),
	)

	c := alice.New()
	c = c.Append(hlog.NewHandler(log.Logger))
	c = c.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Got API request")
	}))
	c = c.Append(hlog.RemoteAddrHandler("ip"))
	c = c.Append(hlog.RequestIDHandler("req_id", "Request-Id"))
	c = c.Append(recoverer)
	c = c.Append(cors)

	return c.Then(r)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": models.ISOTime(time.Now()),
	})
}
