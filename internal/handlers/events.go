package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// DeliveryStatus reports the event forwarder's state.
func (h *Handler) DeliveryStatus(w http.ResponseWriter, r *http.Request) {
	if h.Delivery == nil {
		respondError(w, http.StatusServiceUnavailable, "Delivery manager not initialized")
		return
	}
	respondJSON(w, http.StatusOK, h.Delivery.Snapshot())
}

// EventStatus returns a forwarded event that has not been delivered yet.
func (h *Handler) EventStatus(w http.ResponseWriter, r *http.Request) {
	if h.Delivery == nil {
		respondError(w, http.StatusServiceUnavailable, "Delivery manager not initialized")
		return
	}
	eventID := mux.Vars(r)["eventId"]
	if eventID == "" {
		respondError(w, http.StatusBadRequest, "Event ID is required")
		return
	}
	ev, ok := h.Delivery.Lookup(eventID)
	if !ok {
		respondError(w, http.StatusNotFound, "Event not found or already completed")
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

// PendingEvents lists undelivered events, filtered by ?type= and capped by
// ?limit= (default 50).
func (h *Handler) PendingEvents(w http.ResponseWriter, r *http.Request) {
	if h.Delivery == nil {
		respondError(w, http.StatusServiceUnavailable, "Delivery manager not initialized")
		return
	}
	_, limit := pageParams(r, 50)
	total, events := h.Delivery.Pending(r.URL.Query().Get("type"), limit)
	respondJSON(w, http.StatusOK, map[string]any{
		"total_pending":  h.Delivery.PendingCount(),
		"filtered_count": total,
		"shown_count":    len(events),
		"events":         events,
	})
}

// RetryEvents triggers delivery of one pending event, or of all of them when
// no event id is given.
func (h *Handler) RetryEvents(w http.ResponseWriter, r *http.Request) {
	if h.Delivery == nil {
		respondError(w, http.StatusServiceUnavailable, "Delivery manager not initialized")
		return
	}
	eventID := mux.Vars(r)["eventId"]
	if eventID == "" {
		n := h.Delivery.RetryAll()
		respondJSON(w, http.StatusOK, map[string]any{"message": "Retry triggered for all pending events", "count": n})
		return
	}
	if !h.Delivery.Retry(eventID) {
		respondError(w, http.StatusNotFound, "Event not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Retry triggered for event: " + eventID})
}
