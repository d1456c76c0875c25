package handlers

import (
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"chatbridge/internal/apperr"
)

const maxWebhookBody = 1 << 20

// Timeline returns one page (default 50) of the room's merged chat and
// WhatsApp messages, oldest first.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDVar(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	page, limit := pageParams(r, 50)
	entries, err := h.Messages.ReadTimeline(r.Context(), id, page, limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// ListUsers returns every user, newest first.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// WatiWebhook ingests an inbound WhatsApp message posted by WATI.
func (h *Handler) WatiWebhook(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read request body")
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if !h.Wati.ValidSignature(body, r.Header.Get("X-Wati-Signature")) {
		logger.Warn().Msg("Invalid webhook signature")
		respondError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	payload, err := h.Wati.Decode(body)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to decode WATI payload")
		fail(w, r, err)
		return
	}

	res, err := h.Wati.Ingest(r.Context(), payload)
	if err != nil {
		if apperr.KindOf(err) != apperr.MissingRequiredField {
			logger.Error().Err(err).Str("messageId", payload.ID).Msg("Failed to ingest WATI message")
		}
		fail(w, r, err)
		return
	}

	logger.Info().Str("messageId", payload.ID).Str("waId", payload.WaID).Bool("duplicate", res.Duplicate).Msg("WATI message received")
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": res.Duplicate})
}
