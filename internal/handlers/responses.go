package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatbridge/internal/services"
)

// ListResponses returns the canned responses, filtered by ?atajo= when given.
func (h *Handler) ListResponses(w http.ResponseWriter, r *http.Request) {
	list, err := h.Responses.List(r.Context(), r.URL.Query().Get("atajo"))
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handler) GetResponse(w http.ResponseWriter, r *http.Request) {
	res, err := h.Responses.Get(r.Context(), mux.Vars(r)["responseId"])
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) CreateResponse(w http.ResponseWriter, r *http.Request) {
	var in services.ResponseInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	res, err := h.Responses.Create(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (h *Handler) UpdateResponse(w http.ResponseWriter, r *http.Request) {
	var patch services.ResponsePatch
	if err := decode(r, &patch); err != nil {
		fail(w, r, err)
		return
	}
	res, err := h.Responses.Update(r.Context(), mux.Vars(r)["responseId"], patch)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) DeleteResponse(w http.ResponseWriter, r *http.Request) {
	if err := h.Responses.Delete(r.Context(), mux.Vars(r)["responseId"]); err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Response deleted successfully"})
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.Settings.Get(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// SaveSettings upserts the settings document.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	var in services.SettingsInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	st, err := h.Settings.Save(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Settings updated successfully",
		"settings": st,
	})
}
