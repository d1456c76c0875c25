package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatbridge/internal/services"
)

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r, 20)
	res, err := h.Contacts.List(r.Context(), r.URL.Query().Get("search"), page, limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	c, err := h.Contacts.Get(r.Context(), mux.Vars(r)["contactId"])
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// CreateContact stores a contact and links every room and message with its
// phone. The body reports how many documents were linked.
func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var in services.ContactInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	res, err := h.Contacts.Create(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (h *Handler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	var patch services.ContactPatch
	if err := decode(r, &patch); err != nil {
		fail(w, r, err)
		return
	}
	res, err := h.Contacts.Update(r.Context(), mux.Vars(r)["contactId"], patch)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
