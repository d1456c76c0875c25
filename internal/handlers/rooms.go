package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"chatbridge/internal/apperr"
	"chatbridge/internal/models"
	"chatbridge/internal/services"
)

type createRoomRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Channel string `json:"channel"`
	Source  string `json:"source"`
}

// clientIP prefers proxy headers over the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "Unknown"
}

func userAgent(r *http.Request) string {
	if ua := r.UserAgent(); ua != "" {
		return ua
	}
	return "Unknown"
}

func roomIDVar(r *http.Request) (string, error) {
	id := mux.Vars(r)["roomId"]
	if !models.DocID(id).Valid() {
		return "", apperr.New(apperr.InvalidID, "Invalid room ID")
	}
	return id, nil
}

// ListRooms returns one page of rooms, newest first.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r, 20)
	rooms, err := h.Rooms.ListRooms(r.Context(), page, limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rooms)
}

// CreateRoom creates an open room for a phone. A duplicate phone is a 409.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	room, err := h.Rooms.CreateRoom(r.Context(), services.CreateRoomInput{
		Name:      req.Name,
		Phone:     req.Phone,
		Channel:   req.Channel,
		Source:    req.Source,
		UserAgent: userAgent(r),
		IPAddress: clientIP(r),
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, room)
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDVar(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	room, err := h.Rooms.GetRoom(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, room)
}

func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDVar(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.Rooms.DeleteRoom(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Room deleted successfully"})
}

// RoomConnections lists the room's sockets with the role of each socket's user.
func (h *Handler) RoomConnections(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDVar(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	conns, err := h.Presence.ReadConnectionsWithRoles(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, conns)
}

type disconnectRequest struct {
	SocketID string `json:"socketId"`
	Reason   string `json:"reason"`
}

func (h *Handler) ForceDisconnect(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDVar(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req disconnectRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	res, err := h.Rooms.ForceDisconnect(r.Context(), id, req.SocketID, req.Reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) DisconnectAll(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDVar(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req disconnectRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	res, err := h.Rooms.DisconnectAll(r.Context(), id, req.Reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// RoomQR serves the invite link as a PNG QR code.
func (h *Handler) RoomQR(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDVar(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	png, err := h.Rooms.InviteQR(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Failed to write QR code")
	}
}

// WebhookRoom finds or creates the room for ?phone&channel&source and returns
// it with its invite link: 201 when created, 200 when it already existed.
func (h *Handler) WebhookRoom(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := services.CreateRoomInput{
		Phone:     q.Get("phone"),
		Channel:   q.Get("channel"),
		Source:    q.Get("source"),
		UserAgent: userAgent(r),
		IPAddress: clientIP(r),
	}
	if in.Phone == "" || in.Channel == "" || in.Source == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "Missing required parameters: phone, channel, source",
			"received": map[string]string{"phone": in.Phone, "channel": in.Channel, "source": in.Source},
		})
		return
	}
	room, created, err := h.Rooms.RoomFromWebhook(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, room)
}
