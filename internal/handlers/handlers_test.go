package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatbridge/internal/adapters/objectstore"
	"chatbridge/internal/db"
	"chatbridge/internal/delivery"
	"chatbridge/internal/models"
	"chatbridge/internal/realtime"
	"chatbridge/internal/services"
)

type testAPI struct {
	srv   *httptest.Server
	store *db.SQLStore
}

func newTestAPI(t *testing.T, opts Options, withDelivery bool) *testAPI {
	t.Helper()
	ctx := context.Background()
	store, err := db.OpenSQL(ctx, "sqlite", filepath.Join(t.TempDir(), "api.db")+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	hub := realtime.NewHub()

	presence, _ := services.NewPresenceService(store, store)
	users, _ := services.NewUserDirectory(store)
	rooms, err := services.NewRoomService(store, presence, users, hub, "https://chat.example")
	if err != nil {
		t.Fatalf("NewRoomService: %v", err)
	}
	messages, _ := services.NewMessageService(store, hub, nil)
	wati, _ := services.NewWatiService(store, hub, nil, "", time.Minute)
	contacts, _ := services.NewContactService(store)
	responses, _ := services.NewResponseService(store)
	settings, _ := services.NewSettingsService(store)
	upload, _ := services.NewUploadService(objectstore.New(objectstore.Config{}))

	deps := Deps{
		Rooms:     rooms,
		Presence:  presence,
		Messages:  messages,
		Wati:      wati,
		Contacts:  contacts,
		Responses: responses,
		Settings:  settings,
		Users:     users,
		Upload:    upload,
	}
	if withDelivery {
		deps.Delivery = delivery.NewManager(delivery.Options{})
	}
	h, err := New(deps, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
		store.Close(ctx)
	})
	return &testAPI{srv: srv, store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, path, data, err)
		}
	}
	return resp
}

type errorBody struct {
	Error string `json:"error"`
}

func TestHealthAndUnknownRoute(t *testing.T) {
	api := newTestAPI(t, Options{}, false)

	var health map[string]string
	if resp := api.do(t, http.MethodGet, "/health", nil, &health); resp.StatusCode != http.StatusOK || health["status"] != "OK" {
		t.Fatalf("health = %d %v", resp.StatusCode, health)
	}
	if resp := api.do(t, http.MethodGet, "/health", nil, nil); resp.Header.Get("Request-Id") == "" {
		t.Fatalf("missing Request-Id header")
	}

	var e errorBody
	if resp := api.do(t, http.MethodGet, "/api/nope", nil, &e); resp.StatusCode != http.StatusNotFound || e.Error != "Route not found" {
		t.Fatalf("unknown route = %d %q", resp.StatusCode, e.Error)
	}
}

func TestRoomLifecycle(t *testing.T) {
	api := newTestAPI(t, Options{}, false)

	var room services.RoomView
	resp := api.do(t, http.MethodPost, "/api/rooms", map[string]string{"phone": "+54911", "channel": "web", "source": "landing"}, &room)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	if room.Status != models.RoomStatusOpen || room.CreatedFrom != "api" || !strings.HasPrefix(room.Name, "Chat-+54911-web-") {
		t.Fatalf("created room = %+v", room)
	}
	id := string(room.ID)

	var e errorBody
	if resp := api.do(t, http.MethodPost, "/api/rooms", map[string]string{"phone": "+54911", "channel": "web", "source": "landing"}, &e); resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate phone status = %d", resp.StatusCode)
	}
	if resp := api.do(t, http.MethodPost, "/api/rooms", map[string]string{"phone": "+1"}, &e); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing fields status = %d", resp.StatusCode)
	}

	var list []services.RoomView
	if resp := api.do(t, http.MethodGet, "/api/rooms?page=1&limit=5", nil, &list); resp.StatusCode != http.StatusOK || len(list) != 1 {
		t.Fatalf("list = %d %d rooms", resp.StatusCode, len(list))
	}

	var got services.RoomView
	if resp := api.do(t, http.MethodGet, "/api/rooms/"+id, nil, &got); resp.StatusCode != http.StatusOK || got.Phone != "+54911" || got.ConnectedSockets == nil {
		t.Fatalf("get = %d %+v", resp.StatusCode, got)
	}
	if resp := api.do(t, http.MethodGet, "/api/rooms/not-an-id", nil, &e); resp.StatusCode != http.StatusBadRequest || e.Error != "Invalid room ID" {
		t.Fatalf("bad id = %d %q", resp.StatusCode, e.Error)
	}
	if resp := api.do(t, http.MethodGet, "/api/rooms/"+string(models.NewDocID()), nil, &e); resp.StatusCode != http.StatusNotFound || e.Error != "Room not found" {
		t.Fatalf("missing room = %d %q", resp.StatusCode, e.Error)
	}

	var conns models.RoomConnections
	if resp := api.do(t, http.MethodGet, "/api/rooms/"+id+"/connections", nil, &conns); resp.StatusCode != http.StatusOK || conns.ConnectedCount != 0 {
		t.Fatalf("connections = %d %+v", resp.StatusCode, conns)
	}

	var all services.DisconnectAllResult
	if resp := api.do(t, http.MethodPost, "/api/rooms/"+id+"/disconnect-all", map[string]string{"reason": "cleanup"}, &all); resp.StatusCode != http.StatusOK || all.TotalSockets != 0 {
		t.Fatalf("disconnect-all = %d %+v", resp.StatusCode, all)
	}
	if resp := api.do(t, http.MethodPost, "/api/rooms/"+id+"/disconnect", map[string]string{}, &e); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("disconnect without socketId = %d", resp.StatusCode)
	}

	qr, err := http.Get(api.srv.URL + "/api/rooms/" + id + "/qr")
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	png, _ := io.ReadAll(qr.Body)
	qr.Body.Close()
	if qr.Header.Get("Content-Type") != "image/png" || !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("qr content type %q, %d bytes", qr.Header.Get("Content-Type"), len(png))
	}

	if resp := api.do(t, http.MethodDelete, "/api/rooms/"+id, nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if resp := api.do(t, http.MethodGet, "/api/rooms/"+id, nil, &e); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d", resp.StatusCode)
	}
}

func TestWebhookRoomFindsOrCreates(t *testing.T) {
	api := newTestAPI(t, Options{}, false)

	var e errorBody
	if resp := api.do(t, http.MethodGet, "/api/webhook?phone=+5491", nil, &e); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing params status = %d", resp.StatusCode)
	}

	var first services.RoomView
	resp := api.do(t, http.MethodGet, "/api/webhook?phone=5491122&channel=wa&source=ads", nil, &first)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d", resp.StatusCode)
	}
	if want := "https://chat.example/chat/" + string(first.ID) + "?phone=5491122"; first.Link != want || first.CreatedFrom != "webhook" {
		t.Fatalf("link = %q createdFrom = %q", first.Link, first.CreatedFrom)
	}

	var second services.RoomView
	if resp := api.do(t, http.MethodGet, "/api/webhook?phone=5491122&channel=wa&source=ads", nil, &second); resp.StatusCode != http.StatusOK || second.ID != first.ID {
		t.Fatalf("second = %d %s, want 200 %s", resp.StatusCode, second.ID, first.ID)
	}

	var users []models.User
	if resp := api.do(t, http.MethodGet, "/api/users", nil, &users); resp.StatusCode != http.StatusOK || len(users) != 1 || users[0].Phone != "5491122" {
		t.Fatalf("users = %d %+v", resp.StatusCode, users)
	}
}

func TestWatiWebhookFeedsTimeline(t *testing.T) {
	api := newTestAPI(t, Options{}, false)

	var room services.RoomView
	api.do(t, http.MethodPost, "/api/rooms", map[string]string{"phone": "+54911", "channel": "wa", "source": "wati"}, &room)

	payload := map[string]any{"waId": "+54911", "text": "hello", "id": "m1", "timestamp": "1700000000", "type": "text", "senderName": "Ana"}
	var ack map[string]any
	if resp := api.do(t, http.MethodPost, "/api/webhook/webhook-wati", payload, &ack); resp.StatusCode != http.StatusOK || ack["success"] != true {
		t.Fatalf("webhook = %d %v", resp.StatusCode, ack)
	}

	var entries []models.TimelineEntry
	if resp := api.do(t, http.MethodGet, "/api/messages/"+string(room.ID), nil, &entries); resp.StatusCode != http.StatusOK || len(entries) != 1 {
		t.Fatalf("timeline = %d %+v", resp.StatusCode, entries)
	}
	e := entries[0]
	if e.ID != "m1" || e.Source != models.SourceWhatsApp || e.Username != "Ana" || e.Timestamp != (1700000000-3*3600)*1000 {
		t.Fatalf("entry = %+v", e)
	}

	var far []models.TimelineEntry
	if resp := api.do(t, http.MethodGet, "/api/messages/"+string(room.ID)+"?page=4611686018427387904&limit=4", nil, &far); resp.StatusCode != http.StatusOK || len(far) != 0 {
		t.Fatalf("far page = %d %+v", resp.StatusCode, far)
	}
	var noRooms []services.RoomView
	if resp := api.do(t, http.MethodGet, "/api/rooms?page=4611686018427387904&limit=4", nil, &noRooms); resp.StatusCode != http.StatusOK || len(noRooms) != 0 {
		t.Fatalf("far rooms page = %d %+v", resp.StatusCode, noRooms)
	}

	var bad errorBody
	req, _ := http.NewRequest(http.MethodPost, api.srv.URL+"/api/webhook/webhook-wati", strings.NewReader("{not json"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json status = %d", resp.StatusCode)
	}
	if resp := api.do(t, http.MethodPost, "/api/webhook/webhook-wati", map[string]string{"text": "x"}, &bad); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing waId status = %d", resp.StatusCode)
	}
}

func TestContactRoutes(t *testing.T) {
	api := newTestAPI(t, Options{}, false)
	api.do(t, http.MethodPost, "/api/rooms", map[string]string{"phone": "+54911", "channel": "wa", "source": "wati"}, nil)

	var created services.ContactResult
	resp := api.do(t, http.MethodPost, "/api/contact", map[string]string{"phone": "+54911", "username": "ana", "source": "web"}, &created)
	if resp.StatusCode != http.StatusCreated || created.Updates.RoomsUpdated != 1 {
		t.Fatalf("create = %d %+v", resp.StatusCode, created.Updates)
	}

	var e errorBody
	if resp := api.do(t, http.MethodPost, "/api/contact", map[string]string{"phone": "+54911", "username": "other", "source": "web"}, &e); resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate phone status = %d", resp.StatusCode)
	}

	id := string(created.Contact.ID)
	var updated services.ContactResult
	if resp := api.do(t, http.MethodPut, "/api/contact/"+id, map[string]string{"notes": "vip"}, &updated); resp.StatusCode != http.StatusOK || updated.Contact.Notes != "vip" {
		t.Fatalf("update = %d %+v", resp.StatusCode, updated.Contact)
	}

	var page services.ContactPage
	if resp := api.do(t, http.MethodGet, "/api/contact?search=an", nil, &page); resp.StatusCode != http.StatusOK || page.Total != 1 {
		t.Fatalf("list = %d %+v", resp.StatusCode, page)
	}
}

func TestResponseAndSettingsRoutes(t *testing.T) {
	api := newTestAPI(t, Options{}, false)

	var created models.Response
	if resp := api.do(t, http.MethodPost, "/api/responses", map[string]string{"atajo": "HOLA", "type": "text", "text": "Hola!"}, &created); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create response status = %d", resp.StatusCode)
	}
	var list []models.Response
	if resp := api.do(t, http.MethodGet, "/api/responses?atajo=hol", nil, &list); resp.StatusCode != http.StatusOK || len(list) != 1 {
		t.Fatalf("list = %d %d", resp.StatusCode, len(list))
	}
	if resp := api.do(t, http.MethodDelete, "/api/responses/"+string(created.ID), nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	var e errorBody
	if resp := api.do(t, http.MethodGet, "/api/settings", nil, &e); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("settings before save = %d", resp.StatusCode)
	}
	var saved struct {
		Success  bool            `json:"success"`
		Settings models.Settings `json:"settings"`
	}
	body := map[string]string{"displayName": "Shop", "description": "d", "welcomeMessage": "hi"}
	if resp := api.do(t, http.MethodPost, "/api/settings", body, &saved); resp.StatusCode != http.StatusOK || !saved.Success || saved.Settings.ID != models.SettingsID {
		t.Fatalf("save = %d %+v", resp.StatusCode, saved)
	}
}

func TestUploadWithoutStorageConfig(t *testing.T) {
	api := newTestAPI(t, Options{}, false)

	var cfg map[string]any
	if resp := api.do(t, http.MethodGet, "/api/upload/test-config", nil, &cfg); resp.StatusCode != http.StatusOK || cfg["status"] != "missing_variables" {
		t.Fatalf("test-config = %d %v", resp.StatusCode, cfg)
	}
	var e errorBody
	if resp := api.do(t, http.MethodPost, "/api/upload", map[string]string{}, &e); resp.StatusCode != http.StatusBadRequest || e.Error != "No file provided" {
		t.Fatalf("empty upload = %d %q", resp.StatusCode, e.Error)
	}
}

func TestDeliveryStatus(t *testing.T) {
	var e errorBody
	if resp := newTestAPI(t, Options{}, false).do(t, http.MethodGet, "/api/events/status", nil, &e); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status without manager = %d", resp.StatusCode)
	}

	api := newTestAPI(t, Options{}, true)
	var snap delivery.Snapshot
	if resp := api.do(t, http.MethodGet, "/api/events/status", nil, &snap); resp.StatusCode != http.StatusOK || snap.Status != "disabled" {
		t.Fatalf("status = %d %+v", resp.StatusCode, snap)
	}
	if resp := api.do(t, http.MethodGet, "/api/events/unknown", nil, &e); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown event = %d", resp.StatusCode)
	}
}

func TestAllowOrigin(t *testing.T) {
	prod := Options{AllowedOrigins: []string{"https://app.example"}}
	dev := Options{AllowedOrigins: []string{"https://app.example"}, Development: true}

	cases := []struct {
		opts   Options
		origin string
		want   bool
	}{
		{prod, "", true},
		{prod, "https://app.example", true},
		{prod, "https://evil.example", false},
		{prod, "http://localhost:3000", false},
		{dev, "http://localhost:5173", true},
		{dev, "http://127.0.0.1:3001", true},
		{dev, "https://evil.example", false},
	}
	for _, c := range cases {
		if got := c.opts.AllowOrigin(c.origin); got != c.want {
			t.Fatalf("AllowOrigin(%q, dev=%v) = %v, want %v", c.origin, c.opts.Development, got, c.want)
		}
	}
}

func TestCORSHeaders(t *testing.T) {
	api := newTestAPI(t, Options{AllowedOrigins: []string{"https://app.example"}}, false)

	get := func(origin string) string {
		req, _ := http.NewRequest(http.MethodGet, api.srv.URL+"/health", nil)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		return resp.Header.Get("Access-Control-Allow-Origin")
	}
	if got := get("https://app.example"); got != "https://app.example" {
		t.Fatalf("allowed origin header = %q", got)
	}
	if got := get("https://evil.example"); got != "" {
		t.Fatalf("rejected origin header = %q", got)
	}
}
