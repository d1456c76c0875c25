package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatbridge/internal/db"
	"chatbridge/internal/models"
)

type emitted struct {
	target  string
	event   string
	payload any
}

// recordingBus is a Broadcaster that records every call.
type recordingBus struct {
	mu      sync.Mutex
	rooms   []emitted
	sockets []emitted
	closed  []string
	left    []string
}

func (b *recordingBus) EmitToRoom(roomID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms = append(b.rooms, emitted{roomID, event, payload})
}

func (b *recordingBus) EmitToSocket(socketID, event string, payload any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sockets = append(b.sockets, emitted{socketID, event, payload})
	return true
}

func (b *recordingBus) CloseSocket(socketID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, socketID)
	return true
}

func (b *recordingBus) LeaveTransportRoom(socketID, roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.left = append(b.left, socketID+"@"+roomID)
}

func (b *recordingBus) roomEvents(event string) []emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []emitted
	for _, e := range b.rooms {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (b *recordingBus) socketEvents(socketID, event string) []emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []emitted
	for _, e := range b.sockets {
		if e.target == socketID && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type recordingForwarder struct {
	mu     sync.Mutex
	events []string
}

func (f *recordingForwarder) Forward(eventType string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

type fixture struct {
	store     *db.SQLStore
	bus       *recordingBus
	forwarder *recordingForwarder
	presence  *PresenceService
	users     *UserDirectory
	rooms     *RoomService
	messages  *MessageService
	wati      *WatiService
	contacts  *ContactService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "chat.db") + "?_pragma=busy_timeout(5000)"
	store, err := db.OpenSQL(context.Background(), "sqlite", dsn)
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })

	f := &fixture{store: store, bus: &recordingBus{}, forwarder: &recordingForwarder{}}
	if f.presence, err = NewPresenceService(store, store); err != nil {
		t.Fatalf("NewPresenceService: %v", err)
	}
	if f.users, err = NewUserDirectory(store); err != nil {
		t.Fatalf("NewUserDirectory: %v", err)
	}
	if f.rooms, err = NewRoomService(store, f.presence, f.users, f.bus, "https://chat.example.com"); err != nil {
		t.Fatalf("NewRoomService: %v", err)
	}
	if f.messages, err = NewMessageService(store, f.bus, f.forwarder); err != nil {
		t.Fatalf("NewMessageService: %v", err)
	}
	if f.wati, err = NewWatiService(store, f.bus, f.forwarder, "", time.Minute); err != nil {
		t.Fatalf("NewWatiService: %v", err)
	}
	if f.contacts, err = NewContactService(store); err != nil {
		t.Fatalf("NewContactService: %v", err)
	}
	return f
}

// setClock pins every service clock to fn.
func (f *fixture) setClock(fn func() time.Time) {
	f.presence.now = fn
	f.users.now = fn
	f.rooms.now = fn
	f.messages.now = fn
	f.wati.now = fn
	f.contacts.now = fn
}

func (f *fixture) seedRoom(t *testing.T, phone, status string) *models.Room {
	t.Helper()
	now := models.ISOTime(time.Now())
	room := &models.Room{
		ID:        models.NewDocID(),
		Name:      "Chat-" + phone,
		Phone:     phone,
		Channel:   "web",
		Source:    "test",
		Status:    status,
		OpenedAt:  now,
		CreatedAt: now,
	}
	if status == models.RoomStatusClosed {
		room.ClosedAt = &now
	}
	if err := f.store.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func lastRoomUsers(t *testing.T, bus *recordingBus) *models.RoomConnections {
	t.Helper()
	events := bus.roomEvents(EventRoomUsers)
	if len(events) == 0 {
		t.Fatalf("no room-users event emitted")
	}
	return events[len(events)-1].payload.(*models.RoomConnections)
}

func sameSockets(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
