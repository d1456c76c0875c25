package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatbridge/internal/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "chat.db") + "?_pragma=busy_timeout(5000)"
	store, err := OpenSQL(context.Background(), "sqlite", dsn)
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func seedRoom(t *testing.T, store *SQLStore, phone, status string) *models.Room {
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
	if err := store.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func TestAddRoomSocketReopensAndIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	room := seedRoom(t, store, "+100", models.RoomStatusClosed)

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	got, err := store.AddRoomSocket(ctx, string(room.ID), "s1", t1)
	if err != nil {
		t.Fatalf("AddRoomSocket: %v", err)
	}
	if got.Status != models.RoomStatusOpen || got.ClosedAt != nil {
		t.Fatalf("expected open room without closedAt, got %s %v", got.Status, got.ClosedAt)
	}
	if got.OpenedAt != models.ISOTime(t1) {
		t.Fatalf("openedAt = %s, want %s", got.OpenedAt, models.ISOTime(t1))
	}

	got, err = store.AddRoomSocket(ctx, string(room.ID), "s1", t1.Add(time.Minute))
	if err != nil {
		t.Fatalf("AddRoomSocket twice: %v", err)
	}
	if len(got.ConnectedSockets) != 1 || got.ConnectedSockets[0] != "s1" {
		t.Fatalf("expected [s1], got %v", got.ConnectedSockets)
	}
	if got.OpenedAt != models.ISOTime(t1) {
		t.Fatalf("openedAt moved on a join to an already open room: %s", got.OpenedAt)
	}
}

func TestRemoveRoomSocketClosesOnlyWhenEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	room := seedRoom(t, store, "+200", models.RoomStatusClosed)
	id := string(room.ID)
	now := time.Now()

	for _, s := range []string{"s1", "s2"} {
		if _, err := store.AddRoomSocket(ctx, id, s, now); err != nil {
			t.Fatalf("AddRoomSocket %s: %v", s, err)
		}
	}

	got, err := store.RemoveRoomSocket(ctx, id, "s1", now)
	if err != nil {
		t.Fatalf("RemoveRoomSocket: %v", err)
	}
	if got.Status != models.RoomStatusOpen || len(got.ConnectedSockets) != 1 || got.ConnectedSockets[0] != "s2" {
		t.Fatalf("after first leave: %s %v", got.Status, got.ConnectedSockets)
	}

	closedAt := now.Add(time.Second)
	got, err = store.RemoveRoomSocket(ctx, id, "s2", closedAt)
	if err != nil {
		t.Fatalf("RemoveRoomSocket: %v", err)
	}
	if got.Status != models.RoomStatusClosed || len(got.ConnectedSockets) != 0 {
		t.Fatalf("after last leave: %s %v", got.Status, got.ConnectedSockets)
	}
	if got.ClosedAt == nil || *got.ClosedAt != models.ISOTime(closedAt) {
		t.Fatalf("closedAt = %v", got.ClosedAt)
	}

	// Pulling an absent socket is a no-op.
	if _, err := store.RemoveRoomSocket(ctx, id, "ghost", now); err != nil {
		t.Fatalf("RemoveRoomSocket absent: %v", err)
	}
}

func TestMembershipUnknownRoom(t *testing.T) {
	store := newTestStore(t)
	_, err := store.AddRoomSocket(context.Background(), string(models.NewDocID()), "s1", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = store.RemoveRoomSocket(context.Background(), string(models.NewDocID()), "s1", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentMembershipKeepsParity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	room := seedRoom(t, store, "+300", models.RoomStatusClosed)
	id := string(room.ID)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			socket := fmt.Sprintf("s%d", i)
			if _, err := store.AddRoomSocket(ctx, id, socket, time.Now()); err != nil {
				t.Errorf("join %s: %v", socket, err)
				return
			}
			if i%2 == 0 {
				if _, err := store.RemoveRoomSocket(ctx, id, socket, time.Now()); err != nil {
					t.Errorf("leave %s: %v", socket, err)
				}
			}
		}(i)
	}
	wg.Wait()

	got, err := store.GetRoom(ctx, id)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if len(got.ConnectedSockets) != 10 {
		t.Fatalf("expected 10 sockets, got %d (%v)", len(got.ConnectedSockets), got.ConnectedSockets)
	}
	if got.Status != models.RoomStatusOpen {
		t.Fatalf("room with live sockets is %s", got.Status)
	}

	for i := 1; i < 20; i += 2 {
		if _, err := store.RemoveRoomSocket(ctx, id, fmt.Sprintf("s%d", i), time.Now()); err != nil {
			t.Fatalf("leave: %v", err)
		}
	}
	got, _ = store.GetRoom(ctx, id)
	if got.Status != models.RoomStatusClosed || len(got.ConnectedSockets) != 0 {
		t.Fatalf("expected closed empty room, got %s %v", got.Status, got.ConnectedSockets)
	}
}

func TestFindRoomByPhoneReturnsOldest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	first := seedRoom(t, store, "+400", models.RoomStatusOpen)
	later := &models.Room{ID: models.NewDocID(), Phone: "+400", Status: models.RoomStatusOpen,
		CreatedAt: models.ISOTime(time.Now().Add(time.Minute))}
	if err := store.CreateRoom(ctx, later); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	got, err := store.FindRoomByPhone(ctx, "+400")
	if err != nil || got.ID != first.ID {
		t.Fatalf("FindRoomByPhone = %v, %v; want %s", got, err, first.ID)
	}
}

func TestUserConnectionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	u, err := store.UpsertUserByPhone(ctx, "+500", now)
	if err != nil {
		t.Fatalf("UpsertUserByPhone: %v", err)
	}
	again, err := store.UpsertUserByPhone(ctx, "+500", now)
	if err != nil || again.ID != u.ID {
		t.Fatalf("second upsert returned %v (%v), want %s", again, err, u.ID)
	}
	if u.Role != models.DefaultUserRole || len(u.Rooms) != 0 || u.IsConnected {
		t.Fatalf("unexpected new user: %+v", u)
	}

	if err := store.MarkUserConnected(ctx, string(u.ID), "sock-a", now); err != nil {
		t.Fatalf("MarkUserConnected: %v", err)
	}
	found, err := store.FindUserBySocket(ctx, "sock-a")
	if err != nil || found.ID != u.ID || !found.IsConnected {
		t.Fatalf("FindUserBySocket: %+v %v", found, err)
	}

	// A stale socket must not unbind the user's newer connection.
	if err := store.MarkUserConnected(ctx, string(u.ID), "sock-b", now); err != nil {
		t.Fatalf("MarkUserConnected: %v", err)
	}
	ok, err := store.MarkUserDisconnected(ctx, string(u.ID), "sock-a", now)
	if err != nil || ok {
		t.Fatalf("stale disconnect applied: %v %v", ok, err)
	}
	ok, err = store.MarkUserDisconnected(ctx, string(u.ID), "sock-b", now)
	if err != nil || !ok {
		t.Fatalf("disconnect: %v %v", ok, err)
	}
	if _, err := store.FindUserBySocket(ctx, "sock-b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no user on sock-b, got %v", err)
	}

	if err := store.AddUserRoom(ctx, string(u.ID), "r1"); err != nil {
		t.Fatalf("AddUserRoom: %v", err)
	}
	if err := store.AddUserRoom(ctx, string(u.ID), "r1"); err != nil {
		t.Fatalf("AddUserRoom twice: %v", err)
	}
	users, err := store.ListUsers(ctx)
	if err != nil || len(users) != 1 || len(users[0].Rooms) != 1 {
		t.Fatalf("ListUsers: %+v %v", users, err)
	}
}

func TestWatiOrphansBindToNewRoom(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	orphan := &models.WatiMessage{
		ID:        models.NewDocID(),
		MessageID: "m1",
		Phone:     "+600",
		Message:   "hola",
		Date:      "2024-01-01T10:00:00.000",
		CreatedAt: models.ISOTime(time.Now()),
	}
	if err := store.InsertWatiMessage(ctx, orphan); err != nil {
		t.Fatalf("InsertWatiMessage: %v", err)
	}

	room := seedRoom(t, store, "+600", models.RoomStatusOpen)
	msgs, err := store.WatiMessagesForRoom(ctx, string(room.ID), "+600")
	if err != nil || len(msgs) != 1 || msgs[0].RoomID != nil {
		t.Fatalf("orphan lookup by phone: %+v %v", msgs, err)
	}

	n, err := store.BindOrphanWatiMessages(ctx, "+600", string(room.ID))
	if err != nil || n != 1 {
		t.Fatalf("BindOrphanWatiMessages = %d, %v", n, err)
	}
	msgs, _ = store.WatiMessagesForRoom(ctx, string(room.ID), "+600")
	if len(msgs) != 1 || msgs[0].RoomID == nil || *msgs[0].RoomID != room.ID {
		t.Fatalf("expected bound message, got %+v", msgs)
	}

	if err := store.DeleteRoom(ctx, string(room.ID)); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	count, _ := store.CountWatiMessagesByPhone(ctx, "+600")
	if count != 1 {
		t.Fatalf("wati messages must survive room deletion, count=%d", count)
	}
}

func TestContactFanOutCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	phone := "+700"
	room := seedRoom(t, store, phone, models.RoomStatusOpen)

	for i := 0; i < 3; i++ {
		msg := &models.ChatMessage{
			ID:        models.NewDocID(),
			RoomID:    string(room.ID),
			Content:   "hi",
			Timestamp: models.StampFromTime(time.Now()),
			Type:      "text",
			Phone:     &phone,
		}
		if err := store.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}

	contactID := string(models.NewDocID())
	n, err := store.LinkContactByPhone(ctx, Rooms, phone, contactID, "ana")
	if err != nil || n != 1 {
		t.Fatalf("link rooms = %d, %v", n, err)
	}
	n, err = store.LinkContactByPhone(ctx, Messages, phone, contactID, "ana")
	if err != nil || n != 3 {
		t.Fatalf("link messages = %d, %v", n, err)
	}
	n, _ = store.LinkContactByPhone(ctx, Messages, phone, contactID, "ana")
	if n != 0 {
		t.Fatalf("relinking unchanged documents reported %d modifications", n)
	}

	n, err = store.RenameContactRooms(ctx, contactID, "ana maria")
	if err != nil || n != 1 {
		t.Fatalf("rename = %d, %v", n, err)
	}
	n, err = store.ReplaceTags(ctx, Messages, contactID, "vip")
	if err != nil || n != 3 {
		t.Fatalf("tags = %d, %v", n, err)
	}
	n, err = store.ReplacePhone(ctx, Messages, phone, "+701")
	if err != nil || n != 3 {
		t.Fatalf("phone = %d, %v", n, err)
	}

	got, _ := store.GetRoom(ctx, string(room.ID))
	if got.ContactID == nil || string(*got.ContactID) != contactID || got.Username == nil || *got.Username != "ana maria" {
		t.Fatalf("room not linked: %+v", got)
	}
}

func TestContactUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := &models.Contact{ID: models.NewDocID(), Source: "web", Phone: "+800", Username: "ana", CreatedAt: models.ISOTime(time.Now())}
	if err := store.CreateContact(ctx, c); err != nil {
		t.Fatalf("CreateContact: %v", err)
	}

	field, err := store.ContactTaken(ctx, "+800", "other", "")
	if err != nil || field != "phone" {
		t.Fatalf("ContactTaken phone = %q, %v", field, err)
	}
	field, _ = store.ContactTaken(ctx, "+801", "ana", "")
	if field != "username" {
		t.Fatalf("ContactTaken username = %q", field)
	}
	field, _ = store.ContactTaken(ctx, "+800", "ana", string(c.ID))
	if field != "" {
		t.Fatalf("a contact must not conflict with itself, got %q", field)
	}

	dup := &models.Contact{ID: models.NewDocID(), Source: "web", Phone: "+800", Username: "x", CreatedAt: c.CreatedAt}
	if err := store.CreateContact(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	list, total, err := store.ListContacts(ctx, "AN", 0, 10)
	if err != nil || total != 1 || len(list) != 1 {
		t.Fatalf("ListContacts search: %d %v %v", total, list, err)
	}
}

func TestResponsesAndSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := models.ISOTime(time.Now())

	r := &models.Response{ID: models.NewDocID(), Atajo: "Saludo_1", Text: "Hola!", Type: models.ResponseTypeText,
		Status: true, Triggers: []string{"hola", "buenas"}, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateResponse(ctx, r); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	list, err := store.ListResponses(ctx, "salu")
	if err != nil || len(list) != 1 || len(list[0].Triggers) != 2 {
		t.Fatalf("ListResponses: %+v %v", list, err)
	}
	if list, _ := store.ListResponses(ctx, "o_"); len(list) != 1 {
		t.Fatalf("underscore should match literally, got %d", len(list))
	}
	if list, _ := store.ListResponses(ctx, "%"); len(list) != 0 {
		t.Fatalf("percent should match literally, got %d", len(list))
	}

	if _, err := store.GetSettings(ctx, models.SettingsID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no settings yet, got %v", err)
	}
	st := &models.Settings{ID: models.SettingsID, DisplayName: "Soporte", Description: "d", WelcomeMessage: "w", CreatedAt: now, UpdatedAt: now}
	if err := store.SaveSettings(ctx, st); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	st.DisplayName = "Ventas"
	if err := store.SaveSettings(ctx, st); err != nil {
		t.Fatalf("SaveSettings upsert: %v", err)
	}
	got, err := store.GetSettings(ctx, models.SettingsID)
	if err != nil || got.DisplayName != "Ventas" {
		t.Fatalf("GetSettings: %+v %v", got, err)
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	store := newTestStore(t)
	store.Close(context.Background())
	_, err := store.GetRoom(context.Background(), string(models.NewDocID()))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
