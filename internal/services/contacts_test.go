package services

import (
	"context"
	"testing"
	"time"

	"chatbridge/internal/apperr"
	"chatbridge/internal/models"
)

// seedSharedPhone creates two rooms for phone with two chat messages each and
// one WhatsApp message.
func (f *fixture) seedSharedPhone(t *testing.T, phone string) []*models.Room {
	t.Helper()
	ctx := context.Background()
	r1 := f.seedRoom(t, phone, models.RoomStatusOpen)
	r2 := &models.Room{ID: models.NewDocID(), Name: "Chat-" + phone + "-2", Phone: phone, Status: models.RoomStatusOpen,
		CreatedAt: models.ISOTime(time.Now().Add(time.Second))}
	if err := f.store.CreateRoom(ctx, r2); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	for _, room := range []*models.Room{r1, r2} {
		for _, text := range []string{"a", "b"} {
			if _, err := f.messages.HandleChatMessage(ctx, "s1", ChatInput{RoomID: string(room.ID), Message: text}); err != nil {
				t.Fatalf("HandleChatMessage: %v", err)
			}
		}
	}
	if _, err := f.wati.Ingest(ctx, &WatiPayload{ID: "w-" + phone, WaID: phone, Text: "hi", Timestamp: 1700000000}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return []*models.Room{r1, r2}
}

func TestCreateContactFansOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rooms := f.seedSharedPhone(t, "+54911")

	res, err := f.contacts.Create(ctx, ContactInput{Phone: "+54911", Username: "ana", Source: "web"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := models.FanOutResult{RoomsUpdated: 2, MessagesUpdated: 4, WhatsappMessagesUpdated: 1}
	if res.Updates != want {
		t.Fatalf("updates = %+v, want %+v", res.Updates, want)
	}

	id := res.Contact.ID
	for _, r := range rooms {
		got, err := f.store.GetRoom(ctx, string(r.ID))
		if err != nil {
			t.Fatalf("GetRoom: %v", err)
		}
		if got.ContactID == nil || *got.ContactID != id || got.Username == nil || *got.Username != "ana" {
			t.Fatalf("room %s not linked: %+v", r.ID, got)
		}
		msgs, err := f.store.MessagesByRoom(ctx, string(r.ID))
		if err != nil {
			t.Fatalf("MessagesByRoom: %v", err)
		}
		for _, m := range msgs {
			if m.ContactID == nil || *m.ContactID != id {
				t.Fatalf("message %s not linked", m.ID)
			}
		}
	}
	watis, err := f.store.WatiMessagesForRoom(ctx, string(rooms[0].ID), "+54911")
	if err != nil || len(watis) != 1 || watis[0].ContactID == nil || *watis[0].ContactID != id {
		t.Fatalf("wati messages = %+v %v", watis, err)
	}
}

func TestCreateContactValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.contacts.Create(ctx, ContactInput{Phone: "+1", Username: "  "}); !apperr.Is(err, apperr.MissingRequiredField) {
		t.Fatalf("expected MissingRequiredField, got %v", err)
	}
	if _, err := f.contacts.Create(ctx, ContactInput{Source: "web", Phone: "+1", Username: "ana"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.contacts.Create(ctx, ContactInput{Source: "web", Phone: "+1", Username: "other"}); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("duplicate phone: expected Conflict, got %v", err)
	}
	if _, err := f.contacts.Create(ctx, ContactInput{Source: "web", Phone: "+2", Username: "ana"}); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("duplicate username: expected Conflict, got %v", err)
	}
}

func TestUpdateContactPhoneAndTags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rooms := f.seedSharedPhone(t, "+54911")
	created, err := f.contacts.Create(ctx, ContactInput{Phone: "+54911", Username: "ana", Source: "web"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := string(created.Contact.ID)

	phone, tags := "+54922", "vip"
	res, err := f.contacts.Update(ctx, id, ContactPatch{Phone: &phone, Tags: &tags})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := models.FanOutResult{RoomsUpdated: 2, MessagesUpdated: 4, WhatsappMessagesUpdated: 1}
	if res.Updates != want {
		t.Fatalf("updates = %+v, want %+v", res.Updates, want)
	}
	if res.Contact.Phone != phone || res.Contact.UpdatedAt == nil {
		t.Fatalf("contact = %+v", res.Contact)
	}

	got, _ := f.store.GetRoom(ctx, string(rooms[1].ID))
	if got.Phone != phone || got.Tags != tags {
		t.Fatalf("room after update = %+v", got)
	}
	if n, _ := f.store.CountWatiMessagesByPhone(ctx, phone); n != 1 {
		t.Fatalf("wati messages under new phone = %d", n)
	}

	// An unchanged patch rewrites nothing.
	res, err = f.contacts.Update(ctx, id, ContactPatch{Tags: &tags})
	if err != nil || res.Updates != (models.FanOutResult{}) {
		t.Fatalf("no-op update = %+v %v", res, err)
	}
}

func TestUpdateContactUsernameRenamesRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSharedPhone(t, "+54933")
	created, _ := f.contacts.Create(ctx, ContactInput{Phone: "+54933", Username: "ana", Source: "web"})
	if _, err := f.contacts.Create(ctx, ContactInput{Phone: "+54944", Username: "beto", Source: "web"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := string(created.Contact.ID)

	taken := "beto"
	if _, err := f.contacts.Update(ctx, id, ContactPatch{Username: &taken}); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}

	name := "ana maria"
	res, err := f.contacts.Update(ctx, id, ContactPatch{Username: &name})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Updates.RoomsUpdated != 2 || res.Updates.MessagesUpdated != 0 {
		t.Fatalf("updates = %+v", res.Updates)
	}
}

func TestGetAndListContacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, in := range []ContactInput{
		{Source: "web", Phone: "+100", Username: "Ana"},
		{Source: "web", Phone: "+200", Username: "Beto"},
		{Source: "web", Phone: "+300", Username: "Carla"},
	} {
		if _, err := f.contacts.Create(ctx, in); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if _, err := f.contacts.Get(ctx, "nope"); !apperr.Is(err, apperr.InvalidID) {
		t.Fatalf("expected InvalidId, got %v", err)
	}
	if _, err := f.contacts.Get(ctx, string(models.NewDocID())); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	page, err := f.contacts.List(ctx, "", 1, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 3 || len(page.Contacts) != 2 || page.TotalPages != 2 {
		t.Fatalf("page = %+v", page)
	}
	search, err := f.contacts.List(ctx, "bet", 1, 10)
	if err != nil || search.Total != 1 || search.Contacts[0].Username != "Beto" {
		t.Fatalf("search = %+v %v", search, err)
	}
}
