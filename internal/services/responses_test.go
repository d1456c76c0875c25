package services

import (
	"context"
	"testing"

	"chatbridge/internal/apperr"
	"chatbridge/internal/models"
)

func newResponseService(t *testing.T) *ResponseService {
	t.Helper()
	f := newFixture(t)
	s, err := NewResponseService(f.store)
	if err != nil {
		t.Fatalf("NewResponseService: %v", err)
	}
	return s
}

func TestCreateResponseValidation(t *testing.T) {
	s := newResponseService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   ResponseInput
		kind apperr.Kind
	}{
		{"missing atajo", ResponseInput{Type: "text", Text: "x"}, apperr.MissingRequiredField},
		{"unknown type", ResponseInput{Atajo: "a", Type: "video"}, apperr.Invalid},
		{"text without text", ResponseInput{Atajo: "a", Type: "text"}, apperr.MissingRequiredField},
		{"image without image", ResponseInput{Atajo: "a", Type: "image"}, apperr.MissingRequiredField},
		{"mixed without image", ResponseInput{Atajo: "a", Type: "mixed", Text: "x"}, apperr.MissingRequiredField},
	}
	for _, tc := range cases {
		if _, err := s.Create(ctx, tc.in); !apperr.Is(err, tc.kind) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.kind, err)
		}
	}

	r, err := s.Create(ctx, ResponseInput{Atajo: " saludo ", Type: "mixed", Text: "Hola", Image: "https://cdn/x.jpg"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Atajo != "saludo" || !r.Status || r.Triggers == nil {
		t.Fatalf("defaults not applied: %+v", r)
	}
	if _, err := s.Create(ctx, ResponseInput{Atajo: "saludo", Type: "text", Text: "otra"}); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestResponseLifecycle(t *testing.T) {
	s := newResponseService(t)
	ctx := context.Background()
	off := false
	a, err := s.Create(ctx, ResponseInput{Atajo: "precio_1", Type: "text", Text: "Cuesta 10", Status: &off})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := s.Create(ctx, ResponseInput{Atajo: "horario", Type: "text", Text: "9 a 18", Triggers: []string{"hora"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := s.List(ctx, "PRECIO_")
	if err != nil || len(list) != 1 || list[0].ID != a.ID || list[0].Status {
		t.Fatalf("List = %+v %v", list, err)
	}

	taken := "horario"
	if _, err := s.Update(ctx, string(a.ID), ResponsePatch{Atajo: &taken}); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	image := models.ResponseTypeImage
	if _, err := s.Update(ctx, string(a.ID), ResponsePatch{Type: &image}); !apperr.Is(err, apperr.MissingRequiredField) {
		t.Fatalf("switching to image without an image: got %v", err)
	}
	text := "Cuesta 12"
	triggers := []string{"precio", "costo"}
	updated, err := s.Update(ctx, string(a.ID), ResponsePatch{Text: &text, Triggers: &triggers})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Text != text || len(updated.Triggers) != 2 || updated.Atajo != "precio_1" {
		t.Fatalf("updated = %+v", updated)
	}

	if err := s.Delete(ctx, string(b.ID)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, string(b.ID)); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, string(b.ID)); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("second delete: expected NotFound, got %v", err)
	}
	if err := s.Delete(ctx, "zzz"); !apperr.Is(err, apperr.InvalidID) {
		t.Fatalf("expected InvalidId, got %v", err)
	}
}
