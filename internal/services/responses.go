package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"chatbridge/internal/apperr"
	"chatbridge/internal/db"
	"chatbridge/internal/models"
)

// ResponseInput is the body of a canned response create request.
type ResponseInput struct {
	Atajo    string   `json:"atajo"`
	Text     string   `json:"text"`
	Image    string   `json:"image"`
	Type     string   `json:"type"`
	Status   *bool    `json:"status"`
	Triggers []string `json:"triggers"`
}

// ResponsePatch is a partial update. Only these fields may change.
type ResponsePatch struct {
	Atajo    *string   `json:"atajo"`
	Text     *string   `json:"text"`
	Image    *string   `json:"image"`
	Type     *string   `json:"type"`
	Status   *bool     `json:"status"`
	Triggers *[]string `json:"triggers"`
}

// ResponseService manages canned reply templates.
type ResponseService struct {
	store db.ResponseStore
	now   func() time.Time
}

// NewResponseService creates a new ResponseService.
func NewResponseService(store db.ResponseStore) (*ResponseService, error) {
	if store == nil {
		return nil, fmt.Errorf("response store cannot be nil")
	}
	return &ResponseService{store: store, now: time.Now}, nil
}

func validType(t string) bool {
	switch t {
	case models.ResponseTypeText, models.ResponseTypeImage, models.ResponseTypeMixed:
		return true
	}
	return false
}

// validateContent checks the text/image requirements of a response type.
func validateContent(r *models.Response) error {
	if !validType(r.Type) {
		return apperr.New(apperr.Invalid, "Invalid type. Must be 'text', 'image', or 'mixed'")
	}
	if (r.Type == models.ResponseTypeText || r.Type == models.ResponseTypeMixed) && strings.TrimSpace(r.Text) == "" {
		return apperr.New(apperr.MissingRequiredField, "Text is required for responses of type '"+r.Type+"'")
	}
	if (r.Type == models.ResponseTypeImage || r.Type == models.ResponseTypeMixed) && strings.TrimSpace(r.Image) == "" {
		return apperr.New(apperr.MissingRequiredField, "Image is required for responses of type '"+r.Type+"'")
	}
	return nil
}

func (s *ResponseService) atajoTaken(ctx context.Context, atajo, excludeID string) error {
	existing, err := s.store.FindResponseByAtajo(ctx, atajo)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr("Failed to check atajo", err)
	}
	if string(existing.ID) != excludeID {
		return apperr.New(apperr.Conflict, "A response with this atajo already exists")
	}
	return nil
}

// List returns responses newest first, filtered by a case-insensitive atajo substring.
func (s *ResponseService) List(ctx context.Context, atajo string) ([]models.Response, error) {
	list, err := s.store.ListResponses(ctx, strings.TrimSpace(atajo))
	if err != nil {
		return nil, storeErr("Failed to list responses", err)
	}
	if list == nil {
		list = []models.Response{}
	}
	return list, nil
}

// Get returns one response.
func (s *ResponseService) Get(ctx context.Context, id string) (*models.Response, error) {
	if err := checkID(id, "response"); err != nil {
		return nil, err
	}
	r, err := s.store.GetResponse(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.Wrap(apperr.NotFound, "Response not found", err)
	}
	if err != nil {
		return nil, storeErr("Failed to get response", err)
	}
	return r, nil
}

// Create validates and stores a new response. Atajo is unique.
func (s *ResponseService) Create(ctx context.Context, in ResponseInput) (*models.Response, error) {
	if strings.TrimSpace(in.Atajo) == "" || in.Type == "" {
		return nil, apperr.New(apperr.MissingRequiredField, "Missing required fields: atajo and type are required")
	}
	status := true
	if in.Status != nil {
		status = *in.Status
	}
	triggers := in.Triggers
	if triggers == nil {
		triggers = []string{}
	}
	stamp := nowISO(s.now)
	r := &models.Response{
		ID:        models.NewDocID(),
		Atajo:     strings.TrimSpace(in.Atajo),
		Text:      in.Text,
		Image:     in.Image,
		Type:      in.Type,
		Status:    status,
		Triggers:  triggers,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
	if err := validateContent(r); err != nil {
		return nil, err
	}
	if err := s.atajoTaken(ctx, r.Atajo, ""); err != nil {
		return nil, err
	}
	if err := s.store.CreateResponse(ctx, r); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, apperr.Wrap(apperr.Conflict, "A response with this atajo already exists", err)
		}
		return nil, storeErr("Failed to create response", err)
	}
	log.Info().Str("responseId", string(r.ID)).Str("atajo", r.Atajo).Msg("Response created")
	return r, nil
}

// Update applies a partial update.
func (s *ResponseService) Update(ctx context.Context, id string, patch ResponsePatch) (*models.Response, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Type != nil && !validType(*patch.Type) {
		return nil, apperr.New(apperr.Invalid, "Invalid type. Must be 'text', 'image', or 'mixed'")
	}
	if patch.Atajo != nil {
		atajo := strings.TrimSpace(*patch.Atajo)
		if atajo == "" {
			return nil, apperr.New(apperr.MissingRequiredField, "atajo cannot be empty")
		}
		if err := s.atajoTaken(ctx, atajo, id); err != nil {
			return nil, err
		}
		r.Atajo = atajo
	}
	if patch.Text != nil {
		r.Text = *patch.Text
	}
	if patch.Image != nil {
		r.Image = *patch.Image
	}
	if patch.Type != nil {
		r.Type = *patch.Type
	}
	if patch.Status != nil {
		r.Status = *patch.Status
	}
	if patch.Triggers != nil {
		r.Triggers = *patch.Triggers
		if r.Triggers == nil {
			r.Triggers = []string{}
		}
	}
	if err := validateContent(r); err != nil {
		return nil, err
	}
	r.UpdatedAt = nowISO(s.now)

	if err := s.store.UpdateResponse(ctx, r); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "Response not found", err)
		}
		if errors.Is(err, db.ErrConflict) {
			return nil, apperr.Wrap(apperr.Conflict, "A response with this atajo already exists", err)
		}
		return nil, storeErr("Failed to update response", err)
	}
	return r, nil
}

// Delete removes a response.
func (s *ResponseService) Delete(ctx context.Context, id string) error {
	if err := checkID(id, "response"); err != nil {
		return err
	}
	if err := s.store.DeleteResponse(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperr.Wrap(apperr.NotFound, "Response not found", err)
		}
		return storeErr("Failed to delete response", err)
	}
	log.Info().Str("responseId", id).Msg("Response deleted")
	return nil
}
