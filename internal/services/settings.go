package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"chatbridge/internal/apperr"
	"chatbridge/internal/db"
	"chatbridge/internal/models"
)

// SettingsInput is the body of a settings save.
type SettingsInput struct {
	ProfileImage   string `json:"profileImage"`
	IsConnected    bool   `json:"isConnected"`
	DisplayName    string `json:"displayName"`
	PlatformLink   string `json:"platformLink"`
	Description    string `json:"description"`
	WelcomeMessage string `json:"welcomeMessage"`
	Phone          string `json:"phone"`
	Timestamp      string `json:"timestamp"`
}

// SettingsService reads and upserts the single settings document.
type SettingsService struct {
	store db.SettingsStore
	now   func() time.Time
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(store db.SettingsStore) (*SettingsService, error) {
	if store == nil {
		return nil, fmt.Errorf("settings store cannot be nil")
	}
	return &SettingsService{store: store, now: time.Now}, nil
}

// Get returns the settings document.
func (s *SettingsService) Get(ctx context.Context) (*models.Settings, error) {
	st, err := s.store.GetSettings(ctx, models.SettingsID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.Wrap(apperr.NotFound, "Settings not found", err)
	}
	if err != nil {
		return nil, storeErr("Failed to get settings", err)
	}
	return st, nil
}

// Save upserts the settings document, keeping its original createdAt.
func (s *SettingsService) Save(ctx context.Context, in SettingsInput) (*models.Settings, error) {
	if in.DisplayName == "" || in.Description == "" || in.WelcomeMessage == "" {
		return nil, apperr.New(apperr.MissingRequiredField, "Missing required fields: displayName, description, and welcomeMessage are required")
	}
	stamp := nowISO(s.now)
	createdAt := stamp
	if existing, err := s.store.GetSettings(ctx, models.SettingsID); err == nil {
		createdAt = existing.CreatedAt
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, storeErr("Failed to read settings", err)
	}
	timestamp := in.Timestamp
	if timestamp == "" {
		timestamp = stamp
	}

	st := &models.Settings{
		ID:             models.SettingsID,
		ProfileImage:   in.ProfileImage,
		IsConnected:    in.IsConnected,
		DisplayName:    in.DisplayName,
		PlatformLink:   in.PlatformLink,
		Description:    in.Description,
		WelcomeMessage: in.WelcomeMessage,
		Phone:          in.Phone,
		Timestamp:      timestamp,
		CreatedAt:      createdAt,
		UpdatedAt:      stamp,
	}
	if err := s.store.SaveSettings(ctx, st); err != nil {
		return nil, storeErr("Failed to save settings", err)
	}
	log.Info().Str("displayName", st.DisplayName).Msg("Settings updated")
	return st, nil
}
