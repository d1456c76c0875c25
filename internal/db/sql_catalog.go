package db

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"chatbridge/internal/models"
)

// --- responses ---

const responseColumns = `id, atajo, text, image, type, status, triggers, created_at, updated_at`

type responseRow struct {
	ID        string `db:"id"`
	Atajo     string `db:"atajo"`
	Text      string `db:"text"`
	Image     string `db:"image"`
	Type      string `db:"type"`
	Status    bool   `db:"status"`
	Triggers  string `db:"triggers"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r responseRow) model() models.Response {
	triggers := []string{}
	if r.Triggers != "" {
		_ = json.Unmarshal([]byte(r.Triggers), &triggers)
	}
	return models.Response{
		ID:        models.DocID(r.ID),
		Atajo:     r.Atajo,
		Text:      r.Text,
		Image:     r.Image,
		Type:      r.Type,
		Status:    r.Status,
		Triggers:  triggers,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func encodeTriggers(triggers []string) string {
	if triggers == nil {
		triggers = []string{}
	}
	b, _ := json.Marshal(triggers)
	return string(b)
}

func (s *SQLStore) ListResponses(ctx context.Context, atajo string) ([]models.Response, error) {
	query := `SELECT ` + responseColumns + ` FROM responses`
	args := []any{}
	if atajo != "" {
		query += ` WHERE LOWER(atajo) LIKE ? ESCAPE '\'`
		args = append(args, likePattern(atajo))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	var rows []responseRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.q(query), args...); err != nil {
		return nil, s.wrap("list responses", err)
	}
	out := make([]models.Response, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (s *SQLStore) getResponse(ctx context.Context, where, arg string) (*models.Response, error) {
	var row responseRow
	if err := sqlx.GetContext(ctx, s.db, &row, s.q(`SELECT `+responseColumns+` FROM responses WHERE `+where), arg); err != nil {
		return nil, err
	}
	r := row.model()
	return &r, nil
}

func (s *SQLStore) GetResponse(ctx context.Context, id string) (*models.Response, error) {
	r, err := s.getResponse(ctx, "id = ?", id)
	return r, s.wrap("get response", err)
}

func (s *SQLStore) FindResponseByAtajo(ctx context.Context, atajo string) (*models.Response, error) {
	r, err := s.getResponse(ctx, "atajo = ?", atajo)
	return r, s.wrap("find response by atajo", err)
}

func (s *SQLStore) CreateResponse(ctx context.Context, r *models.Response) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO responses (`+responseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(r.ID), r.Atajo, r.Text, r.Image, r.Type, r.Status, encodeTriggers(r.Triggers), r.CreatedAt, r.UpdatedAt)
	return s.wrap("create response", err)
}

func (s *SQLStore) UpdateResponse(ctx context.Context, r *models.Response) error {
	n, err := affected(s.db.ExecContext(ctx, s.q(`UPDATE responses SET atajo = ?, text = ?, image = ?, type = ?,
		status = ?, triggers = ?, updated_at = ? WHERE id = ?`),
		r.Atajo, r.Text, r.Image, r.Type, r.Status, encodeTriggers(r.Triggers), r.UpdatedAt, string(r.ID)))
	if err == nil && n == 0 {
		err = ErrNotFound
	}
	return s.wrap("update response", err)
}

func (s *SQLStore) DeleteResponse(ctx context.Context, id string) error {
	n, err := affected(s.db.ExecContext(ctx, s.q(`DELETE FROM responses WHERE id = ?`), id))
	if err == nil && n == 0 {
		err = ErrNotFound
	}
	return s.wrap("delete response", err)
}

// --- settings ---

const settingsColumns = `id, profile_image, is_connected, display_name, platform_link, description, welcome_message, phone, saved_at, created_at, updated_at`

func (s *SQLStore) GetSettings(ctx context.Context, id string) (*models.Settings, error) {
	var st models.Settings
	if err := sqlx.GetContext(ctx, s.db, &st, s.q(`SELECT `+settingsColumns+` FROM settings WHERE id = ?`), id); err != nil {
		return nil, s.wrap("get settings", err)
	}
	return &st, nil
}

func (s *SQLStore) SaveSettings(ctx context.Context, st *models.Settings) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			profile_image = excluded.profile_image,
			is_connected = excluded.is_connected,
			display_name = excluded.display_name,
			platform_link = excluded.platform_link,
			description = excluded.description,
			welcome_message = excluded.welcome_message,
			phone = excluded.phone,
			saved_at = excluded.saved_at,
			updated_at = excluded.updated_at`),
		string(st.ID), st.ProfileImage, st.IsConnected, st.DisplayName, st.PlatformLink, st.Description,
		st.WelcomeMessage, st.Phone, st.Timestamp, st.CreatedAt, st.UpdatedAt)
	return s.wrap("save settings", err)
}
