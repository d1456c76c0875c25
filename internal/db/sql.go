package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"chatbridge/internal/models"
)

// SQLStore is the Gateway over postgres (lib/pq) or sqlite (modernc).
// Membership changes run in a transaction that first locks the room row, so
// joins and leaves on the same room serialize.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// OpenSQL connects with driver ("postgres" or "sqlite") and applies the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == "sqlite" {
		// sqlite allows a single writer; one pooled connection avoids SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(30 * time.Minute)
	}

	store := &SQLStore{db: conn, driver: driver}
	if err := store.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("driver", driver).Msg("Database connection established successfully.")
	return store, nil
}

// Migrate creates missing tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	log.Info().Int("statements", len(schema)).Msg("Database migration completed successfully.")
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.wrap("ping", s.db.PingContext(ctx))
}

func (s *SQLStore) Close(context.Context) error {
	return s.db.Close()
}

func (s *SQLStore) q(query string) string {
	return s.db.Rebind(query)
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// wrap classifies a driver error into ErrNotFound, ErrConflict or ErrUnavailable.
func (s *SQLStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableID(p *models.DocID) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// joinOrder is a sortable, fixed-width stamp that keeps membership in join order.
func joinOrder() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// --- rooms ---

const roomColumns = `id, name, phone, channel, source, status, opened_at, closed_at, created_at,
	updated_at, created_from, username, contact_id, tags, meta_user_agent, meta_ip_address,
	meta_timestamp, meta_api_version`

type roomRow struct {
	ID            string  `db:"id"`
	Name          string  `db:"name"`
	Phone         string  `db:"phone"`
	Channel       string  `db:"channel"`
	Source        string  `db:"source"`
	Status        string  `db:"status"`
	OpenedAt      string  `db:"opened_at"`
	ClosedAt      *string `db:"closed_at"`
	CreatedAt     string  `db:"created_at"`
	UpdatedAt     string  `db:"updated_at"`
	CreatedFrom   string  `db:"created_from"`
	Username      *string `db:"username"`
	ContactID     *string `db:"contact_id"`
	Tags          string  `db:"tags"`
	UserAgent     string  `db:"meta_user_agent"`
	IPAddress     string  `db:"meta_ip_address"`
	MetaTimestamp string  `db:"meta_timestamp"`
	APIVersion    string  `db:"meta_api_version"`
}

func (r roomRow) model(sockets []string) models.Room {
	if sockets == nil {
		sockets = []string{}
	}
	room := models.Room{
		ID:               models.DocID(r.ID),
		Name:             r.Name,
		Phone:            r.Phone,
		Channel:          r.Channel,
		Source:           r.Source,
		Status:           r.Status,
		ConnectedSockets: sockets,
		OpenedAt:         r.OpenedAt,
		ClosedAt:         r.ClosedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		CreatedFrom:      r.CreatedFrom,
		Username:         r.Username,
		Tags:             r.Tags,
		Metadata: models.RoomMetadata{
			UserAgent:  r.UserAgent,
			IPAddress:  r.IPAddress,
			Timestamp:  r.MetaTimestamp,
			APIVersion: r.APIVersion,
		},
	}
	if r.ContactID != nil {
		room.ContactID = models.DocID(*r.ContactID).Ptr()
	}
	return room
}

func (s *SQLStore) CreateRoom(ctx context.Context, room *models.Room) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO rooms (`+roomColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(room.ID), room.Name, room.Phone, room.Channel, room.Source, room.Status,
		room.OpenedAt, nullable(room.ClosedAt), room.CreatedAt, room.UpdatedAt, room.CreatedFrom,
		nullable(room.Username), nullableID(room.ContactID), room.Tags,
		room.Metadata.UserAgent, room.Metadata.IPAddress, room.Metadata.Timestamp, room.Metadata.APIVersion)
	if err != nil {
		return s.wrap("create room", err)
	}
	for _, socketID := range room.ConnectedSockets {
		if _, err := s.db.ExecContext(ctx, s.q(`INSERT INTO room_sockets (room_id, socket_id, joined_at)
			VALUES (?, ?, ?) ON CONFLICT DO NOTHING`), string(room.ID), socketID, joinOrder()); err != nil {
			return s.wrap("create room", err)
		}
	}
	return nil
}

func (s *SQLStore) getRoom(ctx context.Context, q sqlx.QueryerContext, where string, arg any) (*models.Room, error) {
	var row roomRow
	if err := sqlx.GetContext(ctx, q, &row, s.q(`SELECT `+roomColumns+` FROM rooms WHERE `+where+` ORDER BY created_at LIMIT 1`), arg); err != nil {
		return nil, err
	}
	sockets, err := s.socketsOf(ctx, q, []string{row.ID})
	if err != nil {
		return nil, err
	}
	room := row.model(sockets[row.ID])
	return &room, nil
}

func (s *SQLStore) socketsOf(ctx context.Context, q sqlx.QueryerContext, roomIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT room_id, socket_id FROM room_sockets WHERE room_id IN (?) ORDER BY joined_at, socket_id`, roomIDs)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		RoomID   string `db:"room_id"`
		SocketID string `db:"socket_id"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows, s.q(query), args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.RoomID] = append(out[r.RoomID], r.SocketID)
	}
	return out, nil
}

func (s *SQLStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	room, err := s.getRoom(ctx, s.db, "id = ?", id)
	return room, s.wrap("get room", err)
}

func (s *SQLStore) FindRoomByPhone(ctx context.Context, phone string) (*models.Room, error) {
	room, err := s.getRoom(ctx, s.db, "phone = ?", phone)
	return room, s.wrap("find room by phone", err)
}

func (s *SQLStore) ListRooms(ctx context.Context, skip, limit int) ([]models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, skip)
	}
	var rows []roomRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.q(query), args...); err != nil {
		return nil, s.wrap("list rooms", err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	sockets, err := s.socketsOf(ctx, s.db, ids)
	if err != nil {
		return nil, s.wrap("list rooms", err)
	}
	rooms := make([]models.Room, len(rows))
	for i, r := range rows {
		rooms[i] = r.model(sockets[r.ID])
	}
	return rooms, nil
}

func (s *SQLStore) DeleteRoom(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		n, err := affected(tx.ExecContext(ctx, s.q(`DELETE FROM rooms WHERE id = ?`), id))
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		for _, stmt := range []string{
			`DELETE FROM room_sockets WHERE room_id = ?`,
			`DELETE FROM messages WHERE room_id = ?`,
			`DELETE FROM user_rooms WHERE room_id = ?`,
			`UPDATE wati_messages SET room_id = NULL WHERE room_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
				return err
			}
		}
		return nil
	})
	return s.wrap("delete room", err)
}

// lockRoom touches the room row so concurrent membership transactions on the
// same room queue behind each other.
func (s *SQLStore) lockRoom(ctx context.Context, tx *sqlx.Tx, roomID, stamp string) error {
	n, err := affected(tx.ExecContext(ctx, s.q(`UPDATE rooms SET updated_at = ? WHERE id = ?`), stamp, roomID))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) AddRoomSocket(ctx context.Context, roomID, socketID string, now time.Time) (*models.Room, error) {
	stamp := models.ISOTime(now)
	var room *models.Room
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.lockRoom(ctx, tx, roomID, stamp); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO room_sockets (room_id, socket_id, joined_at)
			VALUES (?, ?, ?) ON CONFLICT DO NOTHING`), roomID, socketID, joinOrder()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE rooms SET status = ?, opened_at = ?, closed_at = NULL
			WHERE id = ? AND status <> ?`), models.RoomStatusOpen, stamp, roomID, models.RoomStatusOpen); err != nil {
			return err
		}
		var err error
		room, err = s.getRoom(ctx, tx, "id = ?", roomID)
		return err
	})
	if err != nil {
		return nil, s.wrap("add room socket", err)
	}
	return room, nil
}

func (s *SQLStore) RemoveRoomSocket(ctx context.Context, roomID, socketID string, now time.Time) (*models.Room, error) {
	stamp := models.ISOTime(now)
	var room *models.Room
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.lockRoom(ctx, tx, roomID, stamp); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM room_sockets WHERE room_id = ? AND socket_id = ?`), roomID, socketID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE rooms SET status = ?, closed_at = ?
			WHERE id = ? AND status = ? AND NOT EXISTS (SELECT 1 FROM room_sockets WHERE room_id = ?)`),
			models.RoomStatusClosed, stamp, roomID, models.RoomStatusOpen, roomID); err != nil {
			return err
		}
		var err error
		room, err = s.getRoom(ctx, tx, "id = ?", roomID)
		return err
	})
	if err != nil {
		return nil, s.wrap("remove room socket", err)
	}
	return room, nil
}

func (s *SQLStore) RoomIDsWithSocket(ctx context.Context, socketID string) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, s.db, &ids, s.q(`SELECT room_id FROM room_sockets WHERE socket_id = ? ORDER BY room_id`), socketID)
	return ids, s.wrap("rooms with socket", err)
}

// --- users ---

const userColumns = `id, phone, socket_id, is_connected, connected_at, disconnected_at, role, created_at, updated_at`

func (s *SQLStore) attachUserRooms(ctx context.Context, users []models.User) error {
	if len(users) == 0 {
		return nil
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = string(u.ID)
	}
	query, args, err := sqlx.In(`SELECT user_id, room_id FROM user_rooms WHERE user_id IN (?) ORDER BY room_id`, ids)
	if err != nil {
		return err
	}
	var rows []struct {
		UserID string `db:"user_id"`
		RoomID string `db:"room_id"`
	}
	if err := sqlx.SelectContext(ctx, s.db, &rows, s.q(query), args...); err != nil {
		return err
	}
	byUser := make(map[string][]string, len(users))
	for _, r := range rows {
		byUser[r.UserID] = append(byUser[r.UserID], r.RoomID)
	}
	for i := range users {
		users[i].Rooms = byUser[string(users[i].ID)]
		if users[i].Rooms == nil {
			users[i].Rooms = []string{}
		}
	}
	return nil
}

func (s *SQLStore) selectUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	var users []models.User
	if err := sqlx.SelectContext(ctx, s.db, &users, s.q(query), args...); err != nil {
		return nil, err
	}
	if err := s.attachUserRooms(ctx, users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *SQLStore) UpsertUserByPhone(ctx context.Context, phone string, now time.Time) (*models.User, error) {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO users (id, phone, is_connected, role, created_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (phone) DO NOTHING`),
		string(models.NewDocID()), phone, false, models.DefaultUserRole, models.ISOTime(now))
	if err != nil {
		return nil, s.wrap("upsert user", err)
	}
	users, err := s.selectUsers(ctx, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone)
	if err != nil {
		return nil, s.wrap("upsert user", err)
	}
	if len(users) == 0 {
		return nil, s.wrap("upsert user", ErrNotFound)
	}
	return &users[0], nil
}

func (s *SQLStore) FindUserBySocket(ctx context.Context, socketID string) (*models.User, error) {
	users, err := s.selectUsers(ctx, `SELECT `+userColumns+` FROM users WHERE socket_id = ? ORDER BY connected_at DESC LIMIT 1`, socketID)
	if err != nil {
		return nil, s.wrap("find user by socket", err)
	}
	if len(users) == 0 {
		return nil, s.wrap("find user by socket", ErrNotFound)
	}
	return &users[0], nil
}

func (s *SQLStore) UsersBySockets(ctx context.Context, socketIDs []string) ([]models.User, error) {
	if len(socketIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE socket_id IN (?)`, socketIDs)
	if err != nil {
		return nil, s.wrap("users by sockets", err)
	}
	users, err := s.selectUsers(ctx, query, args...)
	return users, s.wrap("users by sockets", err)
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.selectUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	return users, s.wrap("list users", err)
}

func (s *SQLStore) MarkUserConnected(ctx context.Context, userID, socketID string, now time.Time) error {
	stamp := models.ISOTime(now)
	n, err := affected(s.db.ExecContext(ctx, s.q(`UPDATE users SET socket_id = ?, is_connected = ?, connected_at = ?,
		disconnected_at = NULL, updated_at = ? WHERE id = ?`), socketID, true, stamp, stamp, userID))
	if err == nil && n == 0 {
		err = ErrNotFound
	}
	return s.wrap("mark user connected", err)
}

func (s *SQLStore) MarkUserDisconnected(ctx context.Context, userID, socketID string, now time.Time) (bool, error) {
	stamp := models.ISOTime(now)
	query := `UPDATE users SET socket_id = NULL, is_connected = ?, disconnected_at = ?, updated_at = ? WHERE id = ?`
	args := []any{false, stamp, stamp, userID}
	if socketID != "" {
		query += ` AND socket_id = ?`
		args = append(args, socketID)
	}
	n, err := affected(s.db.ExecContext(ctx, s.q(query), args...))
	if err != nil {
		return false, s.wrap("mark user disconnected", err)
	}
	return n > 0, nil
}

func (s *SQLStore) AddUserRoom(ctx context.Context, userID, roomID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO user_rooms (user_id, room_id) VALUES (?, ?) ON CONFLICT DO NOTHING`), userID, roomID)
	return s.wrap("add user room", err)
}
