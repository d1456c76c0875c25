package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"chatbridge/internal/models"
)

// --- messages ---

const messageColumns = `id, room_id, content, sent_at, socket_id, username, msg_type, is_welcome, is_read, phone, contact_id, tags`

func (s *SQLStore) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(msg.ID), msg.RoomID, msg.Content, string(msg.Timestamp), msg.SocketID, msg.Username,
		msg.Type, msg.Welcome, msg.Read, nullable(msg.Phone), nullableID(msg.ContactID), nullable(msg.Tags))
	return s.wrap("insert message", err)
}

func (s *SQLStore) MessagesByRoom(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := sqlx.SelectContext(ctx, s.db, &msgs, s.q(`SELECT `+messageColumns+` FROM messages WHERE room_id = ? ORDER BY sent_at, id`), roomID)
	return msgs, s.wrap("messages by room", err)
}

func (s *SQLStore) CountMessagesByRoom(ctx context.Context, roomID string) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, s.db, &n, s.q(`SELECT COUNT(*) FROM messages WHERE room_id = ?`), roomID)
	return n, s.wrap("count messages", err)
}

const watiColumns = `id, message_id, room_id, phone, username, message, type_message, conversation_id, ticket_id, sent_date, contact_id, tags, created_at`

func (s *SQLStore) InsertWatiMessage(ctx context.Context, msg *models.WatiMessage) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO wati_messages (`+watiColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(msg.ID), msg.MessageID, nullableID(msg.RoomID), msg.Phone, msg.Username, msg.Message,
		msg.TypeMessage, msg.ConversationID, msg.TicketID, string(msg.Date), nullableID(msg.ContactID),
		nullable(msg.Tags), msg.CreatedAt)
	return s.wrap("insert wati message", err)
}

func (s *SQLStore) WatiMessagesForRoom(ctx context.Context, roomID, phone string) ([]models.WatiMessage, error) {
	var msgs []models.WatiMessage
	err := sqlx.SelectContext(ctx, s.db, &msgs, s.q(`SELECT `+watiColumns+` FROM wati_messages
		WHERE room_id = ? OR (room_id IS NULL AND phone = ?) ORDER BY sent_date, message_id`), roomID, phone)
	return msgs, s.wrap("wati messages for room", err)
}

func (s *SQLStore) CountWatiMessagesByPhone(ctx context.Context, phone string) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, s.db, &n, s.q(`SELECT COUNT(*) FROM wati_messages WHERE phone = ?`), phone)
	return n, s.wrap("count wati messages", err)
}

func (s *SQLStore) BindOrphanWatiMessages(ctx context.Context, phone, roomID string) (int64, error) {
	n, err := affected(s.db.ExecContext(ctx, s.q(`UPDATE wati_messages SET room_id = ? WHERE room_id IS NULL AND phone = ?`), roomID, phone))
	return n, s.wrap("bind orphan wati messages", err)
}

// --- contacts ---

const contactColumns = `id, source, phone, username, notes, tags, created_at, updated_at`

func (s *SQLStore) CreateContact(ctx context.Context, c *models.Contact) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO contacts (`+contactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		string(c.ID), c.Source, c.Phone, c.Username, c.Notes, c.Tags, c.CreatedAt, nullable(c.UpdatedAt))
	return s.wrap("create contact", err)
}

func (s *SQLStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	var c models.Contact
	if err := sqlx.GetContext(ctx, s.db, &c, s.q(`SELECT `+contactColumns+` FROM contacts WHERE id = ?`), id); err != nil {
		return nil, s.wrap("get contact", err)
	}
	return &c, nil
}

func (s *SQLStore) FindContactByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	var c models.Contact
	if err := sqlx.GetContext(ctx, s.db, &c, s.q(`SELECT `+contactColumns+` FROM contacts WHERE phone = ?`), phone); err != nil {
		return nil, s.wrap("find contact by phone", err)
	}
	return &c, nil
}

func (s *SQLStore) ContactTaken(ctx context.Context, phone, username, excludeID string) (string, error) {
	var rows []struct {
		Phone    string `db:"phone"`
		Username string `db:"username"`
	}
	err := sqlx.SelectContext(ctx, s.db, &rows, s.q(`SELECT phone, username FROM contacts
		WHERE (phone = ? OR username = ?) AND id <> ?`), phone, username, excludeID)
	if err != nil {
		return "", s.wrap("contact taken", err)
	}
	for _, r := range rows {
		if phone != "" && r.Phone == phone {
			return "phone", nil
		}
	}
	for _, r := range rows {
		if username != "" && r.Username == username {
			return "username", nil
		}
	}
	return "", nil
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

func (s *SQLStore) ListContacts(ctx context.Context, search string, skip, limit int) ([]models.Contact, int64, error) {
	where := ``
	args := []any{}
	if search != "" {
		where = ` WHERE LOWER(phone) LIKE ? ESCAPE '\' OR LOWER(username) LIKE ? ESCAPE '\'`
		p := likePattern(search)
		args = append(args, p, p)
	}

	var total int64
	if err := sqlx.GetContext(ctx, s.db, &total, s.q(`SELECT COUNT(*) FROM contacts`+where), args...); err != nil {
		return nil, 0, s.wrap("list contacts", err)
	}

	query := `SELECT ` + contactColumns + ` FROM contacts` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, skip)
	}
	var contacts []models.Contact
	if err := sqlx.SelectContext(ctx, s.db, &contacts, s.q(query), args...); err != nil {
		return nil, 0, s.wrap("list contacts", err)
	}
	return contacts, total, nil
}

func (s *SQLStore) UpdateContact(ctx context.Context, c *models.Contact) error {
	n, err := affected(s.db.ExecContext(ctx, s.q(`UPDATE contacts SET source = ?, phone = ?, username = ?, notes = ?,
		tags = ?, updated_at = ? WHERE id = ?`), c.Source, c.Phone, c.Username, c.Notes, c.Tags, nullable(c.UpdatedAt), string(c.ID)))
	if err == nil && n == 0 {
		err = ErrNotFound
	}
	return s.wrap("update contact", err)
}

// --- contact fan-out ---

func tableOf(coll Collection) (string, error) {
	switch coll {
	case Rooms:
		return "rooms", nil
	case Messages:
		return "messages", nil
	case WatiMessages:
		return "wati_messages", nil
	}
	return "", fmt.Errorf("unknown collection %q", coll)
}

func (s *SQLStore) LinkContactByPhone(ctx context.Context, coll Collection, phone, contactID, username string) (int64, error) {
	table, err := tableOf(coll)
	if err != nil {
		return 0, err
	}
	var n int64
	if coll == Rooms {
		n, err = affected(s.db.ExecContext(ctx, s.q(`UPDATE rooms SET contact_id = ?, username = ?
			WHERE phone = ? AND (contact_id IS DISTINCT FROM ? OR username IS DISTINCT FROM ?)`),
			contactID, username, phone, contactID, username))
	} else {
		n, err = affected(s.db.ExecContext(ctx, s.q(`UPDATE `+table+` SET contact_id = ?
			WHERE phone = ? AND contact_id IS DISTINCT FROM ?`), contactID, phone, contactID))
	}
	return n, s.wrap("link contact "+string(coll), err)
}

func (s *SQLStore) ReplacePhone(ctx context.Context, coll Collection, oldPhone, newPhone string) (int64, error) {
	table, err := tableOf(coll)
	if err != nil {
		return 0, err
	}
	n, err := affected(s.db.ExecContext(ctx, s.q(`UPDATE `+table+` SET phone = ? WHERE phone = ?`), newPhone, oldPhone))
	return n, s.wrap("replace phone "+string(coll), err)
}

func (s *SQLStore) RenameContactRooms(ctx context.Context, contactID, username string) (int64, error) {
	n, err := affected(s.db.ExecContext(ctx, s.q(`UPDATE rooms SET username = ?
		WHERE contact_id = ? AND username IS DISTINCT FROM ?`), username, contactID, username))
	return n, s.wrap("rename contact rooms", err)
}

func (s *SQLStore) ReplaceTags(ctx context.Context, coll Collection, contactID, tags string) (int64, error) {
	table, err := tableOf(coll)
	if err != nil {
		return 0, err
	}
	n, err := affected(s.db.ExecContext(ctx, s.q(`UPDATE `+table+` SET tags = ?
		WHERE contact_id = ? AND tags IS DISTINCT FROM ?`), tags, contactID, tags))
	return n, s.wrap("replace tags "+string(coll), err)
}
