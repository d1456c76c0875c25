package db

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		opened_at TEXT NOT NULL DEFAULT '',
		closed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT '',
		created_from TEXT NOT NULL DEFAULT '',
		username TEXT,
		contact_id TEXT,
		tags TEXT NOT NULL DEFAULT '',
		meta_user_agent TEXT NOT NULL DEFAULT '',
		meta_ip_address TEXT NOT NULL DEFAULT '',
		meta_timestamp TEXT NOT NULL DEFAULT '',
		meta_api_version TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS rooms_phone_idx ON rooms (phone)`,
	`CREATE INDEX IF NOT EXISTS rooms_contact_idx ON rooms (contact_id)`,
	`CREATE TABLE IF NOT EXISTS room_sockets (
		room_id TEXT NOT NULL,
		socket_id TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		PRIMARY KEY (room_id, socket_id)
	)`,
	`CREATE INDEX IF NOT EXISTS room_sockets_socket_idx ON room_sockets (socket_id)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		phone TEXT NOT NULL UNIQUE,
		socket_id TEXT,
		is_connected BOOLEAN NOT NULL DEFAULT FALSE,
		connected_at TEXT,
		disconnected_at TEXT,
		role TEXT NOT NULL DEFAULT 'user',
		created_at TEXT NOT NULL,
		updated_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS users_socket_idx ON users (socket_id)`,
	`CREATE TABLE IF NOT EXISTS user_rooms (
		user_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		PRIMARY KEY (user_id, room_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		sent_at TEXT NOT NULL,
		socket_id TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		msg_type TEXT NOT NULL DEFAULT 'text',
		is_welcome BOOLEAN NOT NULL DEFAULT FALSE,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		phone TEXT,
		contact_id TEXT,
		tags TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS messages_room_idx ON messages (room_id, sent_at)`,
	`CREATE INDEX IF NOT EXISTS messages_phone_idx ON messages (phone)`,
	`CREATE TABLE IF NOT EXISTS wati_messages (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL DEFAULT '',
		room_id TEXT,
		phone TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		type_message TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL DEFAULT '',
		ticket_id TEXT NOT NULL DEFAULT '',
		sent_date TEXT NOT NULL DEFAULT '',
		contact_id TEXT,
		tags TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS wati_messages_phone_idx ON wati_messages (phone)`,
	`CREATE INDEX IF NOT EXISTS wati_messages_room_idx ON wati_messages (room_id)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		phone TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL UNIQUE,
		notes TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS responses (
		id TEXT PRIMARY KEY,
		atajo TEXT NOT NULL UNIQUE,
		text TEXT NOT NULL DEFAULT '',
		image TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		status BOOLEAN NOT NULL DEFAULT TRUE,
		triggers TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		id TEXT PRIMARY KEY,
		profile_image TEXT NOT NULL DEFAULT '',
		is_connected BOOLEAN NOT NULL DEFAULT FALSE,
		display_name TEXT NOT NULL DEFAULT '',
		platform_link TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		welcome_message TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		saved_at TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
}
