package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Users: durable identities owning synced data
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		phone TEXT UNIQUE,
		email TEXT,
		anonymous INTEGER NOT NULL DEFAULT 1,
		fingerprint_hash TEXT,
		recovery_code_hash TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deletion_due_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_users_phone ON users(phone);
	CREATE INDEX IF NOT EXISTS idx_users_fingerprint ON users(fingerprint_hash);

	-- Devices: owned by exactly one user at a time
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		device_name TEXT NOT NULL,
		platform TEXT NOT NULL,
		push_token TEXT,
		registered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_devices_user_id ON devices(user_id);

	-- Pairing requests: short-lived single-use join tokens
	CREATE TABLE IF NOT EXISTS pairing_requests (
		id TEXT PRIMARY KEY,
		token_hash TEXT NOT NULL UNIQUE,
		device_id TEXT NOT NULL,
		device_name TEXT NOT NULL,
		device_type TEXT NOT NULL,
		requester_id TEXT,
		approved_by TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pairing_token_hash ON pairing_requests(token_hash);
	CREATE INDEX IF NOT EXISTS idx_pairing_expires ON pairing_requests(expires_at);

	-- Contacts: bidirectionally synced, versioned
	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		remote_id TEXT,
		display_name TEXT NOT NULL,
		phone TEXT,
		normalized_phone TEXT,
		email TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		last_updated_by TEXT NOT NULL,
		last_updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		pending_sync INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_contacts_user_id ON contacts(user_id);
	CREATE INDEX IF NOT EXISTS idx_contacts_remote ON contacts(user_id, remote_id);
	CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(user_id, normalized_phone);

	-- Messages: mirrored SMS entries, phone is the source of truth
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		device_id TEXT NOT NULL,
		remote_id TEXT,
		address TEXT NOT NULL,
		body TEXT NOT NULL,
		direction TEXT NOT NULL,
		occurred_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_occurred ON messages(user_id, occurred_at);

	-- Key exchanges: opaque encrypted payload brokering between devices
	CREATE TABLE IF NOT EXISTS key_exchanges (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		requesting_device TEXT NOT NULL,
		target_device TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		encrypted_response BLOB,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		fulfilled_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_key_exchanges_user ON key_exchanges(user_id);
	CREATE INDEX IF NOT EXISTS idx_key_exchanges_target ON key_exchanges(user_id, target_device, status);
	CREATE INDEX IF NOT EXISTS idx_key_exchanges_created ON key_exchanges(created_at);
	`

	_, err := db.Exec(schema)
	return err
}
