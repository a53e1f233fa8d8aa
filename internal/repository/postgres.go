package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		phone TEXT UNIQUE,
		email TEXT,
		anonymous BOOLEAN NOT NULL DEFAULT TRUE,
		fingerprint_hash TEXT,
		recovery_code_hash TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		deletion_due_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_users_phone ON users(phone);
	CREATE INDEX IF NOT EXISTS idx_users_fingerprint ON users(fingerprint_hash);

	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		device_name TEXT NOT NULL,
		platform TEXT NOT NULL,
		push_token TEXT,
		registered_at TIMESTAMP NOT NULL DEFAULT NOW(),
		last_seen_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_devices_user_id ON devices(user_id);

	CREATE TABLE IF NOT EXISTS pairing_requests (
		id TEXT PRIMARY KEY,
		token_hash TEXT NOT NULL UNIQUE,
		device_id TEXT NOT NULL,
		device_name TEXT NOT NULL,
		device_type TEXT NOT NULL,
		requester_id TEXT,
		approved_by TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pairing_token_hash ON pairing_requests(token_hash);
	CREATE INDEX IF NOT EXISTS idx_pairing_expires ON pairing_requests(expires_at);

	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		remote_id TEXT,
		display_name TEXT NOT NULL,
		phone TEXT,
		normalized_phone TEXT,
		email TEXT,
		version BIGINT NOT NULL DEFAULT 1,
		last_updated_by TEXT NOT NULL,
		last_updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		pending_sync BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_contacts_user_id ON contacts(user_id);
	CREATE INDEX IF NOT EXISTS idx_contacts_remote ON contacts(user_id, remote_id);
	CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(user_id, normalized_phone);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		device_id TEXT NOT NULL,
		remote_id TEXT,
		address TEXT NOT NULL,
		body TEXT NOT NULL,
		direction TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_occurred ON messages(user_id, occurred_at);

	CREATE TABLE IF NOT EXISTS key_exchanges (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		requesting_device TEXT NOT NULL,
		target_device TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		encrypted_response BYTEA,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		fulfilled_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_key_exchanges_user ON key_exchanges(user_id);
	CREATE INDEX IF NOT EXISTS idx_key_exchanges_target ON key_exchanges(user_id, target_device, status);
	CREATE INDEX IF NOT EXISTS idx_key_exchanges_created ON key_exchanges(created_at);
	`

	_, err := db.Exec(schema)
	return err
}
