// Package store is the durable side of the system: servers, channels,
// messages, memberships, users, notifications and videos over sqlite.
// Functions take the *sqlx.DB as their first argument; callers own the
// connection lifecycle.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Init opens the database at dbPath and ensures the schema exists.
func Init(dbPath string) (*sqlx.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// InitMemory opens a fresh in-memory database. Used by tests.
func InitMemory() (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func createTables(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS servers (
	    id TEXT PRIMARY KEY,
	    name TEXT NOT NULL,
	    owner_id TEXT NOT NULL,
	    moderation_policy TEXT NOT NULL DEFAULT 'log',
	    created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channels (
	    id TEXT PRIMARY KEY,
	    server_id TEXT NOT NULL REFERENCES servers(id),
	    name TEXT NOT NULL,
	    type TEXT NOT NULL,
	    position INTEGER NOT NULL DEFAULT 0,
	    slow_mode_seconds INTEGER NOT NULL DEFAULT 0,
	    private BOOLEAN NOT NULL DEFAULT FALSE,
	    created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
	    id TEXT PRIMARY KEY,
	    channel_id TEXT NOT NULL REFERENCES channels(id),
	    author_id TEXT NOT NULL,
	    content TEXT NOT NULL,
	    type TEXT NOT NULL,
	    reply_to TEXT,
	    attachment TEXT,
	    reactions TEXT,
	    mentions TEXT,
	    edited BOOLEAN NOT NULL DEFAULT FALSE,
	    pinned BOOLEAN NOT NULL DEFAULT FALSE,
	    expires_at TIMESTAMP,
	    scheduled_for TIMESTAMP,
	    created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_author ON messages(author_id, created_at);

	CREATE TABLE IF NOT EXISTS memberships (
	    user_id TEXT NOT NULL,
	    server_id TEXT NOT NULL REFERENCES servers(id),
	    role TEXT NOT NULL,
	    joined_at TIMESTAMP NOT NULL,
	    PRIMARY KEY (user_id, server_id)
	);

	CREATE TABLE IF NOT EXISTS users (
	    id TEXT PRIMARY KEY,
	    username TEXT NOT NULL UNIQUE,
	    message_count INTEGER NOT NULL DEFAULT 0,
	    xp INTEGER NOT NULL DEFAULT 0,
	    level INTEGER NOT NULL DEFAULT 0,
	    token_balance INTEGER NOT NULL DEFAULT 0,
	    created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS presences (
	    user_id TEXT PRIMARY KEY,
	    status TEXT NOT NULL,
	    invisible BOOLEAN NOT NULL DEFAULT FALSE,
	    updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notification_prefs (
	    user_id TEXT PRIMARY KEY,
	    mentions_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	    reactions_enabled BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS notifications (
	    id TEXT PRIMARY KEY,
	    user_id TEXT NOT NULL,
	    kind TEXT NOT NULL,
	    payload TEXT NOT NULL,
	    read BOOLEAN NOT NULL DEFAULT FALSE,
	    created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);

	CREATE TABLE IF NOT EXISTS videos (
	    id TEXT PRIMARY KEY,
	    title TEXT NOT NULL,
	    author_id TEXT NOT NULL,
	    views INTEGER NOT NULL DEFAULT 0,
	    likes INTEGER NOT NULL DEFAULT 0,
	    comments INTEGER NOT NULL DEFAULT 0,
	    shares INTEGER NOT NULL DEFAULT 0,
	    created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_videos_created ON videos(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
