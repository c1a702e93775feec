package repository

import (
	"context"
	"database/sql"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS meetings (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS tts_messages (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		meeting_id UUID REFERENCES meetings(id) ON DELETE SET NULL,
		text_input TEXT NOT NULL,
		text_length INTEGER NOT NULL,
		voice_used TEXT NOT NULL,
		language TEXT,
		speed DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		pitch DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sent', 'failed')),
		error_message TEXT,
		audio_duration_seconds INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tts_messages_user_created ON tts_messages (user_id, created_at DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS meetings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS tts_messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		meeting_id TEXT REFERENCES meetings(id) ON DELETE SET NULL,
		text_input TEXT NOT NULL,
		text_length INTEGER NOT NULL,
		voice_used TEXT NOT NULL,
		language TEXT,
		speed REAL NOT NULL DEFAULT 1.0,
		pitch REAL NOT NULL DEFAULT 1.0,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sent', 'failed')),
		error_message TEXT,
		audio_duration_seconds INTEGER,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tts_messages_user_created ON tts_messages (user_id, created_at DESC)`,
}

// Migrate creates the ledger tables when they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var stmts []string
	switch driver {
	case "postgres":
		stmts = postgresSchema
	case "sqlite":
		stmts = sqliteSchema
	default:
		return fmt.Errorf("unsupported driver %q", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
