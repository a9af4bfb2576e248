package db

import (
	"context"
	"fmt"
)

// schema is applied statement by statement; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         BIGSERIAL PRIMARY KEY,
		username   TEXT NOT NULL UNIQUE,
		nick_name  TEXT NOT NULL DEFAULT '',
		email      TEXT NOT NULL DEFAULT '',
		head_pic   TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS chatrooms (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL,
		kind       TEXT NOT NULL CHECK (kind IN ('direct', 'group')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS chatroom_members (
		chatroom_id BIGINT NOT NULL REFERENCES chatrooms(id) ON DELETE CASCADE,
		user_id     BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		joined_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (chatroom_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chatroom_members_user ON chatroom_members (user_id)`,
	`CREATE TABLE IF NOT EXISTS room_sequences (
		chatroom_id BIGINT PRIMARY KEY,
		last_seq    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_history (
		chatroom_id BIGINT NOT NULL,
		seq         BIGINT NOT NULL,
		sender_id   BIGINT NOT NULL,
		kind        TEXT NOT NULL,
		content     TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (chatroom_id, seq)
	)`,
}

// Migrate creates the tables used by the membership and history stores.
func (db *Database) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}
	return nil
}
