package storage

import (
	"context"
	"database/sql"
)

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL,
			allow_notify_inserts INTEGER NOT NULL DEFAULT 1,
			created_at_ms BIGINT NOT NULL,
			updated_at_ms BIGINT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(username);`,

		`CREATE TABLE IF NOT EXISTS auth_tokens (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			device_info TEXT,
			created_at_ms BIGINT NOT NULL,
			expires_at_ms BIGINT NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_auth_tokens_user ON auth_tokens(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_auth_tokens_expires ON auth_tokens(expires_at_ms);`,

		`CREATE TABLE IF NOT EXISTS call_requests (
			id TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			call_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at_ms BIGINT NOT NULL,
			expires_at_ms BIGINT NOT NULL,
			accepted_at_ms BIGINT,
			rejected_at_ms BIGINT,
			canceled_at_ms BIGINT,
			metadata_json TEXT,
			FOREIGN KEY(requester_id) REFERENCES users(id),
			FOREIGN KEY(recipient_id) REFERENCES users(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_requests_recipient_status ON call_requests(recipient_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_call_requests_status_expires ON call_requests(status, expires_at_ms);`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			meta_json TEXT,
			created_at_ms BIGINT NOT NULL,
			FOREIGN KEY(recipient_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_recipient_created_at_ms ON notifications(recipient_id, created_at_ms);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
