// Package db provides the local SQLite cache for mirrored memos.
package db

import (
	"database/sql"
	"fmt"
)

// schemaStatements are applied in order by Init. Each statement is
// idempotent so Init can run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		url TEXT NOT NULL DEFAULT '',
		synced_at TEXT NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS sync_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		status TEXT NOT NULL DEFAULT 'idle',
		last_sync_at TEXT,
		total_memos INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);`,

	// Seed the singleton status row; it is only ever updated after this.
	`INSERT OR IGNORE INTO sync_status (id, status) VALUES (1, 'idle');`,

	`CREATE INDEX IF NOT EXISTS idx_memos_created_at ON memos(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_memos_updated_at ON memos(updated_at);`,
}

// Init creates the memos and sync_status tables, their indexes, and the
// singleton status row if they do not exist yet.
func Init(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}
