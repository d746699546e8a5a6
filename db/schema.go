// ABOUTME: Database schema definitions for CDR storage and sync state
// ABOUTME: Handles SQLite table creation and initialization
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS cdr_records (
	call_id TEXT PRIMARY KEY,
	start_time DATETIME NOT NULL,
	direction TEXT,
	call_type TEXT,
	call_outcome TEXT,
	calling_number TEXT,
	called_number TEXT,
	user_email TEXT,
	location_name TEXT,
	correlation_id TEXT,
	org_id TEXT,
	client_type TEXT,
	duration INTEGER,
	answered BOOLEAN,
	raw_json TEXT NOT NULL,
	imported_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_cdr_records_start_time ON cdr_records(start_time);
CREATE INDEX IF NOT EXISTS idx_cdr_records_user_email ON cdr_records(user_email);
CREATE INDEX IF NOT EXISTS idx_cdr_records_location ON cdr_records(location_name);

CREATE TABLE IF NOT EXISTS cdr_sync_state (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	run_at DATETIME NOT NULL,
	synced_through DATETIME NOT NULL,
	records_fetched INTEGER NOT NULL DEFAULT 0,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	api_calls INTEGER NOT NULL DEFAULT 0,
	notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_cdr_sync_state_run_at ON cdr_sync_state(run_at DESC);

CREATE TABLE IF NOT EXISTS cdr_sync_errors (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	message TEXT NOT NULL,
	detail TEXT,
	occurred_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// InitSchema creates all tables and indexes if they don't exist.
// Safe to call on every startup.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
