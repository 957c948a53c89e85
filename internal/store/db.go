// Package store persists skysync's durable state in a single SQLite
// database: accounts, the item index, conflicts, sessions with their
// operation log, and delta cursors.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	instance := &DB{db: db}
	if err := instance.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return instance, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS accounts (
	hashed_id TEXT PRIMARY KEY,
	raw_id TEXT NOT NULL UNIQUE,
	display_name TEXT,
	local_root TEXT NOT NULL,
	authenticated INTEGER NOT NULL DEFAULT 0,
	verbose_logging INTEGER NOT NULL DEFAULT 0,
	debug_logging INTEGER NOT NULL DEFAULT 0,
	max_parallel INTEGER NOT NULL DEFAULT 3,
	max_batch_size INTEGER NOT NULL DEFAULT 50,
	auto_sync_interval_min INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	account_id TEXT NOT NULL,
	remote_id TEXT NOT NULL,
	path TEXT NOT NULL,
	etag TEXT,
	ctag TEXT,
	size INTEGER NOT NULL DEFAULT 0,
	modified_at INTEGER,
	is_folder INTEGER NOT NULL DEFAULT 0,
	deleted INTEGER NOT NULL DEFAULT 0,
	selected INTEGER NOT NULL DEFAULT 1,
	local_path TEXT,
	local_hash TEXT,
	remote_hash TEXT,
	status TEXT,
	last_direction INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (account_id, remote_id),
	FOREIGN KEY (account_id) REFERENCES accounts(hashed_id)
);

CREATE INDEX IF NOT EXISTS idx_items_path ON items(account_id, path);
CREATE INDEX IF NOT EXISTS idx_items_local_hash ON items(account_id, local_hash);

CREATE TABLE IF NOT EXISTS conflicts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	path TEXT NOT NULL,
	local_modified_at INTEGER,
	remote_modified_at INTEGER,
	local_size INTEGER NOT NULL DEFAULT 0,
	remote_size INTEGER NOT NULL DEFAULT 0,
	detected_at INTEGER NOT NULL,
	strategy TEXT NOT NULL DEFAULT 'none',
	resolved INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (account_id) REFERENCES accounts(hashed_id)
);

CREATE INDEX IF NOT EXISTS idx_conflicts_unresolved ON conflicts(account_id, resolved);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at INTEGER,
	status TEXT NOT NULL,
	uploaded INTEGER NOT NULL DEFAULT 0,
	downloaded INTEGER NOT NULL DEFAULT 0,
	deleted_files INTEGER NOT NULL DEFAULT 0,
	conflicts_detected INTEGER NOT NULL DEFAULT 0,
	bytes_transferred INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (account_id) REFERENCES accounts(hashed_id)
);

CREATE TABLE IF NOT EXISTS operations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	kind TEXT NOT NULL,
	path TEXT,
	size INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL DEFAULT 1,
	detail TEXT,
	FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE TABLE IF NOT EXISTS delta_cursors (
	account_id TEXT PRIMARY KEY,
	cursor TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (account_id) REFERENCES accounts(hashed_id)
);
`

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
