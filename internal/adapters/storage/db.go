package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// migrations are applied in order; index+1 is the schema version they produce.
// Append only: never edit a migration that has shipped.
var migrations = []string{
	`CREATE TABLE session (
		token TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);
	CREATE INDEX idx_session_member ON session(member_id);
	CREATE INDEX idx_session_expires ON session(expires_at);`,

	`CREATE TABLE backup_run (
		key TEXT PRIMARY KEY,
		digest TEXT NOT NULL,
		rows INTEGER NOT NULL,
		bytes INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX idx_backup_run_digest ON backup_run(digest);`,

	`CREATE TABLE outbox (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		last_attempted_at TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		message_id TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX idx_outbox_status ON outbox(status, created_at);`,
}

// Open opens the SQLite database at path and brings its schema up to date.
// PRE: path is a file path or ":memory:"
// POST: Returns a migrated connection with WAL and foreign keys enabled
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// MigrateDB applies every migration newer than the stored schema version.
// PRE: db is a valid database connection
// POST: schema_version holds len(migrations); each migration ran exactly once
func MigrateDB(db *sql.DB) error {
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	for v := current; v < len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, v+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		slog.Info("db_migrated", "version", v+1)
	}
	return nil
}

// SchemaVersion returns the applied schema version, 0 for a fresh database.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
