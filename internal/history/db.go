// Package history keeps a SQLite log of heating cycle transitions.
package history

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

const schemaCycleEvents = `
CREATE TABLE IF NOT EXISTS cycle_events (
    id TEXT PRIMARY KEY,
    occurred_at TEXT NOT NULL,
    type TEXT NOT NULL,
    cycle_id TEXT NOT NULL,
    trigger_source TEXT NOT NULL,
    duration_s INTEGER NOT NULL,
    elapsed_s INTEGER
);
`

const schemaCycleEventsIndex = `
CREATE INDEX IF NOT EXISTS idx_cycle_events_occurred_at ON cycle_events (occurred_at);
`

// Open opens or creates the history database at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// One writer; the controller appends at most a few rows per cycle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range []string{schemaCycleEvents, schemaCycleEventsIndex} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
