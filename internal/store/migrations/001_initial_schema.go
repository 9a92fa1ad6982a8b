package migrations

import (
	"database/sql"
	"fmt"
)

// migrateInitialSchema creates the core tables for the task forest,
// dependency DAG, event log, sessions, and the dirty-row queue that
// internal/search drains to keep the FTS index current (see
// internal/storage/sqlite/dirty.go for the pattern this generalizes).
func migrateInitialSchema(db *sql.DB) error {
	exists, err := tableExists(db, "tasks")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	statements := []string{
		`CREATE TABLE meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE tasks (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			name           TEXT NOT NULL,
			spec           TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'todo',
			priority       INTEGER NOT NULL DEFAULT 0,
			active_form    TEXT NOT NULL DEFAULT '',
			parent_id      INTEGER REFERENCES tasks(id),
			owner          TEXT NOT NULL DEFAULT 'ai',
			first_todo_at  TEXT,
			first_doing_at TEXT,
			first_done_at  TEXT,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX idx_tasks_name_scope ON tasks(
			COALESCE(parent_id, -1), name
		)`,
		`CREATE INDEX idx_tasks_parent ON tasks(parent_id)`,
		`CREATE INDEX idx_tasks_status ON tasks(status)`,
		`CREATE TABLE dependencies (
			from_task_id INTEGER NOT NULL REFERENCES tasks(id),
			to_task_id   INTEGER NOT NULL REFERENCES tasks(id),
			PRIMARY KEY (from_task_id, to_task_id)
		)`,
		`CREATE INDEX idx_dependencies_to ON dependencies(to_task_id)`,
		`CREATE TABLE events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id   INTEGER NOT NULL REFERENCES tasks(id),
			type      TEXT NOT NULL,
			data      TEXT NOT NULL,
			logged_at TEXT NOT NULL
		)`,
		`CREATE INDEX idx_events_task ON events(task_id, logged_at DESC, id DESC)`,
		`CREATE TABLE sessions (
			session_id      TEXT PRIMARY KEY,
			current_task_id INTEGER REFERENCES tasks(id),
			last_seen_at    TEXT NOT NULL
		)`,
		`CREATE TABLE dirty_tasks (
			task_id   INTEGER PRIMARY KEY,
			marked_at TEXT NOT NULL
		)`,
		`CREATE TABLE dirty_events (
			event_id  INTEGER PRIMARY KEY,
			marked_at TEXT NOT NULL
		)`,
		`INSERT INTO meta (key, value) VALUES ('schema_version', '1')`,
		`INSERT INTO sessions (session_id, current_task_id, last_seen_at)
			VALUES ('cli', NULL, datetime('now'))`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt, err)
		}
	}
	return nil
}
