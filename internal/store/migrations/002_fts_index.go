package migrations

import (
	"database/sql"
	"fmt"
)

// migrateFTSIndex creates the FTS5 virtual tables backing internal/search,
// implementing spec.md §9's "delegate to the embedded DB's built-in FTS"
// design note. These are standalone fts5 tables (no content= linkage):
// internal/search writes rowid-addressed rows into them directly,
// draining the dirty_tasks/dirty_events queue at the end of every write
// transaction (not via SQLite triggers, since the Planner's multi-row
// batch writes are easier to reason about as an explicit drain step
// than as a cascade of per-row triggers, and an external-content table
// would require tracking each row's pre-update text to issue FTS5's
// 'delete' command correctly, which the dirty-queue alone doesn't give
// us).
func migrateFTSIndex(db *sql.DB) error {
	exists, err := tableExists(db, "tasks_fts")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	statements := []string{
		`CREATE VIRTUAL TABLE tasks_fts USING fts5(name, spec)`,
		`CREATE VIRTUAL TABLE events_fts USING fts5(data)`,
		`INSERT INTO meta (key, value) VALUES ('schema_version', '2')
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt, err)
		}
	}
	return nil
}
