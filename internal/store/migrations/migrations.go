// Package migrations holds the ordered, forward-only schema steps for
// Intent-Engine's store, grounded on
// internal/storage/sqlite/migrations/036_owner_column.go's idempotent,
// pragma_table_info-gated shape: each step checks what exists before
// acting, so re-running a migration (e.g. after a crash mid-bump) is
// always safe.
package migrations

import (
	"database/sql"
	"fmt"
)

// Migration is one forward step, keyed by its position in Steps.
type Migration struct {
	Version int
	Name    string
	Apply   func(db *sql.DB) error
}

// Steps is the ordered migration list. CurrentVersion is the last step's
// Version;
// spec.md §6.6 stores this in a meta row and refuses to open a store
// whose recorded version is higher than CurrentVersion.
var Steps = []Migration{
	{Version: 1, Name: "initial_schema", Apply: migrateInitialSchema},
	{Version: 2, Name: "fts_index", Apply: migrateFTSIndex},
}

// CurrentVersion is the schema version this binary supports.
func CurrentVersion() int {
	return Steps[len(Steps)-1].Version
}

// Run applies every migration whose version exceeds the schema's
// recorded version, in order, each inside its own check-then-act guard.
// Run is itself called inside the caller's transaction-free setup path;
// individual steps open their own statements against db directly the
// way the teacher's migration functions do (they take *sql.DB, not a
// transaction handle, since ALTER TABLE/CREATE TABLE are not all
// transactional across every SQLite build).
func Run(db *sql.DB, recordedVersion int) (int, error) {
	applied := 0
	for _, step := range Steps {
		if step.Version <= recordedVersion {
			continue
		}
		if err := step.Apply(db); err != nil {
			return recordedVersion, fmt.Errorf("migration %d (%s): %w", step.Version, step.Name, err)
		}
		recordedVersion = step.Version
		applied++
	}
	return recordedVersion, nil
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = ?
	`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return exists, nil
}
