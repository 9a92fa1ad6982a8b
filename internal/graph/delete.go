package graph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wayfind/intent-engine-sub003/internal/store"
)

// DeleteResult reports how many rows a cascade delete actually removed,
// the ground truth the Planner's deleted_count/cascade_deleted_count
// report (spec.md §4.6.8) is built from.
type DeleteResult struct {
	RootDeleted    bool
	CascadeDeleted int
}

// Delete removes task id together with its entire subtree, events, and
// incident dependency edges (I8), refusing if id or any descendant is
// the focus of any session (I10). Grounded on
// internal/storage/sqlite/delete.go's BFS dependent-expansion worklist,
// generalized from "cascade to dependents" to "cascade to descendants".
func Delete(ctx context.Context, conn *sql.Conn, id int64) (*DeleteResult, error) {
	subtree, err := collectSubtree(ctx, conn, id)
	if err != nil {
		return nil, err
	}

	if blocker, err := focusBlocker(ctx, conn, subtree); err != nil {
		return nil, err
	} else if blocker != nil {
		return nil, blocker
	}

	ids := sortedIDs(subtree)
	ph := placeholders(len(ids))
	args := int64sToArgs(ids)

	if _, err := conn.ExecContext(ctx,
		`DELETE FROM dependencies WHERE from_task_id IN (`+ph+`) OR to_task_id IN (`+ph+`)`,
		append(append([]interface{}{}, args...), args...)...,
	); err != nil {
		return nil, fmt.Errorf("deleting dependency edges: %w: %v", store.ErrStorageFailure, err)
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM events WHERE task_id IN (`+ph+`)`, args...); err != nil {
		return nil, fmt.Errorf("deleting events: %w: %v", store.ErrStorageFailure, err)
	}

	// Focus pointers inside the deleted subtree are cleared; focusBlocker
	// above already proved no *protected* focus remains, so any row left
	// here, if ever introduced by a future relaxation of I10, is cleared
	// rather than left dangling (preserves I9: current_task_id references
	// an existing task or is null). The session rows themselves are kept.
	if _, err := conn.ExecContext(ctx, `UPDATE sessions SET current_task_id = NULL WHERE current_task_id IN (`+ph+`)`, args...); err != nil {
		return nil, fmt.Errorf("clearing focus: %w: %v", store.ErrStorageFailure, err)
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM tasks WHERE id IN (`+ph+`)`, args...); err != nil {
		return nil, fmt.Errorf("deleting tasks: %w: %v", store.ErrStorageFailure, err)
	}

	for _, taskID := range ids {
		markDirty(ctx, conn, taskID)
	}

	return &DeleteResult{RootDeleted: true, CascadeDeleted: len(ids) - 1}, nil
}

// subtreeQueryer is the minimal surface collectSubtree needs; satisfied
// by *sql.Conn (inside write transactions) and connAdapter (read-only
// projections against the DB pool).
type subtreeQueryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// collectSubtree does a breadth-first expansion over parent_id edges
// starting at id, returning id and every descendant.
func collectSubtree(ctx context.Context, conn subtreeQueryer, id int64) (map[int64]struct{}, error) {
	seen := map[int64]struct{}{id: {}}
	frontier := []int64{id}

	for len(frontier) > 0 {
		ph := placeholders(len(frontier))
		rows, err := conn.QueryContext(ctx, `SELECT id FROM tasks WHERE parent_id IN (`+ph+`)`, int64sToArgs(frontier)...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		var next []int64
		for rows.Next() {
			var childID int64
			if err := rows.Scan(&childID); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
			}
			if _, ok := seen[childID]; !ok {
				seen[childID] = struct{}{}
				next = append(next, childID)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		frontier = next
	}
	return seen, nil
}

// focusBlocker checks I10: if any session's current_task_id is in the
// subtree being deleted, the whole delete fails naming that session.
func focusBlocker(ctx context.Context, conn *sql.Conn, subtree map[int64]struct{}) (*store.FocusProtectedError, error) {
	ids := sortedIDs(subtree)
	ph := placeholders(len(ids))
	row := conn.QueryRowContext(ctx,
		`SELECT session_id, current_task_id FROM sessions WHERE current_task_id IN (`+ph+`) ORDER BY session_id LIMIT 1`,
		int64sToArgs(ids)...,
	)
	var sessionID string
	var taskID int64
	err := row.Scan(&sessionID, &taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	return &store.FocusProtectedError{TaskID: taskID, SessionID: sessionID}, nil
}
