// Package focus implements C5, the Session/Focus Manager: a per-session
// "current task" pointer, auto-focus-on-doing, auto-clear-on-done, and
// bulk release (spec.md §4.5).
//
// Grounded on internal/storage/sqlite/decision_points.go's pattern of a
// small table keyed by an opaque identifier, joined against the main
// entity table and updated as a side effect of a status-changing
// operation inside the same transaction — generalized here from
// "decision points" to "current focus."
package focus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/types"
)

type Manager struct {
	st *store.Store
}

func New(st *store.Store) *Manager { return &Manager{st: st} }

// GetFocus returns session's current task id, or nil. A session that
// has never been seen behaves as if it had no focus (it is created
// lazily on first SetFocus, per spec.md §3's "Sessions are created
// lazily on first reference").
func (m *Manager) GetFocus(ctx context.Context, sessionID string) (*int64, error) {
	var taskID sql.NullInt64
	err := m.st.DB().QueryRowContext(ctx, `SELECT current_task_id FROM sessions WHERE session_id = ?`, sessionID).Scan(&taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	if !taskID.Valid {
		return nil, nil
	}
	v := taskID.Int64
	return &v, nil
}

// SetFocus points session at taskID (or clears it if nil), failing
// NotFound if taskID doesn't reference an existing task (I9).
func (m *Manager) SetFocus(ctx context.Context, sessionID string, taskID *int64) error {
	return m.st.WithTx(ctx, func(conn *sql.Conn) error {
		return setFocusTx(ctx, conn, sessionID, taskID)
	})
}

// setFocusTx is the in-transaction primitive internal/planner calls
// directly when auto-focus/auto-clear fire as a side effect of a status
// transition, so the focus update shares the caller's transaction
// instead of opening a new one.
func setFocusTx(ctx context.Context, conn *sql.Conn, sessionID string, taskID *int64) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required: %w", store.ErrInvalidInput)
	}
	if taskID != nil {
		var exists bool
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM tasks WHERE id = ?`, *taskID).Scan(&exists); err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		if !exists {
			return store.ErrNotFound
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := conn.ExecContext(ctx, `
		INSERT INTO sessions (session_id, current_task_id, last_seen_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET current_task_id = excluded.current_task_id, last_seen_at = excluded.last_seen_at
	`, sessionID, taskID, now)
	if err != nil {
		return fmt.Errorf("set focus: %w: %v", store.ErrStorageFailure, err)
	}
	return nil
}

// SetFocusTx exports the in-transaction primitive for internal/planner.
func SetFocusTx(ctx context.Context, conn *sql.Conn, sessionID string, taskID *int64) error {
	return setFocusTx(ctx, conn, sessionID, taskID)
}

// ApplyAutoFocus implements spec.md §4.5's auto-focus/auto-clear rules as
// a side effect of a status transition applied in the same transaction:
// entering `doing` focuses the mutating session on that task; reaching
// `done` while being that session's focus clears it. prevStatus/newStatus
// come from the same graph.Update call that performed the transition.
func ApplyAutoFocus(ctx context.Context, conn *sql.Conn, sessionID string, taskID int64, prevStatus, newStatus types.Status) error {
	if newStatus == types.StatusDoing && prevStatus != types.StatusDoing {
		return setFocusTx(ctx, conn, sessionID, &taskID)
	}
	if newStatus == types.StatusDone {
		current, err := focusOf(ctx, conn, sessionID)
		if err != nil {
			return err
		}
		if current != nil && *current == taskID {
			return setFocusTx(ctx, conn, sessionID, nil)
		}
	}
	return nil
}

// CurrentFocusTx is focusOf exported for internal/planner's auto-parent
// resolution, which must read a session's focus inside the same
// transaction as the rest of a plan's effects.
func CurrentFocusTx(ctx context.Context, conn *sql.Conn, sessionID string) (*int64, error) {
	return focusOf(ctx, conn, sessionID)
}

func focusOf(ctx context.Context, conn *sql.Conn, sessionID string) (*int64, error) {
	var taskID sql.NullInt64
	err := conn.QueryRowContext(ctx, `SELECT current_task_id FROM sessions WHERE session_id = ?`, sessionID).Scan(&taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	if !taskID.Valid {
		return nil, nil
	}
	v := taskID.Int64
	return &v, nil
}

// ReleaseEverywhere clears every session's focus that points at any id
// in subtreeIDs — the bulk release spec.md §4.5 describes, used only
// after I10 has already been confirmed to permit the delete.
// internal/graph.Delete performs that check and the clearing itself in
// the same transaction and does not call this helper; no other package
// in this module calls it either.
func ReleaseEverywhere(ctx context.Context, conn *sql.Conn, subtreeIDs []int64) error {
	if len(subtreeIDs) == 0 {
		return nil
	}
	ph := "?"
	args := make([]interface{}, len(subtreeIDs))
	for i, id := range subtreeIDs {
		args[i] = id
		if i > 0 {
			ph += ",?"
		}
	}
	_, err := conn.ExecContext(ctx, `UPDATE sessions SET current_task_id = NULL WHERE current_task_id IN (`+ph+`)`, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	return nil
}
