package graph

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/types"
)

// allowedUpdateFields restricts which columns Update's patch may touch,
// keeping the dynamically built UPDATE ... SET statement injection-safe.
// Grounded on internal/storage/sqlite/queries.go's allowedUpdateFields map.
var allowedUpdateFields = map[string]bool{
	"name": true, "spec": true, "status": true, "priority": true,
	"active_form": true, "owner": true,
}

// Insert creates a task under the given (already-resolved) parent,
// returning its new id. Callers (internal/planner) are responsible for
// I1 (name uniqueness) via a prior FindByScope check and for I4
// (spec-on-doing) via Task.Validate; Insert itself re-checks both inside
// the same transaction as a last line of defense, since name uniqueness
// is additionally enforced by the idx_tasks_name_scope unique index.
func Insert(ctx context.Context, conn *sql.Conn, t *types.Task) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var firstTodo, firstDoing, firstDone interface{}
	switch t.Status {
	case types.StatusTodo:
		firstTodo = now
	case types.StatusDoing:
		firstTodo, firstDoing = now, now
	case types.StatusDone:
		firstTodo, firstDoing, firstDone = now, now, now
	}

	owner := t.Owner
	if owner == "" {
		owner = types.OwnerAI
	}

	res, err := conn.ExecContext(ctx, `
		INSERT INTO tasks (
			name, spec, status, priority, active_form, parent_id, owner,
			first_todo_at, first_doing_at, first_done_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Name, t.Spec, string(t.Status), int(t.Priority), t.ActiveForm, t.ParentID, string(owner),
		firstTodo, firstDoing, firstDone, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, &store.NameConflictError{ParentID: t.ParentID, Name: t.Name}
		}
		return 0, fmt.Errorf("insert task: %w: %v", store.ErrStorageFailure, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert task: %w: %v", store.ErrStorageFailure, err)
	}
	markDirty(ctx, conn, id)
	return id, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && contains(err.Error(), "UNIQUE constraint failed")
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// Patch is a sparse set of field updates for Update. Only non-nil
// fields are applied; status transitions get the I3/I4/I5 treatment.
type Patch struct {
	Name       *string
	Spec       *string
	Status     *types.Status
	Priority   *types.Priority
	ActiveForm *string
	Owner      *types.Owner
}

// Update applies patch to the task, validating status transitions
// in-line (I3 done-closure, I4 doing-requires-spec, I5 monotonic
// timestamps). Returns the task's status *before* this update, which
// callers (internal/focus) need to detect a doing/done transition edge.
func Update(ctx context.Context, conn *sql.Conn, id int64, patch Patch) (prevStatus types.Status, err error) {
	current, err := scanTask(conn.QueryRowContext(ctx, taskSelectSQL+` WHERE id = ?`, id))
	if err != nil {
		return "", err
	}
	prevStatus = current.Status

	sets := []string{}
	args := []interface{}{}

	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Spec != nil {
		sets = append(sets, "spec = ?")
		args = append(args, *patch.Spec)
	}
	if patch.ActiveForm != nil {
		sets = append(sets, "active_form = ?")
		args = append(args, *patch.ActiveForm)
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, int(*patch.Priority))
	}
	if patch.Owner != nil {
		sets = append(sets, "owner = ?")
		args = append(args, string(*patch.Owner))
	}

	newSpec := current.Spec
	if patch.Spec != nil {
		newSpec = *patch.Spec
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if patch.Status != nil {
		newStatus := *patch.Status
		if !newStatus.Valid() {
			return prevStatus, fmt.Errorf("invalid status %q: %w", newStatus, types.ErrInvalidEnum)
		}

		if newStatus == types.StatusDoing && newSpec == "" {
			return prevStatus, store.ErrMissingSpec
		}
		if newStatus == types.StatusDone {
			var incomplete bool
			err := conn.QueryRowContext(ctx, `
				SELECT COUNT(*) > 0 FROM tasks WHERE parent_id = ? AND status != 'done'
			`, id).Scan(&incomplete)
			if err != nil {
				return prevStatus, fmt.Errorf("checking children: %w: %v", store.ErrStorageFailure, err)
			}
			if incomplete {
				return prevStatus, store.ErrUncompletedChildren
			}
		}

		sets = append(sets, "status = ?")
		args = append(args, string(newStatus))

		switch newStatus {
		case types.StatusTodo:
			if current.FirstTodoAt == nil {
				sets = append(sets, "first_todo_at = ?")
				args = append(args, now)
			}
		case types.StatusDoing:
			if current.FirstTodoAt == nil {
				sets = append(sets, "first_todo_at = ?")
				args = append(args, now)
			}
			if current.FirstDoingAt == nil {
				sets = append(sets, "first_doing_at = ?")
				args = append(args, now)
			}
		case types.StatusDone:
			if current.FirstTodoAt == nil {
				sets = append(sets, "first_todo_at = ?")
				args = append(args, now)
			}
			if current.FirstDoingAt == nil {
				sets = append(sets, "first_doing_at = ?")
				args = append(args, now)
			}
			if current.FirstDoneAt == nil {
				sets = append(sets, "first_done_at = ?")
				args = append(args, now)
			}
		}
	}

	if len(sets) == 0 {
		return prevStatus, nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, now)
	args = append(args, id)

	q := "UPDATE tasks SET " + join(sets, ", ") + " WHERE id = ?"
	if _, err := conn.ExecContext(ctx, q, args...); err != nil {
		if isUniqueViolation(err) {
			name := current.Name
			if patch.Name != nil {
				name = *patch.Name
			}
			return prevStatus, &store.NameConflictError{ParentID: current.ParentID, Name: name}
		}
		return prevStatus, fmt.Errorf("update task %d: %w: %v", id, store.ErrStorageFailure, err)
	}

	markDirty(ctx, conn, id)
	return prevStatus, nil
}

func markDirty(ctx context.Context, conn *sql.Conn, taskID int64) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, _ = conn.ExecContext(ctx, `
		INSERT INTO dirty_tasks (task_id, marked_at) VALUES (?, ?)
		ON CONFLICT(task_id) DO UPDATE SET marked_at = excluded.marked_at
	`, taskID, now)
}

// MarkEventDirty is the events-table counterpart, used by internal/events.
func MarkEventDirty(ctx context.Context, conn *sql.Conn, eventID int64) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, _ = conn.ExecContext(ctx, `
		INSERT INTO dirty_events (event_id, marked_at) VALUES (?, ?)
		ON CONFLICT(event_id) DO UPDATE SET marked_at = excluded.marked_at
	`, eventID, now)
}

// SetParent moves task id under newParentID (nil for root), rejecting a
// move that would create a hierarchy cycle (I2) or collide with I1 in
// the destination scope.
func SetParent(ctx context.Context, conn *sql.Conn, id int64, newParentID *int64) error {
	if newParentID != nil {
		if *newParentID == id {
			return store.ErrHierarchyCycle
		}
		// Walk upward from newParentID; if id appears, reject.
		cur := *newParentID
		depth := 0
		for {
			if cur == id {
				return store.ErrHierarchyCycle
			}
			depth++
			if depth > types.MaxHierarchyDepth {
				return fmt.Errorf("%w: hierarchy depth exceeds %d", store.ErrHierarchyCycle, types.MaxHierarchyDepth)
			}
			var parent sql.NullInt64
			err := conn.QueryRowContext(ctx, `SELECT parent_id FROM tasks WHERE id = ?`, cur).Scan(&parent)
			if err == sql.ErrNoRows {
				return store.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
			}
			if !parent.Valid {
				break
			}
			cur = parent.Int64
		}
	}

	var name string
	if err := conn.QueryRowContext(ctx, `SELECT name FROM tasks WHERE id = ?`, id).Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}

	if existing, err := findByScope(ctx, conn, newParentID, name); err != nil {
		return err
	} else if existing != nil && existing.ID != id {
		return &store.NameConflictError{ParentID: newParentID, Name: name}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := conn.ExecContext(ctx, `UPDATE tasks SET parent_id = ?, updated_at = ? WHERE id = ?`, newParentID, now, id)
	if err != nil {
		return fmt.Errorf("set parent: %w: %v", store.ErrStorageFailure, err)
	}
	return nil
}

// AddDep inserts a "from is blocked by to" edge, rejecting self-edges
// (I7) and edges that would create a dependency cycle (I6), via a
// bounded DFS from `to` over outgoing edges looking for `from`.
func AddDep(ctx context.Context, conn *sql.Conn, from, to int64) error {
	if from == to {
		return store.ErrSelfDependency
	}
	reachable, err := dependencyReachable(ctx, conn, to, from, 0)
	if err != nil {
		return err
	}
	if reachable {
		return store.ErrDependencyCycle
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO dependencies (from_task_id, to_task_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, from, to)
	if err != nil {
		return fmt.Errorf("add dependency: %w: %v", store.ErrStorageFailure, err)
	}
	return nil
}

// maxDependencyDFSDepth bounds the cycle-check recursion per spec.md §9's
// design note ("DFS with a recursion depth cap... to avoid stack growth
// on degenerate inputs").
const maxDependencyDFSDepth = 10000

func dependencyReachable(ctx context.Context, conn *sql.Conn, start, target int64, depth int) (bool, error) {
	if depth > maxDependencyDFSDepth {
		return false, fmt.Errorf("%w: dependency DFS exceeded depth %d", store.ErrDependencyCycle, maxDependencyDFSDepth)
	}
	if start == target {
		return true, nil
	}
	rows, err := conn.QueryContext(ctx, `SELECT to_task_id FROM dependencies WHERE from_task_id = ?`, start)
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	defer rows.Close()

	var next []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return false, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		next = append(next, n)
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}

	for _, n := range next {
		ok, err := dependencyReachable(ctx, conn, n, target, depth+1)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// RemoveDep deletes an edge; a no-op if it doesn't exist.
func RemoveDep(ctx context.Context, conn *sql.Conn, from, to int64) error {
	_, err := conn.ExecContext(ctx, `DELETE FROM dependencies WHERE from_task_id = ? AND to_task_id = ?`, from, to)
	if err != nil {
		return fmt.Errorf("remove dependency: %w: %v", store.ErrStorageFailure, err)
	}
	return nil
}
