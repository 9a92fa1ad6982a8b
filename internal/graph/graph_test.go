package graph

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/types"
)

func newTestGraph(t *testing.T) (*Graph, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func insert(t *testing.T, ctx context.Context, st *store.Store, name string, parentID *int64, status types.Status, spec string) int64 {
	t.Helper()
	var id int64
	err := st.WithTx(ctx, func(conn *sql.Conn) error {
		var err error
		id, err = Insert(ctx, conn, &types.Task{Name: name, ParentID: parentID, Status: status, Spec: spec, Owner: types.OwnerAI})
		return err
	})
	require.NoError(t, err)
	return id
}

func TestInsertAndGet(t *testing.T) {
	g, st := newTestGraph(t)
	ctx := context.Background()

	id := insert(t, ctx, st, "A", nil, types.StatusTodo, "")
	task, err := g.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "A", task.Name)
	require.Equal(t, types.StatusTodo, task.Status)
	require.NotNil(t, task.FirstTodoAt)
	require.Nil(t, task.FirstDoingAt)
}

func TestNameUniqueWithinScope(t *testing.T) {
	_, st := newTestGraph(t)
	ctx := context.Background()

	insert(t, ctx, st, "dup", nil, types.StatusTodo, "")

	err := st.WithTx(ctx, func(conn *sql.Conn) error {
		_, err := Insert(ctx, conn, &types.Task{Name: "dup", Status: types.StatusTodo, Owner: types.OwnerAI})
		return err
	})
	require.Error(t, err)
	var conflict *store.NameConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestDoingRequiresSpec(t *testing.T) {
	_, st := newTestGraph(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(conn *sql.Conn) error {
		_, err := Insert(ctx, conn, &types.Task{Name: "needs-spec", Status: types.StatusDoing, Owner: types.OwnerAI})
		return err
	})
	require.ErrorIs(t, err, types.ErrMissingSpec)
}

func TestDoneRequiresChildrenDone(t *testing.T) {
	_, st := newTestGraph(t)
	ctx := context.Background()

	parent := insert(t, ctx, st, "P", nil, types.StatusTodo, "")
	insert(t, ctx, st, "C", &parent, types.StatusTodo, "go")

	done := types.StatusDone
	err := st.WithTx(ctx, func(conn *sql.Conn) error {
		_, err := Update(ctx, conn, parent, Patch{Status: &done})
		return err
	})
	require.ErrorIs(t, err, store.ErrUncompletedChildren)

	err = st.WithTx(ctx, func(conn *sql.Conn) error {
		_, cerr := conn.ExecContext(ctx, `SELECT id FROM tasks WHERE parent_id = ?`, parent)
		_ = cerr
		childID := int64(0)
		row := conn.QueryRowContext(ctx, `SELECT id FROM tasks WHERE parent_id = ?`, parent)
		_ = row.Scan(&childID)
		if _, err := Update(ctx, conn, childID, Patch{Status: &done}); err != nil {
			return err
		}
		_, err := Update(ctx, conn, parent, Patch{Status: &done})
		return err
	})
	require.NoError(t, err)
}

func TestSetParentRejectsCycle(t *testing.T) {
	_, st := newTestGraph(t)
	ctx := context.Background()

	a := insert(t, ctx, st, "A", nil, types.StatusTodo, "")
	b := insert(t, ctx, st, "B", &a, types.StatusTodo, "")

	err := st.WithTx(ctx, func(conn *sql.Conn) error {
		return SetParent(ctx, conn, a, &b)
	})
	require.ErrorIs(t, err, store.ErrHierarchyCycle)
}

func TestAddDepRejectsCycleAndSelfEdge(t *testing.T) {
	_, st := newTestGraph(t)
	ctx := context.Background()

	a := insert(t, ctx, st, "A", nil, types.StatusTodo, "")
	b := insert(t, ctx, st, "B", nil, types.StatusTodo, "")

	err := st.WithTx(ctx, func(conn *sql.Conn) error {
		return AddDep(ctx, conn, a, a)
	})
	require.ErrorIs(t, err, store.ErrSelfDependency)

	err = st.WithTx(ctx, func(conn *sql.Conn) error {
		return AddDep(ctx, conn, a, b)
	})
	require.NoError(t, err)

	err = st.WithTx(ctx, func(conn *sql.Conn) error {
		return AddDep(ctx, conn, b, a)
	})
	require.ErrorIs(t, err, store.ErrDependencyCycle)
}

func TestCascadeDeleteRemovesSubtreeEventsAndEdges(t *testing.T) {
	g, st := newTestGraph(t)
	ctx := context.Background()

	p := insert(t, ctx, st, "P", nil, types.StatusTodo, "")
	c := insert(t, ctx, st, "C", &p, types.StatusTodo, "")
	other := insert(t, ctx, st, "Other", nil, types.StatusTodo, "")

	err := st.WithTx(ctx, func(conn *sql.Conn) error {
		return AddDep(ctx, conn, other, c)
	})
	require.NoError(t, err)
	_, err = st.DB().Exec(`INSERT INTO events (task_id, type, data, logged_at) VALUES (?, 'note', 'x', datetime('now'))`, c)
	require.NoError(t, err)

	var result *DeleteResult
	err = st.WithTx(ctx, func(conn *sql.Conn) error {
		var derr error
		result, derr = Delete(ctx, conn, p)
		return derr
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.CascadeDeleted)

	_, err = g.Get(ctx, p)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = g.Get(ctx, c)
	require.ErrorIs(t, err, store.ErrNotFound)

	var depCount int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM dependencies WHERE to_task_id = ?`, c).Scan(&depCount))
	require.Equal(t, 0, depCount)

	var eventCount int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM events WHERE task_id = ?`, c).Scan(&eventCount))
	require.Equal(t, 0, eventCount)
}

func TestCascadeDeleteBlockedByFocus(t *testing.T) {
	_, st := newTestGraph(t)
	ctx := context.Background()

	p := insert(t, ctx, st, "P", nil, types.StatusTodo, "")
	c := insert(t, ctx, st, "C", &p, types.StatusTodo, "")

	_, err := st.DB().ExecContext(ctx, `
		INSERT INTO sessions (session_id, current_task_id, last_seen_at)
		VALUES ('s1', ?, datetime('now'))
	`, c)
	require.NoError(t, err)

	err = st.WithTx(ctx, func(conn *sql.Conn) error {
		_, derr := Delete(ctx, conn, p)
		return derr
	})
	require.Error(t, err)
	var focusErr *store.FocusProtectedError
	require.ErrorAs(t, err, &focusErr)
	require.Equal(t, "s1", focusErr.SessionID)
}
