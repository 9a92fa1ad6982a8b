package events

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wayfind/intent-engine-sub003/internal/graph"
	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/types"
)

func newTestLog(t *testing.T) (*Log, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func insertTask(t *testing.T, ctx context.Context, st *store.Store, name string) int64 {
	t.Helper()
	var id int64
	err := st.WithTx(ctx, func(conn *sql.Conn) error {
		var err error
		id, err = graph.Insert(ctx, conn, &types.Task{Name: name, Status: types.StatusTodo, Owner: types.OwnerAI})
		return err
	})
	require.NoError(t, err)
	return id
}

func TestAppendFailsOnMissingTask(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	_, err := l.Append(ctx, 9999, types.EventNote, "hello")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAppendRejectsEmptyData(t *testing.T) {
	l, st := newTestLog(t)
	ctx := context.Background()
	taskID := insertTask(t, ctx, st, "T")

	_, err := l.Append(ctx, taskID, types.EventNote, "")
	require.Error(t, err)
}

func TestListOrdersNewestFirstWithIDTiebreak(t *testing.T) {
	l, st := newTestLog(t)
	ctx := context.Background()
	taskID := insertTask(t, ctx, st, "T")

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := l.Append(ctx, taskID, types.EventNote, "n")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	events, err := l.List(ctx, taskID, 0, nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// logged_at may tie at clock resolution; a tie must break on id desc.
	require.Equal(t, ids[2], events[0].ID)
	require.Equal(t, ids[1], events[1].ID)
	require.Equal(t, ids[0], events[2].ID)
}

func TestListRespectsLimitAndBefore(t *testing.T) {
	l, st := newTestLog(t)
	ctx := context.Background()
	taskID := insertTask(t, ctx, st, "T")

	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, taskID, types.EventNote, "n")
		require.NoError(t, err)
	}

	events, err := l.List(ctx, taskID, 2, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)

	future := time.Now().UTC().Add(time.Hour)
	events, err = l.List(ctx, taskID, 0, &future)
	require.NoError(t, err)
	require.Len(t, events, 5)

	past := time.Now().UTC().Add(-time.Hour)
	events, err = l.List(ctx, taskID, 0, &past)
	require.NoError(t, err)
	require.Len(t, events, 0)
}

func TestUpdateAndDelete(t *testing.T) {
	l, st := newTestLog(t)
	ctx := context.Background()
	taskID := insertTask(t, ctx, st, "T")

	id, err := l.Append(ctx, taskID, types.EventDecision, "first")
	require.NoError(t, err)

	require.NoError(t, l.Update(ctx, id, "second"))
	events, err := l.List(ctx, taskID, 0, nil)
	require.NoError(t, err)
	require.Equal(t, "second", events[0].Data)

	require.ErrorIs(t, l.Update(ctx, id, ""), types.ErrEmptyData)

	require.NoError(t, l.Delete(ctx, id))
	events, err = l.List(ctx, taskID, 0, nil)
	require.NoError(t, err)
	require.Len(t, events, 0)

	require.ErrorIs(t, l.Delete(ctx, id), store.ErrNotFound)
}
