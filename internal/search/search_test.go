package search

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wayfind/intent-engine-sub003/internal/events"
	"github.com/wayfind/intent-engine-sub003/internal/graph"
	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/types"
)

func newTestIndexer(t *testing.T) (*Indexer, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ix := New(st)
	st.SetIndexer(ix)
	return ix, st
}

func insertTask(t *testing.T, ctx context.Context, st *store.Store, task *types.Task) int64 {
	t.Helper()
	var id int64
	err := st.WithTx(ctx, func(conn *sql.Conn) error {
		var err error
		id, err = graph.Insert(ctx, conn, task)
		return err
	})
	require.NoError(t, err)
	return id
}

func TestSearchFindsTaskByNameToken(t *testing.T) {
	ix, st := newTestIndexer(t)
	ctx := context.Background()

	insertTask(t, ctx, st, &types.Task{Name: "Render dashboard widgets", Status: types.StatusTodo, Owner: types.OwnerAI})
	insertTask(t, ctx, st, &types.Task{Name: "Unrelated task", Status: types.StatusTodo, Owner: types.OwnerAI})

	hits, err := ix.Search(ctx, "dashboard", 10, 0, Filters{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, KindTask, hits[0].Kind)
}

func TestSearchRanksExactNameMatchFirst(t *testing.T) {
	ix, st := newTestIndexer(t)
	ctx := context.Background()

	exactID := insertTask(t, ctx, st, &types.Task{Name: "widgets", Status: types.StatusTodo, Owner: types.OwnerAI})
	insertTask(t, ctx, st, &types.Task{Name: "render the widgets pipeline", Status: types.StatusTodo, Owner: types.OwnerAI})

	hits, err := ix.Search(ctx, "widgets", 10, 0, Filters{})
	require.NoError(t, err)
	require.True(t, len(hits) >= 2)
	require.Equal(t, exactID, hits[0].ID)
}

func TestSearchStatusTokenFiltersByStatus(t *testing.T) {
	ix, st := newTestIndexer(t)
	ctx := context.Background()

	insertTask(t, ctx, st, &types.Task{Name: "alpha widget", Status: types.StatusTodo, Owner: types.OwnerAI})
	doneID := insertTask(t, ctx, st, &types.Task{Name: "beta widget", Status: types.StatusDone, Owner: types.OwnerAI})

	hits, err := ix.Search(ctx, "widget done", 10, 0, Filters{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, doneID, hits[0].ID)
}

func TestSearchNegationExcludesTerm(t *testing.T) {
	ix, st := newTestIndexer(t)
	ctx := context.Background()

	keepID := insertTask(t, ctx, st, &types.Task{Name: "widget alpha", Status: types.StatusTodo, Owner: types.OwnerAI})
	insertTask(t, ctx, st, &types.Task{Name: "widget beta", Status: types.StatusTodo, Owner: types.OwnerAI})

	hits, err := ix.Search(ctx, "widget -beta", 10, 0, Filters{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, keepID, hits[0].ID)
}

func TestSearchReflectsDeleteWithinSameTransaction(t *testing.T) {
	ix, st := newTestIndexer(t)
	ctx := context.Background()

	id := insertTask(t, ctx, st, &types.Task{Name: "ephemeral widget", Status: types.StatusTodo, Owner: types.OwnerAI})

	hits, err := ix.Search(ctx, "ephemeral", 10, 0, Filters{})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	err = st.WithTx(ctx, func(conn *sql.Conn) error {
		_, err := graph.Delete(ctx, conn, id)
		return err
	})
	require.NoError(t, err)

	hits, err = ix.Search(ctx, "ephemeral", 10, 0, Filters{})
	require.NoError(t, err)
	require.Len(t, hits, 0)
}

func TestSearchFindsEventData(t *testing.T) {
	ix, st := newTestIndexer(t)
	ctx := context.Background()

	taskID := insertTask(t, ctx, st, &types.Task{Name: "host task", Status: types.StatusTodo, Owner: types.OwnerAI})
	log := events.New(st)
	_, err := log.Append(ctx, taskID, types.EventNote, "discovered a blocker in the payments integration")
	require.NoError(t, err)

	hits, err := ix.Search(ctx, "payments", 10, 0, Filters{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, KindEvent, hits[0].Kind)
	require.Equal(t, taskID, hits[0].TaskID)
}

func TestSearchEventsOnlyFilterExcludesTasks(t *testing.T) {
	ix, st := newTestIndexer(t)
	ctx := context.Background()

	taskID := insertTask(t, ctx, st, &types.Task{Name: "shared term", Status: types.StatusTodo, Owner: types.OwnerAI})
	log := events.New(st)
	_, err := log.Append(ctx, taskID, types.EventNote, "shared term")
	require.NoError(t, err)

	hits, err := ix.Search(ctx, "shared", 10, 0, Filters{EventsOnly: true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, KindEvent, hits[0].Kind)
}
