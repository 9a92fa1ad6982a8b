package intentengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wayfind/intent-engine-sub003/internal/planner"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, _, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestOpenMaterializesStoreUnderFallback(t *testing.T) {
	rt, fallback, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer rt.Close()
	require.True(t, fallback)
	require.NotEmpty(t, rt.ProjectRoot)
}

func TestPlanDefaultsMissingSessionToCLI(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	report, err := rt.Plan(ctx, nil, &planner.Document{
		Tasks: []planner.Entry{{Name: "A"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.CreatedCount)
}

func TestPlanRejectsEmptySessionID(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	empty := ""
	_, err := rt.Plan(ctx, &empty, &planner.Document{Tasks: []planner.Entry{{Name: "A"}}})
	require.Error(t, err)
}

func TestFindReflectsPlannedTask(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	_, err := rt.Plan(ctx, nil, &planner.Document{
		Tasks: []planner.Entry{{Name: "renovate the kitchen"}},
	})
	require.NoError(t, err)

	hits, err := rt.Find(ctx, "kitchen", 10, 0, false)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestViewStatusFollowsDefaultSessionFocus(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	spec := "do it"
	doing := "doing"
	_, err := rt.Plan(ctx, nil, &planner.Document{
		Tasks: []planner.Entry{{Name: "T", Spec: &spec, Status: &doing}},
	})
	require.NoError(t, err)

	view, err := rt.ViewStatus(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "T", view.Task.Name)
}
