package planner

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wayfind/intent-engine-sub003/internal/focus"
	"github.com/wayfind/intent-engine-sub003/internal/store"
)

func newTestPlanner(t *testing.T) (*Planner, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func mustPlan(t *testing.T, p *Planner, session, docJSON string) *Report {
	t.Helper()
	doc, err := Parse([]byte(docJSON))
	require.NoError(t, err)
	report, err := p.Plan(context.Background(), session, doc)
	require.NoError(t, err)
	return report
}

// TestS1_CreateThenUpsert mirrors spec.md's S1 scenario literally.
func TestS1_CreateThenUpsert(t *testing.T) {
	p, _ := newTestPlanner(t)

	r1 := mustPlan(t, p, "cli", `{"tasks":[{"name":"A","status":"todo"}]}`)
	require.Equal(t, 1, r1.CreatedCount)
	require.Equal(t, 0, r1.UpdatedCount)
	aID := r1.TaskIDMap["A"]
	require.NotZero(t, aID)

	r2 := mustPlan(t, p, "cli", `{"tasks":[{"name":"A","status":"todo"}]}`)
	require.Equal(t, 0, r2.CreatedCount)
	require.Equal(t, 0, r2.UpdatedCount)
	require.Equal(t, aID, r2.TaskIDMap["A"])
}

// TestS2_EnforceSpecOnDoing mirrors S2: no task created, MissingSpec.
func TestS2_EnforceSpecOnDoing(t *testing.T) {
	p, _ := newTestPlanner(t)

	doc, err := Parse([]byte(`{"tasks":[{"name":"B","status":"doing"}]}`))
	require.NoError(t, err)
	_, err = p.Plan(context.Background(), "cli", doc)
	require.Error(t, err)

	doc2, err := Parse([]byte(`{"tasks":[{"name":"B","status":"todo"}]}`))
	require.NoError(t, err)
	report, err := p.Plan(context.Background(), "cli", doc2)
	require.NoError(t, err)
	require.Equal(t, 1, report.CreatedCount, "B must not have been created by the failed plan")
}

// TestS3_ChildrenBeforeParentDone mirrors S3.
func TestS3_ChildrenBeforeParentDone(t *testing.T) {
	p, _ := newTestPlanner(t)

	mustPlan(t, p, "cli", `{"tasks":[{"name":"P","status":"todo","children":[{"name":"C","status":"todo","spec":"go"}]}]}`)

	doc, err := Parse([]byte(`{"tasks":[{"name":"P","status":"done"}]}`))
	require.NoError(t, err)
	_, err = p.Plan(context.Background(), "cli", doc)
	require.Error(t, err)

	mustPlan(t, p, "cli", `{"tasks":[{"name":"C","status":"done"}]}`)
	report := mustPlan(t, p, "cli", `{"tasks":[{"name":"P","status":"done"}]}`)
	require.True(t, report.Success)
}

// TestS3b_SameplanChildrenBeforeParentDone exercises the single-plan
// path spec.md §4.6.5.4 describes: dones ordered children-before-parent
// within one atomic plan, not just across successive plans.
func TestS3b_SameplanChildrenBeforeParentDone(t *testing.T) {
	p, _ := newTestPlanner(t)

	report := mustPlan(t, p, "cli", `{"tasks":[
		{"name":"P","status":"done","children":[{"name":"C","status":"done","spec":"go"}]}
	]}`)
	require.True(t, report.Success)
}

// TestS3c_FlatSiblingEntriesOrderedByStoredDepthNotDocumentNesting
// covers the case TestS3b doesn't: a plan whose entries are flat,
// unnested siblings in the document can still name a parent/child pair
// that is already nested in the store. Ordering must follow the real
// parent_id chain, not the document's (here, identical) nesting depth.
func TestS3c_FlatSiblingEntriesOrderedByStoredDepthNotDocumentNesting(t *testing.T) {
	p, _ := newTestPlanner(t)

	setup := mustPlan(t, p, "cli", `{"tasks":[
		{"name":"P","status":"todo","children":[{"name":"C","status":"todo","spec":"go"}]}
	]}`)
	pID := setup.TaskIDMap["P"]
	cID := setup.TaskIDMap["C"]

	doc, err := Parse([]byte(`{"tasks":[
		{"id": ` + strconv.FormatInt(pID, 10) + `, "status":"done"},
		{"id": ` + strconv.FormatInt(cID, 10) + `, "status":"done"}
	]}`))
	require.NoError(t, err)
	report, err := p.Plan(context.Background(), "cli", doc)
	require.NoError(t, err)
	require.True(t, report.Success)
}

// TestS4_DependencyCycle mirrors S4.
func TestS4_DependencyCycle(t *testing.T) {
	p, _ := newTestPlanner(t)

	mustPlan(t, p, "cli", `{"tasks":[{"name":"A","status":"todo"},{"name":"B","status":"todo"}]}`)

	doc, err := Parse([]byte(`{"tasks":[{"name":"A","depends_on":["B"]},{"name":"B","depends_on":["A"]}]}`))
	require.NoError(t, err)
	_, err = p.Plan(context.Background(), "cli", doc)
	require.Error(t, err)
}

// TestS5_CascadeDeleteWithFocusProtection mirrors S5.
func TestS5_CascadeDeleteWithFocusProtection(t *testing.T) {
	p, st := newTestPlanner(t)
	fm := focus.New(st)
	ctx := context.Background()

	r := mustPlan(t, p, "cli", `{"tasks":[{"name":"P","status":"todo","children":[{"name":"C","status":"todo"}]}]}`)
	pID := r.TaskIDMap["P"]
	cID := r.TaskIDMap["C"]

	require.NoError(t, fm.SetFocus(ctx, "s1", &cID))

	doc, err := Parse([]byte(`{"tasks":[{"id": ` + strconv.FormatInt(pID, 10) + `, "delete": true}]}`))
	require.NoError(t, err)
	_, err = p.Plan(ctx, "cli", doc)
	require.Error(t, err)

	require.NoError(t, fm.SetFocus(ctx, "s1", nil))

	report, err := p.Plan(ctx, "cli", doc)
	require.NoError(t, err)
	require.Equal(t, 1, report.CascadeDeletedCount)
	require.Equal(t, 1, report.DeletedCount)
}

// TestS6_AutoFocusOnDoing mirrors S6.
func TestS6_AutoFocusOnDoing(t *testing.T) {
	p, st := newTestPlanner(t)
	fm := focus.New(st)
	ctx := context.Background()

	cur, err := fm.GetFocus(ctx, "cli")
	require.NoError(t, err)
	require.Nil(t, cur)

	r := mustPlan(t, p, "cli", `{"tasks":[{"name":"T","spec":"go","status":"doing"}]}`)
	tID := r.TaskIDMap["T"]

	cur, err = fm.GetFocus(ctx, "cli")
	require.NoError(t, err)
	require.NotNil(t, cur)
	require.Equal(t, tID, *cur)

	mustPlan(t, p, "cli", `{"tasks":[{"name":"T","status":"done"}]}`)

	cur, err = fm.GetFocus(ctx, "cli")
	require.NoError(t, err)
	require.Nil(t, cur)
}

// TestS7_MultiDoingRejected mirrors S7.
func TestS7_MultiDoingRejected(t *testing.T) {
	p, _ := newTestPlanner(t)

	doc, err := Parse([]byte(`{"tasks":[{"name":"X","spec":"s","status":"doing"},{"name":"Y","spec":"s","status":"doing"}]}`))
	require.NoError(t, err)
	_, err = p.Plan(context.Background(), "cli", doc)
	require.Error(t, err)
}
