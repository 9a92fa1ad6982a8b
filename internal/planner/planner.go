package planner

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wayfind/intent-engine-sub003/internal/focus"
	"github.com/wayfind/intent-engine-sub003/internal/graph"
	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/telemetry"
	"github.com/wayfind/intent-engine-sub003/internal/types"
)

var tracer = otel.Tracer(telemetry.InstrumentationName)

// Planner is C6: plan(doc, session) -> Report.
type Planner struct {
	st *store.Store
}

func New(st *store.Store) *Planner { return &Planner{st: st} }

// parentMode classifies how a flatEntry's parent is resolved, the
// "explicit tri-state, not nullable-vs-absent ambiguity" representation
// spec.md §9 asks for.
type parentMode int

const (
	parentAuto parentMode = iota // field absent: auto-parent to session focus, existing tasks unchanged
	parentExplicit
	parentForced // nested under another entry in this same plan
)

type flatEntry struct {
	src          *Entry
	mode         parentMode
	explicitID   *int64     // for parentExplicit (nil means explicit root)
	forcedParent *flatEntry // enclosing entry, for parentForced

	resolvedID       int64
	resolvedParentID *int64
	wasCreated       bool
	touched          bool // at least one field actually changed content (not counting status)
	statusPending    bool // requested status differs from what's already stored
}

// flatten walks the document tree pre-order (a parent entry always
// precedes its nested children), which both satisfies the topological
// ordering spec.md §4.6.5.2 requires and gives each forced-parent
// reference a parent entry that is guaranteed already resolved by the
// time a child is processed. This nesting is purely a document-shape
// convenience; it says nothing about a task's real position in the
// stored hierarchy (a flat, unnested entry can still refer to a
// pre-existing deeply-nested task), so `done` transitions are never
// ordered off it — see storedDepth in applyStatusTransitions.
func flatten(entries []Entry) []*flatEntry {
	var out []*flatEntry
	var walk func(es []Entry, forced *flatEntry)
	walk = func(es []Entry, forced *flatEntry) {
		for i := range es {
			e := &es[i]
			fe := &flatEntry{src: e}
			if forced != nil {
				fe.mode = parentForced
				fe.forcedParent = forced
			} else if id, ok := e.ParentID.Explicit(); ok {
				fe.mode = parentExplicit
				fe.explicitID = id
			} else {
				fe.mode = parentAuto
			}
			out = append(out, fe)
			if len(e.Children) > 0 {
				walk(e.Children, fe)
			}
		}
	}
	walk(entries, nil)
	return out
}

// Plan applies doc as a single atomic transaction, per spec.md §4.6.
func (p *Planner) Plan(ctx context.Context, sessionID string, doc *Document) (*Report, error) {
	ctx, span := tracer.Start(ctx, "planner.plan", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if sessionID == "" {
		sessionID = types.DefaultSessionID
	}
	report := newReport()

	err := p.st.WithTx(ctx, func(conn *sql.Conn) error {
		flat := flatten(doc.Tasks)

		if err := runDeletes(ctx, conn, flat, report); err != nil {
			return err
		}

		live := liveEntries(flat)
		if err := countMultipleDoing(live); err != nil {
			return err
		}

		if err := resolveAndUpsert(ctx, conn, sessionID, live, report); err != nil {
			return err
		}

		if err := applyDependencies(ctx, conn, live); err != nil {
			return err
		}

		if err := applyStatusTransitions(ctx, conn, sessionID, live); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	report.Success = true
	return report, nil
}

// liveEntries drops delete entries; everything after deletes operates
// on the surviving create/update set.
func liveEntries(flat []*flatEntry) []*flatEntry {
	out := make([]*flatEntry, 0, len(flat))
	for _, fe := range flat {
		if !fe.src.Delete {
			out = append(out, fe)
		}
	}
	return out
}

// runDeletes processes delete:true entries first, as a cascade (spec.md
// §4.6.5.1). A non-existent id is success + warning, not an error; a
// focus-protected id aborts the whole plan.
func runDeletes(ctx context.Context, conn *sql.Conn, flat []*flatEntry, report *Report) error {
	for _, fe := range flat {
		if !fe.src.Delete {
			continue
		}
		if fe.src.ID == nil {
			return fmt.Errorf("delete entry requires id: %w", store.ErrInvalidInput)
		}
		id := *fe.src.ID

		var exists bool
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM tasks WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		if !exists {
			report.Warnings = append(report.Warnings, fmt.Sprintf("task %d not found, skipping delete", id))
			continue
		}

		result, err := graph.Delete(ctx, conn, id)
		if err != nil {
			return err
		}
		report.DeletedCount++
		report.CascadeDeletedCount += result.CascadeDeleted
	}
	return nil
}

// countMultipleDoing enforces spec.md §4.6.6: a plan may mark at most
// one task `doing`.
func countMultipleDoing(entries []*flatEntry) error {
	n := 0
	for _, fe := range entries {
		if fe.src.Status != nil && types.Status(*fe.src.Status) == types.StatusDoing {
			n++
		}
	}
	if n > 1 {
		return store.ErrMultipleDoingInPlan
	}
	return nil
}

// resolveAndUpsert walks entries in their flattened (parent-before-child)
// order, resolving each entry's parent per the three-state rule and
// performing the idempotent upsert-by-(parent,name), deferring status
// to applyStatusTransitions.
func resolveAndUpsert(ctx context.Context, conn *sql.Conn, sessionID string, entries []*flatEntry, report *Report) error {
	sessionFocus, err := focus.CurrentFocusTx(ctx, conn, sessionID)
	if err != nil {
		return err
	}

	for _, fe := range entries {
		e := fe.src

		if e.ID != nil {
			// explicit id: must already exist.
			current, gerr := graph.GetTx(ctx, conn, *e.ID)
			if gerr != nil {
				return gerr
			}
			fe.resolvedID = current.ID

			switch fe.mode {
			case parentForced, parentExplicit:
				if fe.mode == parentForced {
					fe.resolvedParentID = &fe.forcedParent.resolvedID
				} else {
					fe.resolvedParentID = fe.explicitID
				}
				if !sameParent(current.ParentID, fe.resolvedParentID) {
					if err := graph.SetParent(ctx, conn, fe.resolvedID, fe.resolvedParentID); err != nil {
						return err
					}
					fe.touched = true
				}
			case parentAuto:
				fe.resolvedParentID = current.ParentID // unchanged
			}

			changed, err := applyFieldPatch(ctx, conn, fe.resolvedID, e, current)
			if err != nil {
				return err
			}
			fe.touched = fe.touched || changed
			markStatusPending(fe, current.Status)
			if fe.touched || fe.statusPending {
				report.UpdatedCount++
			}
		} else {
			if e.Name == "" {
				return fmt.Errorf("task entry requires id or name: %w", store.ErrInvalidInput)
			}

			var lookupScope *int64
			switch fe.mode {
			case parentForced:
				lookupScope = &fe.forcedParent.resolvedID
			case parentExplicit:
				lookupScope = fe.explicitID
			case parentAuto:
				lookupScope = sessionFocus
			}

			existing, err := graph.FindByScope(ctx, conn, lookupScope, e.Name)
			if err != nil {
				return err
			}
			if existing == nil && fe.mode == parentAuto && sessionFocus != nil {
				// Existing tasks keep their parent: the focused task and its
				// siblings are matched by name before a new child is created.
				focused, ferr := graph.GetTx(ctx, conn, *sessionFocus)
				if ferr != nil {
					return ferr
				}
				match, ferr := graph.FindByScope(ctx, conn, focused.ParentID, e.Name)
				if ferr != nil {
					return ferr
				}
				if match != nil {
					existing, lookupScope = match, focused.ParentID
				}
			}

			if existing != nil {
				fe.resolvedID = existing.ID
				fe.resolvedParentID = lookupScope
				if (fe.mode == parentForced || fe.mode == parentExplicit) && !sameParent(existing.ParentID, lookupScope) {
					if err := graph.SetParent(ctx, conn, fe.resolvedID, lookupScope); err != nil {
						return err
					}
					fe.touched = true
				}
				changed, err := applyFieldPatch(ctx, conn, fe.resolvedID, e, existing)
				if err != nil {
					return err
				}
				fe.touched = fe.touched || changed
				markStatusPending(fe, existing.Status)
				if fe.touched || fe.statusPending {
					report.UpdatedCount++
				}
			} else {
				spec := ""
				if e.Spec != nil {
					spec = *e.Spec
				}
				priority := types.PriorityNone
				if e.Priority != nil {
					priority, err = types.ParsePriority(*e.Priority)
					if err != nil {
						return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
					}
				}
				activeForm := ""
				if e.ActiveForm != nil {
					activeForm = *e.ActiveForm
				}
				id, err := graph.Insert(ctx, conn, &types.Task{
					Name:       e.Name,
					Spec:       spec,
					Status:     types.StatusTodo,
					Priority:   priority,
					ActiveForm: activeForm,
					ParentID:   lookupScope,
					Owner:      types.OwnerAI,
				})
				if err != nil {
					return err
				}
				fe.resolvedID = id
				fe.resolvedParentID = lookupScope
				fe.wasCreated = true
				markStatusPending(fe, types.StatusTodo)
				report.CreatedCount++
			}
		}

		if e.Name != "" {
			report.TaskIDMap[e.Name] = fe.resolvedID
		}
	}
	return nil
}

// applyFieldPatch applies the non-status fields a plan entry carries
// that actually differ from current, reporting whether anything changed
// so the Report's updated_count reflects real mutations (P10: a
// no-op re-application of an identical plan must not count as an
// update). Status is deferred to applyStatusTransitions so done/doing
// ordering can be computed across the whole plan first.
func applyFieldPatch(ctx context.Context, conn *sql.Conn, id int64, e *Entry, current *types.Task) (bool, error) {
	patch := graph.Patch{}
	changed := false

	if e.Spec != nil && *e.Spec != current.Spec {
		patch.Spec = e.Spec
		changed = true
	}
	if e.ActiveForm != nil && *e.ActiveForm != current.ActiveForm {
		patch.ActiveForm = e.ActiveForm
		changed = true
	}
	if e.Priority != nil {
		p, err := types.ParsePriority(*e.Priority)
		if err != nil {
			return false, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
		if p != current.Priority {
			patch.Priority = &p
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	if _, err := graph.Update(ctx, conn, id, patch); err != nil {
		return false, err
	}
	return true, nil
}

// storedDepth counts id's ancestors by walking parent_id on conn (the
// transaction's own connection, so it sees this plan's own SetParent/
// Insert calls rather than a possibly-stale read-pool snapshot), the
// same walk internal/graph's Ancestors does against the read pool.
// Results are memoized in cache since a plan's dones commonly share
// ancestors.
func storedDepth(ctx context.Context, conn *sql.Conn, cache map[int64]int, id int64) (int, error) {
	if d, ok := cache[id]; ok {
		return d, nil
	}
	depth := 0
	cur := id
	for i := 0; i < types.MaxHierarchyDepth; i++ {
		if d, ok := cache[cur]; ok {
			depth += d
			break
		}
		var parentID sql.NullInt64
		if err := conn.QueryRowContext(ctx, `SELECT parent_id FROM tasks WHERE id = ?`, cur).Scan(&parentID); err != nil {
			return 0, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		if !parentID.Valid {
			break
		}
		depth++
		cur = parentID.Int64
	}
	cache[id] = depth
	return depth, nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// markStatusPending records whether this entry's requested status
// differs from what's already stored, so applyStatusTransitions can
// skip no-op transitions and resolveAndUpsert's updated_count tracking
// stays accurate.
func markStatusPending(fe *flatEntry, currentStatus types.Status) {
	if fe.src.Status == nil {
		return
	}
	fe.statusPending = types.Status(*fe.src.Status) != currentStatus
}

// applyDependencies resolves depends_on names (spec.md §4.6: "resolved
// within this plan + store") and adds edges once every entry in the
// plan has a concrete id.
func applyDependencies(ctx context.Context, conn *sql.Conn, entries []*flatEntry) error {
	byName := map[string]int64{}
	for _, fe := range entries {
		if fe.src.Name != "" {
			byName[fe.src.Name] = fe.resolvedID
		}
	}
	for _, fe := range entries {
		for _, depName := range fe.src.DependsOn {
			toID, err := resolveName(ctx, conn, byName, depName)
			if err != nil {
				return err
			}
			if err := graph.AddDep(ctx, conn, fe.resolvedID, toID); err != nil {
				return err
			}
		}
	}
	return nil
}

func resolveName(ctx context.Context, conn *sql.Conn, byName map[string]int64, name string) (int64, error) {
	if id, ok := byName[name]; ok {
		return id, nil
	}
	rows, err := conn.QueryContext(ctx, `SELECT id FROM tasks WHERE name = ?`, name)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		ids = append(ids, id)
	}
	switch len(ids) {
	case 0:
		return 0, fmt.Errorf("depends_on references unknown task %q: %w", name, store.ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		return 0, fmt.Errorf("depends_on name %q is ambiguous across parent scopes: %w", name, store.ErrInvalidInput)
	}
}

// applyStatusTransitions applies the plan's requested status changes
// last, deepest-done-first, doing transitions after (spec.md §4.6.5.4),
// and drives the same auto-focus/auto-clear side effects a direct
// status update would (spec.md §4.5).
func applyStatusTransitions(ctx context.Context, conn *sql.Conn, sessionID string, entries []*flatEntry) error {
	var others, dones, doings []*flatEntry
	for _, fe := range entries {
		if fe.src.Status == nil || !fe.statusPending {
			continue
		}
		switch types.Status(*fe.src.Status) {
		case types.StatusDone:
			dones = append(dones, fe)
		case types.StatusDoing:
			doings = append(doings, fe)
		default:
			others = append(others, fe)
		}
	}

	// Ordering must follow the real stored parent chain (spec.md §4.6.5.4,
	// §4.6's "children before parent"), not the document's own "children"
	// nesting: two flat, unnested entries can still name a pre-existing
	// parent/child pair, and resolveAndUpsert has already resolved every
	// entry's parent_id in this same transaction by the time we get here.
	depthCache := map[int64]int{}
	depths := make(map[int64]int, len(dones))
	for _, fe := range dones {
		d, err := storedDepth(ctx, conn, depthCache, fe.resolvedID)
		if err != nil {
			return err
		}
		depths[fe.resolvedID] = d
	}
	sort.SliceStable(dones, func(i, j int) bool { return depths[dones[i].resolvedID] > depths[dones[j].resolvedID] })

	apply := func(fe *flatEntry, status types.Status) error {
		prev, err := graph.Update(ctx, conn, fe.resolvedID, graph.Patch{Status: &status})
		if err != nil {
			return err
		}
		return focus.ApplyAutoFocus(ctx, conn, sessionID, fe.resolvedID, prev, status)
	}

	for _, fe := range others {
		if err := apply(fe, types.Status(*fe.src.Status)); err != nil {
			return err
		}
	}
	for _, fe := range dones {
		if err := apply(fe, types.StatusDone); err != nil {
			return err
		}
	}
	for _, fe := range doings {
		if err := apply(fe, types.StatusDoing); err != nil {
			return err
		}
	}
	return nil
}
