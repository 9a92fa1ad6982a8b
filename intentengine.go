// Package intentengine is the public entry point wiring together C1–C8:
// Store, Task Graph, Event Log, Session/Focus, Planner, Search, and
// Status View into a single per-project Runtime handle (spec.md §9's
// design note on composition).
//
// Grounded on the shape the teacher's own root package would have
// offered had its extension surface (internal/beads/beads.go's minimal
// public re-export of Storage/Issue/Status types) been built around a
// multi-component core rather than a single SQLite storage handle:
// Runtime plays the same "one constructor, few exported methods" role,
// generalized to the whole component set.
package intentengine

import (
	"context"
	"fmt"
	"time"

	"github.com/wayfind/intent-engine-sub003/internal/events"
	"github.com/wayfind/intent-engine-sub003/internal/focus"
	"github.com/wayfind/intent-engine-sub003/internal/graph"
	"github.com/wayfind/intent-engine-sub003/internal/locator"
	"github.com/wayfind/intent-engine-sub003/internal/planner"
	"github.com/wayfind/intent-engine-sub003/internal/search"
	"github.com/wayfind/intent-engine-sub003/internal/status"
	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/types"
)

// DefaultSessionID is used whenever a caller omits a session id
// (spec.md §6.4: "a missing session id defaults to cli").
const DefaultSessionID = types.DefaultSessionID

// Runtime bundles every component against one project's Store. It is
// the sole construction point external callers (CLI/MCP/Dashboard) use;
// nothing outside this package opens a Store directly.
type Runtime struct {
	ProjectRoot string

	store   *store.Store
	Graph   *graph.Graph
	Events  *events.Log
	Focus   *focus.Manager
	Planner *planner.Planner
	Search  *search.Indexer
	Status  *status.Viewer
}

// Open resolves the project root starting from startDir (the Project
// Locator, C2), then opens or materializes its Store and wires every
// other component against it. fallback reports whether no project
// marker was found and startDir itself was used as the root (spec.md
// §4.2: "do not fail").
func Open(ctx context.Context, startDir string) (rt *Runtime, fallback bool, err error) {
	root, fallback, err := locator.InferRoot(startDir)
	if err != nil {
		return nil, false, fmt.Errorf("resolving project root: %w", err)
	}

	st, err := locator.EnsureStore(ctx, root)
	if err != nil {
		return nil, false, fmt.Errorf("opening project store: %w", err)
	}

	ix := search.New(st)
	st.SetIndexer(ix)

	rt = &Runtime{
		ProjectRoot: root,
		store:       st,
		Graph:       graph.New(st),
		Events:      events.New(st),
		Focus:       focus.New(st),
		Planner:     planner.New(st),
		Search:      ix,
		Status:      status.New(st),
	}
	return rt, fallback, nil
}

// Close releases the underlying database connection pool.
func (rt *Runtime) Close() error { return rt.store.Close() }

// resolveSessionID applies spec.md §6.4's session-identity rule: a
// missing (nil) id defaults to DefaultSessionID, an explicitly empty
// string is rejected rather than silently treated as missing.
func resolveSessionID(sessionID *string) (string, error) {
	if sessionID == nil {
		return DefaultSessionID, nil
	}
	if *sessionID == "" {
		return "", fmt.Errorf("%w: session id must not be empty", store.ErrInvalidInput)
	}
	return *sessionID, nil
}

// Plan applies a declarative batch document under sessionID. A nil
// sessionID defaults to DefaultSessionID; a non-nil empty string is
// rejected (spec.md §6.4).
func (rt *Runtime) Plan(ctx context.Context, sessionID *string, doc *planner.Document) (*planner.Report, error) {
	resolved, err := resolveSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	return rt.Planner.Plan(ctx, resolved, doc)
}

// ViewStatus builds the Status View (C8) for sessionID's current focus.
// A nil sessionID defaults to DefaultSessionID (spec.md §6.4).
func (rt *Runtime) ViewStatus(ctx context.Context, sessionID *string) (*status.View, error) {
	resolved, err := resolveSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	return rt.Status.ForSession(ctx, resolved)
}

// ViewStatusForTask builds the Status View (C8) around an explicit task.
func (rt *Runtime) ViewStatusForTask(ctx context.Context, taskID int64) (*status.View, error) {
	return rt.Status.ForTask(ctx, taskID)
}

// Find runs a unified search (C7) per spec.md §6.3, returning ranked
// {kind, id, task_id?, snippet, score} hits.
func (rt *Runtime) Find(ctx context.Context, query string, limit, offset int, eventsOnly bool) ([]search.Hit, error) {
	return rt.Search.Search(ctx, query, limit, offset, search.Filters{EventsOnly: eventsOnly})
}

// ListEvents returns a task's event log, newest first (spec.md §6.3).
func (rt *Runtime) ListEvents(ctx context.Context, taskID int64, limit int, before *time.Time) ([]*types.Event, error) {
	return rt.Events.List(ctx, taskID, limit, before)
}
