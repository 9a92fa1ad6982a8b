// Package status implements C8, the Status View: a read-only projection
// of ancestors/siblings/children/blocking/blocked-by and recent events
// around a focused or explicit task (spec.md §4.8).
//
// Grounded on internal/deps/deps.go's parent-chain-preserving
// tree-filter idiom (FilterTreeByStatus, MergeBidirectionalTrees),
// generalized here from CLI tree-rendering to a pure-data projection
// struct, per SPEC_FULL.md §4.8's DOMAIN STACK note. Composes
// internal/graph's existing Ancestors/Siblings/Children/Blocking/
// BlockedBy projections and internal/events' List rather than
// reimplementing any of that traversal.
package status

import (
	"context"
	"fmt"

	"github.com/wayfind/intent-engine-sub003/internal/events"
	"github.com/wayfind/intent-engine-sub003/internal/focus"
	"github.com/wayfind/intent-engine-sub003/internal/graph"
	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/types"
)

// recentEventsLimit is "last 10 events on the target task" (spec.md §4.8).
const recentEventsLimit = 10

// StatusCounts tallies a set of tasks by lifecycle status, the "with
// counts by status" spec.md §4.8 asks of siblings and children.
type StatusCounts struct {
	Todo  int
	Doing int
	Done  int
}

// stillBlocking drops done prerequisites from a blocked_by list, per
// spec.md §9's open question: a done prerequisite is no longer
// "blocking" for UI purposes, but the dependency edge itself is kept
// for history (only removed via explicit remove_dep or cascade delete).
func stillBlocking(prereqs []*types.Task) []*types.Task {
	out := prereqs[:0:0]
	for _, t := range prereqs {
		if t.Status != types.StatusDone {
			out = append(out, t)
		}
	}
	return out
}

func countStatuses(tasks []*types.Task) StatusCounts {
	var c StatusCounts
	for _, t := range tasks {
		switch t.Status {
		case types.StatusTodo:
			c.Todo++
		case types.StatusDoing:
			c.Doing++
		case types.StatusDone:
			c.Done++
		}
	}
	return c
}

// View is the projection spec.md §4.8 describes:
// { task, ancestors[], siblings[], children[], blocking[], blocked_by[], recent_events[<=10] }.
type View struct {
	Task *types.Task

	Ancestors []*types.Task

	Siblings       []*types.Task
	SiblingCounts  StatusCounts
	Children       []*types.Task
	ChildrenCounts StatusCounts

	Blocking   []*types.Task
	BlockedBy  []*types.Task

	RecentEvents []*types.Event
}

// Viewer builds View projections against a Store's Task Graph, Event
// Log, and Focus Manager.
type Viewer struct {
	graph  *graph.Graph
	events *events.Log
	focus  *focus.Manager
}

func New(st *store.Store) *Viewer {
	return &Viewer{
		graph:  graph.New(st),
		events: events.New(st),
		focus:  focus.New(st),
	}
}

// ForTask builds the projection around an explicit task id.
func (v *Viewer) ForTask(ctx context.Context, id int64) (*View, error) {
	task, err := v.graph.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ancestors, err := v.graph.Ancestors(ctx, id)
	if err != nil {
		return nil, err
	}
	siblings, err := v.graph.Siblings(ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := v.graph.Children(ctx, id)
	if err != nil {
		return nil, err
	}
	blocking, err := v.graph.Blocking(ctx, id)
	if err != nil {
		return nil, err
	}
	blockedBy, err := v.graph.BlockedBy(ctx, id)
	if err != nil {
		return nil, err
	}
	blockedBy = stillBlocking(blockedBy)
	recent, err := v.events.List(ctx, id, recentEventsLimit, nil)
	if err != nil {
		return nil, err
	}

	return &View{
		Task:           task,
		Ancestors:      ancestors,
		Siblings:       siblings,
		SiblingCounts:  countStatuses(siblings),
		Children:       children,
		ChildrenCounts: countStatuses(children),
		Blocking:       blocking,
		BlockedBy:      blockedBy,
		RecentEvents:   recent,
	}, nil
}

// ForSession builds the projection around sessionID's current focus,
// failing NotFound if the session has no focus set.
func (v *Viewer) ForSession(ctx context.Context, sessionID string) (*View, error) {
	taskID, err := v.focus.GetFocus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if taskID == nil {
		return nil, fmt.Errorf("%w: session %q has no focus", store.ErrNotFound, sessionID)
	}
	return v.ForTask(ctx, *taskID)
}
