package graph

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/types"
)

// Ancestors returns id's parent chain, root first, ending with id's
// direct parent.
func (g *Graph) Ancestors(ctx context.Context, id int64) ([]*types.Task, error) {
	var out []*types.Task
	cur := id
	for depth := 0; depth < types.MaxHierarchyDepth; depth++ {
		var parentID sql.NullInt64
		err := g.st.DB().QueryRowContext(ctx, `SELECT parent_id FROM tasks WHERE id = ?`, cur).Scan(&parentID)
		if err == sql.ErrNoRows {
			if depth == 0 {
				return nil, store.ErrNotFound
			}
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		if !parentID.Valid {
			break
		}
		parent, err := g.Get(ctx, parentID.Int64)
		if err != nil {
			return nil, err
		}
		out = append(out, parent)
		cur = parentID.Int64
	}
	// reverse to root-first order, per spec.md §4.8 ("ordered root→target").
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Descendants returns every task in id's subtree (id itself excluded),
// collected breadth-first and returned in ascending id order.
func (g *Graph) Descendants(ctx context.Context, id int64) ([]*types.Task, error) {
	seen, err := collectSubtree(ctx, connAdapter{g.st.DB()}, id)
	if err != nil {
		return nil, err
	}
	delete(seen, id)
	return g.tasksByIDs(ctx, sortedIDs(seen))
}

// Children returns id's direct children.
func (g *Graph) Children(ctx context.Context, id int64) ([]*types.Task, error) {
	return g.Find(ctx, Query{ParentID: &id})
}

// Siblings returns tasks sharing id's parent (excluding id itself).
func (g *Graph) Siblings(ctx context.Context, id int64) ([]*types.Task, error) {
	t, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var all []*types.Task
	if t.ParentID == nil {
		all, err = g.Find(ctx, Query{ParentIsNull: true})
	} else {
		all, err = g.Find(ctx, Query{ParentID: t.ParentID})
	}
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, s := range all {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out, nil
}

// maxTransitiveDepth bounds blocking/blocked_by output per spec.md §4.8.
const maxTransitiveDepth = 8

// Blocking returns tasks that id blocks (id is their `to` prerequisite),
// transitively, capped at maxTransitiveDepth.
func (g *Graph) Blocking(ctx context.Context, id int64) ([]*types.Task, error) {
	ids, err := transitiveDeps(ctx, g.st.DB(), id, `SELECT from_task_id FROM dependencies WHERE to_task_id = ?`)
	if err != nil {
		return nil, err
	}
	return g.tasksByIDs(ctx, ids)
}

// BlockedBy returns id's prerequisites, transitively, capped at
// maxTransitiveDepth.
func (g *Graph) BlockedBy(ctx context.Context, id int64) ([]*types.Task, error) {
	ids, err := transitiveDeps(ctx, g.st.DB(), id, `SELECT to_task_id FROM dependencies WHERE from_task_id = ?`)
	if err != nil {
		return nil, err
	}
	return g.tasksByIDs(ctx, ids)
}

func transitiveDeps(ctx context.Context, db *sql.DB, start int64, edgeSQL string) ([]int64, error) {
	seen := map[int64]struct{}{}
	frontier := []int64{start}
	for depth := 0; depth < maxTransitiveDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, cur := range frontier {
			rows, err := db.QueryContext(ctx, edgeSQL, cur)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
			}
			for rows.Next() {
				var n int64
				if err := rows.Scan(&n); err != nil {
					rows.Close()
					return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
				}
				if _, ok := seen[n]; !ok {
					seen[n] = struct{}{}
					next = append(next, n)
				}
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
			}
		}
		frontier = next
	}
	return sortedIDs(seen), nil
}

func (g *Graph) tasksByIDs(ctx context.Context, ids []int64) ([]*types.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := g.st.DB().QueryContext(ctx, taskSelectSQL+` WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id ASC`, int64sToArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	defer rows.Close()
	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// connAdapter lets *sql.DB satisfy the minimal query surface collectSubtree
// needs, which is normally called with a *sql.Conn inside a write
// transaction; read-only projections reuse the same walk against the DB
// pool directly.
type connAdapter struct{ db *sql.DB }

func (c connAdapter) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}
