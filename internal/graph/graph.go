// Package graph implements C3, the Task Graph: CRUD over tasks, the
// parent/child forest, the dependency DAG, cycle detection, cascade
// delete, and focus protection (spec.md §4.3).
//
// Grounded on internal/storage/sqlite/queries.go and delete.go: the
// same single-purpose-statement-per-operation style, the same
// fmt.Errorf %w wrapping against the store error taxonomy, and
// delete.go's BFS dependent-expansion worklist for cascade delete,
// generalized from
// beads' issue-dependency graph to Intent-Engine's independent
// parent-forest + dependency-DAG model (spec.md §4.3's design note that
// the two must each be acyclic on their own, not across their union).
package graph

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/types"
)

// Graph is the C3 Task Graph, backed by a Store.
type Graph struct {
	st *store.Store
}

func New(st *store.Store) *Graph { return &Graph{st: st} }

// Get fetches a single task by id.
func (g *Graph) Get(ctx context.Context, id int64) (*types.Task, error) {
	return scanTask(g.st.DB().QueryRowContext(ctx, taskSelectSQL+` WHERE id = ?`, id))
}

// GetTx is Get against a conn already inside a write transaction, for
// callers (internal/planner) that must read-then-mutate within one tx.
func GetTx(ctx context.Context, conn *sql.Conn, id int64) (*types.Task, error) {
	return scanTask(conn.QueryRowContext(ctx, taskSelectSQL+` WHERE id = ?`, id))
}

const taskSelectSQL = `
	SELECT id, name, spec, status, priority, active_form, parent_id, owner,
	       first_todo_at, first_doing_at, first_done_at, created_at, updated_at
	FROM tasks
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var t types.Task
	var parentID sql.NullInt64
	var priority int
	var firstTodo, firstDoing, firstDone sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&t.ID, &t.Name, &t.Spec, &t.Status, &priority, &t.ActiveForm, &parentID, &t.Owner,
		&firstTodo, &firstDoing, &firstDone, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning task: %w: %v", store.ErrStorageFailure, err)
	}

	t.Priority = types.Priority(priority)
	if parentID.Valid {
		v := parentID.Int64
		t.ParentID = &v
	}
	t.FirstTodoAt = parseNullTime(firstTodo)
	t.FirstDoingAt = parseNullTime(firstDoing)
	t.FirstDoneAt = parseNullTime(firstDone)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Query filters Find's result set (spec.md §4.3's find(query)).
type Query struct {
	Status        *types.Status
	ParentID      *int64
	ParentIsNull  bool
	Priority      *types.Priority
	NameSubstring string
	Limit         int
	Offset        int
}

// Find lists tasks matching the given filters.
func (g *Graph) Find(ctx context.Context, q Query) ([]*types.Task, error) {
	clauses := []string{"1=1"}
	args := []interface{}{}

	if q.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*q.Status))
	}
	if q.ParentIsNull {
		clauses = append(clauses, "parent_id IS NULL")
	} else if q.ParentID != nil {
		clauses = append(clauses, "parent_id = ?")
		args = append(args, *q.ParentID)
	}
	if q.Priority != nil {
		clauses = append(clauses, "priority = ?")
		args = append(args, int(*q.Priority))
	}
	if q.NameSubstring != "" {
		clauses = append(clauses, "name LIKE ?")
		args = append(args, "%"+q.NameSubstring+"%")
	}

	sqlStr := taskSelectSQL + " WHERE " + join(clauses, " AND ") + " ORDER BY id ASC"
	if q.Limit > 0 {
		sqlStr += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, q.Offset)
	}

	rows, err := g.st.DB().QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("find: %w: %v", store.ErrStorageFailure, err)
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

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// findByScope looks up an existing non-deleted task by (parent, name),
// the lookup the Planner's idempotent upsert (spec.md §4.6.3) and I1's
// name-uniqueness check both need.
func findByScope(ctx context.Context, q queryer, parentID *int64, name string) (*types.Task, error) {
	var row *sql.Row
	if parentID == nil {
		row = q.QueryRowContext(ctx, taskSelectSQL+` WHERE parent_id IS NULL AND name = ?`, name)
	} else {
		row = q.QueryRowContext(ctx, taskSelectSQL+` WHERE parent_id = ? AND name = ?`, *parentID, name)
	}
	t, err := scanTask(row)
	if err == store.ErrNotFound {
		return nil, nil
	}
	return t, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// FindByScope is the exported form used by internal/planner.
func FindByScope(ctx context.Context, conn *sql.Conn, parentID *int64, name string) (*types.Task, error) {
	return findByScope(ctx, conn, parentID, name)
}

// sortedIDs is a small helper to make SQL IN (...) clause construction
// and result ordering deterministic, mirroring the placeholder-building
// helpers in internal/storage/sqlite/delete.go.
func sortedIDs(ids map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ",?"
	}
	return out
}

func int64sToArgs(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
