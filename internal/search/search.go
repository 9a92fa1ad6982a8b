// Package search implements C7: full-text index maintenance and unified
// ranked search over tasks and events (spec.md §4.7).
//
// Grounded on spec.md §9's "delegate to the embedded DB's built-in FTS"
// design note: there is no teacher precedent for FTS (grep across
// internal/storage/sqlite/*.go turns up no bm25/fts5 usage anywhere in
// the retrieved pack), so the shape here follows the teacher's general
// discipline of building a single ranked ORDER BY expression in SQL
// (visible in internal/storage/sqlite's query-building style) rather
// than ranking in Go.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/wayfind/intent-engine-sub003/internal/query"
	"github.com/wayfind/intent-engine-sub003/internal/store"
)

// maxConcurrentSearches bounds how many Search calls may be in flight
// against the shared read pool at once, separate from the single
// serialized writer connection (spec.md §5's concurrency model).
const maxConcurrentSearches = 8

// Indexer drains the dirty_tasks/dirty_events queues into the standalone
// FTS5 tables created by migration 2, and answers ranked search queries.
// Implements store.Indexer.
type Indexer struct {
	st  *store.Store
	sem *semaphore.Weighted
}

func New(st *store.Store) *Indexer {
	return &Indexer{st: st, sem: semaphore.NewWeighted(maxConcurrentSearches)}
}

// Drain is called by Store as the last step of every write transaction
// (see store.runOnce), keeping the FTS index inside the same commit as
// the write that dirtied it (P12).
func (ix *Indexer) Drain(ctx context.Context, conn *sql.Conn) error {
	if err := ix.drainTasks(ctx, conn); err != nil {
		return err
	}
	return ix.drainEvents(ctx, conn)
}

func (ix *Indexer) drainTasks(ctx context.Context, conn *sql.Conn) error {
	rows, err := conn.QueryContext(ctx, `SELECT task_id FROM dirty_tasks`)
	if err != nil {
		return fmt.Errorf("%w: listing dirty tasks: %v", store.ErrStorageFailure, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}

	for _, id := range ids {
		if err := ix.reindexTask(ctx, conn, id); err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM dirty_tasks WHERE task_id = ?`, id); err != nil {
			return fmt.Errorf("%w: clearing dirty task %d: %v", store.ErrStorageFailure, id, err)
		}
	}
	return nil
}

// reindexTask upserts task id's row into tasks_fts, or removes it if the
// task no longer exists (cascade delete). tasks_fts is a standalone
// (non-external-content) fts5 table addressed by rowid = task id, so
// both paths are ordinary DML rather than the special 'delete' command
// an external-content table would require.
func (ix *Indexer) reindexTask(ctx context.Context, conn *sql.Conn, id int64) error {
	var name, spec string
	err := conn.QueryRowContext(ctx, `SELECT name, spec FROM tasks WHERE id = ?`, id).Scan(&name, &spec)
	if err == sql.ErrNoRows {
		_, err := conn.ExecContext(ctx, `DELETE FROM tasks_fts WHERE rowid = ?`, id)
		if err != nil {
			return fmt.Errorf("%w: removing task %d from index: %v", store.ErrStorageFailure, id, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading task %d: %v", store.ErrStorageFailure, id, err)
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM tasks_fts WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	if _, err := conn.ExecContext(ctx,
		`INSERT INTO tasks_fts (rowid, name, spec) VALUES (?, ?, ?)`, id, name, spec,
	); err != nil {
		return fmt.Errorf("%w: indexing task %d: %v", store.ErrStorageFailure, id, err)
	}
	return nil
}

func (ix *Indexer) drainEvents(ctx context.Context, conn *sql.Conn) error {
	rows, err := conn.QueryContext(ctx, `SELECT event_id FROM dirty_events`)
	if err != nil {
		return fmt.Errorf("%w: listing dirty events: %v", store.ErrStorageFailure, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}

	for _, id := range ids {
		if err := ix.reindexEvent(ctx, conn, id); err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM dirty_events WHERE event_id = ?`, id); err != nil {
			return fmt.Errorf("%w: clearing dirty event %d: %v", store.ErrStorageFailure, id, err)
		}
	}
	return nil
}

func (ix *Indexer) reindexEvent(ctx context.Context, conn *sql.Conn, id int64) error {
	var data string
	err := conn.QueryRowContext(ctx, `SELECT data FROM events WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		_, err := conn.ExecContext(ctx, `DELETE FROM events_fts WHERE rowid = ?`, id)
		if err != nil {
			return fmt.Errorf("%w: removing event %d from index: %v", store.ErrStorageFailure, id, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading event %d: %v", store.ErrStorageFailure, id, err)
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM events_fts WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	if _, err := conn.ExecContext(ctx,
		`INSERT INTO events_fts (rowid, data) VALUES (?, ?)`, id, data,
	); err != nil {
		return fmt.Errorf("%w: indexing event %d: %v", store.ErrStorageFailure, id, err)
	}
	return nil
}

// Kind distinguishes a task hit from an event hit in search results
// (spec.md §6.3).
type Kind string

const (
	KindTask  Kind = "task"
	KindEvent Kind = "event"
)

// Hit is one ranked search result, matching spec.md §6.3's
// {kind, id, task_id?, snippet, score} shape.
type Hit struct {
	Kind    Kind    `json:"kind"`
	ID      int64   `json:"id"`
	TaskID  int64   `json:"task_id,omitempty"` // only meaningful when Kind == KindEvent
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Filters narrows a search beyond the query text.
type Filters struct {
	// EventsOnly restricts results to event hits (spec.md §4.7: "unless
	// the query is tagged to include events only").
	EventsOnly bool
}

// Search runs q (already parsed) against the FTS index, returning hits
// ranked per spec.md §4.7: task hits before event hits (unless
// EventsOnly), exact name match > phrase-in-name > name-token-hits >
// spec-token-hits, then recency (first_doing_at desc, first_todo_at
// desc), ties broken by id ascending.
func (ix *Indexer) Search(ctx context.Context, q string, limit, offset int, filters Filters) ([]Hit, error) {
	if err := ix.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: acquiring search slot: %v", store.ErrBusy, err)
	}
	defer ix.sem.Release(1)

	node, err := query.NewParser(q).Parse()
	if err != nil {
		return nil, fmt.Errorf("%w: parsing query: %v", store.ErrInvalidInput, err)
	}
	compiled, err := query.Compile(node)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling query: %v", store.ErrInvalidInput, err)
	}
	if limit <= 0 {
		limit = 50
	}

	var hits []Hit
	if !filters.EventsOnly {
		taskHits, err := ix.searchTasks(ctx, compiled, q)
		if err != nil {
			return nil, err
		}
		hits = append(hits, taskHits...)
	}

	eventHits, err := ix.searchEvents(ctx, compiled.Match)
	if err != nil {
		return nil, err
	}
	hits = append(hits, eventHits...)

	if offset >= len(hits) {
		return nil, nil
	}
	hits = hits[offset:]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// searchTasks ranks by the tiered rule in spec.md §4.7: exact name
// match > phrase-in-name > name-token-hits > spec-token-hits. bm25()
// alone ranks by term frequency/rarity across the whole indexed row,
// which can't tell a name hit from a spec hit, so the ORDER BY leads
// with a CASE ladder: tiers 0-1 are a literal substring test against
// the raw query text (mirroring whatever the caller typed, independent
// of how the FTS5 MATCH expression was compiled), and tier 2 asks FTS5
// itself whether the compiled match hits the name column specifically,
// via the `nh` subquery's column-filtered `name:(...)` MATCH — the same
// compiled.Match used for the row-selecting MATCH below, just scoped to
// one column. Anything matching only through the spec column falls to
// tier 3. bm25()/recency/id only break remaining ties within a tier.
func (ix *Indexer) searchTasks(ctx context.Context, compiled *query.Compiled, rawQuery string) ([]Hit, error) {
	if compiled.Match == "" {
		return nil, nil
	}

	needle := strings.ToLower(strings.Trim(rawQuery, `"`))

	statusFilter := ""
	var statusArgs []interface{}
	if len(compiled.Statuses) > 0 {
		ph := make([]string, len(compiled.Statuses))
		for i, s := range compiled.Statuses {
			ph[i] = "?"
			statusArgs = append(statusArgs, string(s))
		}
		statusFilter = " AND t.status IN (" + strings.Join(ph, ",") + ")"
	}

	args := []interface{}{needle, needle, compiled.Match, compiled.Match}
	args = append(args, statusArgs...)

	rows, err := ix.st.DB().QueryContext(ctx, `
		SELECT t.id, t.name, t.spec,
			CASE
				WHEN lower(t.name) = ? THEN 0
				WHEN instr(lower(t.name), ?) > 0 THEN 1
				WHEN nh.rowid IS NOT NULL THEN 2
				ELSE 3
			END AS tier,
			bm25(tasks_fts) AS rank,
			t.first_doing_at, t.first_todo_at
		FROM tasks_fts
		JOIN tasks t ON t.id = tasks_fts.rowid
		LEFT JOIN (
			SELECT rowid FROM tasks_fts WHERE tasks_fts MATCH ('name:(' || ? || ')')
		) nh ON nh.rowid = t.id
		WHERE tasks_fts MATCH ?`+statusFilter+`
		ORDER BY tier ASC, rank ASC,
			t.first_doing_at DESC, t.first_todo_at DESC, t.id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: searching tasks: %v", store.ErrStorageFailure, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id int64
		var name, spec string
		var tier int
		var rank float64
		var firstDoing, firstTodo sql.NullString
		if err := rows.Scan(&id, &name, &spec, &tier, &rank, &firstDoing, &firstTodo); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		hits = append(hits, Hit{
			Kind:    KindTask,
			ID:      id,
			Snippet: snippet(name, spec),
			Score:   float64(100-tier*10) - rank,
		})
	}
	return hits, rows.Err()
}

func (ix *Indexer) searchEvents(ctx context.Context, match string) ([]Hit, error) {
	if match == "" {
		return nil, nil
	}
	rows, err := ix.st.DB().QueryContext(ctx, `
		SELECT e.id, e.task_id, e.data, bm25(events_fts) AS rank
		FROM events_fts
		JOIN events e ON e.id = events_fts.rowid
		WHERE events_fts MATCH ?
		ORDER BY rank ASC, e.id ASC
	`, match)
	if err != nil {
		return nil, fmt.Errorf("%w: searching events: %v", store.ErrStorageFailure, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id, taskID int64
		var data string
		var rank float64
		if err := rows.Scan(&id, &taskID, &data, &rank); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		hits = append(hits, Hit{
			Kind:    KindEvent,
			ID:      id,
			TaskID:  taskID,
			Snippet: snippet(data, ""),
			Score:   -rank,
		})
	}
	return hits, rows.Err()
}

const snippetLen = 160

func snippet(primary, secondary string) string {
	s := primary
	if strings.TrimSpace(s) == "" {
		s = secondary
	}
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= snippetLen {
		return s
	}
	return s[:snippetLen] + "…"
}
