// Package events implements C4, the Event Log: append/list/update/delete
// of immutable-by-default entries attached to a task (spec.md §4.4).
//
// Grounded on the single-purpose-statement style of
// internal/storage/sqlite/queries.go's CreateIssue/GetIssue functions.
// No implicit event emission: callers decide when to log, exactly as
// spec.md §4.4 requires.
package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wayfind/intent-engine-sub003/internal/graph"
	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/types"
)

type Log struct {
	st *store.Store
}

func New(st *store.Store) *Log { return &Log{st: st} }

// loggedAtLayout is RFC3339 with a fixed nine-digit fraction, so that
// logged_at values sort and compare as strings in time order.
const loggedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Append records an event against an existing task, failing NotFound if
// the task is absent or deleted.
func (l *Log) Append(ctx context.Context, taskID int64, typ types.EventType, data string) (int64, error) {
	e := &types.Event{TaskID: taskID, Type: typ, Data: data}
	if err := e.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := l.st.WithTx(ctx, func(conn *sql.Conn) error {
		var exists bool
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM tasks WHERE id = ?`, taskID).Scan(&exists); err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		if !exists {
			return store.ErrNotFound
		}

		now := time.Now().UTC().Format(loggedAtLayout)
		res, err := conn.ExecContext(ctx, `
			INSERT INTO events (task_id, type, data, logged_at) VALUES (?, ?, ?, ?)
		`, taskID, string(typ), data, now)
		if err != nil {
			return fmt.Errorf("append event: %w: %v", store.ErrStorageFailure, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("append event: %w: %v", store.ErrStorageFailure, err)
		}
		graph.MarkEventDirty(ctx, conn, id)
		return nil
	})
	return id, err
}

// List returns events on taskID newest-first, with a stable id tiebreak,
// optionally paged with limit and an exclusive "before" timestamp.
func (l *Log) List(ctx context.Context, taskID int64, limit int, before *time.Time) ([]*types.Event, error) {
	q := `
		SELECT id, task_id, type, data, logged_at FROM events
		WHERE task_id = ?
	`
	args := []interface{}{taskID}
	if before != nil {
		q += " AND logged_at < ?"
		args = append(args, before.UTC().Format(loggedAtLayout))
	}
	q += " ORDER BY logged_at DESC, id DESC"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := l.st.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(rows *sql.Rows) (*types.Event, error) {
	var e types.Event
	var loggedAt string
	if err := rows.Scan(&e.ID, &e.TaskID, &e.Type, &e.Data, &loggedAt); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	t, err := time.Parse(time.RFC3339Nano, loggedAt)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, loggedAt)
	}
	e.LoggedAt = t.UTC()
	return &e, nil
}

// Update replaces an event's data text.
func (l *Log) Update(ctx context.Context, eventID int64, newData string) error {
	if newData == "" {
		return types.ErrEmptyData
	}
	return l.st.WithTx(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `UPDATE events SET data = ? WHERE id = ?`, newData, eventID)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		graph.MarkEventDirty(ctx, conn, eventID)
		return nil
	})
}

// Delete removes a single event by id.
func (l *Log) Delete(ctx context.Context, eventID int64) error {
	return l.st.WithTx(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, eventID)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		graph.MarkEventDirty(ctx, conn, eventID)
		return nil
	})
}
