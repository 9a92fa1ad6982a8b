package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in spec.md §7. Direct port of
// internal/storage/sqlite/errors.go's shape, extended with the kinds
// the teacher's narrower issue-tracker taxonomy didn't need.
var (
	ErrNotFound             = errors.New("not found")
	ErrNameConflictInScope  = errors.New("name already used at this level")
	ErrHierarchyCycle       = errors.New("hierarchy cycle detected")
	ErrDependencyCycle      = errors.New("dependency cycle detected")
	ErrInvalidStatusTrans   = errors.New("invalid status transition")
	ErrMultipleDoingInPlan  = errors.New("plan sets more than one task to doing")
	ErrFocusProtected       = errors.New("task is focused by a session")
	ErrUncompletedChildren  = errors.New("parent has uncompleted children")
	ErrMissingSpec          = errors.New("doing requires a non-empty spec")
	ErrBusy                 = errors.New("write lock acquisition timed out")
	ErrStorageFailure       = errors.New("storage failure")
	ErrIncompatibleSchema   = errors.New("schema is newer than this binary supports")
	ErrInvalidInput         = errors.New("invalid input")

	// ErrSelfDependency is I7's special case of I6: a task cannot depend
	// on itself. It wraps ErrDependencyCycle since spec.md §7's taxonomy
	// has no separate kind for it — a self-edge is a one-node cycle.
	ErrSelfDependency = fmt.Errorf("self dependency forbidden: %w", ErrDependencyCycle)
)

// FocusProtectedError carries the blocking session id, per spec.md §7's
// requirement that focus errors always name the offending session.
type FocusProtectedError struct {
	TaskID    int64
	SessionID string
}

func (e *FocusProtectedError) Error() string {
	return fmt.Sprintf("task %d is focused by session %q", e.TaskID, e.SessionID)
}

func (e *FocusProtectedError) Unwrap() error { return ErrFocusProtected }

// NameConflictError names the scope a duplicate name collided in.
type NameConflictError struct {
	ParentID *int64
	Name     string
}

func (e *NameConflictError) Error() string {
	if e.ParentID == nil {
		return fmt.Sprintf("name %q already used at root scope", e.Name)
	}
	return fmt.Sprintf("name %q already used under parent %d", e.Name, *e.ParentID)
}

func (e *NameConflictError) Unwrap() error { return ErrNameConflictInScope }
