// Package types defines the entities shared across Intent-Engine's
// components: Task, Dependency, Event, Session, and their enums.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/wayfind/intent-engine-sub003/internal/store"
)

// Status is a task's position in its todo -> doing -> done lifecycle.
type Status string

const (
	StatusTodo  Status = "todo"
	StatusDoing Status = "doing"
	StatusDone  Status = "done"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusDone:
		return true
	default:
		return false
	}
}

// Priority is optional; the zero value (PriorityNone) means "unset".
type Priority int

const (
	PriorityNone     Priority = 0
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

var priorityNames = map[Priority]string{
	PriorityNone:     "",
	PriorityLow:      "low",
	PriorityMedium:   "medium",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

var priorityValues = map[string]Priority{
	"low":      PriorityLow,
	"medium":   PriorityMedium,
	"high":     PriorityHigh,
	"critical": PriorityCritical,
}

func (p Priority) String() string { return priorityNames[p] }

// ParsePriority maps the wire-level strings from spec.md's Planner
// document (§4.6) onto a Priority. An empty string is PriorityNone.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNone, nil
	}
	p, ok := priorityValues[s]
	if !ok {
		return 0, fmt.Errorf("invalid priority %q", s)
	}
	return p, nil
}

// Owner records who is responsible for driving a task forward.
type Owner string

const (
	OwnerHuman Owner = "human"
	OwnerAI    Owner = "ai"
)

func (o Owner) Valid() bool {
	switch o {
	case OwnerHuman, OwnerAI:
		return true
	default:
		return false
	}
}

// MaxNameLength is the limit on Task.Name, per spec.md §3 (I1's scope
// is name-within-parent; this bounds the column itself).
const MaxNameLength = 256

// MaxHierarchyDepth is the recommended depth cap D from spec.md §3 (I2).
const MaxHierarchyDepth = 64

// Task is a unit of strategic intent. See spec.md §3.
type Task struct {
	ID            int64
	Name          string
	Spec          string
	Status        Status
	Priority      Priority
	ActiveForm    string
	ParentID      *int64
	Owner         Owner
	FirstTodoAt   *time.Time
	FirstDoingAt  *time.Time
	FirstDoneAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validation errors for Task fields, following the sentinel +
// fmt.Errorf("%w", ...) wrapping convention used throughout this
// module (see internal/store/errors.go), not a validation library.
var (
	ErrEmptyName   = errors.New("name is required")
	ErrNameTooLong = fmt.Errorf("name must be %d characters or less", MaxNameLength)
	ErrInvalidEnum = fmt.Errorf("invalid enum value: %w", store.ErrInvalidInput)
)

// Validate checks the field-level constraints that do not require a
// database round trip (I1, I2, I6 are checked by internal/graph, which
// has access to the store). This is the same "field-shape" validation
// boundary the teacher's types.Issue.Validate draws.
func (t *Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: %w", store.ErrInvalidInput, ErrEmptyName)
	}
	if len(t.Name) > MaxNameLength {
		return fmt.Errorf("%w: %w", store.ErrInvalidInput, ErrNameTooLong)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q: %w", store.ErrInvalidInput, t.Status, ErrInvalidEnum)
	}
	if t.Owner != "" && !t.Owner.Valid() {
		return fmt.Errorf("%w: invalid owner %q: %w", store.ErrInvalidInput, t.Owner, ErrInvalidEnum)
	}
	if t.Priority < PriorityNone || t.Priority > PriorityCritical {
		return fmt.Errorf("%w: priority must be between %d and %d", store.ErrInvalidInput, PriorityNone, PriorityCritical)
	}
	if t.Status == StatusDoing && t.Spec == "" {
		return fmt.Errorf("task entering doing status: %w", ErrMissingSpec)
	}
	return nil
}

// ErrMissingSpec mirrors the MissingSpec error kind from spec.md §7;
// wrapping store.ErrMissingSpec lets cmd/intentengine's error-taxonomy
// classifier match it without this package importing cmd.
var ErrMissingSpec = fmt.Errorf("doing status requires a non-empty spec: %w", store.ErrMissingSpec)
