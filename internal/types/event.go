package types

import (
	"fmt"
	"time"

	"github.com/wayfind/intent-engine-sub003/internal/store"
)

// EventType is a closed set, per spec.md §3.
type EventType string

const (
	EventDecision  EventType = "decision"
	EventBlocker   EventType = "blocker"
	EventMilestone EventType = "milestone"
	EventNote      EventType = "note"
)

func (e EventType) Valid() bool {
	switch e {
	case EventDecision, EventBlocker, EventMilestone, EventNote:
		return true
	default:
		return false
	}
}

// Event is an append-mostly log entry attached to a task.
type Event struct {
	ID       int64
	TaskID   int64
	Type     EventType
	Data     string
	LoggedAt time.Time
}

var ErrEmptyData = fmt.Errorf("data is required: %w", store.ErrInvalidInput)

func (e *Event) Validate() error {
	if e.TaskID <= 0 {
		return fmt.Errorf("task_id is required: %w", store.ErrInvalidInput)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("invalid event type %q: %w", e.Type, ErrInvalidEnum)
	}
	if e.Data == "" {
		return ErrEmptyData
	}
	return nil
}
