package types

import "time"

// DefaultSessionID is the sentinel "cli" session that always exists
// (spec.md §4.5, §6.4).
const DefaultSessionID = "cli"

// Session holds a single caller's focus pointer into the task forest.
type Session struct {
	SessionID     string
	CurrentTaskID *int64
	LastSeenAt    time.Time
}

// Dependency is a directed "from is blocked by to" edge (spec.md §3).
type Dependency struct {
	FromTaskID int64
	ToTaskID   int64
}
