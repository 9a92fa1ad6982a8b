// Package planner implements C6, the declarative batch reconciler:
// plan(doc, session) -> Report, a single atomic transaction applying a
// {"tasks": [...]} document (spec.md §4.6).
//
// Grounded in the teacher's idiom (typed request/response structs,
// database/sql parameter binding, internal/store's sentinel error
// taxonomy, the shared Store.WithTx wrapper) even though the teacher
// itself has no equivalent batch planner: beads mutates one issue per
// CLI invocation. The algorithm here — three-state parent resolution,
// name->id placeholder map, topological create/update ordering — is
// new, built the way the teacher would build it.
package planner

import (
	"encoding/json"
	"fmt"

	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/types"
)

// ParentSpec captures the three-state parent field from spec.md §4.6.2:
// absent (auto-parent), explicit null (root), or an explicit id.
type ParentSpec struct {
	set   bool
	id    *int64
}

// Absent reports the field was omitted entirely from the JSON entry.
func (p ParentSpec) Absent() bool { return !p.set }

// Explicit reports the field was present, returning its value (nil for
// JSON null, meaning "explicit root").
func (p ParentSpec) Explicit() (*int64, bool) { return p.id, p.set }

// UnmarshalJSON distinguishes "absent" (never called) from "null"
// (id == nil, set == true) from "N" (id == &N, set == true).
func (p *ParentSpec) UnmarshalJSON(data []byte) error {
	p.set = true
	if string(data) == "null" {
		p.id = nil
		return nil
	}
	var id int64
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("parent_id: %w: %v", types.ErrInvalidEnum, err)
	}
	p.id = &id
	return nil
}

// Entry is one element of the plan document's "tasks" array, and also
// the shape of each recursive "children" element.
type Entry struct {
	ID         *int64      `json:"id,omitempty"`
	Name       string      `json:"name,omitempty"`
	Spec       *string     `json:"spec,omitempty"`
	Status     *string     `json:"status,omitempty"`
	Priority   *string     `json:"priority,omitempty"`
	ActiveForm *string     `json:"active_form,omitempty"`
	ParentID   ParentSpec  `json:"parent_id,omitempty"`
	Children   []Entry     `json:"children,omitempty"`
	DependsOn  []string    `json:"depends_on,omitempty"`
	Delete     bool        `json:"delete,omitempty"`
}

// Document is the top-level plan payload from spec.md §4.6.
type Document struct {
	Tasks []Entry `json:"tasks"`
}

// Parse decodes a plan document. Unlike the teacher's query language,
// no schema-validation library is used: spec.md's payload shape is
// checked by hand, the way queries.go hand-parses its JSON columns.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding plan document: %w: %v", store.ErrInvalidInput, err)
	}
	return &doc, nil
}

// Report is the Planner's response shape (spec.md §6.2).
type Report struct {
	Success             bool             `json:"success"`
	CreatedCount        int              `json:"created_count"`
	UpdatedCount        int              `json:"updated_count"`
	DeletedCount        int              `json:"deleted_count"`
	CascadeDeletedCount int              `json:"cascade_deleted_count"`
	TaskIDMap           map[string]int64 `json:"task_id_map"`
	Warnings            []string         `json:"warnings,omitempty"`
}

func newReport() *Report {
	return &Report{TaskIDMap: map[string]int64{}}
}
