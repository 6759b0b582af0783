// Package types defines the shared records of the era catalog: eras,
// temporal unique keys, temporal foreign keys, and the merge plan/feedback
// rows exchanged between the planner and the executor.
package types

import (
	"github.com/untoldecay/EraDB/internal/interval"
)

// ReservedEraName is rejected for application-time eras; it is reserved for
// system versioning, which is out of scope here.
const ReservedEraName = "system_time"

// DefaultEraName is the era used when callers do not name one.
const DefaultEraName = "valid"

// Era is a named application-time period on a user table.
type Era struct {
	Table       string        `json:"table"`
	Name        string        `json:"name"`
	FromColumn  string        `json:"from_column"`
	UntilColumn string        `json:"until_column"`
	Kind        interval.Kind `json:"kind"`

	// BoundsCheckTrigger names the trigger pair (suffix _ins/_upd) that
	// rejects rows with from >= until or NULL bounds. Empty when the era
	// was added with AddBoundsCheck=false.
	BoundsCheckTrigger string `json:"bounds_check_trigger,omitempty"`

	// SyncToColumn, when set, is an inclusive valid_to column kept in step
	// with UntilColumn by trigger.
	SyncToColumn string `json:"sync_to_column,omitempty"`
	// SyncRangeColumn, when set, is a text rendering of the whole range
	// kept in step by trigger.
	SyncRangeColumn string `json:"sync_range_column,omitempty"`

	// AuditTable, when set, receives history rows on update/delete.
	AuditTable string `json:"audit_table,omitempty"`
}

// UniqueKey is a temporal primary/natural key: rows equal on Columns must
// not have overlapping validity in the named era.
type UniqueKey struct {
	Name    string   `json:"name"`
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	EraName string   `json:"era_name"`

	// UniqueIndex backs uniqueness over (Columns..., from, until).
	UniqueIndex string `json:"unique_index"`
	// ExclusionInsertTrigger and ExclusionUpdateTrigger back the overlap
	// rejection.
	ExclusionInsertTrigger string `json:"exclusion_insert_trigger"`
	ExclusionUpdateTrigger string `json:"exclusion_update_trigger"`

	// Predicate is an optional WHERE clause narrowing the key to a subset
	// of rows (backed by a partial index).
	Predicate string `json:"predicate,omitempty"`
}

// MatchMode is the NULL-handling mode of a temporal foreign key.
type MatchMode string

const (
	MatchSimple  MatchMode = "SIMPLE"
	MatchFull    MatchMode = "FULL"
	MatchPartial MatchMode = "PARTIAL" // reserved, not implemented
)

// IsValid reports whether m is a recognized match mode.
func (m MatchMode) IsValid() bool {
	switch m {
	case MatchSimple, MatchFull, MatchPartial:
		return true
	}
	return false
}

// FKAction is a referential action on a temporal foreign key. Only NO ACTION
// and RESTRICT are allowed: CASCADE and the SET variants have no agreed
// temporal semantics.
type FKAction string

const (
	ActionNoAction FKAction = "NO ACTION"
	ActionRestrict FKAction = "RESTRICT"
)

// IsValid reports whether a is an allowed action.
func (a FKAction) IsValid() bool {
	return a == ActionNoAction || a == ActionRestrict
}

// CheckKind identifies one of the four validation events of a temporal
// foreign key.
type CheckKind string

const (
	CheckChildInsert  CheckKind = "child_insert"
	CheckChildUpdate  CheckKind = "child_update"
	CheckParentUpdate CheckKind = "parent_update"
	CheckParentDelete CheckKind = "parent_delete"
)

// ForeignKey is a reference from child (Table, Columns, EraName) to the
// parent unique key RefKey. The child row's validity must be contiguously
// covered by parent rows sharing the referenced key.
type ForeignKey struct {
	Name    string   `json:"name"`
	Table   string   `json:"table"` // child table
	Columns []string `json:"columns"`
	EraName string   `json:"era_name"`
	RefKey  string   `json:"ref_key"` // parent unique key name

	Match    MatchMode `json:"match"`
	OnUpdate FKAction  `json:"on_update"`
	OnDelete FKAction  `json:"on_delete"`

	// Check handles, one per validation event. The catalog owns the names;
	// the constraint validator dispatches on them.
	ChildInsertCheck  string `json:"child_insert_check"`
	ChildUpdateCheck  string `json:"child_update_check"`
	ParentUpdateCheck string `json:"parent_update_check"`
	ParentDeleteCheck string `json:"parent_delete_check"`
}

// DropBehavior controls dependency handling on drop_* operations.
type DropBehavior string

const (
	DropRestrict DropBehavior = "RESTRICT"
	DropCascade  DropBehavior = "CASCADE"
)

// IsValid reports whether b is a recognized behavior.
func (b DropBehavior) IsValid() bool {
	return b == DropRestrict || b == DropCascade
}
