// Package lifecycle keeps the era catalog consistent across schema changes.
// DDL reaches the database through the storage layer, which synthesizes an
// Event per statement and runs it through the guard: forbidden DDL is
// rejected before execution, allowed DDL is followed by catalog
// reconciliation inside the same transaction.
package lifecycle

import (
	"fmt"
	"regexp"
	"strings"
)

// EventKind enumerates the schema changes the guard reacts to.
type EventKind string

const (
	EventDropTable    EventKind = "drop_table"
	EventDropIndex    EventKind = "drop_index"
	EventDropTrigger  EventKind = "drop_trigger"
	EventDropView     EventKind = "drop_view"
	EventDropColumn   EventKind = "drop_column"
	EventRenameTable  EventKind = "rename_table"
	EventRenameColumn EventKind = "rename_column"
	// EventOther covers DDL the guard has no interest in.
	EventOther EventKind = "other"
)

// Event is one parsed DDL statement.
type Event struct {
	Kind EventKind
	// Object is the dropped object's name (drop events).
	Object string
	// Table is the table being altered (alter/drop-column events), or the
	// old name for rename_table.
	Table string
	// Column is the old column name for drop/rename column events.
	Column string
	// NewName is the new table or column name for rename events.
	NewName string
}

var (
	reDropTable    = regexp.MustCompile(`(?is)^\s*DROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?["']?([\w.]+)["']?`)
	reDropIndex    = regexp.MustCompile(`(?is)^\s*DROP\s+INDEX\s+(?:IF\s+EXISTS\s+)?["']?([\w.]+)["']?`)
	reDropTrigger  = regexp.MustCompile(`(?is)^\s*DROP\s+TRIGGER\s+(?:IF\s+EXISTS\s+)?["']?([\w.]+)["']?`)
	reDropView     = regexp.MustCompile(`(?is)^\s*DROP\s+VIEW\s+(?:IF\s+EXISTS\s+)?["']?([\w.]+)["']?`)
	reRenameTable  = regexp.MustCompile(`(?is)^\s*ALTER\s+TABLE\s+["']?([\w.]+)["']?\s+RENAME\s+TO\s+["']?([\w.]+)["']?`)
	reRenameColumn = regexp.MustCompile(`(?is)^\s*ALTER\s+TABLE\s+["']?([\w.]+)["']?\s+RENAME\s+(?:COLUMN\s+)?["']?([\w.]+)["']?\s+TO\s+["']?([\w.]+)["']?`)
	reDropColumn   = regexp.MustCompile(`(?is)^\s*ALTER\s+TABLE\s+["']?([\w.]+)["']?\s+DROP\s+(?:COLUMN\s+)?["']?([\w.]+)["']?`)
)

// ParseDDL classifies a DDL statement. Statements the guard does not care
// about come back as EventOther.
func ParseDDL(stmt string) Event {
	if m := reDropTable.FindStringSubmatch(stmt); m != nil {
		return Event{Kind: EventDropTable, Object: m[1], Table: m[1]}
	}
	if m := reDropIndex.FindStringSubmatch(stmt); m != nil {
		return Event{Kind: EventDropIndex, Object: m[1]}
	}
	if m := reDropTrigger.FindStringSubmatch(stmt); m != nil {
		return Event{Kind: EventDropTrigger, Object: m[1]}
	}
	if m := reDropView.FindStringSubmatch(stmt); m != nil {
		return Event{Kind: EventDropView, Object: m[1]}
	}
	if m := reRenameTable.FindStringSubmatch(stmt); m != nil {
		return Event{Kind: EventRenameTable, Table: m[1], NewName: m[2]}
	}
	if m := reRenameColumn.FindStringSubmatch(stmt); m != nil {
		return Event{Kind: EventRenameColumn, Table: m[1], Column: m[2], NewName: m[3]}
	}
	if m := reDropColumn.FindStringSubmatch(stmt); m != nil {
		return Event{Kind: EventDropColumn, Table: m[1], Column: m[2]}
	}
	return Event{Kind: EventOther}
}

// String renders the event for error messages.
func (e Event) String() string {
	switch e.Kind {
	case EventRenameTable:
		return fmt.Sprintf("rename table %s to %s", e.Table, e.NewName)
	case EventRenameColumn:
		return fmt.Sprintf("rename column %s.%s to %s", e.Table, e.Column, e.NewName)
	case EventDropColumn:
		return fmt.Sprintf("drop column %s.%s", e.Table, e.Column)
	case EventOther:
		return "other"
	default:
		return strings.ReplaceAll(string(e.Kind), "_", " ") + " " + e.Object
	}
}
