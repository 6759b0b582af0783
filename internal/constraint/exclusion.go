// Package constraint enforces temporal integrity: the exclusion triggers
// backing temporal unique keys (synchronous, never deferred) and the
// coverage validator backing temporal foreign keys (deferrable to the
// statement or transaction boundary).
package constraint

import (
	"fmt"
	"strings"

	"github.com/untoldecay/EraDB/internal/types"
)

// ExclusionTriggerDDL renders the trigger pair enforcing a temporal unique
// key: any two rows equal on the key columns must not have overlapping
// validity. NULL in any key column disables the check (SIMPLE semantics).
// The update variant excludes the row being updated by rowid.
//
// The triggers are synchronous by design: the merge executor never creates
// transient overlaps (it shrinks before it grows), so deferral is never
// needed here.
func ExclusionTriggerDDL(key *types.UniqueKey, era *types.Era) (insertDDL, updateDDL string) {
	table := quoteIdent(key.Table)
	fromQ := quoteIdent(era.FromColumn)
	untilQ := quoteIdent(era.UntilColumn)

	var notNull, equal []string
	for _, col := range key.Columns {
		c := quoteIdent(col)
		notNull = append(notNull, "NEW."+c+" IS NOT NULL")
		equal = append(equal, c+" = NEW."+c)
	}

	overlap := fmt.Sprintf("NOT (%s <= NEW.%s OR %s >= NEW.%s)", untilQ, fromQ, fromQ, untilQ)
	msg := strings.ReplaceAll(fmt.Sprintf(
		"conflicting key value violates exclusion constraint %q", key.Name), "'", "''")

	where := strings.Join(equal, " AND ") + " AND " + overlap
	if key.Predicate != "" {
		where += " AND (" + key.Predicate + ")"
	}
	when := strings.Join(notNull, " AND ")

	insertDDL = fmt.Sprintf(`
		CREATE TRIGGER %s AFTER INSERT ON %s FOR EACH ROW
		WHEN %s AND EXISTS (
			SELECT 1 FROM %s WHERE rowid <> NEW.rowid AND %s
		)
		BEGIN
			SELECT RAISE(ABORT, '%s');
		END`,
		quoteIdent(key.ExclusionInsertTrigger), table, when, table, where, msg)

	updateDDL = fmt.Sprintf(`
		CREATE TRIGGER %s AFTER UPDATE ON %s FOR EACH ROW
		WHEN %s AND EXISTS (
			SELECT 1 FROM %s WHERE rowid <> NEW.rowid AND %s
		)
		BEGIN
			SELECT RAISE(ABORT, '%s');
		END`,
		quoteIdent(key.ExclusionUpdateTrigger), table, when, table, where, msg)
	return insertDDL, updateDDL
}

// UniqueIndexDDL renders the backing uniqueness index over the key columns
// plus both era bounds, honoring the key's predicate as a partial index.
func UniqueIndexDDL(key *types.UniqueKey, era *types.Era) string {
	cols := make([]string, 0, len(key.Columns)+2)
	for _, c := range key.Columns {
		cols = append(cols, quoteIdent(c))
	}
	cols = append(cols, quoteIdent(era.FromColumn), quoteIdent(era.UntilColumn))
	ddl := fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
		quoteIdent(key.UniqueIndex), quoteIdent(key.Table), strings.Join(cols, ", "))
	if key.Predicate != "" {
		ddl += " WHERE " + key.Predicate
	}
	return ddl
}

// IsExclusionError recognizes the RAISE(ABORT) text of an exclusion trigger.
func IsExclusionError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "violates exclusion constraint")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
