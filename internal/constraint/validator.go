package constraint

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/untoldecay/EraDB/internal/interval"
	"github.com/untoldecay/EraDB/internal/types"
)

// DB is the database slice the validator needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// FK bundles a foreign key with the catalog metadata its validation queries
// depend on. The storage layer resolves the bundle once and hands it to the
// validator; the validator itself never reads the catalog.
type FK struct {
	FK        *types.ForeignKey
	ChildEra  *types.Era
	ParentEra *types.Era
	ParentKey *types.UniqueKey
}

// fkQueries is the compiled form of one foreign key's validation: query text
// and column positions depend only on catalog metadata, so they are built on
// first fire and reused until the lifecycle guard invalidates them.
type fkQueries struct {
	coverageSQL  string // parent slices for one key, ordered by valid_from
	childRowsSQL string // child rows matching one key value set
	allChildren  string // every child row, for validation at creation time
	parentKind   interval.Kind
	childKind    interval.Kind
	columnCount  int
}

// Validator owns the per-connection compiled-query cache for temporal
// foreign keys.
type Validator struct {
	mu      sync.Mutex
	queries map[string]*fkQueries
}

// NewValidator returns an empty validator cache.
func NewValidator() *Validator {
	return &Validator{queries: make(map[string]*fkQueries)}
}

// Invalidate drops the compiled queries of one foreign key. The lifecycle
// guard calls this whenever the catalog row or a backing object changes.
func (v *Validator) Invalidate(fkName string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.queries, fkName)
}

// InvalidateAll clears the cache.
func (v *Validator) InvalidateAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queries = make(map[string]*fkQueries)
}

// compiled returns the cached query set for the bundle, building it on first
// use.
func (v *Validator) compiled(b FK) *fkQueries {
	v.mu.Lock()
	defer v.mu.Unlock()
	if q, ok := v.queries[b.FK.Name]; ok {
		return q
	}
	q := buildQueries(b)
	v.queries[b.FK.Name] = q
	return q
}

func buildQueries(b FK) *fkQueries {
	parent := quoteIdent(b.ParentKey.Table)
	child := quoteIdent(b.FK.Table)
	pFrom := quoteIdent(b.ParentEra.FromColumn)
	pUntil := quoteIdent(b.ParentEra.UntilColumn)
	cFrom := quoteIdent(b.ChildEra.FromColumn)
	cUntil := quoteIdent(b.ChildEra.UntilColumn)

	var parentEq, childEq []string
	for i, col := range b.ParentKey.Columns {
		parentEq = append(parentEq, quoteIdent(col)+" = ?")
		childEq = append(childEq, quoteIdent(b.FK.Columns[i])+" = ?")
	}

	childCols := strings.Join(quoteAll(b.FK.Columns), ", ")

	return &fkQueries{
		coverageSQL: fmt.Sprintf(
			`SELECT %s, %s FROM %s WHERE %s ORDER BY %s`,
			pFrom, pUntil, parent, strings.Join(parentEq, " AND "), pFrom),
		childRowsSQL: fmt.Sprintf(
			`SELECT rowid, %s, %s FROM %s WHERE %s`,
			cFrom, cUntil, child, strings.Join(childEq, " AND ")),
		allChildren: fmt.Sprintf(
			`SELECT rowid, %s, %s, %s FROM %s`,
			childCols, cFrom, cUntil, child),
		parentKind:  b.ParentEra.Kind,
		childKind:   b.ChildEra.Kind,
		columnCount: len(b.FK.Columns),
	}
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

// CheckChildRange validates that one child key/range pair is contiguously
// covered by the parent timeline. keyValues follow the foreign key's column
// order; NULL handling follows the key's match mode.
func (v *Validator) CheckChildRange(ctx context.Context, db DB, b FK, keyValues []any, childRange interval.Range) error {
	if len(keyValues) != len(b.FK.Columns) {
		return fmt.Errorf("%w: foreign key %s expects %d key values, got %d",
			types.ErrArgument, b.FK.Name, len(b.FK.Columns), len(keyValues))
	}

	nulls := 0
	for _, kv := range keyValues {
		if kv == nil {
			nulls++
		}
	}
	switch b.FK.Match {
	case types.MatchSimple:
		if nulls > 0 {
			return nil
		}
	case types.MatchFull:
		if nulls == len(keyValues) {
			return nil
		}
		if nulls > 0 {
			return fmt.Errorf("%w: foreign key %s (MATCH FULL) on %s has partially NULL key for range %s",
				types.ErrIntegrity, b.FK.Name, b.FK.Table, childRange)
		}
	case types.MatchPartial:
		return fmt.Errorf("%w: MATCH PARTIAL", types.ErrNotImplemented)
	}

	// The empty child range is trivially covered.
	if childRange.IsEmpty() {
		return nil
	}

	q := v.compiled(b)
	rows, err := db.QueryContext(ctx, q.coverageSQL, keyValues...)
	if err != nil {
		return fmt.Errorf("failed to read parent timeline for %s: %w", b.FK.Name, err)
	}
	defer rows.Close()

	state := interval.NewCoverage(childRange)
	for rows.Next() {
		var rawFrom, rawUntil any
		if err := rows.Scan(&rawFrom, &rawUntil); err != nil {
			return fmt.Errorf("failed to scan parent slice for %s: %w", b.FK.Name, err)
		}
		from, err := interval.FromSQL(q.parentKind, rawFrom)
		if err != nil {
			return err
		}
		until, err := interval.FromSQL(q.parentKind, rawUntil)
		if err != nil {
			return err
		}
		state.Step(interval.Range{From: from, Until: until})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if !state.Result() {
		return fmt.Errorf("%w: insert or update on table %s violates foreign key constraint %q: range %s is not covered by %s",
			types.ErrIntegrity, b.FK.Table, b.FK.Name, childRange, b.ParentKey.Table)
	}
	return nil
}

// CheckChildrenOfParent re-validates every child row whose key columns equal
// keyValues, under the current parent state. Used after a parent update of
// referenced columns or range, and after a parent delete.
func (v *Validator) CheckChildrenOfParent(ctx context.Context, db DB, b FK, keyValues []any) error {
	for _, kv := range keyValues {
		if kv == nil {
			return nil // no child row can reference a NULL key
		}
	}
	q := v.compiled(b)
	rows, err := db.QueryContext(ctx, q.childRowsSQL, keyValues...)
	if err != nil {
		return fmt.Errorf("failed to read child rows for %s: %w", b.FK.Name, err)
	}

	type childRow struct {
		rowid int64
		r     interval.Range
	}
	var children []childRow
	for rows.Next() {
		var rowid int64
		var rawFrom, rawUntil any
		if err := rows.Scan(&rowid, &rawFrom, &rawUntil); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan child row for %s: %w", b.FK.Name, err)
		}
		from, err := interval.FromSQL(q.childKind, rawFrom)
		if err != nil {
			rows.Close()
			return err
		}
		until, err := interval.FromSQL(q.childKind, rawUntil)
		if err != nil {
			rows.Close()
			return err
		}
		children = append(children, childRow{rowid: rowid, r: interval.Range{From: from, Until: until}})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, c := range children {
		if err := v.CheckChildRange(ctx, db, b, keyValues, c.r); err != nil {
			return err
		}
	}
	return nil
}

// ValidateExistingRows checks every already-present child row with the same
// query shape used at runtime. Called once at constraint creation.
func (v *Validator) ValidateExistingRows(ctx context.Context, db DB, b FK) error {
	if b.FK.Match == types.MatchFull {
		if err := v.checkMixedNullChildren(ctx, db, b); err != nil {
			return err
		}
	}
	q := v.compiled(b)
	rows, err := db.QueryContext(ctx, q.allChildren)
	if err != nil {
		return fmt.Errorf("failed to scan %s for validation: %w", b.FK.Table, err)
	}

	type childRow struct {
		keyValues []any
		r         interval.Range
	}
	var children []childRow
	for rows.Next() {
		dest := make([]any, 1+q.columnCount+2)
		ptrs := make([]any, len(dest))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan child row of %s: %w", b.FK.Table, err)
		}
		from, err := interval.FromSQL(q.childKind, dest[1+q.columnCount])
		if err != nil {
			rows.Close()
			return err
		}
		until, err := interval.FromSQL(q.childKind, dest[1+q.columnCount+1])
		if err != nil {
			rows.Close()
			return err
		}
		children = append(children, childRow{
			keyValues: dest[1 : 1+q.columnCount],
			r:         interval.Range{From: from, Until: until},
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, c := range children {
		if err := v.CheckChildRange(ctx, db, b, c.keyValues, c.r); err != nil {
			return err
		}
	}
	return nil
}

// checkMixedNullChildren detects rows where some but not all referenced
// columns are NULL, which MATCH FULL forbids.
func (v *Validator) checkMixedNullChildren(ctx context.Context, db DB, b FK) error {
	if len(b.FK.Columns) < 2 {
		return nil
	}
	child := quoteIdent(b.FK.Table)
	var anyNull, allNull []string
	for _, col := range b.FK.Columns {
		c := quoteIdent(col)
		anyNull = append(anyNull, c+" IS NULL")
		allNull = append(allNull, c+" IS NULL")
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE (%s) AND NOT (%s)`,
		child, strings.Join(anyNull, " OR "), strings.Join(allNull, " AND "))
	var n int
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return fmt.Errorf("failed to probe %s for mixed-NULL keys: %w", b.FK.Table, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: foreign key %s (MATCH FULL) on %s: %d rows have partially NULL keys",
			types.ErrIntegrity, b.FK.Name, b.FK.Table, n)
	}
	return nil
}
