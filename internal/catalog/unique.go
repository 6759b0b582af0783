package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/untoldecay/EraDB/internal/constraint"
	"github.com/untoldecay/EraDB/internal/types"
)

// UniqueKeyOptions tunes AddUniqueKey. Zero values select the defaults.
type UniqueKeyOptions struct {
	EraName     string // default "valid"
	KeyName     string
	UniqueIndex string
	ExcludeName string // base name of the exclusion trigger pair
	Predicate   string // optional WHERE clause (partial key)
}

// AddUniqueKey registers a temporal unique key over columns and creates its
// backing index and exclusion triggers. Existing data is validated by the
// index and trigger creation itself (SQLite scans on CREATE UNIQUE INDEX;
// the overlap scan runs explicitly). Returns the key name.
func AddUniqueKey(ctx context.Context, db DB, table string, columns []string, opts UniqueKeyOptions) (string, error) {
	if opts.EraName == "" {
		opts.EraName = types.DefaultEraName
	}
	if table == "" || len(columns) == 0 {
		return "", fmt.Errorf("%w: table and key columns are required", types.ErrArgument)
	}

	era, err := GetEra(ctx, db, table, opts.EraName)
	if err != nil {
		return "", err
	}
	if era == nil {
		return "", fmt.Errorf("%w: no era %q on table %s", types.ErrArgument, opts.EraName, table)
	}

	cols, err := TableColumns(ctx, db, table)
	if err != nil {
		return "", err
	}
	for _, col := range columns {
		if systemColumns[strings.ToLower(col)] {
			return "", fmt.Errorf("%w: system column %s cannot be part of a key", types.ErrArgument, col)
		}
		if strings.EqualFold(col, era.FromColumn) || strings.EqualFold(col, era.UntilColumn) {
			return "", fmt.Errorf("%w: era column %s cannot be part of the key", types.ErrArgument, col)
		}
		if _, ok := findColumn(cols, col); !ok {
			return "", fmt.Errorf("%w: column %s.%s does not exist", types.ErrArgument, table, col)
		}
	}

	name := opts.KeyName
	if name == "" {
		name = uniqueName(func(n string) bool { return catalogNameTaken(ctx, db, n) },
			append([]string{table}, append(slices.Clone(columns), opts.EraName)...)...)
	} else if catalogNameTaken(ctx, db, name) {
		return "", fmt.Errorf("%w: a key named %q already exists", types.ErrArgument, name)
	}

	key := &types.UniqueKey{
		Name:      name,
		Table:     table,
		Columns:   slices.Clone(columns),
		EraName:   opts.EraName,
		Predicate: opts.Predicate,
	}
	key.UniqueIndex = opts.UniqueIndex
	if key.UniqueIndex == "" {
		key.UniqueIndex = uniqueName(func(n string) bool { return anyObjectExists(ctx, db, n) },
			append([]string{table}, append(slices.Clone(columns), "idx")...)...)
	}
	exclBase := opts.ExcludeName
	if exclBase == "" {
		exclBase = uniqueName(func(n string) bool { return anyObjectExists(ctx, db, n+"_excl_ins") },
			append([]string{table}, append(slices.Clone(columns), "excl")...)...)
	}
	key.ExclusionInsertTrigger = exclBase + "_excl_ins"
	key.ExclusionUpdateTrigger = exclBase + "_excl_upd"

	// Reject pre-existing overlaps before installing the triggers, with the
	// same predicate the triggers will enforce.
	if err := validateNoOverlaps(ctx, db, key, era); err != nil {
		return "", err
	}

	if _, err := db.ExecContext(ctx, constraint.UniqueIndexDDL(key, era)); err != nil {
		return "", fmt.Errorf("failed to create unique index %s: %w", key.UniqueIndex, err)
	}
	insDDL, updDDL := constraint.ExclusionTriggerDDL(key, era)
	if _, err := db.ExecContext(ctx, insDDL); err != nil {
		return "", fmt.Errorf("failed to create exclusion trigger %s: %w", key.ExclusionInsertTrigger, err)
	}
	if _, err := db.ExecContext(ctx, updDDL); err != nil {
		return "", fmt.Errorf("failed to create exclusion trigger %s: %w", key.ExclusionUpdateTrigger, err)
	}

	columnsJSON, err := json.Marshal(key.Columns)
	if err != nil {
		return "", err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO `+TableUniqueKeys+` (
			key_name, table_name, columns, era_name, unique_index,
			exclusion_insert_trigger, exclusion_update_trigger, predicate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, key.Name, key.Table, string(columnsJSON), key.EraName, key.UniqueIndex,
		key.ExclusionInsertTrigger, key.ExclusionUpdateTrigger, key.Predicate)
	if err != nil {
		return "", fmt.Errorf("failed to record unique key %s: %w", key.Name, err)
	}
	return key.Name, nil
}

// catalogNameTaken probes both catalog relations for a key name.
func catalogNameTaken(ctx context.Context, db DB, name string) bool {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM `+TableUniqueKeys+` WHERE key_name = ?)
		     + (SELECT COUNT(*) FROM `+TableForeignKeys+` WHERE key_name = ?)`,
		name, name).Scan(&n)
	return err != nil || n > 0
}

// validateNoOverlaps scans existing rows for overlapping validity on equal
// keys, naming the first offender.
func validateNoOverlaps(ctx context.Context, db DB, key *types.UniqueKey, era *types.Era) error {
	table := quoteIdent(key.Table)
	fromQ := quoteIdent(era.FromColumn)
	untilQ := quoteIdent(era.UntilColumn)

	var equal, notNull []string
	for _, col := range key.Columns {
		c := quoteIdent(col)
		equal = append(equal, "a."+c+" = b."+c)
		notNull = append(notNull, "a."+c+" IS NOT NULL")
	}
	where := fmt.Sprintf(
		"a.rowid < b.rowid AND %s AND %s AND NOT (a.%s <= b.%s OR a.%s >= b.%s)",
		strings.Join(equal, " AND "), strings.Join(notNull, " AND "),
		untilQ, fromQ, fromQ, untilQ)
	if key.Predicate != "" {
		// The predicate references bare column names; scope it to both sides.
		where += fmt.Sprintf(" AND (%s) ", scopePredicate(key.Predicate, "a"))
		where += fmt.Sprintf(" AND (%s) ", scopePredicate(key.Predicate, "b"))
	}
	query := fmt.Sprintf(`
		SELECT a.%s, a.%s FROM %s a JOIN %s b ON %s LIMIT 1`,
		fromQ, untilQ, table, table, where)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to scan %s for overlaps: %w", key.Table, err)
	}
	defer rows.Close()
	if rows.Next() {
		var from, until any
		_ = rows.Scan(&from, &until)
		return fmt.Errorf("%w: existing rows in %s overlap on key %s near [%v, %v)",
			types.ErrIntegrity, key.Table, key.Name, from, until)
	}
	return rows.Err()
}

// scopePredicate is a best-effort aliaser for simple single-column
// predicates of the form "col = literal" or "col IS NOT NULL".
func scopePredicate(pred, alias string) string {
	trimmed := strings.TrimSpace(pred)
	if i := strings.IndexAny(trimmed, " ="); i > 0 {
		return alias + "." + trimmed[:i] + trimmed[i:]
	}
	return trimmed
}

// DropUniqueKey removes a temporal unique key by name. Under RESTRICT it
// refuses while foreign keys still reference it.
func DropUniqueKey(ctx context.Context, db DB, table, keyName string, behavior types.DropBehavior, cleanup bool) error {
	if !behavior.IsValid() {
		return fmt.Errorf("%w: unknown drop behavior %q", types.ErrArgument, behavior)
	}
	key, err := GetUniqueKey(ctx, db, keyName)
	if err != nil {
		return err
	}
	if key == nil || key.Table != table {
		return fmt.Errorf("%w: no unique key %q on table %s", types.ErrArgument, keyName, table)
	}

	refs, err := ForeignKeysReferencing(ctx, db, keyName)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		if behavior == types.DropRestrict {
			return fmt.Errorf("%w: unique key %s is referenced by foreign key %s on %s",
				types.ErrDependency, keyName, refs[0].Name, refs[0].Table)
		}
		for _, fk := range refs {
			if err := DropForeignKey(ctx, db, fk.Table, fk.Name); err != nil {
				return err
			}
		}
	}

	if cleanup {
		for _, ddl := range []string{
			`DROP TRIGGER IF EXISTS ` + quoteIdent(key.ExclusionInsertTrigger),
			`DROP TRIGGER IF EXISTS ` + quoteIdent(key.ExclusionUpdateTrigger),
			`DROP INDEX IF EXISTS ` + quoteIdent(key.UniqueIndex),
		} {
			if _, err := db.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("failed to drop backing object of %s: %w", keyName, err)
			}
		}
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM `+TableUniqueKeys+` WHERE key_name = ?`, keyName); err != nil {
		return fmt.Errorf("failed to delete unique key %s: %w", keyName, err)
	}
	return nil
}

// FindUniqueKeyByColumns resolves a key by its column set (order
// insensitive) on (table, era), for the drop-by-column-set call form.
func FindUniqueKeyByColumns(ctx context.Context, db DB, table, eraName string, columns []string) (*types.UniqueKey, error) {
	keys, err := UniqueKeysForEra(ctx, db, table, eraName)
	if err != nil {
		return nil, err
	}
	want := slices.Clone(columns)
	slices.Sort(want)
	for _, k := range keys {
		have := slices.Clone(k.Columns)
		slices.Sort(have)
		if slices.Equal(want, have) {
			return k, nil
		}
	}
	return nil, nil
}
