package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/untoldecay/EraDB/internal/interval"
	"github.com/untoldecay/EraDB/internal/types"
)

// EraOptions tunes AddEra. Zero values select the documented defaults.
type EraOptions struct {
	EraName         string // default "valid"
	Kind            interval.Kind
	BoundsCheckName string
	AddDefaults     bool // default true via DefaultEraOptions
	AddBoundsCheck  bool // default true via DefaultEraOptions
	SyncToColumn    string
	SyncRangeColumn string
	AuditTable      string
}

// DefaultEraOptions returns the documented defaults.
func DefaultEraOptions() EraOptions {
	return EraOptions{EraName: types.DefaultEraName, AddDefaults: true, AddBoundsCheck: true}
}

// AddEra registers an application-time era over (fromCol, untilCol) on
// table and creates its backing objects. Runs on the caller's transaction;
// the caller holds the per-table advisory lock.
func AddEra(ctx context.Context, db DB, table, fromCol, untilCol string, opts EraOptions) (*types.Era, error) {
	if opts.EraName == "" {
		opts.EraName = types.DefaultEraName
	}
	if table == "" || fromCol == "" || untilCol == "" {
		return nil, fmt.Errorf("%w: table and era columns are required", types.ErrArgument)
	}
	if opts.EraName == types.ReservedEraName {
		return nil, fmt.Errorf("%w: era name %q is reserved for system versioning", types.ErrArgument, opts.EraName)
	}
	if fromCol == untilCol {
		return nil, fmt.Errorf("%w: era columns must be distinct (got %s twice)", types.ErrArgument, fromCol)
	}

	cols, err := TableColumns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	from, ok := findColumn(cols, fromCol)
	if !ok {
		return nil, fmt.Errorf("%w: column %s.%s does not exist", types.ErrArgument, table, fromCol)
	}
	until, ok := findColumn(cols, untilCol)
	if !ok {
		return nil, fmt.Errorf("%w: column %s.%s does not exist", types.ErrArgument, table, untilCol)
	}
	if from.DeclaredType != until.DeclaredType {
		return nil, fmt.Errorf("%w: era columns %s.%s (%s) and %s.%s (%s) disagree on type",
			types.ErrTypeMismatch, table, fromCol, from.DeclaredType, table, untilCol, until.DeclaredType)
	}

	kind := opts.Kind
	if kind == "" {
		kind, err = KindForDeclaredType(from.DeclaredType)
		if err != nil {
			return nil, err
		}
	} else if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown era value kind %q", types.ErrArgument, kind)
	}

	var exists int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+TableEras+` WHERE table_name = ? AND era_name = ?`,
		table, opts.EraName).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to probe for duplicate era: %w", err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("%w: era %q already exists on table %s", types.ErrArgument, opts.EraName, table)
	}

	era := &types.Era{
		Table:           table,
		Name:            opts.EraName,
		FromColumn:      fromCol,
		UntilColumn:     untilCol,
		Kind:            kind,
		SyncToColumn:    opts.SyncToColumn,
		SyncRangeColumn: opts.SyncRangeColumn,
		AuditTable:      opts.AuditTable,
	}

	if opts.AddDefaults {
		if err := createDefaultTrigger(ctx, db, era); err != nil {
			return nil, err
		}
	}
	if opts.AddBoundsCheck {
		name := opts.BoundsCheckName
		if name == "" {
			name = uniqueName(func(n string) bool { return anyObjectExists(ctx, db, n+"_ins") },
				table, opts.EraName, "bounds")
		}
		if err := createBoundsTriggers(ctx, db, era, name, opts.AddDefaults); err != nil {
			return nil, err
		}
		era.BoundsCheckTrigger = name
	}
	if opts.SyncToColumn != "" {
		if err := createSyncToTriggers(ctx, db, era, cols); err != nil {
			return nil, err
		}
	}
	if opts.SyncRangeColumn != "" {
		if err := createSyncRangeTriggers(ctx, db, era, cols); err != nil {
			return nil, err
		}
	}
	if opts.AuditTable != "" {
		if err := createAuditObjects(ctx, db, era, cols); err != nil {
			return nil, err
		}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO `+TableEras+` (
			table_name, era_name, from_column, until_column, value_kind,
			bounds_check_trigger, sync_to_column, sync_range_column, audit_table
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, era.Table, era.Name, era.FromColumn, era.UntilColumn, string(era.Kind),
		era.BoundsCheckTrigger, era.SyncToColumn, era.SyncRangeColumn, era.AuditTable)
	if err != nil {
		return nil, fmt.Errorf("failed to record era %s on %s: %w", era.Name, table, err)
	}
	return era, nil
}

// infinityLiteral renders the domain's open-ended bound as a SQL literal.
func infinityLiteral(k interval.Kind) string {
	switch k {
	case interval.KindInteger:
		return "9223372036854775807"
	case interval.KindReal:
		return "9e999"
	default:
		return "'infinity'"
	}
}

// createDefaultTrigger fills a NULL valid_until with the open-ended bound.
// SQLite cannot add a column default after the fact, so the default is an
// AFTER INSERT repair.
func createDefaultTrigger(ctx context.Context, db DB, era *types.Era) error {
	name := GenerateName(era.Table, era.Name, "default")
	ddl := fmt.Sprintf(`
		CREATE TRIGGER %s AFTER INSERT ON %s FOR EACH ROW
		WHEN NEW.%s IS NULL
		BEGIN
			UPDATE %s SET %s = %s WHERE rowid = NEW.rowid;
		END`,
		quoteIdent(name), quoteIdent(era.Table),
		quoteIdent(era.UntilColumn),
		quoteIdent(era.Table), quoteIdent(era.UntilColumn), infinityLiteral(era.Kind))
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create default trigger for era %s on %s: %w", era.Name, era.Table, err)
	}
	return nil
}

// createBoundsTriggers rejects rows whose bounds are NULL or reversed. When
// defaults are on, the insert-time check tolerates a NULL until (the default
// trigger repairs it and the update-time check re-validates).
func createBoundsTriggers(ctx context.Context, db DB, era *types.Era, name string, defaultsOn bool) error {
	fromQ := "NEW." + quoteIdent(era.FromColumn)
	untilQ := "NEW." + quoteIdent(era.UntilColumn)

	insWhen := fmt.Sprintf("%s IS NULL OR %s IS NULL OR %s >= %s", fromQ, untilQ, fromQ, untilQ)
	if defaultsOn {
		insWhen = fmt.Sprintf("%s IS NULL OR (%s IS NOT NULL AND %s >= %s)", fromQ, untilQ, fromQ, untilQ)
	}
	msg := fmt.Sprintf("era %s on %s requires %s < %s and non-NULL bounds",
		era.Name, era.Table, era.FromColumn, era.UntilColumn)

	for _, t := range []struct {
		suffix string
		event  string
		when   string
	}{
		{"_ins", "INSERT", insWhen},
		{"_upd", "UPDATE", fmt.Sprintf("%s IS NULL OR %s IS NULL OR %s >= %s", fromQ, untilQ, fromQ, untilQ)},
	} {
		ddl := fmt.Sprintf(`
			CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW
			WHEN %s
			BEGIN
				SELECT RAISE(ABORT, '%s');
			END`,
			quoteIdent(name+t.suffix), t.event, quoteIdent(era.Table), t.when,
			strings.ReplaceAll(msg, "'", "''"))
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create bounds check %s on %s: %w", name+t.suffix, era.Table, err)
		}
	}
	return nil
}

// syncToExpr computes the inclusive valid_to from the exclusive until.
func syncToExpr(era *types.Era) (string, error) {
	untilQ := "NEW." + quoteIdent(era.UntilColumn)
	inf := infinityLiteral(era.Kind)
	switch era.Kind {
	case interval.KindInteger:
		return fmt.Sprintf("CASE WHEN %s = %s THEN %s ELSE %s - 1 END", untilQ, inf, inf, untilQ), nil
	case interval.KindText:
		return fmt.Sprintf("CASE WHEN %s = %s THEN %s ELSE date(%s, '-1 day') END", untilQ, inf, inf, untilQ), nil
	}
	return "", fmt.Errorf("%w: synchronized valid_to column is not supported for %s eras", types.ErrArgument, era.Kind)
}

func createSyncToTriggers(ctx context.Context, db DB, era *types.Era, cols []ColumnInfo) error {
	if _, ok := findColumn(cols, era.SyncToColumn); !ok {
		return fmt.Errorf("%w: column %s.%s does not exist", types.ErrArgument, era.Table, era.SyncToColumn)
	}
	expr, err := syncToExpr(era)
	if err != nil {
		return err
	}
	return createSyncTriggers(ctx, db, era, era.SyncToColumn, "sync_to", expr)
}

func createSyncRangeTriggers(ctx context.Context, db DB, era *types.Era, cols []ColumnInfo) error {
	if _, ok := findColumn(cols, era.SyncRangeColumn); !ok {
		return fmt.Errorf("%w: column %s.%s does not exist", types.ErrArgument, era.Table, era.SyncRangeColumn)
	}
	expr := fmt.Sprintf("'[' || NEW.%s || ', ' || NEW.%s || ')'",
		quoteIdent(era.FromColumn), quoteIdent(era.UntilColumn))
	return createSyncTriggers(ctx, db, era, era.SyncRangeColumn, "sync_range", expr)
}

// createSyncTriggers keeps a derived column in step after insert and after
// any update of the era bounds.
func createSyncTriggers(ctx context.Context, db DB, era *types.Era, column, tag, expr string) error {
	for _, t := range []struct {
		suffix string
		event  string
	}{
		{"_ins", "INSERT"},
		{"_upd", fmt.Sprintf("UPDATE OF %s, %s", quoteIdent(era.FromColumn), quoteIdent(era.UntilColumn))},
	} {
		name := GenerateName(era.Table, era.Name, tag) + t.suffix
		ddl := fmt.Sprintf(`
			CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW
			WHEN NEW.%s IS NOT NULL AND NEW.%s IS NOT NULL
			BEGIN
				UPDATE %s SET %s = %s WHERE rowid = NEW.rowid;
			END`,
			quoteIdent(name), t.event, quoteIdent(era.Table),
			quoteIdent(era.FromColumn), quoteIdent(era.UntilColumn),
			quoteIdent(era.Table), quoteIdent(column), expr)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create %s trigger on %s: %w", tag, era.Table, err)
		}
	}
	return nil
}

// createAuditObjects builds the history target and the triggers feeding it.
func createAuditObjects(ctx context.Context, db DB, era *types.Era, cols []ColumnInfo) error {
	colNames := make([]string, len(cols))
	oldRefs := make([]string, len(cols))
	for i, c := range cols {
		colNames[i] = quoteIdent(c.Name)
		oldRefs[i] = "OLD." + quoteIdent(c.Name)
	}
	audit := quoteIdent(era.AuditTable)

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s AS
		SELECT *, '' AS audit_op, '' AS audit_at FROM %s WHERE 0`,
		audit, quoteIdent(era.Table))
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create audit table %s: %w", era.AuditTable, err)
	}

	for _, t := range []struct {
		suffix string
		event  string
	}{
		{"_aud_upd", "UPDATE"},
		{"_aud_del", "DELETE"},
	} {
		name := GenerateName(era.Table, era.Name, "audit") + t.suffix
		ddl := fmt.Sprintf(`
			CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW
			BEGIN
				INSERT INTO %s (%s, audit_op, audit_at)
				VALUES (%s, '%s', datetime('now'));
			END`,
			quoteIdent(name), t.event, quoteIdent(era.Table),
			audit, strings.Join(colNames, ", "),
			strings.Join(oldRefs, ", "), t.event)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create audit trigger on %s: %w", era.Table, err)
		}
	}
	return nil
}

// DropEra removes an era. Under RESTRICT it refuses while unique keys still
// use the era; under CASCADE dependents (and their foreign keys) are dropped
// first. cleanup controls whether the physical backing objects go too.
func DropEra(ctx context.Context, db DB, table, eraName string, behavior types.DropBehavior, cleanup bool) (bool, error) {
	if !behavior.IsValid() {
		return false, fmt.Errorf("%w: unknown drop behavior %q", types.ErrArgument, behavior)
	}
	era, err := GetEra(ctx, db, table, eraName)
	if err != nil {
		return false, err
	}
	if era == nil {
		return false, nil
	}

	keys, err := UniqueKeysForEra(ctx, db, table, eraName)
	if err != nil {
		return false, err
	}
	if len(keys) > 0 {
		if behavior == types.DropRestrict {
			return false, fmt.Errorf("%w: era %s on %s is used by unique key %s",
				types.ErrDependency, eraName, table, keys[0].Name)
		}
		for _, k := range keys {
			if err := DropUniqueKey(ctx, db, table, k.Name, types.DropCascade, cleanup); err != nil {
				return false, err
			}
		}
	}

	if cleanup {
		if err := dropEraObjects(ctx, db, era); err != nil {
			return false, err
		}
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM `+TableEras+` WHERE table_name = ? AND era_name = ?`, table, eraName); err != nil {
		return false, fmt.Errorf("failed to delete era %s on %s: %w", eraName, table, err)
	}
	return true, nil
}

// dropEraObjects drops every trigger the era owns.
func dropEraObjects(ctx context.Context, db DB, era *types.Era) error {
	var names []string
	if era.BoundsCheckTrigger != "" {
		names = append(names, era.BoundsCheckTrigger+"_ins", era.BoundsCheckTrigger+"_upd")
	}
	names = append(names, GenerateName(era.Table, era.Name, "default"))
	if era.SyncToColumn != "" {
		base := GenerateName(era.Table, era.Name, "sync_to")
		names = append(names, base+"_ins", base+"_upd")
	}
	if era.SyncRangeColumn != "" {
		base := GenerateName(era.Table, era.Name, "sync_range")
		names = append(names, base+"_ins", base+"_upd")
	}
	if era.AuditTable != "" {
		base := GenerateName(era.Table, era.Name, "audit")
		names = append(names, base+"_aud_upd", base+"_aud_del")
	}
	for _, n := range names {
		if _, err := db.ExecContext(ctx, `DROP TRIGGER IF EXISTS `+quoteIdent(n)); err != nil {
			return fmt.Errorf("failed to drop trigger %s: %w", n, err)
		}
	}
	return nil
}
