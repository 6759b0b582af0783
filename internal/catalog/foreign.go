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

// ForeignKeyOptions tunes AddForeignKey.
type ForeignKeyOptions struct {
	Match    types.MatchMode // default SIMPLE
	OnUpdate types.FKAction  // default NO ACTION
	OnDelete types.FKAction  // default NO ACTION
	Name     string
	// CheckHandleBase overrides the generated base name of the four check
	// handles.
	CheckHandleBase string
}

// forbiddenActions are the referential actions whose temporal semantics are
// underspecified and therefore rejected outright.
var forbiddenActions = []string{"CASCADE", "SET NULL", "SET DEFAULT"}

// ParseFKAction validates a user-supplied action string.
func ParseFKAction(s string) (types.FKAction, error) {
	if s == "" {
		return types.ActionNoAction, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(s))
	for _, f := range forbiddenActions {
		if upper == f {
			return "", fmt.Errorf("%w: %s is not supported on temporal foreign keys", types.ErrDependency, f)
		}
	}
	a := types.FKAction(upper)
	if !a.IsValid() {
		return "", fmt.Errorf("%w: unknown referential action %q", types.ErrArgument, s)
	}
	return a, nil
}

// AddForeignKey registers a temporal foreign key from (childTable,
// childColumns, childEra) to the parent unique key, validates all existing
// child rows, and registers the four check handles. Returns the key name.
func AddForeignKey(ctx context.Context, db DB, v *constraint.Validator,
	childTable string, childColumns []string, childEra, parentKeyName string,
	opts ForeignKeyOptions) (string, error) {

	if childEra == "" {
		childEra = types.DefaultEraName
	}
	if opts.Match == "" {
		opts.Match = types.MatchSimple
	}
	if opts.OnUpdate == "" {
		opts.OnUpdate = types.ActionNoAction
	}
	if opts.OnDelete == "" {
		opts.OnDelete = types.ActionNoAction
	}
	if childTable == "" || len(childColumns) == 0 || parentKeyName == "" {
		return "", fmt.Errorf("%w: child table, columns and parent key are required", types.ErrArgument)
	}
	if !opts.Match.IsValid() {
		return "", fmt.Errorf("%w: unknown match mode %q", types.ErrArgument, opts.Match)
	}
	if opts.Match == types.MatchPartial {
		return "", fmt.Errorf("%w: MATCH PARTIAL", types.ErrNotImplemented)
	}
	if !opts.OnUpdate.IsValid() || !opts.OnDelete.IsValid() {
		return "", fmt.Errorf("%w: only NO ACTION and RESTRICT are supported on temporal foreign keys",
			types.ErrDependency)
	}

	parentKey, err := GetUniqueKey(ctx, db, parentKeyName)
	if err != nil {
		return "", err
	}
	if parentKey == nil {
		return "", fmt.Errorf("%w: no unique key %q", types.ErrArgument, parentKeyName)
	}
	if len(childColumns) != len(parentKey.Columns) {
		return "", fmt.Errorf("%w: foreign key has %d columns but %s has %d",
			types.ErrArgument, len(childColumns), parentKeyName, len(parentKey.Columns))
	}

	cEra, err := GetEra(ctx, db, childTable, childEra)
	if err != nil {
		return "", err
	}
	if cEra == nil {
		return "", fmt.Errorf("%w: no era %q on table %s", types.ErrArgument, childEra, childTable)
	}
	pEra, err := GetEra(ctx, db, parentKey.Table, parentKey.EraName)
	if err != nil {
		return "", err
	}
	if pEra == nil {
		return "", fmt.Errorf("%w: unique key %s has lost its era %s", types.ErrConsistency,
			parentKeyName, parentKey.EraName)
	}
	if cEra.Kind != pEra.Kind {
		return "", fmt.Errorf("%w: child era %s (%s) and parent era %s (%s) disagree on range domain",
			types.ErrTypeMismatch, childEra, cEra.Kind, parentKey.EraName, pEra.Kind)
	}

	childCols, err := TableColumns(ctx, db, childTable)
	if err != nil {
		return "", err
	}
	parentCols, err := TableColumns(ctx, db, parentKey.Table)
	if err != nil {
		return "", err
	}
	for i, col := range childColumns {
		cc, ok := findColumn(childCols, col)
		if !ok {
			return "", fmt.Errorf("%w: column %s.%s does not exist", types.ErrArgument, childTable, col)
		}
		if strings.EqualFold(col, cEra.FromColumn) || strings.EqualFold(col, cEra.UntilColumn) {
			return "", fmt.Errorf("%w: era column %s cannot be part of the key", types.ErrArgument, col)
		}
		pc, _ := findColumn(parentCols, parentKey.Columns[i])
		if cc.DeclaredType != pc.DeclaredType {
			return "", fmt.Errorf("%w: %s.%s (%s) and %s.%s (%s) disagree on type",
				types.ErrTypeMismatch, childTable, col, cc.DeclaredType,
				parentKey.Table, parentKey.Columns[i], pc.DeclaredType)
		}
	}

	name := opts.Name
	if name == "" {
		name = uniqueName(func(n string) bool { return catalogNameTaken(ctx, db, n) },
			append([]string{childTable}, append(slices.Clone(childColumns), childEra, "fkey")...)...)
	} else if catalogNameTaken(ctx, db, name) {
		return "", fmt.Errorf("%w: a key named %q already exists", types.ErrArgument, name)
	}

	handleBase := opts.CheckHandleBase
	if handleBase == "" {
		handleBase = name
	}
	fk := &types.ForeignKey{
		Name:              name,
		Table:             childTable,
		Columns:           slices.Clone(childColumns),
		EraName:           childEra,
		RefKey:            parentKeyName,
		Match:             opts.Match,
		OnUpdate:          opts.OnUpdate,
		OnDelete:          opts.OnDelete,
		ChildInsertCheck:  handleBase + "_fk_ins",
		ChildUpdateCheck:  handleBase + "_fk_upd",
		ParentUpdateCheck: handleBase + "_fk_pupd",
		ParentDeleteCheck: handleBase + "_fk_pdel",
	}

	// Validate every already-present child row with the same query shape
	// the runtime checks use.
	bundle := constraint.FK{FK: fk, ChildEra: cEra, ParentEra: pEra, ParentKey: parentKey}
	if err := v.ValidateExistingRows(ctx, db, bundle); err != nil {
		return "", err
	}

	columnsJSON, err := json.Marshal(fk.Columns)
	if err != nil {
		return "", err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO `+TableForeignKeys+` (
			key_name, table_name, columns, era_name, ref_key_name,
			match_mode, on_update, on_delete,
			child_insert_check, child_update_check, parent_update_check, parent_delete_check
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fk.Name, fk.Table, string(columnsJSON), fk.EraName, fk.RefKey,
		string(fk.Match), string(fk.OnUpdate), string(fk.OnDelete),
		fk.ChildInsertCheck, fk.ChildUpdateCheck, fk.ParentUpdateCheck, fk.ParentDeleteCheck)
	if err != nil {
		return "", fmt.Errorf("failed to record foreign key %s: %w", fk.Name, err)
	}
	return fk.Name, nil
}

// DropForeignKey removes a temporal foreign key by name.
func DropForeignKey(ctx context.Context, db DB, childTable, keyName string) error {
	fk, err := GetForeignKey(ctx, db, keyName)
	if err != nil {
		return err
	}
	if fk == nil || fk.Table != childTable {
		return fmt.Errorf("%w: no foreign key %q on table %s", types.ErrArgument, keyName, childTable)
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM `+TableForeignKeys+` WHERE key_name = ?`, keyName); err != nil {
		return fmt.Errorf("failed to delete foreign key %s: %w", keyName, err)
	}
	return nil
}

// FindForeignKeyByColumns resolves a foreign key by column set and era, for
// the drop-by-column-set call form.
func FindForeignKeyByColumns(ctx context.Context, db DB, table, eraName string, columns []string) (*types.ForeignKey, error) {
	fks, err := ForeignKeysOnTable(ctx, db, table)
	if err != nil {
		return nil, err
	}
	want := slices.Clone(columns)
	slices.Sort(want)
	for _, fk := range fks {
		if fk.EraName != eraName {
			continue
		}
		have := slices.Clone(fk.Columns)
		slices.Sort(have)
		if slices.Equal(want, have) {
			return fk, nil
		}
	}
	return nil, nil
}
