package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/untoldecay/EraDB/internal/interval"
	"github.com/untoldecay/EraDB/internal/types"
)

// GetEra loads one era, or nil when it does not exist.
func GetEra(ctx context.Context, db DB, table, eraName string) (*types.Era, error) {
	row := db.QueryRowContext(ctx, `
		SELECT table_name, era_name, from_column, until_column, value_kind,
		       bounds_check_trigger, sync_to_column, sync_range_column, audit_table
		FROM `+TableEras+` WHERE table_name = ? AND era_name = ?`, table, eraName)
	era, err := scanEra(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return era, err
}

// ListEras loads every era, ordered by table then name.
func ListEras(ctx context.Context, db DB) ([]*types.Era, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_name, era_name, from_column, until_column, value_kind,
		       bounds_check_trigger, sync_to_column, sync_range_column, audit_table
		FROM `+TableEras+` ORDER BY table_name, era_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list eras: %w", err)
	}
	defer rows.Close()

	var eras []*types.Era
	for rows.Next() {
		era, err := scanEra(rows)
		if err != nil {
			return nil, err
		}
		eras = append(eras, era)
	}
	return eras, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanEra(s scanner) (*types.Era, error) {
	var era types.Era
	var kind string
	err := s.Scan(&era.Table, &era.Name, &era.FromColumn, &era.UntilColumn, &kind,
		&era.BoundsCheckTrigger, &era.SyncToColumn, &era.SyncRangeColumn, &era.AuditTable)
	if err != nil {
		return nil, err
	}
	era.Kind = interval.Kind(kind)
	return &era, nil
}

// GetUniqueKey loads one unique key by name, or nil.
func GetUniqueKey(ctx context.Context, db DB, keyName string) (*types.UniqueKey, error) {
	row := db.QueryRowContext(ctx, `
		SELECT key_name, table_name, columns, era_name, unique_index,
		       exclusion_insert_trigger, exclusion_update_trigger, predicate
		FROM `+TableUniqueKeys+` WHERE key_name = ?`, keyName)
	key, err := scanUniqueKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return key, err
}

// UniqueKeysForEra lists the unique keys bound to (table, era).
func UniqueKeysForEra(ctx context.Context, db DB, table, eraName string) ([]*types.UniqueKey, error) {
	return queryUniqueKeys(ctx, db, ` WHERE table_name = ? AND era_name = ? ORDER BY key_name`, table, eraName)
}

// UniqueKeysOnTable lists the unique keys on a table across all its eras.
func UniqueKeysOnTable(ctx context.Context, db DB, table string) ([]*types.UniqueKey, error) {
	return queryUniqueKeys(ctx, db, ` WHERE table_name = ? ORDER BY key_name`, table)
}

// ListUniqueKeys lists all unique keys.
func ListUniqueKeys(ctx context.Context, db DB) ([]*types.UniqueKey, error) {
	return queryUniqueKeys(ctx, db, ` ORDER BY table_name, key_name`)
}

func queryUniqueKeys(ctx context.Context, db DB, tail string, args ...any) ([]*types.UniqueKey, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT key_name, table_name, columns, era_name, unique_index,
		       exclusion_insert_trigger, exclusion_update_trigger, predicate
		FROM `+TableUniqueKeys+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unique keys: %w", err)
	}
	defer rows.Close()

	var keys []*types.UniqueKey
	for rows.Next() {
		key, err := scanUniqueKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func scanUniqueKey(s scanner) (*types.UniqueKey, error) {
	var key types.UniqueKey
	var columns string
	err := s.Scan(&key.Name, &key.Table, &columns, &key.EraName, &key.UniqueIndex,
		&key.ExclusionInsertTrigger, &key.ExclusionUpdateTrigger, &key.Predicate)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(columns), &key.Columns); err != nil {
		return nil, fmt.Errorf("corrupt column list for key %s: %w", key.Name, err)
	}
	return &key, nil
}

// GetForeignKey loads one foreign key by name, or nil.
func GetForeignKey(ctx context.Context, db DB, keyName string) (*types.ForeignKey, error) {
	row := db.QueryRowContext(ctx, foreignKeySelect+` WHERE key_name = ?`, keyName)
	fk, err := scanForeignKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return fk, err
}

const foreignKeySelect = `
	SELECT key_name, table_name, columns, era_name, ref_key_name,
	       match_mode, on_update, on_delete,
	       child_insert_check, child_update_check, parent_update_check, parent_delete_check
	FROM ` + TableForeignKeys

// ForeignKeysOnTable lists the foreign keys whose child is table.
func ForeignKeysOnTable(ctx context.Context, db DB, table string) ([]*types.ForeignKey, error) {
	return queryForeignKeys(ctx, db, ` WHERE table_name = ? ORDER BY key_name`, table)
}

// ForeignKeysReferencing lists the foreign keys pointing at a unique key.
func ForeignKeysReferencing(ctx context.Context, db DB, uniqueKeyName string) ([]*types.ForeignKey, error) {
	return queryForeignKeys(ctx, db, ` WHERE ref_key_name = ? ORDER BY key_name`, uniqueKeyName)
}

// ListForeignKeys lists all foreign keys.
func ListForeignKeys(ctx context.Context, db DB) ([]*types.ForeignKey, error) {
	return queryForeignKeys(ctx, db, ` ORDER BY table_name, key_name`)
}

func queryForeignKeys(ctx context.Context, db DB, tail string, args ...any) ([]*types.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, foreignKeySelect+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []*types.ForeignKey
	for rows.Next() {
		fk, err := scanForeignKey(rows)
		if err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func scanForeignKey(s scanner) (*types.ForeignKey, error) {
	var fk types.ForeignKey
	var columns, match, onUpdate, onDelete string
	err := s.Scan(&fk.Name, &fk.Table, &columns, &fk.EraName, &fk.RefKey,
		&match, &onUpdate, &onDelete,
		&fk.ChildInsertCheck, &fk.ChildUpdateCheck, &fk.ParentUpdateCheck, &fk.ParentDeleteCheck)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(columns), &fk.Columns); err != nil {
		return nil, fmt.Errorf("corrupt column list for foreign key %s: %w", fk.Name, err)
	}
	fk.Match = types.MatchMode(match)
	fk.OnUpdate = types.FKAction(onUpdate)
	fk.OnDelete = types.FKAction(onDelete)
	return &fk, nil
}
