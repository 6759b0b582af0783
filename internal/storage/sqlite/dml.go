package sqlite

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/untoldecay/EraDB/internal/catalog"
	"github.com/untoldecay/EraDB/internal/constraint"
	"github.com/untoldecay/EraDB/internal/interval"
	"github.com/untoldecay/EraDB/internal/types"
)

// fkBundles resolves the foreign keys a DML statement on table can affect:
// those where table is the child, and those where table is the parent.
func (s *SQLiteStorage) fkBundles(ctx context.Context, table string) (child, parent []constraint.FK, err error) {
	fks, err := catalog.ListForeignKeys(ctx, s.conn)
	if err != nil {
		return nil, nil, err
	}
	for _, fk := range fks {
		parentKey, err := catalog.GetUniqueKey(ctx, s.conn, fk.RefKey)
		if err != nil {
			return nil, nil, err
		}
		if parentKey == nil {
			return nil, nil, fmt.Errorf("%w: foreign key %s references missing unique key %s",
				types.ErrConsistency, fk.Name, fk.RefKey)
		}
		isChild := strings.EqualFold(fk.Table, table)
		isParent := strings.EqualFold(parentKey.Table, table)
		if !isChild && !isParent {
			continue
		}
		childEra, err := s.resolveEra(ctx, fk.Table, fk.EraName)
		if err != nil {
			return nil, nil, err
		}
		parentEra, err := s.resolveEra(ctx, parentKey.Table, parentKey.EraName)
		if err != nil {
			return nil, nil, err
		}
		b := constraint.FK{FK: fk, ChildEra: childEra, ParentEra: parentEra, ParentKey: parentKey}
		if isChild {
			child = append(child, b)
		}
		if isParent {
			parent = append(parent, b)
		}
	}
	return child, parent, nil
}

// rowRange extracts the era range from a row map. A missing or NULL
// valid_until is open-ended.
func rowRange(era *types.Era, row map[string]any) (interval.Range, error) {
	from, err := interval.FromSQL(era.Kind, row[era.FromColumn])
	if err != nil {
		return interval.Range{}, fmt.Errorf("%w: %s: %v", types.ErrArgument, era.FromColumn, err)
	}
	untilRaw, ok := row[era.UntilColumn]
	var until interval.Value
	if !ok || untilRaw == nil {
		until = interval.Infinity(era.Kind)
	} else {
		until, err = interval.FromSQL(era.Kind, untilRaw)
		if err != nil {
			return interval.Range{}, fmt.Errorf("%w: %s: %v", types.ErrArgument, era.UntilColumn, err)
		}
	}
	return interval.Range{From: from, Until: until}, nil
}

// enqueueChildChecks queues coverage checks for a child row's key/range.
func (s *SQLiteStorage) enqueueChildChecks(bundles []constraint.FK, kind types.CheckKind, row map[string]any) error {
	for _, b := range bundles {
		keyValues := make([]any, len(b.FK.Columns))
		for i, c := range b.FK.Columns {
			keyValues[i] = row[c]
		}
		r, err := rowRange(b.ChildEra, row)
		if err != nil {
			return err
		}
		s.queue.Enqueue(constraint.PendingCheck{Bundle: b, Kind: kind, KeyValues: keyValues, Range: r})
	}
	return nil
}

// enqueueParentChecks queues re-validation of children referencing the old
// parent key.
func (s *SQLiteStorage) enqueueParentChecks(bundles []constraint.FK, kind types.CheckKind, oldRow map[string]any) {
	for _, b := range bundles {
		keyValues := make([]any, len(b.ParentKey.Columns))
		for i, c := range b.ParentKey.Columns {
			keyValues[i] = oldRow[c]
		}
		s.queue.Enqueue(constraint.PendingCheck{Bundle: b, Kind: kind, KeyValues: keyValues})
	}
}

// InsertRows inserts rows through the temporal constraint path. Exclusion
// (unique-key overlap) is enforced synchronously by the backing triggers;
// foreign-key coverage is checked at the statement boundary, or at commit
// when the transaction deferred constraints.
func (s *SQLiteStorage) InsertRows(ctx context.Context, table string, rows []map[string]any) error {
	return s.withTx(ctx, func() error {
		return s.insertRowsLocked(ctx, table, rows)
	})
}

func (s *SQLiteStorage) insertRowsLocked(ctx context.Context, table string, rows []map[string]any) error {
	childFKs, _, err := s.fkBundles(ctx, table)
	if err != nil {
		return err
	}
	for _, row := range rows {
		cols := make([]string, 0, len(row))
		for c := range row {
			cols = append(cols, c)
		}
		slices.Sort(cols)

		names := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, c := range cols {
			names[i] = quoteIdent(c)
			args[i] = row[c]
		}
		stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			quoteIdent(table), strings.Join(names, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
		if _, err := s.conn.ExecContext(ctx, stmt, args...); err != nil {
			if constraint.IsExclusionError(err) {
				return fmt.Errorf("%w: %v", types.ErrIntegrity, err)
			}
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		if err := s.enqueueChildChecks(childFKs, types.CheckChildInsert, row); err != nil {
			return err
		}
	}
	return s.queue.FlushIfImmediate(ctx, s.conn, s.validator)
}

// UpdateRow updates one row by rowid through the temporal constraint path.
func (s *SQLiteStorage) UpdateRow(ctx context.Context, table string, rowid int64, updates map[string]any) error {
	return s.withTx(ctx, func() error {
		return s.updateRowLocked(ctx, table, rowid, updates)
	})
}

func (s *SQLiteStorage) updateRowLocked(ctx context.Context, table string, rowid int64, updates map[string]any) error {
	if len(updates) == 0 {
		return fmt.Errorf("%w: no columns to update", types.ErrArgument)
	}
	childFKs, parentFKs, err := s.fkBundles(ctx, table)
	if err != nil {
		return err
	}

	oldRow, err := s.loadRow(ctx, table, rowid)
	if err != nil {
		return err
	}
	if oldRow == nil {
		return fmt.Errorf("%w: no row %d in %s", types.ErrArgument, rowid, table)
	}

	cols := make([]string, 0, len(updates))
	for c := range updates {
		cols = append(cols, c)
	}
	slices.Sort(cols)

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = quoteIdent(c) + " = ?"
		args = append(args, updates[c])
	}
	args = append(args, rowid)
	stmt := fmt.Sprintf(`UPDATE %s SET %s WHERE rowid = ?`,
		quoteIdent(table), strings.Join(sets, ", "))
	if _, err := s.conn.ExecContext(ctx, stmt, args...); err != nil {
		if constraint.IsExclusionError(err) {
			return fmt.Errorf("%w: %v", types.ErrIntegrity, err)
		}
		return fmt.Errorf("failed to update %s: %w", table, err)
	}

	newRow := make(map[string]any, len(oldRow))
	for k, v := range oldRow {
		newRow[k] = v
	}
	for k, v := range updates {
		newRow[k] = v
	}

	// Child side: re-check when referenced columns or the era bounds moved.
	for _, b := range childFKs {
		touched := false
		for c := range updates {
			if strings.EqualFold(c, b.ChildEra.FromColumn) || strings.EqualFold(c, b.ChildEra.UntilColumn) {
				touched = true
			}
			for _, kc := range b.FK.Columns {
				if strings.EqualFold(c, kc) {
					touched = true
				}
			}
		}
		if touched {
			if err := s.enqueueChildChecks([]constraint.FK{b}, types.CheckChildUpdate, newRow); err != nil {
				return err
			}
		}
	}

	// Parent side: children of the old key re-checked under the new state.
	for _, b := range parentFKs {
		touched := false
		for c := range updates {
			if strings.EqualFold(c, b.ParentEra.FromColumn) || strings.EqualFold(c, b.ParentEra.UntilColumn) {
				touched = true
			}
			for _, kc := range b.ParentKey.Columns {
				if strings.EqualFold(c, kc) {
					touched = true
				}
			}
		}
		if touched {
			s.enqueueParentChecks([]constraint.FK{b}, types.CheckParentUpdate, oldRow)
		}
	}

	return s.queue.FlushIfImmediate(ctx, s.conn, s.validator)
}

// DeleteRow deletes one row by rowid through the temporal constraint path.
func (s *SQLiteStorage) DeleteRow(ctx context.Context, table string, rowid int64) error {
	return s.withTx(ctx, func() error {
		return s.deleteRowLocked(ctx, table, rowid)
	})
}

func (s *SQLiteStorage) deleteRowLocked(ctx context.Context, table string, rowid int64) error {
	_, parentFKs, err := s.fkBundles(ctx, table)
	if err != nil {
		return err
	}
	oldRow, err := s.loadRow(ctx, table, rowid)
	if err != nil {
		return err
	}
	if oldRow == nil {
		return fmt.Errorf("%w: no row %d in %s", types.ErrArgument, rowid, table)
	}

	if _, err := s.conn.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, quoteIdent(table)), rowid); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	s.enqueueParentChecks(parentFKs, types.CheckParentDelete, oldRow)
	return s.queue.FlushIfImmediate(ctx, s.conn, s.validator)
}

// loadRow reads one full row by rowid, or nil when absent.
func (s *SQLiteStorage) loadRow(ctx context.Context, table string, rowid int64) (map[string]any, error) {
	rows, err := s.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE rowid = ?`, quoteIdent(table)), rowid)
	if err != nil {
		return nil, fmt.Errorf("failed to read row %d of %s: %w", rowid, table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(map[string]any, len(cols))
	for i, c := range cols {
		row[c] = dest[i]
	}
	return row, nil
}

// quoteIdent double-quotes an identifier for embedding in SQL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Transaction method implementations: same code paths, already inside the
// surrounding transaction.

func (t *sqliteTx) InsertRows(ctx context.Context, table string, rows []map[string]any) error {
	return t.s.insertRowsLocked(ctx, table, rows)
}

func (t *sqliteTx) UpdateRow(ctx context.Context, table string, rowid int64, updates map[string]any) error {
	return t.s.updateRowLocked(ctx, table, rowid, updates)
}

func (t *sqliteTx) DeleteRow(ctx context.Context, table string, rowid int64) error {
	return t.s.deleteRowLocked(ctx, table, rowid)
}
