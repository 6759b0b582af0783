package sqlite

import (
	"context"
	"fmt"

	"github.com/untoldecay/EraDB/internal/catalog"
	"github.com/untoldecay/EraDB/internal/constraint"
	"github.com/untoldecay/EraDB/internal/interval"
	"github.com/untoldecay/EraDB/internal/storage"
	"github.com/untoldecay/EraDB/internal/types"
)

// Validate re-checks the universal invariants against current data:
// non-overlap for every temporal unique key, gap-free coverage for every
// temporal foreign key, and catalog-object correspondence. Returns one
// violation per finding; an empty slice means the database is sound.
func (s *SQLiteStorage) Validate(ctx context.Context) ([]storage.Violation, error) {
	var out []storage.Violation

	eras, err := catalog.ListEras(ctx, s.conn)
	if err != nil {
		return nil, err
	}
	eraIndex := make(map[string]*types.Era)
	for _, e := range eras {
		eraIndex[e.Table+"\x00"+e.Name] = e

		if ok, err := catalog.ObjectExists(ctx, s.conn, "table", e.Table); err != nil {
			return nil, err
		} else if !ok {
			out = append(out, storage.Violation{
				Table: e.Table, Constraint: "era " + e.Name,
				Detail: "table no longer exists",
			})
		}
		if e.BoundsCheckTrigger != "" {
			for _, t := range []string{e.BoundsCheckTrigger + "_ins", e.BoundsCheckTrigger + "_upd"} {
				if ok, err := catalog.ObjectExists(ctx, s.conn, "trigger", t); err != nil {
					return nil, err
				} else if !ok {
					out = append(out, storage.Violation{
						Table: e.Table, Constraint: "era " + e.Name,
						Detail: fmt.Sprintf("bounds-check trigger %s is missing", t),
					})
				}
			}
		}
	}

	keys, err := catalog.ListUniqueKeys(ctx, s.conn)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		era := eraIndex[k.Table+"\x00"+k.EraName]
		if era == nil {
			out = append(out, storage.Violation{
				Table: k.Table, Constraint: k.Name,
				Detail: fmt.Sprintf("era %s has vanished from the catalog", k.EraName),
			})
			continue
		}
		for _, obj := range []struct{ typ, name string }{
			{"index", k.UniqueIndex},
			{"trigger", k.ExclusionInsertTrigger},
			{"trigger", k.ExclusionUpdateTrigger},
		} {
			if ok, err := catalog.ObjectExists(ctx, s.conn, obj.typ, obj.name); err != nil {
				return nil, err
			} else if !ok {
				out = append(out, storage.Violation{
					Table: k.Table, Constraint: k.Name,
					Detail: fmt.Sprintf("backing %s %s is missing", obj.typ, obj.name),
				})
			}
		}
		if v := s.checkOverlaps(ctx, k, era); v != nil {
			out = append(out, *v)
		}
	}

	fks, err := catalog.ListForeignKeys(ctx, s.conn)
	if err != nil {
		return nil, err
	}
	for _, fk := range fks {
		parentKey, err := catalog.GetUniqueKey(ctx, s.conn, fk.RefKey)
		if err != nil {
			return nil, err
		}
		if parentKey == nil {
			out = append(out, storage.Violation{
				Table: fk.Table, Constraint: fk.Name,
				Detail: fmt.Sprintf("referenced unique key %s has vanished", fk.RefKey),
			})
			continue
		}
		childEra := eraIndex[fk.Table+"\x00"+fk.EraName]
		parentEra := eraIndex[parentKey.Table+"\x00"+parentKey.EraName]
		if childEra == nil || parentEra == nil {
			out = append(out, storage.Violation{
				Table: fk.Table, Constraint: fk.Name,
				Detail: "an era this key depends on has vanished",
			})
			continue
		}
		b := constraint.FK{FK: fk, ChildEra: childEra, ParentEra: parentEra, ParentKey: parentKey}
		if err := s.validator.ValidateExistingRows(ctx, s.conn, b); err != nil {
			out = append(out, storage.Violation{
				Table: fk.Table, Constraint: fk.Name, Detail: err.Error(),
			})
		}
	}

	return out, nil
}

// checkOverlaps scans a unique key's table for overlapping validity on
// equal keys.
func (s *SQLiteStorage) checkOverlaps(ctx context.Context, k *types.UniqueKey, era *types.Era) *storage.Violation {
	rows, err := s.conn.QueryContext(ctx, overlapProbeSQL(k, era))
	if err != nil {
		return &storage.Violation{Table: k.Table, Constraint: k.Name, Detail: err.Error()}
	}
	defer rows.Close()
	if rows.Next() {
		var from, until any
		_ = rows.Scan(&from, &until)
		f, _ := interval.FromSQL(era.Kind, from)
		u, _ := interval.FromSQL(era.Kind, until)
		return &storage.Violation{
			Table: k.Table, Constraint: k.Name,
			Detail: fmt.Sprintf("overlapping validity near %s", interval.Range{From: f, Until: u}),
		}
	}
	return nil
}

func overlapProbeSQL(k *types.UniqueKey, era *types.Era) string {
	equal := ""
	notNull := ""
	for i, col := range k.Columns {
		c := quoteIdent(col)
		if i > 0 {
			equal += " AND "
			notNull += " AND "
		}
		equal += "a." + c + " = b." + c
		notNull += "a." + c + " IS NOT NULL"
	}
	fromQ := quoteIdent(era.FromColumn)
	untilQ := quoteIdent(era.UntilColumn)
	return fmt.Sprintf(`
		SELECT a.%s, a.%s FROM %s a JOIN %s b
		ON a.rowid < b.rowid AND %s AND %s
		AND NOT (a.%s <= b.%s OR a.%s >= b.%s)
		LIMIT 1`,
		fromQ, untilQ, quoteIdent(k.Table), quoteIdent(k.Table),
		equal, notNull, untilQ, fromQ, fromQ, untilQ)
}
