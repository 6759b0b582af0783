package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/untoldecay/EraDB/internal/catalog"
	"github.com/untoldecay/EraDB/internal/types"
)

// Snapshot is the catalog state the pure planners operate on. The storage
// layer builds it from the catalog relations before running a DDL statement.
type Snapshot struct {
	Eras        []*types.Era
	UniqueKeys  []*types.UniqueKey
	ForeignKeys []*types.ForeignKey
}

// LoadSnapshot reads the whole catalog.
func LoadSnapshot(ctx context.Context, db catalog.DB) (*Snapshot, error) {
	eras, err := catalog.ListEras(ctx, db)
	if err != nil {
		return nil, err
	}
	keys, err := catalog.ListUniqueKeys(ctx, db)
	if err != nil {
		return nil, err
	}
	fks, err := catalog.ListForeignKeys(ctx, db)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Eras: eras, UniqueKeys: keys, ForeignKeys: fks}, nil
}

func (s *Snapshot) erasOn(table string) []*types.Era {
	var out []*types.Era
	for _, e := range s.Eras {
		if strings.EqualFold(e.Table, table) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Snapshot) keysOn(table string) []*types.UniqueKey {
	var out []*types.UniqueKey
	for _, k := range s.UniqueKeys {
		if strings.EqualFold(k.Table, table) {
			out = append(out, k)
		}
	}
	return out
}

// ownedTriggers returns every trigger name the catalog owns, mapped to a
// description of its owner.
func (s *Snapshot) ownedTriggers() map[string]string {
	owned := make(map[string]string)
	for _, e := range s.Eras {
		if e.BoundsCheckTrigger != "" {
			owned[e.BoundsCheckTrigger+"_ins"] = fmt.Sprintf("bounds check of era %s on %s", e.Name, e.Table)
			owned[e.BoundsCheckTrigger+"_upd"] = fmt.Sprintf("bounds check of era %s on %s", e.Name, e.Table)
		}
	}
	for _, k := range s.UniqueKeys {
		owned[k.ExclusionInsertTrigger] = fmt.Sprintf("exclusion constraint of key %s", k.Name)
		owned[k.ExclusionUpdateTrigger] = fmt.Sprintf("exclusion constraint of key %s", k.Name)
	}
	return owned
}

// Forbidden lists the reasons ev must be rejected, or nothing when the DDL
// may proceed. Pure.
func Forbidden(ev Event, snap *Snapshot) []string {
	var reasons []string
	switch ev.Kind {
	case EventDropColumn:
		for _, e := range snap.erasOn(ev.Table) {
			if strings.EqualFold(ev.Column, e.FromColumn) || strings.EqualFold(ev.Column, e.UntilColumn) {
				reasons = append(reasons, fmt.Sprintf(
					"column %s.%s carries era %q and cannot be dropped while the era exists",
					ev.Table, ev.Column, e.Name))
			}
			if strings.EqualFold(ev.Column, e.SyncToColumn) || strings.EqualFold(ev.Column, e.SyncRangeColumn) {
				reasons = append(reasons, fmt.Sprintf(
					"column %s.%s is synchronized by era %q; drop the era first",
					ev.Table, ev.Column, e.Name))
			}
		}
		for _, k := range snap.keysOn(ev.Table) {
			for _, col := range k.Columns {
				if strings.EqualFold(ev.Column, col) {
					reasons = append(reasons, fmt.Sprintf(
						"column %s.%s is part of temporal unique key %s", ev.Table, ev.Column, k.Name))
				}
			}
		}
		for _, fk := range snap.ForeignKeys {
			if !strings.EqualFold(fk.Table, ev.Table) {
				continue
			}
			for _, col := range fk.Columns {
				if strings.EqualFold(ev.Column, col) {
					reasons = append(reasons, fmt.Sprintf(
						"column %s.%s is part of temporal foreign key %s", ev.Table, ev.Column, fk.Name))
				}
			}
		}
	case EventDropTrigger:
		if owner, ok := snap.ownedTriggers()[ev.Object]; ok {
			reasons = append(reasons, fmt.Sprintf("trigger %s backs the %s", ev.Object, owner))
		}
	case EventDropIndex:
		for _, k := range snap.UniqueKeys {
			if strings.EqualFold(k.UniqueIndex, ev.Object) {
				reasons = append(reasons, fmt.Sprintf(
					"index %s backs temporal unique key %s", ev.Object, k.Name))
			}
		}
	case EventDropView:
		if strings.HasPrefix(ev.Object, "era__") {
			reasons = append(reasons, fmt.Sprintf("view %s is maintained by the era catalog", ev.Object))
		}
	}
	return reasons
}

// MutationKind enumerates catalog reconciliation steps.
type MutationKind string

const (
	MutationDeleteEra        MutationKind = "delete_era"
	MutationDeleteUniqueKey  MutationKind = "delete_unique_key"
	MutationDeleteForeignKey MutationKind = "delete_foreign_key"
	MutationDropTrigger      MutationKind = "drop_trigger"
	MutationRenameTableRefs  MutationKind = "rename_table_refs"
	MutationRenameColumnRefs MutationKind = "rename_column_refs"
)

// Mutation is one catalog reconciliation step produced by PlanMutations.
type Mutation struct {
	Kind    MutationKind
	Table   string
	Era     string
	KeyName string
	Trigger string
	OldName string
	NewName string
}

// PlanMutations computes the catalog mutations that keep the catalog
// consistent after ev. Pure. Every event kind it handles can be reconciled,
// so the returned error is always nil.
func PlanMutations(ev Event, snap *Snapshot) ([]Mutation, error) {
	var muts []Mutation
	switch ev.Kind {
	case EventDropTable:
		// Cascade: foreign keys on other tables referencing this table's
		// unique keys lose their parent; their catalog rows and check
		// handles go with it.
		for _, k := range snap.keysOn(ev.Table) {
			for _, fk := range snap.ForeignKeys {
				if fk.RefKey == k.Name {
					muts = append(muts, Mutation{Kind: MutationDeleteForeignKey, Table: fk.Table, KeyName: fk.Name})
				}
			}
			muts = append(muts, Mutation{Kind: MutationDeleteUniqueKey, Table: ev.Table, KeyName: k.Name})
		}
		for _, fk := range snap.ForeignKeys {
			if strings.EqualFold(fk.Table, ev.Table) {
				muts = append(muts, Mutation{Kind: MutationDeleteForeignKey, Table: fk.Table, KeyName: fk.Name})
			}
		}
		for _, e := range snap.erasOn(ev.Table) {
			muts = append(muts, Mutation{Kind: MutationDeleteEra, Table: ev.Table, Era: e.Name})
		}
	case EventRenameTable:
		if len(snap.erasOn(ev.Table)) > 0 {
			muts = append(muts, Mutation{Kind: MutationRenameTableRefs, OldName: ev.Table, NewName: ev.NewName})
		}
	case EventRenameColumn:
		touched := false
		for _, e := range snap.erasOn(ev.Table) {
			if strings.EqualFold(ev.Column, e.FromColumn) || strings.EqualFold(ev.Column, e.UntilColumn) {
				touched = true
			}
		}
		for _, k := range snap.keysOn(ev.Table) {
			for _, col := range k.Columns {
				if strings.EqualFold(ev.Column, col) {
					touched = true
				}
			}
		}
		for _, fk := range snap.ForeignKeys {
			if !strings.EqualFold(fk.Table, ev.Table) {
				continue
			}
			for _, col := range fk.Columns {
				if strings.EqualFold(ev.Column, col) {
					touched = true
				}
			}
		}
		if touched {
			// The catalog stores column names, and the backing triggers
			// embed them in their bodies. SQLite rewrites trigger bodies on
			// RENAME COLUMN, but the catalog rows and the compiled
			// validation queries must follow too.
			muts = append(muts, Mutation{
				Kind: MutationRenameColumnRefs, Table: ev.Table,
				OldName: ev.Column, NewName: ev.NewName,
			})
		}
	}
	return muts, nil
}

// Guard applies the drop-protection and rename-following policies around a
// DDL statement. Invalidate is called with every foreign-key name whose
// compiled validation queries became stale.
type Guard struct {
	Invalidate func(fkName string)
}

// OnSQLDrop is the pre-execution hook: it rejects forbidden drops.
func (g *Guard) OnSQLDrop(ev Event, snap *Snapshot) error {
	if reasons := Forbidden(ev, snap); len(reasons) > 0 {
		return fmt.Errorf("%w: %s", types.ErrConsistency, strings.Join(reasons, "; "))
	}
	return nil
}

// OnDDLCommandEnd is the post-execution hook: it reconciles the catalog
// inside the DDL's transaction.
func (g *Guard) OnDDLCommandEnd(ctx context.Context, db catalog.DB, ev Event, snap *Snapshot) error {
	muts, err := PlanMutations(ev, snap)
	if err != nil {
		return err
	}
	return g.apply(ctx, db, snap, muts)
}

func (g *Guard) apply(ctx context.Context, db catalog.DB, snap *Snapshot, muts []Mutation) error {
	for _, m := range muts {
		switch m.Kind {
		case MutationDeleteForeignKey:
			if _, err := db.ExecContext(ctx,
				`DELETE FROM `+catalog.TableForeignKeys+` WHERE key_name = ?`, m.KeyName); err != nil {
				return fmt.Errorf("failed to reconcile foreign key %s: %w", m.KeyName, err)
			}
			g.invalidate(m.KeyName)
		case MutationDeleteUniqueKey:
			if _, err := db.ExecContext(ctx,
				`DELETE FROM `+catalog.TableUniqueKeys+` WHERE key_name = ?`, m.KeyName); err != nil {
				return fmt.Errorf("failed to reconcile unique key %s: %w", m.KeyName, err)
			}
		case MutationDeleteEra:
			if _, err := db.ExecContext(ctx,
				`DELETE FROM `+catalog.TableEras+` WHERE table_name = ? AND era_name = ?`,
				m.Table, m.Era); err != nil {
				return fmt.Errorf("failed to reconcile era %s on %s: %w", m.Era, m.Table, err)
			}
		case MutationDropTrigger:
			if _, err := db.ExecContext(ctx, `DROP TRIGGER IF EXISTS "`+m.Trigger+`"`); err != nil {
				return fmt.Errorf("failed to drop orphaned trigger %s: %w", m.Trigger, err)
			}
		case MutationRenameTableRefs:
			if err := g.renameTableRefs(ctx, db, m.OldName, m.NewName); err != nil {
				return err
			}
			for _, fk := range snap.ForeignKeys {
				if strings.EqualFold(fk.Table, m.OldName) {
					g.invalidate(fk.Name)
				}
			}
			for _, k := range snap.keysOn(m.OldName) {
				for _, fk := range snap.ForeignKeys {
					if fk.RefKey == k.Name {
						g.invalidate(fk.Name)
					}
				}
			}
		case MutationRenameColumnRefs:
			if err := g.renameColumnRefs(ctx, db, snap, m.Table, m.OldName, m.NewName); err != nil {
				return err
			}
			for _, fk := range snap.ForeignKeys {
				if strings.EqualFold(fk.Table, m.Table) {
					g.invalidate(fk.Name)
				}
			}
		}
	}
	return nil
}

func (g *Guard) invalidate(fkName string) {
	if g.Invalidate != nil {
		g.Invalidate(fkName)
	}
}

// renameTableRefs follows a table rename through all three catalog
// relations.
func (g *Guard) renameTableRefs(ctx context.Context, db catalog.DB, oldName, newName string) error {
	// Key rows reference era rows by (table_name, era_name); defer the
	// catalog's own foreign keys to commit so the relations can be rewritten
	// one after another.
	if _, err := db.ExecContext(ctx, `PRAGMA defer_foreign_keys = ON`); err != nil {
		return fmt.Errorf("failed to follow rename of table %s: %w", oldName, err)
	}
	for _, stmt := range []string{
		`UPDATE ` + catalog.TableEras + ` SET table_name = ? WHERE table_name = ?`,
		`UPDATE ` + catalog.TableUniqueKeys + ` SET table_name = ? WHERE table_name = ?`,
		`UPDATE ` + catalog.TableForeignKeys + ` SET table_name = ? WHERE table_name = ?`,
	} {
		if _, err := db.ExecContext(ctx, stmt, newName, oldName); err != nil {
			return fmt.Errorf("failed to follow rename of table %s: %w", oldName, err)
		}
	}
	return nil
}

// renameColumnRefs follows a column rename through era bounds, key column
// lists, and synchronized columns. Key column lists are stored as JSON; the
// catalog rows are rewritten from the snapshot.
func (g *Guard) renameColumnRefs(ctx context.Context, db catalog.DB, snap *Snapshot, table, oldName, newName string) error {
	rename := func(col string) string {
		if strings.EqualFold(col, oldName) {
			return newName
		}
		return col
	}

	for _, e := range snap.erasOn(table) {
		if _, err := db.ExecContext(ctx, `
			UPDATE `+catalog.TableEras+`
			SET from_column = ?, until_column = ?, sync_to_column = ?, sync_range_column = ?
			WHERE table_name = ? AND era_name = ?`,
			rename(e.FromColumn), rename(e.UntilColumn),
			rename(e.SyncToColumn), rename(e.SyncRangeColumn),
			table, e.Name); err != nil {
			return fmt.Errorf("failed to follow column rename in era %s: %w", e.Name, err)
		}
	}
	for _, k := range snap.keysOn(table) {
		cols := make([]string, len(k.Columns))
		for i, c := range k.Columns {
			cols[i] = rename(c)
		}
		colsJSON := marshalColumns(cols)
		if _, err := db.ExecContext(ctx, `
			UPDATE `+catalog.TableUniqueKeys+` SET columns = ? WHERE key_name = ?`,
			colsJSON, k.Name); err != nil {
			return fmt.Errorf("failed to follow column rename in key %s: %w", k.Name, err)
		}
	}
	for _, fk := range snap.ForeignKeys {
		if !strings.EqualFold(fk.Table, table) {
			continue
		}
		cols := make([]string, len(fk.Columns))
		for i, c := range fk.Columns {
			cols[i] = rename(c)
		}
		colsJSON := marshalColumns(cols)
		if _, err := db.ExecContext(ctx, `
			UPDATE `+catalog.TableForeignKeys+` SET columns = ? WHERE key_name = ?`,
			colsJSON, fk.Name); err != nil {
			return fmt.Errorf("failed to follow column rename in foreign key %s: %w", fk.Name, err)
		}
	}
	return nil
}

func marshalColumns(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = `"` + strings.ReplaceAll(c, `"`, `\"`) + `"`
	}
	return "[" + strings.Join(parts, ",") + "]"
}
