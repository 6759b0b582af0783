package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/untoldecay/EraDB/internal/catalog"
)

// ReconcileDroppedTables scans the catalog against the live schema and
// cascade-deletes the rows of any user table that no longer exists,
// including foreign keys on other tables that referenced the dropped
// table's unique keys. This is the drop-protection sweep run after every
// drop-class DDL, catching cascades the statement parser cannot see.
func (g *Guard) ReconcileDroppedTables(ctx context.Context, db catalog.DB) error {
	snap, err := LoadSnapshot(ctx, db)
	if err != nil {
		return err
	}

	present := make(map[string]bool)
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		present[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	dropped := make(map[string]bool)
	for _, e := range snap.Eras {
		if !present[strings.ToLower(e.Table)] {
			dropped[e.Table] = true
		}
	}
	for _, fk := range snap.ForeignKeys {
		if !present[strings.ToLower(fk.Table)] {
			dropped[fk.Table] = true
		}
	}

	for table := range dropped {
		muts, err := PlanMutations(Event{Kind: EventDropTable, Table: table, Object: table}, snap)
		if err != nil {
			return err
		}
		if err := g.apply(ctx, db, snap, muts); err != nil {
			return err
		}
	}
	return nil
}
