package sqlite

import (
	"context"
	"fmt"

	"github.com/untoldecay/EraDB/internal/lifecycle"
)

// ExecDDL runs one DDL statement under the lifecycle guard. Forbidden
// statements (dropping an era column, a backing trigger or index) are
// rejected before execution; allowed ones are followed by catalog
// reconciliation — drop-protection cascade and rename-following — inside
// the same transaction, so after commit the catalog is consistent with the
// physical objects or the DDL never happened.
func (s *SQLiteStorage) ExecDDL(ctx context.Context, stmt string) error {
	ev := lifecycle.ParseDDL(stmt)

	return s.withTx(ctx, func() error {
		snap, err := lifecycle.LoadSnapshot(ctx, s.conn)
		if err != nil {
			return err
		}

		// on_sql_drop: reject before the object disappears.
		if err := s.guard.OnSQLDrop(ev, snap); err != nil {
			return err
		}

		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("DDL failed: %w", err)
		}

		// on_ddl_command_end: reconcile the catalog with what the DDL did.
		if err := s.guard.OnDDLCommandEnd(ctx, s.conn, ev, snap); err != nil {
			return err
		}

		// Sweep for cascade-dropped tables the statement parser cannot see.
		switch ev.Kind {
		case lifecycle.EventDropTable, lifecycle.EventDropView, lifecycle.EventOther:
			if err := s.guard.ReconcileDroppedTables(ctx, s.conn); err != nil {
				return err
			}
		}
		return nil
	})
}
