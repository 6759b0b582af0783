package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/untoldecay/EraDB/internal/catalog"
	"github.com/untoldecay/EraDB/internal/types"
)

func TestDDLGuardRejectsDroppingBackingObjects(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	mustExec(t, store, `CREATE TABLE m (id INTEGER, valid_from INTEGER, valid_until INTEGER)`)
	if _, err := store.AddEra(ctx, "m", "valid_from", "valid_until", catalog.DefaultEraOptions()); err != nil {
		t.Fatal(err)
	}
	keyName, err := store.AddUniqueKey(ctx, "m", []string{"id"}, catalog.UniqueKeyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	key, err := catalog.GetUniqueKey(ctx, store.conn, keyName)
	if err != nil || key == nil {
		t.Fatalf("GetUniqueKey: %v", err)
	}

	if err := store.ExecDDL(ctx, `DROP TRIGGER `+key.ExclusionInsertTrigger); !errors.Is(err, types.ErrConsistency) {
		t.Errorf("dropping an exclusion trigger must be rejected, got %v", err)
	}
	if err := store.ExecDDL(ctx, `DROP INDEX `+key.UniqueIndex); !errors.Is(err, types.ErrConsistency) {
		t.Errorf("dropping the backing index must be rejected, got %v", err)
	}
	if err := store.ExecDDL(ctx, `ALTER TABLE m DROP COLUMN valid_from`); !errors.Is(err, types.ErrConsistency) {
		t.Errorf("dropping an era column must be rejected, got %v", err)
	}
	if err := store.ExecDDL(ctx, `ALTER TABLE m DROP COLUMN id`); !errors.Is(err, types.ErrConsistency) {
		t.Errorf("dropping a key column must be rejected, got %v", err)
	}
}

func TestDDLGuardFollowsTableRename(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	mustExec(t, store, `CREATE TABLE m (id INTEGER, valid_from INTEGER, valid_until INTEGER)`)
	if _, err := store.AddEra(ctx, "m", "valid_from", "valid_until", catalog.DefaultEraOptions()); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddUniqueKey(ctx, "m", []string{"id"}, catalog.UniqueKeyOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := store.ExecDDL(ctx, `ALTER TABLE m RENAME TO n`); err != nil {
		t.Fatal(err)
	}

	era, err := catalog.GetEra(ctx, store.conn, "n", "valid")
	if err != nil || era == nil {
		t.Fatalf("era must follow the rename: %v, %v", era, err)
	}
	if old, _ := catalog.GetEra(ctx, store.conn, "m", "valid"); old != nil {
		t.Error("stale catalog row for the old table name")
	}
	keys, err := catalog.UniqueKeysOnTable(ctx, store.conn, "n")
	if err != nil || len(keys) != 1 {
		t.Fatalf("unique key must follow the rename: %v (%d)", err, len(keys))
	}

	// The renamed table still enforces its exclusion.
	err = store.InsertRows(ctx, "n", []map[string]any{
		{"id": 1, "valid_from": 0, "valid_until": 10},
		{"id": 1, "valid_from": 5, "valid_until": 15},
	})
	if err == nil {
		t.Error("exclusion must survive the rename")
	}
}

func TestDDLGuardFollowsColumnRename(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	mustExec(t, store, `CREATE TABLE m (id INTEGER, valid_from INTEGER, valid_until INTEGER)`)
	if _, err := store.AddEra(ctx, "m", "valid_from", "valid_until", catalog.DefaultEraOptions()); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddUniqueKey(ctx, "m", []string{"id"}, catalog.UniqueKeyOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := store.ExecDDL(ctx, `ALTER TABLE m RENAME COLUMN id TO ident`); err != nil {
		t.Fatal(err)
	}
	keys, err := catalog.UniqueKeysOnTable(ctx, store.conn, "m")
	if err != nil || len(keys) != 1 {
		t.Fatal(err)
	}
	if keys[0].Columns[0] != "ident" {
		t.Errorf("key columns must follow the rename, got %v", keys[0].Columns)
	}

	if err := store.ExecDDL(ctx, `ALTER TABLE m RENAME COLUMN valid_from TO vf`); err != nil {
		t.Fatal(err)
	}
	era, err := catalog.GetEra(ctx, store.conn, "m", "valid")
	if err != nil || era == nil {
		t.Fatal(err)
	}
	if era.FromColumn != "vf" {
		t.Errorf("era bound must follow the rename, got %s", era.FromColumn)
	}
}

func TestDDLGuardDropTableCascades(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	setupParentChild(t, store)

	// Dropping the parent table cascades: its era and key rows disappear,
	// and so do foreign keys on other tables referencing its keys.
	if err := store.ExecDDL(ctx, `DROP TABLE projects`); err != nil {
		t.Fatal(err)
	}

	eras, _ := store.ListEras(ctx)
	for _, e := range eras {
		if e.Table == "projects" {
			t.Error("dropped table's era must be cascade-deleted")
		}
	}
	keys, _ := store.ListUniqueKeys(ctx)
	if len(keys) != 0 {
		t.Errorf("dropped table's keys must be cascade-deleted: %+v", keys)
	}
	fks, _ := store.ListForeignKeys(ctx)
	if len(fks) != 0 {
		t.Errorf("foreign keys referencing the dropped table must be cascade-deleted: %+v", fks)
	}

	// The child table's own era survives.
	era, err := catalog.GetEra(ctx, store.conn, "assignments", "valid")
	if err != nil || era == nil {
		t.Errorf("unrelated era must survive: %v, %v", era, err)
	}
}
