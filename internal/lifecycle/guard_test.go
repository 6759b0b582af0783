package lifecycle

import (
	"testing"

	"github.com/untoldecay/EraDB/internal/types"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Eras: []*types.Era{
			{Table: "projects", Name: "valid", FromColumn: "valid_from", UntilColumn: "valid_until",
				BoundsCheckTrigger: "era__projects__valid__bounds"},
			{Table: "assignments", Name: "valid", FromColumn: "valid_from", UntilColumn: "valid_until"},
		},
		UniqueKeys: []*types.UniqueKey{
			{Name: "projects_id_valid", Table: "projects", Columns: []string{"id"}, EraName: "valid",
				UniqueIndex:            "era__projects__id__idx",
				ExclusionInsertTrigger: "era__projects__id__excl_ins",
				ExclusionUpdateTrigger: "era__projects__id__excl_upd"},
		},
		ForeignKeys: []*types.ForeignKey{
			{Name: "assignments_project_fkey", Table: "assignments", Columns: []string{"project_id"},
				EraName: "valid", RefKey: "projects_id_valid"},
		},
	}
}

func TestParseDDL(t *testing.T) {
	tests := []struct {
		stmt string
		kind EventKind
	}{
		{`DROP TABLE projects`, EventDropTable},
		{`drop table if exists "projects"`, EventDropTable},
		{`DROP INDEX era__projects__id__idx`, EventDropIndex},
		{`DROP TRIGGER era__projects__id__excl_ins`, EventDropTrigger},
		{`DROP VIEW era__periods`, EventDropView},
		{`ALTER TABLE projects RENAME TO missions`, EventRenameTable},
		{`ALTER TABLE projects RENAME COLUMN id TO ident`, EventRenameColumn},
		{`ALTER TABLE projects RENAME id TO ident`, EventRenameColumn},
		{`ALTER TABLE projects DROP COLUMN id`, EventDropColumn},
		{`CREATE TABLE x (y INTEGER)`, EventOther},
		{`SELECT 1`, EventOther},
	}
	for _, tt := range tests {
		if ev := ParseDDL(tt.stmt); ev.Kind != tt.kind {
			t.Errorf("%q parsed as %s, want %s", tt.stmt, ev.Kind, tt.kind)
		}
	}
}

func TestForbiddenProtectsBackingObjects(t *testing.T) {
	snap := testSnapshot()

	cases := []Event{
		{Kind: EventDropColumn, Table: "projects", Column: "valid_from"},
		{Kind: EventDropColumn, Table: "projects", Column: "id"},
		{Kind: EventDropColumn, Table: "assignments", Column: "project_id"},
		{Kind: EventDropTrigger, Object: "era__projects__id__excl_ins"},
		{Kind: EventDropTrigger, Object: "era__projects__valid__bounds_upd"},
		{Kind: EventDropIndex, Object: "era__projects__id__idx"},
	}
	for _, ev := range cases {
		if reasons := Forbidden(ev, snap); len(reasons) == 0 {
			t.Errorf("%s must be forbidden", ev)
		}
	}

	allowed := []Event{
		{Kind: EventDropColumn, Table: "projects", Column: "name"},
		{Kind: EventDropTrigger, Object: "user_trigger"},
		{Kind: EventDropIndex, Object: "user_index"},
		{Kind: EventDropTable, Table: "projects", Object: "projects"},
	}
	for _, ev := range allowed {
		if reasons := Forbidden(ev, snap); len(reasons) != 0 {
			t.Errorf("%s must be allowed, got %v", ev, reasons)
		}
	}
}

func TestPlanMutationsDropTableCascade(t *testing.T) {
	snap := testSnapshot()
	muts, err := PlanMutations(Event{Kind: EventDropTable, Table: "projects", Object: "projects"}, snap)
	if err != nil {
		t.Fatal(err)
	}

	var kinds []MutationKind
	fkBeforeKey := -1
	keyIdx := -1
	for i, m := range muts {
		kinds = append(kinds, m.Kind)
		if m.Kind == MutationDeleteForeignKey && m.KeyName == "assignments_project_fkey" {
			fkBeforeKey = i
		}
		if m.Kind == MutationDeleteUniqueKey {
			keyIdx = i
		}
	}
	if fkBeforeKey == -1 || keyIdx == -1 {
		t.Fatalf("cascade must delete the referencing foreign key and the unique key: %v", kinds)
	}
	if fkBeforeKey > keyIdx {
		t.Errorf("foreign key rows must be deleted before the unique key they reference")
	}

	foundEra := false
	for _, m := range muts {
		if m.Kind == MutationDeleteEra && m.Table == "projects" {
			foundEra = true
		}
	}
	if !foundEra {
		t.Error("cascade must delete the table's eras")
	}
}

func TestPlanMutationsRenames(t *testing.T) {
	snap := testSnapshot()

	muts, err := PlanMutations(Event{Kind: EventRenameTable, Table: "projects", NewName: "missions"}, snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(muts) != 1 || muts[0].Kind != MutationRenameTableRefs {
		t.Fatalf("table rename must produce one rename mutation: %+v", muts)
	}

	muts, err = PlanMutations(Event{Kind: EventRenameColumn, Table: "projects", Column: "id", NewName: "ident"}, snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(muts) != 1 || muts[0].Kind != MutationRenameColumnRefs {
		t.Fatalf("key column rename must reconcile the catalog: %+v", muts)
	}

	// A rename touching nothing the catalog tracks produces no mutations.
	muts, err = PlanMutations(Event{Kind: EventRenameColumn, Table: "projects", Column: "name", NewName: "title"}, snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(muts) != 0 {
		t.Errorf("untracked column rename must be a no-op: %+v", muts)
	}
}
