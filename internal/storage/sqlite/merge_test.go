package sqlite

import (
	"context"
	"testing"

	"github.com/untoldecay/EraDB/internal/catalog"
	"github.com/untoldecay/EraDB/internal/storage"
	"github.com/untoldecay/EraDB/internal/types"
)

type priceRow struct {
	id    int64
	from  string
	until string
	price any
	note  any
}

func setupPrices(t *testing.T, store *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()
	mustExec(t, store, `CREATE TABLE prices (id INTEGER, valid_from TEXT, valid_until TEXT, price INTEGER, note TEXT)`)
	if _, err := store.AddEra(ctx, "prices", "valid_from", "valid_until", catalog.DefaultEraOptions()); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddUniqueKey(ctx, "prices", []string{"id"}, catalog.UniqueKeyOptions{}); err != nil {
		t.Fatal(err)
	}
}

func readPrices(t *testing.T, store *SQLiteStorage) []priceRow {
	t.Helper()
	rows, err := store.conn.QueryContext(context.Background(),
		`SELECT id, valid_from, valid_until, price, note FROM prices ORDER BY id, valid_from`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var out []priceRow
	for rows.Next() {
		var r priceRow
		if err := rows.Scan(&r.id, &r.from, &r.until, &r.price, &r.note); err != nil {
			t.Fatal(err)
		}
		out = append(out, r)
	}
	return out
}

// S4: MERGE_ENTITY_PATCH with an ephemeral note changes the note, keeps the
// price through NULL, and coalesces back to one row.
func TestMergePatchCoalescing(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	setupPrices(t, store)

	if err := store.InsertRows(ctx, "prices", []map[string]any{
		{"id": 1, "valid_from": "2024-01-01", "valid_until": "2025-01-01", "price": 10, "note": "x"},
	}); err != nil {
		t.Fatal(err)
	}

	feedback, err := store.TemporalMerge(ctx, storage.TemporalMergeRequest{
		Target: "prices",
		Source: []map[string]any{
			{"id": 1, "valid_from": "2024-06-01", "valid_until": "2024-09-01", "price": nil, "note": "y"},
		},
		IDColumns:        []string{"id"},
		Mode:             types.MergeEntityPatch,
		EphemeralColumns: []string{"note"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(feedback) != 1 || feedback[0].Status != types.FeedbackApplied {
		t.Fatalf("feedback = %+v", feedback)
	}

	got := readPrices(t, store)
	if len(got) != 1 {
		t.Fatalf("want one coalesced row, got %+v", got)
	}
	r := got[0]
	if r.from != "2024-01-01" || r.until != "2025-01-01" {
		t.Errorf("range [%s, %s)", r.from, r.until)
	}
	if r.price != int64(10) {
		t.Errorf("price = %v, want 10 (NULL in source keeps target)", r.price)
	}
	if r.note != "y" {
		t.Errorf("note = %v, want y", r.note)
	}
}

// S5: DELETE_FOR_PORTION_OF splits the row around the carved slice.
func TestMergeDeletePortionCarvesOut(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	setupPrices(t, store)

	if err := store.InsertRows(ctx, "prices", []map[string]any{
		{"id": 1, "valid_from": "2024-01-01", "valid_until": "2025-01-01", "price": 10, "note": "x"},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := store.TemporalMerge(ctx, storage.TemporalMergeRequest{
		Target: "prices",
		Source: []map[string]any{
			{"id": 1, "valid_from": "2024-06-01", "valid_until": "2024-09-01"},
		},
		IDColumns: []string{"id"},
		Mode:      types.DeleteForPortionOf,
	})
	if err != nil {
		t.Fatal(err)
	}

	got := readPrices(t, store)
	if len(got) != 2 {
		t.Fatalf("want two fragments, got %+v", got)
	}
	if got[0].from != "2024-01-01" || got[0].until != "2024-06-01" {
		t.Errorf("left fragment [%s, %s)", got[0].from, got[0].until)
	}
	if got[1].from != "2024-09-01" || got[1].until != "2025-01-01" {
		t.Errorf("right fragment [%s, %s)", got[1].from, got[1].until)
	}
	for _, r := range got {
		if r.price != int64(10) || r.note != "x" {
			t.Errorf("payload must be preserved: %+v", r)
		}
	}
}

// S6: two source rows share a founding id; one generated id is shared and
// reported in feedback.
func TestMergeFoundingIDPropagation(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// id is a plain column filled from the rowid by a trigger: both timeline
	// rows of the entity share one id, which an INTEGER PRIMARY KEY cannot.
	mustExec(t, store, `CREATE TABLE companies (id INTEGER, valid_from TEXT, valid_until TEXT, name TEXT)`)
	mustExec(t, store, `CREATE TRIGGER companies_id AFTER INSERT ON companies WHEN NEW.id IS NULL
		BEGIN UPDATE companies SET id = NEW.rowid WHERE rowid = NEW.rowid; END`)
	if _, err := store.AddEra(ctx, "companies", "valid_from", "valid_until", catalog.DefaultEraOptions()); err != nil {
		t.Fatal(err)
	}

	feedback, err := store.TemporalMerge(ctx, storage.TemporalMergeRequest{
		Target: "companies",
		Source: []map[string]any{
			{"founding_id": "A", "valid_from": "2024-01-01", "valid_until": "2024-06-01", "name": "Acme"},
			{"founding_id": "A", "valid_from": "2024-06-01", "name": "Acme Corp"},
		},
		IDColumns:        []string{"id"},
		Mode:             types.MergeEntityUpsert,
		FoundingIDColumn: "founding_id",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(feedback) != 2 {
		t.Fatalf("feedback = %+v", feedback)
	}
	for _, f := range feedback {
		if f.Status != types.FeedbackApplied {
			t.Errorf("row %d: %s", f.SourceOrdinal, f.Status)
		}
		if f.AssignedEntityID == nil {
			t.Errorf("row %d: missing assigned id", f.SourceOrdinal)
		}
	}
	if feedback[0].AssignedEntityID != feedback[1].AssignedEntityID {
		t.Errorf("founding group must share one id: %v vs %v",
			feedback[0].AssignedEntityID, feedback[1].AssignedEntityID)
	}

	var distinct int
	if err := store.conn.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT id) FROM companies`).Scan(&distinct); err != nil {
		t.Fatal(err)
	}
	if distinct != 1 {
		t.Errorf("want one entity, got %d", distinct)
	}
	if n := countRows(t, store, "companies"); n != 2 {
		t.Errorf("want two timeline rows, got %d", n)
	}
}

// Property 5: replaying the same upsert after its fix-point changes nothing.
func TestMergeUpsertIdempotent(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	setupPrices(t, store)

	req := storage.TemporalMergeRequest{
		Target: "prices",
		Source: []map[string]any{
			{"id": 1, "valid_from": "2024-01-01", "valid_until": "2025-01-01", "price": 42, "note": "n"},
		},
		IDColumns: []string{"id"},
		Mode:      types.MergeEntityUpsert,
	}
	if _, err := store.TemporalMerge(ctx, req); err != nil {
		t.Fatal(err)
	}
	first := readPrices(t, store)

	feedback, err := store.TemporalMerge(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if feedback[0].Status != types.FeedbackSkipped {
		t.Errorf("replay feedback = %s, want SKIPPED", feedback[0].Status)
	}
	second := readPrices(t, store)
	if len(first) != len(second) || first[0] != second[0] {
		t.Errorf("replay changed the target: %+v vs %+v", first, second)
	}
}

// The merge's reshaping never trips the synchronous exclusion triggers: it
// shrinks before it grows.
func TestMergeReshapeAgainstExclusion(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	setupPrices(t, store)

	if err := store.InsertRows(ctx, "prices", []map[string]any{
		{"id": 1, "valid_from": "2024-01-01", "valid_until": "2024-06-01", "price": 1, "note": nil},
		{"id": 1, "valid_from": "2024-06-01", "valid_until": "2025-01-01", "price": 2, "note": nil},
	}); err != nil {
		t.Fatal(err)
	}

	// Overwrite the middle: both rows reshape, no transient overlap.
	_, err := store.TemporalMerge(ctx, storage.TemporalMergeRequest{
		Target: "prices",
		Source: []map[string]any{
			{"id": 1, "valid_from": "2024-04-01", "valid_until": "2024-08-01", "price": 3},
		},
		IDColumns: []string{"id"},
		Mode:      types.ReplaceForPortionOf,
	})
	if err != nil {
		t.Fatal(err)
	}

	got := readPrices(t, store)
	if len(got) != 3 {
		t.Fatalf("want three slices, got %+v", got)
	}
	if got[0].until != "2024-04-01" || got[1].from != "2024-04-01" ||
		got[1].until != "2024-08-01" || got[2].from != "2024-08-01" {
		t.Errorf("slices misaligned: %+v", got)
	}
	if got[1].price != int64(3) {
		t.Errorf("middle price = %v", got[1].price)
	}

	// Post-merge minimal representation: validate finds nothing.
	violations, err := store.Validate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 0 {
		t.Errorf("validate after merge: %+v", violations)
	}
}

func TestMergeFromStagingTableWithBackfill(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// id is a plain column filled from the rowid by a trigger: both timeline
	// rows of the entity share one id, which an INTEGER PRIMARY KEY cannot.
	mustExec(t, store, `CREATE TABLE companies (id INTEGER, valid_from TEXT, valid_until TEXT, name TEXT)`)
	mustExec(t, store, `CREATE TRIGGER companies_id AFTER INSERT ON companies WHEN NEW.id IS NULL
		BEGIN UPDATE companies SET id = NEW.rowid WHERE rowid = NEW.rowid; END`)
	if _, err := store.AddEra(ctx, "companies", "valid_from", "valid_until", catalog.DefaultEraOptions()); err != nil {
		t.Fatal(err)
	}
	mustExec(t, store, `CREATE TABLE staging (row_ref TEXT, founding_id TEXT, id INTEGER, valid_from TEXT, valid_until TEXT, name TEXT)`)
	mustExec(t, store, `INSERT INTO staging VALUES ('r1', 'B', NULL, '2024-01-01', '2024-06-01', 'Globex')`)
	mustExec(t, store, `INSERT INTO staging VALUES ('r2', 'B', NULL, '2024-06-01', 'infinity', 'Globex Intl')`)

	feedback, err := store.TemporalMerge(ctx, storage.TemporalMergeRequest{
		Target:                      "companies",
		SourceTable:                 "staging",
		IDColumns:                   []string{"id"},
		Mode:                        types.MergeEntityUpsert,
		FoundingIDColumn:            "founding_id",
		SourceRowIDColumn:           "row_ref",
		UpdateSourceWithAssignedIDs: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(feedback) != 2 {
		t.Fatalf("feedback = %+v", feedback)
	}
	if feedback[0].SourceRowID != "r1" {
		t.Errorf("source row id = %v", feedback[0].SourceRowID)
	}

	var backfilled int
	if err := store.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM staging WHERE id IS NOT NULL`).Scan(&backfilled); err != nil {
		t.Fatal(err)
	}
	if backfilled != 2 {
		t.Errorf("assigned ids must be back-filled into staging, got %d", backfilled)
	}
}

// A merge whose result violates a foreign key rolls back entirely.
func TestMergeAbortsOnForeignKeyViolation(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	setupParentChild(t, store)

	if err := store.InsertRows(ctx, "assignments", []map[string]any{
		{"project_id": 1, "valid_from": "2024-03-01", "valid_until": "2024-10-01", "who": "a"},
	}); err != nil {
		t.Fatal(err)
	}

	// Carve the middle out of the parent timeline: children lose coverage.
	_, err := store.TemporalMerge(ctx, storage.TemporalMergeRequest{
		Target: "projects",
		Source: []map[string]any{
			{"id": 1, "valid_from": "2024-05-01", "valid_until": "2024-08-01"},
		},
		IDColumns: []string{"id"},
		Mode:      types.DeleteForPortionOf,
	})
	if err == nil {
		t.Fatal("merge breaking coverage must abort")
	}
	if n := countRows(t, store, "projects"); n != 2 {
		t.Errorf("aborted merge must leave the parent untouched, rows = %d", n)
	}
}
