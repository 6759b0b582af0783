package temporal

import (
	"errors"
	"testing"

	"github.com/untoldecay/EraDB/internal/interval"
	"github.com/untoldecay/EraDB/internal/types"
)

func date(s string) interval.Value { return interval.Text(s) }

func dr(t *testing.T, from, until string) interval.Range {
	t.Helper()
	r, err := interval.NewRange(date(from), date(until))
	if err != nil {
		t.Fatalf("bad range [%s, %s): %v", from, until, err)
	}
	return r
}

func targetRow(t *testing.T, rowid int64, from, until string, payload map[string]any) TargetRow {
	t.Helper()
	return TargetRow{RowID: rowid, Range: dr(t, from, until), Payload: payload}
}

func sourceRow(t *testing.T, ordinal int, from, until string, payload map[string]any) SourceRow {
	t.Helper()
	return SourceRow{Ordinal: ordinal, Range: dr(t, from, until), Payload: payload}
}

func baseRequest(mode types.MergeMode) PlanRequest {
	return PlanRequest{
		Mode:      mode,
		IDColumns: []string{"id"},
		Columns:   []string{"id", "price", "note"},
	}
}

func countOps(plan []types.PlanRow) (deletes, updates, inserts int) {
	for _, r := range plan {
		switch r.Op {
		case types.OpDelete:
			deletes++
		case types.OpUpdate:
			updates++
		case types.OpInsert:
			inserts++
		}
	}
	return
}

func TestPlanRejectsBadArguments(t *testing.T) {
	req := baseRequest("NOT_A_MODE")
	if _, _, err := Plan(req); err == nil {
		t.Fatal("unknown mode must fail")
	}

	req = baseRequest(types.MergeEntityUpsert)
	req.IDColumns = nil
	if _, _, err := Plan(req); err == nil {
		t.Fatal("missing id columns must fail")
	}

	req = baseRequest(types.MergeEntityUpsert)
	req.IDColumns = []string{"nope"}
	if _, _, err := Plan(req); !errors.Is(err, types.ErrArgument) {
		t.Fatalf("nonexistent id column must hard-fail, got %v", err)
	}
}

func TestPlanInsertNewEntityTimeline(t *testing.T) {
	req := baseRequest(types.MergeEntityUpsert)
	req.Source = []SourceRow{
		sourceRow(t, 0, "2024-01-01", "2025-01-01", map[string]any{"id": int64(1), "price": int64(10)}),
	}
	plan, fb, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	d, u, i := countOps(plan)
	if d != 0 || u != 0 || i != 1 {
		t.Fatalf("want 1 insert, got %d/%d/%d", d, u, i)
	}
	if fb[0].Status != types.FeedbackApplied {
		t.Errorf("feedback = %s, want APPLIED", fb[0].Status)
	}
	if !interval.Equal(plan[0].Range.From, date("2024-01-01")) {
		t.Errorf("insert range %s", plan[0].Range)
	}
}

// S4: patching a slice where only an ephemeral column differs must leave a
// single coalesced row with the patched ephemeral value.
func TestPlanPatchCoalescesModuloEphemeral(t *testing.T) {
	req := baseRequest(types.MergeEntityPatch)
	req.EphemeralColumns = []string{"note"}
	req.Target = []TargetRow{
		targetRow(t, 1, "2024-01-01", "2025-01-01", map[string]any{"id": int64(1), "price": int64(10), "note": "x"}),
	}
	req.Source = []SourceRow{
		sourceRow(t, 0, "2024-06-01", "2024-09-01", map[string]any{"id": int64(1), "price": nil, "note": "y"}),
	}
	plan, fb, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	d, u, i := countOps(plan)
	if d != 0 || u != 1 || i != 0 {
		t.Fatalf("want a single update, got %d/%d/%d: %+v", d, u, i, plan)
	}
	up := plan[0]
	if up.Effect != types.EffectNone {
		t.Errorf("payload-only update must be EffectNone, got %s", up.Effect)
	}
	if up.Payload["price"] != int64(10) {
		t.Errorf("NULL source must keep target price, got %v", up.Payload["price"])
	}
	if up.Payload["note"] != "y" {
		t.Errorf("source ephemeral must win, got %v", up.Payload["note"])
	}
	if !interval.Equal(up.Range.From, date("2024-01-01")) || !interval.Equal(up.Range.Until, date("2025-01-01")) {
		t.Errorf("coalesced range %s, want whole year", up.Range)
	}
	if fb[0].Status != types.FeedbackApplied {
		t.Errorf("feedback = %s", fb[0].Status)
	}
}

// Idempotence: replaying a merge whose changes are already in place is a
// no-op.
func TestPlanUpsertIdempotent(t *testing.T) {
	req := baseRequest(types.MergeEntityUpsert)
	req.Target = []TargetRow{
		targetRow(t, 1, "2024-01-01", "2025-01-01", map[string]any{"id": int64(1), "price": int64(10), "note": "y"}),
	}
	req.Source = []SourceRow{
		sourceRow(t, 0, "2024-06-01", "2024-09-01", map[string]any{"id": int64(1), "price": int64(10), "note": "y"}),
	}
	plan, fb, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 0 {
		t.Fatalf("fix-point replay must emit no operations, got %+v", plan)
	}
	if fb[0].Status != types.FeedbackSkipped {
		t.Errorf("feedback = %s, want SKIPPED", fb[0].Status)
	}
}

// A sequence of portion updates that partitions the timeline without
// changing payloads is a no-op on the coalesced target.
func TestPlanPortionPartitionNoop(t *testing.T) {
	payload := map[string]any{"id": int64(1), "price": int64(10), "note": "x"}
	req := baseRequest(types.UpdateForPortionOf)
	req.Target = []TargetRow{targetRow(t, 1, "2024-01-01", "2025-01-01", payload)}
	req.Source = []SourceRow{
		sourceRow(t, 0, "2024-01-01", "2024-05-01", map[string]any{"id": int64(1)}),
		sourceRow(t, 1, "2024-05-01", "2024-09-01", map[string]any{"id": int64(1)}),
		sourceRow(t, 2, "2024-09-01", "2025-01-01", map[string]any{"id": int64(1)}),
	}
	plan, _, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 0 {
		t.Fatalf("payload-preserving partition must be a no-op, got %+v", plan)
	}
}

// S5: DELETE_FOR_PORTION_OF carves the slice out, preserving payload on
// both sides.
func TestPlanDeleteForPortionOfCarvesOut(t *testing.T) {
	req := baseRequest(types.DeleteForPortionOf)
	req.Target = []TargetRow{
		targetRow(t, 1, "2024-01-01", "2025-01-01", map[string]any{"id": int64(1), "price": int64(10), "note": "x"}),
	}
	req.Source = []SourceRow{
		sourceRow(t, 0, "2024-06-01", "2024-09-01", map[string]any{"id": int64(1)}),
	}
	plan, fb, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	d, u, i := countOps(plan)
	if d != 0 || u != 1 || i != 1 {
		t.Fatalf("want shrink+insert, got %d/%d/%d: %+v", d, u, i, plan)
	}

	// Ordering: the shrink must precede the insert.
	if plan[0].Op != types.OpUpdate || plan[0].Effect != types.EffectShrink {
		t.Fatalf("first op must be a SHRINK update, got %s/%s", plan[0].Op, plan[0].Effect)
	}
	if !interval.Equal(plan[0].Range.Until, date("2024-06-01")) {
		t.Errorf("left fragment %s", plan[0].Range)
	}
	if plan[1].Op != types.OpInsert ||
		!interval.Equal(plan[1].Range.From, date("2024-09-01")) ||
		!interval.Equal(plan[1].Range.Until, date("2025-01-01")) {
		t.Errorf("right fragment %+v", plan[1])
	}
	if plan[1].Payload["price"] != int64(10) || plan[1].Payload["note"] != "x" {
		t.Errorf("carve-out must preserve payload, got %v", plan[1].Payload)
	}
	if fb[0].Status != types.FeedbackApplied {
		t.Errorf("feedback = %s", fb[0].Status)
	}
}

func TestPlanReplaceOverwritesWithNulls(t *testing.T) {
	req := baseRequest(types.MergeEntityReplace)
	req.Target = []TargetRow{
		targetRow(t, 1, "2024-01-01", "2025-01-01", map[string]any{"id": int64(1), "price": int64(10), "note": "x"}),
	}
	req.Source = []SourceRow{
		sourceRow(t, 0, "2024-01-01", "2025-01-01", map[string]any{"id": int64(1), "price": nil, "note": "z"}),
	}
	plan, _, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	d, u, i := countOps(plan)
	if d != 0 || u != 1 || i != 0 {
		t.Fatalf("want one update, got %d/%d/%d", d, u, i)
	}
	if plan[0].Payload["price"] != nil {
		t.Errorf("replace must overwrite with NULL, got %v", plan[0].Payload["price"])
	}
}

func TestPlanPortionModesSkipAbsentEntities(t *testing.T) {
	for _, mode := range []types.MergeMode{
		types.UpdateForPortionOf, types.PatchForPortionOf,
		types.ReplaceForPortionOf, types.DeleteForPortionOf,
	} {
		req := baseRequest(mode)
		req.Source = []SourceRow{
			sourceRow(t, 0, "2024-01-01", "2025-01-01", map[string]any{"id": int64(7), "price": int64(1)}),
		}
		plan, fb, err := Plan(req)
		if err != nil {
			t.Fatal(err)
		}
		if len(plan) != 0 {
			t.Errorf("%s: absent entity must produce no plan", mode)
		}
		if fb[0].Status != types.FeedbackTargetNotFound {
			t.Errorf("%s: feedback = %s, want TARGET_NOT_FOUND", mode, fb[0].Status)
		}
	}
}

func TestPlanInsertNewEntitiesSkipsExisting(t *testing.T) {
	req := baseRequest(types.InsertNewEntities)
	req.Target = []TargetRow{
		targetRow(t, 1, "2024-01-01", "2025-01-01", map[string]any{"id": int64(1), "price": int64(10), "note": nil}),
	}
	req.Source = []SourceRow{
		sourceRow(t, 0, "2024-01-01", "2025-01-01", map[string]any{"id": int64(1), "price": int64(99)}),
		sourceRow(t, 1, "2024-01-01", "2025-01-01", map[string]any{"id": int64(2), "price": int64(5)}),
	}
	plan, fb, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	d, u, i := countOps(plan)
	if d != 0 || u != 0 || i != 1 {
		t.Fatalf("want only the new entity inserted, got %d/%d/%d", d, u, i)
	}
	if fb[0].Status != types.FeedbackSkipped {
		t.Errorf("existing entity feedback = %s, want SKIPPED", fb[0].Status)
	}
	if fb[1].Status != types.FeedbackApplied {
		t.Errorf("new entity feedback = %s, want APPLIED", fb[1].Status)
	}
}

func TestPlanDeleteModes(t *testing.T) {
	target := []TargetRow{
		targetRow(t, 1, "2024-01-01", "2025-01-01", map[string]any{"id": int64(1), "price": int64(10), "note": nil}),
		targetRow(t, 2, "2024-01-01", "2025-01-01", map[string]any{"id": int64(2), "price": int64(20), "note": nil}),
	}
	source := []SourceRow{
		sourceRow(t, 0, "2024-01-01", "2024-06-01", map[string]any{"id": int64(1), "price": int64(10)}),
	}

	// DELETE_MISSING_TIMELINE trims entity 1 to the sourced slice but
	// leaves entity 2 alone.
	req := baseRequest(types.MergeEntityUpsert)
	req.Target = target
	req.Source = source
	req.DeleteMode = types.DeleteMissingTimeline
	plan, _, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range plan {
		if r.Op == types.OpDelete && r.TargetRowID == 2 {
			t.Error("entity 2 must survive DELETE_MISSING_TIMELINE")
		}
	}
	foundShrink := false
	for _, r := range plan {
		if r.Op == types.OpUpdate && r.TargetRowID == 1 && r.Effect == types.EffectShrink {
			foundShrink = true
			if !interval.Equal(r.Range.Until, date("2024-06-01")) {
				t.Errorf("trimmed range %s", r.Range)
			}
		}
	}
	if !foundShrink {
		t.Errorf("entity 1 must shrink to the sourced slice: %+v", plan)
	}

	// DELETE_MISSING_ENTITIES removes entity 2 entirely.
	req.DeleteMode = types.DeleteMissingEntities
	plan, _, err = Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	deleted2 := false
	for _, r := range plan {
		if r.Op == types.OpDelete && r.TargetRowID == 2 {
			deleted2 = true
		}
	}
	if !deleted2 {
		t.Errorf("entity 2 must be deleted under DELETE_MISSING_ENTITIES: %+v", plan)
	}
}

// S6: rows sharing a founding id become one new entity; the inserts carry
// the founding group for executor-side id assignment.
func TestPlanFoundingGroups(t *testing.T) {
	req := baseRequest(types.MergeEntityUpsert)
	req.Columns = []string{"id", "name", "note"}
	req.FoundingIDColumn = "founding_id"
	req.Source = []SourceRow{
		{Ordinal: 0, FoundingID: "A", Range: dr(t, "2024-01-01", "2024-06-01"),
			Payload: map[string]any{"name": "Acme"}},
		{Ordinal: 1, FoundingID: "A",
			Range: interval.Range{From: date("2024-06-01"), Until: interval.Infinity(interval.KindText)},
			Payload: map[string]any{"name": "Acme Corp"}},
	}
	plan, fb, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	d, u, i := countOps(plan)
	if d != 0 || u != 0 || i != 2 {
		t.Fatalf("want two inserts, got %d/%d/%d", d, u, i)
	}
	for _, r := range plan {
		if r.FoundingGroup != "A" {
			t.Errorf("insert missing founding group: %+v", r)
		}
	}
	for _, f := range fb {
		if f.Status != types.FeedbackApplied {
			t.Errorf("feedback %d = %s", f.SourceOrdinal, f.Status)
		}
	}
}

func TestPlanUnknownSourceColumn(t *testing.T) {
	req := baseRequest(types.MergeEntityUpsert)
	req.Source = []SourceRow{
		sourceRow(t, 0, "2024-01-01", "2025-01-01", map[string]any{"id": int64(1), "bogus": int64(1)}),
	}
	plan, fb, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 0 {
		t.Errorf("bad row must not plan: %+v", plan)
	}
	if fb[0].Status != types.FeedbackError {
		t.Errorf("feedback = %s, want ERROR", fb[0].Status)
	}
}

func TestPlanEmptySourceRangeSkipped(t *testing.T) {
	req := baseRequest(types.MergeEntityUpsert)
	req.Source = []SourceRow{
		sourceRow(t, 0, "2024-01-01", "2024-01-01", map[string]any{"id": int64(1), "price": int64(1)}),
	}
	plan, fb, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 0 || fb[0].Status != types.FeedbackSkipped {
		t.Errorf("empty range must be skipped, got %+v / %s", plan, fb[0].Status)
	}
}

// Phase E: within one plan, deletes come first, then updates ordered
// NONE < SHRINK < MOVE < GROW, then inserts.
func TestPlanSequenceOrdering(t *testing.T) {
	req := baseRequest(types.MergeEntityReplace)
	req.DeleteMode = types.DeleteMissingEntities
	req.Target = []TargetRow{
		targetRow(t, 1, "2024-01-01", "2024-06-01", map[string]any{"id": int64(1), "price": int64(1), "note": nil}),
		targetRow(t, 9, "2020-01-01", "2021-01-01", map[string]any{"id": int64(9), "price": int64(9), "note": nil}),
	}
	req.Source = []SourceRow{
		sourceRow(t, 0, "2024-01-01", "2025-01-01", map[string]any{"id": int64(1), "price": int64(2)}),
		sourceRow(t, 1, "2026-01-01", "2027-01-01", map[string]any{"id": int64(5), "price": int64(5)}),
	}
	plan, _, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	lastRank := -1
	rank := func(r types.PlanRow) int {
		switch r.Op {
		case types.OpDelete:
			return 0
		case types.OpUpdate:
			return 1 + r.Effect.Rank()
		default:
			return 10
		}
	}
	for idx, r := range plan {
		if r.Seq != idx+1 {
			t.Errorf("plan_seq not dense: %+v", r)
		}
		if rank(r) < lastRank {
			t.Errorf("ordering violated at seq %d: %+v", r.Seq, plan)
		}
		lastRank = rank(r)
	}
}

// A parent split expressed as a replace of one row by two contiguous rows
// with equal payloads coalesces back to one row, so nothing changes.
func TestPlanSplitWithEqualPayloadCoalesces(t *testing.T) {
	req := baseRequest(types.UpdateForPortionOf)
	req.Target = []TargetRow{
		targetRow(t, 1, "2024-01-01", "2025-01-01", map[string]any{"id": int64(1), "price": int64(10), "note": nil}),
	}
	req.Source = []SourceRow{
		sourceRow(t, 0, "2024-01-01", "2024-07-01", map[string]any{"id": int64(1), "price": int64(10)}),
		sourceRow(t, 1, "2024-07-01", "2025-01-01", map[string]any{"id": int64(1), "price": int64(10)}),
	}
	plan, _, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 0 {
		t.Fatalf("equal-payload split must coalesce to a no-op, got %+v", plan)
	}
}
