package types

import "testing"

func TestMergeModeClassification(t *testing.T) {
	for _, m := range []MergeMode{
		MergeEntityUpsert, MergeEntityPatch, MergeEntityReplace,
		UpdateForPortionOf, PatchForPortionOf, ReplaceForPortionOf,
		DeleteForPortionOf, InsertNewEntities,
	} {
		if !m.IsValid() {
			t.Errorf("%s must be valid", m)
		}
	}
	if MergeMode("MERGE_EVERYTHING").IsValid() {
		t.Error("unknown mode must be invalid")
	}

	if !UpdateForPortionOf.ForPortionOf() || MergeEntityUpsert.ForPortionOf() {
		t.Error("ForPortionOf classification")
	}
	if !MergeEntityPatch.Patches() || MergeEntityReplace.Patches() {
		t.Error("Patches classification")
	}
	if ReplaceForPortionOf.Patches() {
		t.Error("replace portion mode must not patch")
	}
}

func TestDeleteModeAxes(t *testing.T) {
	if DeleteNone.DropsMissingTimeline() || DeleteNone.DropsMissingEntities() {
		t.Error("NONE drops nothing")
	}
	if !DeleteMissingTimeline.DropsMissingTimeline() || DeleteMissingTimeline.DropsMissingEntities() {
		t.Error("DELETE_MISSING_TIMELINE axis")
	}
	if DeleteMissingEntities.DropsMissingTimeline() || !DeleteMissingEntities.DropsMissingEntities() {
		t.Error("DELETE_MISSING_ENTITIES axis")
	}
	if !DeleteMissingTimelineAndEntities.DropsMissingTimeline() ||
		!DeleteMissingTimelineAndEntities.DropsMissingEntities() {
		t.Error("combined axis")
	}
}

func TestUpdateEffectRank(t *testing.T) {
	order := []UpdateEffect{EffectNone, EffectShrink, EffectMove, EffectGrow}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("%s must rank before %s", order[i-1], order[i])
		}
	}
}

func TestEnumValidity(t *testing.T) {
	if !MatchSimple.IsValid() || !MatchFull.IsValid() || !MatchPartial.IsValid() {
		t.Error("match modes")
	}
	if MatchMode("FUZZY").IsValid() {
		t.Error("unknown match mode")
	}
	if !ActionNoAction.IsValid() || !ActionRestrict.IsValid() {
		t.Error("actions")
	}
	if FKAction("CASCADE").IsValid() {
		t.Error("CASCADE is never a valid stored action")
	}
	if !DropRestrict.IsValid() || !DropCascade.IsValid() || DropBehavior("MAYBE").IsValid() {
		t.Error("drop behaviors")
	}
}
