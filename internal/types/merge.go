package types

import (
	"github.com/untoldecay/EraDB/internal/interval"
)

// MergeMode selects the business semantics of a temporal merge.
type MergeMode string

const (
	MergeEntityUpsert   MergeMode = "MERGE_ENTITY_UPSERT"
	MergeEntityPatch    MergeMode = "MERGE_ENTITY_PATCH"
	MergeEntityReplace  MergeMode = "MERGE_ENTITY_REPLACE"
	UpdateForPortionOf  MergeMode = "UPDATE_FOR_PORTION_OF"
	PatchForPortionOf   MergeMode = "PATCH_FOR_PORTION_OF"
	ReplaceForPortionOf MergeMode = "REPLACE_FOR_PORTION_OF"
	DeleteForPortionOf  MergeMode = "DELETE_FOR_PORTION_OF"
	InsertNewEntities   MergeMode = "INSERT_NEW_ENTITIES"
)

// IsValid reports whether m is a recognized merge mode.
func (m MergeMode) IsValid() bool {
	switch m {
	case MergeEntityUpsert, MergeEntityPatch, MergeEntityReplace,
		UpdateForPortionOf, PatchForPortionOf, ReplaceForPortionOf,
		DeleteForPortionOf, InsertNewEntities:
		return true
	}
	return false
}

// ForPortionOf reports whether the mode is a surgical time-slice mode that
// skips entities absent from the target.
func (m MergeMode) ForPortionOf() bool {
	switch m {
	case UpdateForPortionOf, PatchForPortionOf, ReplaceForPortionOf, DeleteForPortionOf:
		return true
	}
	return false
}

// Patches reports whether NULL source columns keep the target value.
func (m MergeMode) Patches() bool {
	switch m {
	case MergeEntityUpsert, MergeEntityPatch, UpdateForPortionOf, PatchForPortionOf:
		return true
	}
	return false
}

// DeleteMode controls whether target timeline portions absent from the
// source batch are removed. Independent axis from MergeMode.
type DeleteMode string

const (
	DeleteNone                       DeleteMode = "NONE"
	DeleteMissingTimeline            DeleteMode = "DELETE_MISSING_TIMELINE"
	DeleteMissingEntities            DeleteMode = "DELETE_MISSING_ENTITIES"
	DeleteMissingTimelineAndEntities DeleteMode = "DELETE_MISSING_TIMELINE_AND_ENTITIES"
)

// IsValid reports whether d is a recognized delete mode.
func (d DeleteMode) IsValid() bool {
	switch d {
	case DeleteNone, DeleteMissingTimeline, DeleteMissingEntities, DeleteMissingTimelineAndEntities:
		return true
	}
	return false
}

// DropsMissingTimeline reports whether uncovered portions of a sourced
// entity's timeline are removed.
func (d DeleteMode) DropsMissingTimeline() bool {
	return d == DeleteMissingTimeline || d == DeleteMissingTimelineAndEntities
}

// DropsMissingEntities reports whether entities absent from the source batch
// are removed entirely.
func (d DeleteMode) DropsMissingEntities() bool {
	return d == DeleteMissingEntities || d == DeleteMissingTimelineAndEntities
}

// PlanOp is the DML verb of a plan row.
type PlanOp string

const (
	OpDelete PlanOp = "DELETE"
	OpUpdate PlanOp = "UPDATE"
	OpInsert PlanOp = "INSERT"
)

// UpdateEffect classifies an UPDATE by its effect on the row's range. The
// executor applies NONE, then SHRINK, then MOVE, then GROW so that no two
// live rows of an entity ever overlap mid-plan.
type UpdateEffect string

const (
	EffectNone   UpdateEffect = "NONE"
	EffectShrink UpdateEffect = "SHRINK"
	EffectMove   UpdateEffect = "MOVE"
	EffectGrow   UpdateEffect = "GROW"
)

// Rank orders effects for plan sequencing.
func (e UpdateEffect) Rank() int {
	switch e {
	case EffectNone:
		return 0
	case EffectShrink:
		return 1
	case EffectMove:
		return 2
	case EffectGrow:
		return 3
	}
	return 4
}

// PlanRow is one ordered operation of a merge plan. Plans exist only for the
// duration of one merge call and are never persisted.
type PlanRow struct {
	Seq int    `json:"seq"`
	Op  PlanOp `json:"op"`

	// TargetRowID addresses the physical row for UPDATE/DELETE.
	TargetRowID int64 `json:"target_row_id,omitempty"`

	Range   interval.Range `json:"range"`
	Payload map[string]any `json:"payload,omitempty"`
	Effect  UpdateEffect   `json:"effect,omitempty"`

	// FoundingGroup, when non-empty on an INSERT, names the batch-local
	// group whose surrogate identifier is assigned at execute time.
	FoundingGroup string `json:"founding_group,omitempty"`

	// SourceOrdinals are the source rows responsible for this operation.
	SourceOrdinals []int `json:"source_ordinals,omitempty"`
}

// FeedbackStatus is the per-source-row outcome of a merge.
type FeedbackStatus string

const (
	FeedbackApplied        FeedbackStatus = "APPLIED"
	FeedbackSkipped        FeedbackStatus = "SKIPPED"
	FeedbackTargetNotFound FeedbackStatus = "TARGET_NOT_FOUND"
	FeedbackError          FeedbackStatus = "ERROR"
)

// Feedback reports what happened to one source row.
type Feedback struct {
	SourceOrdinal int            `json:"source_ordinal"`
	SourceRowID   any            `json:"source_row_id,omitempty"`
	Status        FeedbackStatus `json:"status"`
	// AssignedEntityID back-fills the surrogate key of a newly created
	// entity.
	AssignedEntityID any    `json:"assigned_entity_id,omitempty"`
	Message          string `json:"message,omitempty"`
}
