// Package temporal implements the set-based temporal merge: a pure planner
// that reshapes an entity timeline from a batch of source rows, and an
// executor that applies the resulting plan under deferred foreign-key
// checking.
package temporal

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/untoldecay/EraDB/internal/interval"
	"github.com/untoldecay/EraDB/internal/types"
)

// TargetRow is one existing row of the target table, snapshotted before
// planning.
type TargetRow struct {
	RowID   int64
	Range   interval.Range
	Payload map[string]any // every non-era column, NULL as nil
}

// SourceRow is one row of the source batch. Payload columns absent from the
// map are "not provided" (distinct from present-and-NULL).
type SourceRow struct {
	Ordinal    int
	RowID      any    // stable identity from SourceRowIDColumn, nil when unset
	FoundingID string // batch-local grouping tag for new entities
	Range      interval.Range
	Payload    map[string]any
}

// PlanRequest carries everything the planner needs. It is a pure function
// of this input.
type PlanRequest struct {
	Target []TargetRow
	Source []SourceRow

	Mode       types.MergeMode
	DeleteMode types.DeleteMode

	// IDColumns identify an entity; Columns is the full payload column set
	// of the target table (era columns excluded).
	IDColumns        []string
	Columns          []string
	EphemeralColumns []string

	FoundingIDColumn  string
	SourceRowIDColumn string
}

// segment is one atomic slice of an entity's timeline after payload
// resolution.
type segment struct {
	r          interval.Range
	payload    map[string]any
	fromSource bool  // a source row contributed to this segment
	ordinals   []int // contributing source ordinals
}

// entityPlan groups the rows of one entity.
type entityPlan struct {
	key      string
	founding string // non-empty for not-yet-created entities
	target   []TargetRow
	source   []SourceRow
}

// Plan computes the ordered DML plan reshaping Target according to Source
// under the given mode. Deterministic: ties in segmentation break by
// breakpoint value; in emission, rows of the same operation and effect are
// ordered by range start, and rows with equal starts keep the order in which
// their entities first appear (target rows, then source rows). The entity key
// itself is not compared.
func Plan(req PlanRequest) ([]types.PlanRow, []types.Feedback, error) {
	if !req.Mode.IsValid() {
		return nil, nil, fmt.Errorf("%w: unknown merge mode %q", types.ErrArgument, req.Mode)
	}
	if req.DeleteMode == "" {
		req.DeleteMode = types.DeleteNone
	}
	if !req.DeleteMode.IsValid() {
		return nil, nil, fmt.Errorf("%w: unknown delete mode %q", types.ErrArgument, req.DeleteMode)
	}
	if len(req.IDColumns) == 0 {
		return nil, nil, fmt.Errorf("%w: id_columns are required", types.ErrArgument)
	}
	known := make(map[string]bool, len(req.Columns))
	for _, c := range req.Columns {
		known[c] = true
	}
	for _, c := range req.IDColumns {
		if !known[c] {
			return nil, nil, fmt.Errorf("%w: id column %q does not exist in the target table", types.ErrArgument, c)
		}
	}

	p := &planner{req: req, known: known, ephemeral: make(map[string]bool)}
	for _, c := range req.EphemeralColumns {
		p.ephemeral[c] = true
	}
	return p.run()
}

type planner struct {
	req       PlanRequest
	known     map[string]bool
	ephemeral map[string]bool

	feedback map[int]*types.Feedback
	rows     []types.PlanRow
}

func (p *planner) run() ([]types.PlanRow, []types.Feedback, error) {
	p.feedback = make(map[int]*types.Feedback)
	for _, s := range p.req.Source {
		p.feedback[s.Ordinal] = &types.Feedback{
			SourceOrdinal: s.Ordinal,
			SourceRowID:   s.RowID,
			Status:        types.FeedbackSkipped,
		}
	}

	entities, err := p.groupEntities()
	if err != nil {
		return nil, nil, err
	}

	for _, ent := range entities {
		p.planEntity(ent)
	}

	p.sequence()
	return p.rows, p.feedbackList(), nil
}

// groupEntities splits target and source rows by entity identity. Source
// rows with NULL id columns form founding groups (new entities); under a
// portion mode they are reported TARGET_NOT_FOUND instead.
func (p *planner) groupEntities() ([]*entityPlan, error) {
	byKey := make(map[string]*entityPlan)
	var order []string

	get := func(key, founding string) *entityPlan {
		if e, ok := byKey[key]; ok {
			return e
		}
		e := &entityPlan{key: key, founding: founding}
		byKey[key] = e
		order = append(order, key)
		return e
	}

	for _, t := range p.req.Target {
		e := get(entityKey(p.req.IDColumns, t.Payload), "")
		e.target = append(e.target, t)
	}

	for _, s := range p.req.Source {
		fb := p.feedback[s.Ordinal]

		if bad := p.unknownColumns(s); bad != "" {
			fb.Status = types.FeedbackError
			fb.Message = fmt.Sprintf("unrecognized column %s in source row", bad)
			continue
		}
		if s.Range.IsEmpty() {
			fb.Status = types.FeedbackSkipped
			fb.Message = "empty validity range"
			continue
		}
		if !s.Range.Valid() {
			fb.Status = types.FeedbackError
			fb.Message = fmt.Sprintf("invalid validity range %s", s.Range)
			continue
		}

		if p.nullIDs(s) {
			if p.req.Mode.ForPortionOf() {
				fb.Status = types.FeedbackTargetNotFound
				fb.Message = "id columns are NULL"
				continue
			}
			// A new entity: group by founding id when given, otherwise the
			// row stands alone.
			founding := s.FoundingID
			if founding == "" {
				founding = fmt.Sprintf("~row:%d", s.Ordinal)
			}
			e := get("~founding:"+founding, founding)
			e.source = append(e.source, s)
			continue
		}

		key := entityKey(p.req.IDColumns, s.Payload)
		e := get(key, "")
		e.source = append(e.source, s)
	}

	out := make([]*entityPlan, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out, nil
}

func (p *planner) unknownColumns(s SourceRow) string {
	var bad []string
	for c := range s.Payload {
		if !p.known[c] {
			bad = append(bad, c)
		}
	}
	slices.Sort(bad)
	return strings.Join(bad, ", ")
}

func (p *planner) nullIDs(s SourceRow) bool {
	for _, c := range p.req.IDColumns {
		if v, ok := s.Payload[c]; !ok || v == nil {
			return true
		}
	}
	return false
}

// planEntity runs phases A-D for one entity and emits its operations.
func (p *planner) planEntity(e *entityPlan) {
	mode := p.req.Mode

	if len(e.source) == 0 {
		// Entity appears only in the target. Only the delete-missing-
		// entities axis touches it.
		if p.req.DeleteMode.DropsMissingEntities() {
			for _, t := range e.target {
				p.rows = append(p.rows, types.PlanRow{
					Op: types.OpDelete, TargetRowID: t.RowID, Range: t.Range,
				})
			}
		}
		return
	}

	if mode.ForPortionOf() && len(e.target) == 0 {
		for _, s := range e.source {
			fb := p.feedback[s.Ordinal]
			fb.Status = types.FeedbackTargetNotFound
			fb.Message = "no existing timeline for entity"
		}
		return
	}
	if mode == types.InsertNewEntities && len(e.target) > 0 {
		for _, s := range e.source {
			fb := p.feedback[s.Ordinal]
			fb.Status = types.FeedbackSkipped
			fb.Message = "entity already exists"
		}
		return
	}

	segments := p.resolve(e)
	segments = p.coalesce(segments)
	p.diff(e, segments)
}

// resolve is phases A and B: atomic segmentation and payload resolution.
func (p *planner) resolve(e *entityPlan) []segment {
	// Phase A: breakpoints from every relevant endpoint.
	var points []interval.Value
	for _, t := range e.target {
		points = append(points, t.Range.From, t.Range.Until)
	}
	for _, s := range e.source {
		points = append(points, s.Range.From, s.Range.Until)
	}
	slices.SortFunc(points, compareValues)
	points = slices.CompactFunc(points, interval.Equal)

	var segs []segment
	for i := 0; i+1 < len(points); i++ {
		r := interval.Range{From: points[i], Until: points[i+1]}
		if r.IsEmpty() {
			continue
		}
		tRow := containingTarget(e.target, r)
		sRow := containingSource(e.source, r)

		seg, keep := p.resolveSegment(r, tRow, sRow)
		if keep {
			segs = append(segs, seg)
		}
	}
	return segs
}

// resolveSegment is the per-segment mode table of phase B. keep=false marks
// the segment as absent from the final timeline (deleted or never created).
func (p *planner) resolveSegment(r interval.Range, t *TargetRow, s *SourceRow) (segment, bool) {
	mode := p.req.Mode

	switch {
	case t == nil && s == nil:
		return segment{}, false

	case s == nil:
		// Target-only segment.
		if p.req.DeleteMode.DropsMissingTimeline() {
			return segment{}, false
		}
		return segment{r: r, payload: clonePayload(t.Payload)}, true

	case t == nil:
		// Source-only segment.
		if mode.ForPortionOf() {
			// Portion modes only affect the existing timeline.
			return segment{}, false
		}
		payload := p.sourcePayload(s, nil)
		return segment{r: r, payload: payload, fromSource: true, ordinals: []int{s.Ordinal}}, true

	default:
		if mode == types.DeleteForPortionOf {
			return segment{}, false // carved out
		}
		payload := p.sourcePayload(s, t)
		return segment{r: r, payload: payload, fromSource: true, ordinals: []int{s.Ordinal}}, true
	}
}

// sourcePayload computes a segment payload from a source row, overlaying a
// target payload under patch semantics or replacing it otherwise.
func (p *planner) sourcePayload(s *SourceRow, t *TargetRow) map[string]any {
	payload := make(map[string]any, len(p.req.Columns))
	if p.req.Mode.Patches() {
		if t != nil {
			for k, v := range t.Payload {
				payload[k] = v
			}
		} else {
			for _, c := range p.req.Columns {
				payload[c] = nil
			}
		}
		for k, v := range s.Payload {
			if v != nil {
				payload[k] = v
			}
		}
		// Ephemeral columns are carried even when NULL in the source.
		for k := range p.ephemeral {
			if v, ok := s.Payload[k]; ok {
				payload[k] = v
			}
		}
	} else {
		// Replace semantics: the source payload is taken entirely; columns
		// it does not carry become NULL.
		for _, c := range p.req.Columns {
			payload[c] = nil
		}
		for k, v := range s.Payload {
			payload[k] = v
		}
		// Keep entity identity from the target when the source omits it.
		if t != nil {
			for _, c := range p.req.IDColumns {
				if v, ok := s.Payload[c]; !ok || v == nil {
					payload[c] = t.Payload[c]
				}
			}
		}
	}
	return payload
}

// coalesce is phase C: merge adjacent segments whose payloads are equal
// modulo ephemeral columns. Ephemeral values from source-fed segments win
// over target-only ones.
func (p *planner) coalesce(segs []segment) []segment {
	if len(segs) == 0 {
		return segs
	}
	slices.SortFunc(segs, func(a, b segment) int { return compareValues(a.r.From, b.r.From) })

	out := []segment{segs[0]}
	for _, s := range segs[1:] {
		last := &out[len(out)-1]
		if last.r.Contiguous(s.r) && p.payloadEqual(last.payload, s.payload) {
			merged, ok := last.r.Union(s.r)
			if ok {
				// Source-contributed ephemeral values take precedence; among
				// source-fed segments the later one wins.
				if s.fromSource {
					for c := range p.ephemeral {
						if v, ok := s.payload[c]; ok {
							last.payload[c] = v
						}
					}
					last.fromSource = true
				}
				last.r = merged
				last.ordinals = append(last.ordinals, s.ordinals...)
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// payloadEqual compares payloads modulo ephemeral columns.
func (p *planner) payloadEqual(a, b map[string]any) bool {
	for _, c := range p.req.Columns {
		if p.ephemeral[c] {
			continue
		}
		if !valueEqual(a[c], b[c]) {
			return false
		}
	}
	return true
}

// diff is phase D: compare final segments against the entity's target rows
// and emit DELETE/UPDATE/INSERT operations.
func (p *planner) diff(e *entityPlan, finals []segment) {
	targets := slices.Clone(e.target)
	slices.SortFunc(targets, func(a, b TargetRow) int { return compareValues(a.Range.From, b.Range.From) })

	// Assign each final segment to at most one target row: a target with the
	// same start wins; otherwise the earliest-starting unused target that
	// overlaps it. The size of the overlap is not compared.
	assigned := make([]int, len(finals)) // index into targets, -1 = none
	used := make([]bool, len(targets))
	for i := range finals {
		assigned[i] = -1
		for j, t := range targets {
			if used[j] {
				continue
			}
			if interval.Equal(t.Range.From, finals[i].r.From) {
				assigned[i] = j
				used[j] = true
				break
			}
		}
	}
	for i := range finals {
		if assigned[i] != -1 {
			continue
		}
		for j, t := range targets {
			if used[j] {
				continue
			}
			if t.Range.Overlaps(finals[i].r) {
				assigned[i] = j
				used[j] = true
				break
			}
		}
	}

	touched := func(ordinals []int) {
		for _, o := range ordinals {
			fb := p.feedback[o]
			if fb.Status == types.FeedbackSkipped {
				fb.Status = types.FeedbackApplied
				fb.Message = ""
			}
		}
	}

	for i, seg := range finals {
		j := assigned[i]
		if j == -1 {
			row := types.PlanRow{
				Op:             types.OpInsert,
				Range:          seg.r,
				Payload:        seg.payload,
				FoundingGroup:  e.founding,
				SourceOrdinals: slices.Clone(seg.ordinals),
			}
			p.rows = append(p.rows, row)
			touched(seg.ordinals)
			continue
		}
		t := targets[j]
		sameRange := interval.Equal(t.Range.From, seg.r.From) && interval.Equal(t.Range.Until, seg.r.Until)
		samePayload := fullPayloadEqual(p.req.Columns, t.Payload, seg.payload)
		if sameRange && samePayload {
			continue // no-op; the timeline already has this exact slice
		}
		p.rows = append(p.rows, types.PlanRow{
			Op:             types.OpUpdate,
			TargetRowID:    t.RowID,
			Range:          seg.r,
			Payload:        seg.payload,
			Effect:         classifyEffect(t.Range, seg.r),
			SourceOrdinals: slices.Clone(seg.ordinals),
		})
		touched(seg.ordinals)
	}

	for j, t := range targets {
		if used[j] {
			continue
		}
		p.rows = append(p.rows, types.PlanRow{
			Op: types.OpDelete, TargetRowID: t.RowID, Range: t.Range,
		})
	}

	// A carve-out is the applied outcome of the source rows that caused it,
	// whether it deleted, shrank, or split target rows.
	if p.req.Mode == types.DeleteForPortionOf {
		for _, s := range e.source {
			for _, t := range e.target {
				if s.Range.Overlaps(t.Range) {
					touched([]int{s.Ordinal})
				}
			}
		}
	}
}

// classifyEffect orders updates so that ranges only shrink or move before
// they grow: NONE, then SHRINK, then MOVE, then GROW.
func classifyEffect(oldR, newR interval.Range) types.UpdateEffect {
	sameFrom := interval.Equal(oldR.From, newR.From)
	sameUntil := interval.Equal(oldR.Until, newR.Until)
	if sameFrom && sameUntil {
		return types.EffectNone
	}
	if oldR.Contains(newR) {
		return types.EffectShrink
	}
	if newR.Contains(oldR) {
		return types.EffectGrow
	}
	return types.EffectMove
}

// sequence is phase E: DELETEs, then UPDATEs ordered by effect, then
// INSERTs, with a deterministic tie-break, then Seq assignment.
func (p *planner) sequence() {
	opRank := func(r types.PlanRow) int {
		switch r.Op {
		case types.OpDelete:
			return 0
		case types.OpUpdate:
			return 1
		default:
			return 2
		}
	}
	slices.SortStableFunc(p.rows, func(a, b types.PlanRow) int {
		if d := opRank(a) - opRank(b); d != 0 {
			return d
		}
		if a.Op == types.OpUpdate {
			if d := a.Effect.Rank() - b.Effect.Rank(); d != 0 {
				return d
			}
		}
		return compareValues(a.Range.From, b.Range.From)
	})
	for i := range p.rows {
		p.rows[i].Seq = i + 1
	}
}

func (p *planner) feedbackList() []types.Feedback {
	out := make([]types.Feedback, 0, len(p.feedback))
	for _, s := range p.req.Source {
		out = append(out, *p.feedback[s.Ordinal])
	}
	return out
}

// containingTarget finds the target row whose range contains seg. The
// non-overlap invariant guarantees at most one.
func containingTarget(rows []TargetRow, seg interval.Range) *TargetRow {
	for i := range rows {
		if rows[i].Range.Contains(seg) {
			return &rows[i]
		}
	}
	return nil
}

// containingSource finds the source row covering seg; when several overlap,
// the highest ordinal (latest in the batch) wins.
func containingSource(rows []SourceRow, seg interval.Range) *SourceRow {
	var found *SourceRow
	for i := range rows {
		if rows[i].Range.Contains(seg) {
			if found == nil || rows[i].Ordinal > found.Ordinal {
				found = &rows[i]
			}
		}
	}
	return found
}

func compareValues(a, b interval.Value) int {
	c, ok := interval.Compare(a, b)
	if !ok {
		return 0
	}
	return c
}

func clonePayload(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func fullPayloadEqual(columns []string, a, b map[string]any) bool {
	for _, c := range columns {
		if !valueEqual(a[c], b[c]) {
			return false
		}
	}
	return true
}

// valueEqual compares payload values after driver-type normalization.
func valueEqual(a, b any) bool {
	return normalize(a) == normalize(b)
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case float32:
		return normalizeFloat(float64(x))
	case float64:
		// JSON decodes every number as float64; SQLite hands integers back
		// as int64. Fold integral floats so the two spellings compare equal.
		return normalizeFloat(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case string:
		return x
	case []byte:
		return string(x)
	default:
		// Exotic payload values (decoded JSON arrays/objects) are compared
		// by rendering; they are never equal to scalars.
		return fmt.Sprintf("%#v", v)
	}
}

func normalizeFloat(x float64) any {
	if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
		return int64(x)
	}
	return x
}

// entityKey canonicalizes the id column values of a row.
func entityKey(idColumns []string, payload map[string]any) string {
	var b strings.Builder
	for _, c := range idColumns {
		fmt.Fprintf(&b, "%v\x00", normalize(payload[c]))
	}
	return b.String()
}
