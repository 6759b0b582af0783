package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/untoldecay/EraDB/internal/catalog"
	"github.com/untoldecay/EraDB/internal/constraint"
	"github.com/untoldecay/EraDB/internal/interval"
	"github.com/untoldecay/EraDB/internal/storage"
	"github.com/untoldecay/EraDB/internal/temporal"
	"github.com/untoldecay/EraDB/internal/types"
)

// TemporalMerge plans and executes one set-based merge call: snapshot the
// target, plan the reshape, apply the plan with foreign-key checks
// deferred, then validate the final gap-free state at commit. Feedback is
// returned and deposited in the session-scoped era_merge_feedback table.
func (s *SQLiteStorage) TemporalMerge(ctx context.Context, req storage.TemporalMergeRequest) ([]types.Feedback, error) {
	if req.Target == "" {
		return nil, fmt.Errorf("%w: target table is required", types.ErrArgument)
	}
	if !req.Mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown merge mode %q", types.ErrArgument, req.Mode)
	}
	if req.UpdateSourceWithAssignedIDs && (req.SourceTable == "" || req.SourceRowIDColumn == "") {
		return nil, fmt.Errorf("%w: update_source_with_assigned_ids requires a source table and a source row id column",
			types.ErrArgument)
	}

	var feedback []types.Feedback
	err := s.withTx(ctx, func() error {
		era, err := s.resolveEra(ctx, req.Target, req.EraName)
		if err != nil {
			return err
		}

		payloadCols, err := s.payloadColumns(ctx, req.Target, era)
		if err != nil {
			return err
		}
		target, err := s.loadTargetRows(ctx, req.Target, era, payloadCols)
		if err != nil {
			return err
		}
		source, err := s.buildSourceRows(ctx, req, era)
		if err != nil {
			return err
		}

		plan, fb, err := temporal.Plan(temporal.PlanRequest{
			Target:            target,
			Source:            source,
			Mode:              req.Mode,
			DeleteMode:        req.DeleteMode,
			IDColumns:         req.IDColumns,
			Columns:           payloadCols,
			EphemeralColumns:  req.EphemeralColumns,
			FoundingIDColumn:  req.FoundingIDColumn,
			SourceRowIDColumn: req.SourceRowIDColumn,
		})
		if err != nil {
			return err
		}

		childFKs, parentFKs, err := s.fkBundles(ctx, req.Target)
		if err != nil {
			return err
		}
		s.enqueuePlanChecks(plan, target, era, childFKs, parentFKs)

		// The executor shrinks before it grows, so exclusion stays
		// synchronous; only coverage checks wait for the final state.
		s.queue.SetDeferred(true)

		surrogate := ""
		if len(req.IDColumns) == 1 {
			surrogate = req.IDColumns[0]
		}
		feedback, err = temporal.Execute(ctx, s.conn, temporal.ExecRequest{
			Table:             req.Target,
			Era:               era,
			Plan:              plan,
			Feedback:          fb,
			SurrogateIDColumn: surrogate,
		})
		if err != nil {
			return err
		}

		if req.UpdateSourceWithAssignedIDs {
			if err := s.backfillAssignedIDs(ctx, req, feedback); err != nil {
				return err
			}
		}
		return s.depositFeedback(ctx, feedback)
	})
	if err != nil {
		return feedback, err
	}
	return feedback, nil
}

// payloadColumns lists the target's columns minus the era bounds and any
// trigger-synchronized derived columns.
func (s *SQLiteStorage) payloadColumns(ctx context.Context, table string, era *types.Era) ([]string, error) {
	cols, err := catalog.TableColumns(ctx, s.conn, table)
	if err != nil {
		return nil, err
	}
	skip := map[string]bool{
		strings.ToLower(era.FromColumn):  true,
		strings.ToLower(era.UntilColumn): true,
	}
	if era.SyncToColumn != "" {
		skip[strings.ToLower(era.SyncToColumn)] = true
	}
	if era.SyncRangeColumn != "" {
		skip[strings.ToLower(era.SyncRangeColumn)] = true
	}
	var out []string
	for _, c := range cols {
		if !skip[strings.ToLower(c.Name)] {
			out = append(out, c.Name)
		}
	}
	return out, nil
}

// loadTargetRows snapshots the target table. The surrounding IMMEDIATE
// transaction pins this snapshot until the plan has executed, the
// equivalent of the key-share lock the planner needs.
func (s *SQLiteStorage) loadTargetRows(ctx context.Context, table string, era *types.Era, payloadCols []string) ([]temporal.TargetRow, error) {
	quoted := make([]string, 0, len(payloadCols)+3)
	quoted = append(quoted, "rowid",
		quoteIdent(era.FromColumn), quoteIdent(era.UntilColumn))
	for _, c := range payloadCols {
		quoted = append(quoted, quoteIdent(c))
	}
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s`, strings.Join(quoted, ", "), quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", table, err)
	}
	defer rows.Close()

	var out []temporal.TargetRow
	for rows.Next() {
		dest := make([]any, len(quoted))
		ptrs := make([]any, len(dest))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rowid, ok := dest[0].(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected rowid type %T in %s", dest[0], table)
		}
		from, err := interval.FromSQL(era.Kind, dest[1])
		if err != nil {
			return nil, fmt.Errorf("row %d of %s: %w", rowid, table, err)
		}
		until, err := interval.FromSQL(era.Kind, dest[2])
		if err != nil {
			return nil, fmt.Errorf("row %d of %s: %w", rowid, table, err)
		}
		payload := make(map[string]any, len(payloadCols))
		for i, c := range payloadCols {
			payload[c] = dest[3+i]
		}
		out = append(out, temporal.TargetRow{
			RowID:   rowid,
			Range:   interval.Range{From: from, Until: until},
			Payload: payload,
		})
	}
	return out, rows.Err()
}

// buildSourceRows converts the request's batch (in-memory rows or a staging
// table) into planner source rows. Era and bookkeeping columns are lifted
// out of the payload.
func (s *SQLiteStorage) buildSourceRows(ctx context.Context, req storage.TemporalMergeRequest, era *types.Era) ([]temporal.SourceRow, error) {
	raw := req.Source
	if req.SourceTable != "" {
		var err error
		raw, err = s.loadSourceTable(ctx, req.SourceTable)
		if err != nil {
			return nil, err
		}
	}

	out := make([]temporal.SourceRow, 0, len(raw))
	for i, row := range raw {
		sr := temporal.SourceRow{Ordinal: i, Payload: make(map[string]any, len(row))}

		for k, v := range row {
			switch {
			case strings.EqualFold(k, era.FromColumn):
				if v != nil {
					val, err := interval.FromSQL(era.Kind, v)
					if err != nil {
						return nil, fmt.Errorf("%w: source row %d: %v", types.ErrArgument, i, err)
					}
					sr.Range.From = val
				} else {
					sr.Range.From = interval.Null(era.Kind)
				}
			case strings.EqualFold(k, era.UntilColumn):
				if v != nil {
					val, err := interval.FromSQL(era.Kind, v)
					if err != nil {
						return nil, fmt.Errorf("%w: source row %d: %v", types.ErrArgument, i, err)
					}
					sr.Range.Until = val
				}
			case req.SourceRowIDColumn != "" && strings.EqualFold(k, req.SourceRowIDColumn):
				sr.RowID = v
			case req.FoundingIDColumn != "" && strings.EqualFold(k, req.FoundingIDColumn):
				if v != nil {
					sr.FoundingID = fmt.Sprintf("%v", v)
				}
			default:
				sr.Payload[k] = v
			}
		}
		if sr.Range.From.Kind() == "" {
			sr.Range.From = interval.Null(era.Kind)
		}
		if sr.Range.Until.Kind() == "" {
			sr.Range.Until = interval.Infinity(era.Kind)
		}
		out = append(out, sr)
	}
	return out, nil
}

// loadSourceTable reads a staging table into row maps, ordered by rowid so
// ordinals are stable.
func (s *SQLiteStorage) loadSourceTable(ctx context.Context, table string) ([]map[string]any, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT * FROM %s ORDER BY rowid`, quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read source table %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = dest[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// enqueuePlanChecks queues the foreign-key checks the plan's operations
// imply: child coverage for every row the plan writes, parent-side
// re-validation for every row it removes or rewrites.
func (s *SQLiteStorage) enqueuePlanChecks(plan []types.PlanRow, target []temporal.TargetRow, era *types.Era, childFKs, parentFKs []constraint.FK) {
	oldByID := make(map[int64]temporal.TargetRow, len(target))
	for _, t := range target {
		oldByID[t.RowID] = t
	}

	for _, row := range plan {
		switch row.Op {
		case types.OpInsert, types.OpUpdate:
			for _, b := range childFKs {
				keyValues := make([]any, len(b.FK.Columns))
				for i, c := range b.FK.Columns {
					keyValues[i] = row.Payload[c]
				}
				s.queue.Enqueue(constraint.PendingCheck{
					Bundle: b, Kind: types.CheckChildUpdate,
					KeyValues: keyValues, Range: row.Range,
				})
			}
		}
		switch row.Op {
		case types.OpDelete, types.OpUpdate:
			old, ok := oldByID[row.TargetRowID]
			if !ok {
				continue
			}
			kind := types.CheckParentDelete
			if row.Op == types.OpUpdate {
				kind = types.CheckParentUpdate
			}
			for _, b := range parentFKs {
				keyValues := make([]any, len(b.ParentKey.Columns))
				for i, c := range b.ParentKey.Columns {
					keyValues[i] = old.Payload[c]
				}
				s.queue.Enqueue(constraint.PendingCheck{
					Bundle: b, Kind: kind, KeyValues: keyValues,
				})
			}
		}
	}
}

// depositFeedback writes the batch outcome into the session-scoped
// feedback table, replacing the previous call's rows.
func (s *SQLiteStorage) depositFeedback(ctx context.Context, feedback []types.Feedback) error {
	if _, err := s.conn.ExecContext(ctx, `
		CREATE TEMP TABLE IF NOT EXISTS era_merge_feedback (
			source_ordinal INTEGER NOT NULL,
			source_row_id TEXT,
			status TEXT NOT NULL,
			assigned_entity_id TEXT,
			message TEXT NOT NULL DEFAULT ''
		)`); err != nil {
		return fmt.Errorf("failed to create feedback table: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM era_merge_feedback`); err != nil {
		return fmt.Errorf("failed to clear feedback table: %w", err)
	}
	for _, f := range feedback {
		if _, err := s.conn.ExecContext(ctx, `
			INSERT INTO era_merge_feedback (source_ordinal, source_row_id, status, assigned_entity_id, message)
			VALUES (?, ?, ?, ?, ?)`,
			f.SourceOrdinal, f.SourceRowID, string(f.Status), f.AssignedEntityID, f.Message); err != nil {
			return fmt.Errorf("failed to record feedback: %w", err)
		}
	}
	return nil
}

// backfillAssignedIDs writes generated surrogate keys back into the staging
// table.
func (s *SQLiteStorage) backfillAssignedIDs(ctx context.Context, req storage.TemporalMergeRequest, feedback []types.Feedback) error {
	idCol := req.IDColumns[0]
	stmt := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE %s = ?`,
		quoteIdent(req.SourceTable), quoteIdent(idCol), quoteIdent(req.SourceRowIDColumn))
	for _, f := range feedback {
		if f.AssignedEntityID == nil || f.SourceRowID == nil {
			continue
		}
		if _, err := s.conn.ExecContext(ctx, stmt, f.AssignedEntityID, f.SourceRowID); err != nil {
			return fmt.Errorf("failed to back-fill assigned id: %w", err)
		}
	}
	return nil
}
