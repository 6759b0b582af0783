package temporal

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/untoldecay/EraDB/internal/types"
)

// ExecDB is the database slice the executor needs.
type ExecDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ExecRequest carries a plan into execution.
type ExecRequest struct {
	Table string
	Era   *types.Era
	Plan  []types.PlanRow

	// Feedback is the planner's per-source-row feedback, enriched in place
	// with assigned entity identifiers.
	Feedback []types.Feedback

	// SurrogateIDColumn receives generated identifiers for founding groups.
	// Required only when the plan contains founding inserts.
	SurrogateIDColumn string
}

// executor applies one plan. Statement text is cached per (operation,
// column-mask) for the duration of the batch; the executor itself holds no
// state across calls.
type executor struct {
	req      ExecRequest
	stmts    map[string]string
	founding map[string]any // founding group -> assigned identifier
}

// Execute applies the plan in Seq order. It must run inside the merge's
// transaction, with foreign-key checking deferred by the caller; the
// deferred checks run when that transaction commits, so the final, gap-free
// state is what gets validated.
//
// Any error aborts the whole batch: the returned feedback marks the
// offending source rows ERROR, and the caller rolls the transaction back.
func Execute(ctx context.Context, db ExecDB, req ExecRequest) ([]types.Feedback, error) {
	e := &executor{
		req:      req,
		stmts:    make(map[string]string),
		founding: make(map[string]any),
	}

	plan := slices.Clone(req.Plan)
	slices.SortFunc(plan, func(a, b types.PlanRow) int { return a.Seq - b.Seq })

	for _, row := range plan {
		var err error
		switch row.Op {
		case types.OpDelete:
			err = e.applyDelete(ctx, db, row)
		case types.OpUpdate:
			err = e.applyUpdate(ctx, db, row)
		case types.OpInsert:
			err = e.applyInsert(ctx, db, row)
		default:
			err = fmt.Errorf("%w: unknown operation %q", types.ErrPlanExecute, row.Op)
		}
		if err != nil {
			for i := range req.Feedback {
				if slices.Contains(row.SourceOrdinals, req.Feedback[i].SourceOrdinal) {
					req.Feedback[i].Status = types.FeedbackError
					req.Feedback[i].Message = err.Error()
				}
			}
			return req.Feedback, fmt.Errorf("%w: plan row %d (%s on %s): %v",
				types.ErrPlanExecute, row.Seq, row.Op, req.Table, err)
		}
	}
	return req.Feedback, nil
}

func (e *executor) applyDelete(ctx context.Context, db ExecDB, row types.PlanRow) error {
	key := "delete"
	stmt, ok := e.stmts[key]
	if !ok {
		stmt = fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, quoteIdent(e.req.Table))
		e.stmts[key] = stmt
	}
	res, err := db.ExecContext(ctx, stmt, row.TargetRowID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("target row %d vanished before delete", row.TargetRowID)
	}
	return nil
}

func (e *executor) applyUpdate(ctx context.Context, db ExecDB, row types.PlanRow) error {
	cols := payloadColumns(row.Payload)
	key := "update|" + strings.Join(cols, ",")
	stmt, ok := e.stmts[key]
	if !ok {
		sets := make([]string, 0, len(cols)+2)
		sets = append(sets,
			quoteIdent(e.req.Era.FromColumn)+" = ?",
			quoteIdent(e.req.Era.UntilColumn)+" = ?")
		for _, c := range cols {
			sets = append(sets, quoteIdent(c)+" = ?")
		}
		stmt = fmt.Sprintf(`UPDATE %s SET %s WHERE rowid = ?`,
			quoteIdent(e.req.Table), strings.Join(sets, ", "))
		e.stmts[key] = stmt
	}

	args := make([]any, 0, len(cols)+3)
	args = append(args, row.Range.From.SQL(), row.Range.Until.SQL())
	for _, c := range cols {
		args = append(args, e.bindValue(row, c))
	}
	args = append(args, row.TargetRowID)

	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("target row %d vanished before update", row.TargetRowID)
	}
	return nil
}

func (e *executor) applyInsert(ctx context.Context, db ExecDB, row types.PlanRow) error {
	// Columns with no value are omitted so the engine assigns defaults and
	// generated identifiers itself.
	cols := make([]string, 0, len(row.Payload))
	for _, c := range payloadColumns(row.Payload) {
		if e.bindValue(row, c) != nil {
			cols = append(cols, c)
		}
	}

	key := "insert|" + strings.Join(cols, ",")
	stmt, ok := e.stmts[key]
	if !ok {
		names := make([]string, 0, len(cols)+2)
		for _, c := range cols {
			names = append(names, quoteIdent(c))
		}
		names = append(names, quoteIdent(e.req.Era.FromColumn), quoteIdent(e.req.Era.UntilColumn))
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
		stmt = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			quoteIdent(e.req.Table), strings.Join(names, ", "), marks)
		e.stmts[key] = stmt
	}

	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		args = append(args, e.bindValue(row, c))
	}
	args = append(args, row.Range.From.SQL(), row.Range.Until.SQL())

	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		return err
	}

	if row.FoundingGroup != "" {
		if _, assigned := e.founding[row.FoundingGroup]; !assigned {
			id, err := e.captureAssignedID(ctx, db)
			if err != nil {
				return err
			}
			e.founding[row.FoundingGroup] = id
		}
		id := e.founding[row.FoundingGroup]
		for i := range e.req.Feedback {
			if slices.Contains(row.SourceOrdinals, e.req.Feedback[i].SourceOrdinal) {
				e.req.Feedback[i].AssignedEntityID = id
			}
		}
	}
	return nil
}

// bindValue resolves a payload value, substituting the founding group's
// assigned identifier for a still-NULL surrogate key.
func (e *executor) bindValue(row types.PlanRow, col string) any {
	v := row.Payload[col]
	if v == nil && row.FoundingGroup != "" && col == e.req.SurrogateIDColumn {
		if id, ok := e.founding[row.FoundingGroup]; ok {
			return id
		}
	}
	return v
}

// captureAssignedID reads back the engine-assigned surrogate of the row
// just inserted.
func (e *executor) captureAssignedID(ctx context.Context, db ExecDB) (any, error) {
	if e.req.SurrogateIDColumn == "" {
		return nil, fmt.Errorf("founding insert without a surrogate id column")
	}
	var id any
	err := db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE rowid = last_insert_rowid()`,
		quoteIdent(e.req.SurrogateIDColumn), quoteIdent(e.req.Table))).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to read back assigned id: %w", err)
	}
	return id, nil
}

func payloadColumns(payload map[string]any) []string {
	cols := make([]string, 0, len(payload))
	for c := range payload {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
