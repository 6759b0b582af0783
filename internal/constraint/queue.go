package constraint

import (
	"context"
	"fmt"
	"strings"

	"github.com/untoldecay/EraDB/internal/interval"
	"github.com/untoldecay/EraDB/internal/types"
)

// PendingCheck is one queued foreign-key validation. Child-side checks carry
// the child row's key values and range; parent-side checks carry the old
// parent key values (every matching child row is re-checked).
type PendingCheck struct {
	Bundle    FK
	Kind      types.CheckKind
	KeyValues []any
	Range     interval.Range // child-side checks only
}

// key dedupes equivalent pending checks within one flush window.
func (p PendingCheck) key() string {
	var b strings.Builder
	b.WriteString(p.Bundle.FK.Name)
	b.WriteByte('|')
	switch p.Kind {
	case types.CheckParentUpdate, types.CheckParentDelete:
		b.WriteString("parent")
	default:
		b.WriteString("child")
	}
	for _, kv := range p.KeyValues {
		fmt.Fprintf(&b, "|%v", kv)
	}
	if p.Kind == types.CheckChildInsert || p.Kind == types.CheckChildUpdate {
		fmt.Fprintf(&b, "|%s", p.Range)
	}
	return b.String()
}

// Queue collects foreign-key checks raised by DML. By default the queue is
// drained at each statement boundary; inside a merge (or after an explicit
// SetDeferred) checks accumulate until commit, tolerating transient gaps
// that are closed before the transaction ends.
type Queue struct {
	deferred bool
	pending  []PendingCheck
}

// NewQueue returns an immediate-mode queue.
func NewQueue() *Queue {
	return &Queue{}
}

// SetDeferred switches between immediate (statement boundary) and deferred
// (commit boundary) draining. Turning deferral off does not flush; the
// caller flushes explicitly.
func (q *Queue) SetDeferred(deferred bool) {
	q.deferred = deferred
}

// Deferred reports the current mode.
func (q *Queue) Deferred() bool {
	return q.deferred
}

// Enqueue records a pending check.
func (q *Queue) Enqueue(c PendingCheck) {
	q.pending = append(q.pending, c)
}

// FlushIfImmediate drains the queue unless it is deferred.
func (q *Queue) FlushIfImmediate(ctx context.Context, db DB, v *Validator) error {
	if q.deferred {
		return nil
	}
	return q.Flush(ctx, db, v)
}

// Flush drains the queue, deduplicating equivalent checks, and validates
// against current data. The first violation aborts; the queue is cleared
// either way so a failed transaction does not re-raise stale checks after
// rollback.
func (q *Queue) Flush(ctx context.Context, db DB, v *Validator) error {
	pending := q.pending
	q.pending = nil

	seen := make(map[string]bool, len(pending))
	for _, c := range pending {
		k := c.key()
		if seen[k] {
			continue
		}
		seen[k] = true

		var err error
		switch c.Kind {
		case types.CheckParentUpdate, types.CheckParentDelete:
			err = v.CheckChildrenOfParent(ctx, db, c.Bundle, c.KeyValues)
		default:
			err = v.CheckChildRange(ctx, db, c.Bundle, c.KeyValues, c.Range)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Len reports how many checks are queued.
func (q *Queue) Len() int {
	return len(q.pending)
}

// Reset discards pending checks and restores immediate mode. Called on
// rollback so a failed transaction's checks never leak into the next one.
func (q *Queue) Reset() {
	q.pending = nil
	q.deferred = false
}
