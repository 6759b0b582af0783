package types

import "errors"

// Error taxonomy. Every raised error wraps one of these sentinels and names
// the offending object (table, column, constraint, key) and, where it
// applies, the literal interval that failed.
var (
	// ErrArgument: unknown column/table/era, duplicate era, NULL required
	// argument, system column used.
	ErrArgument = errors.New("argument error")

	// ErrTypeMismatch: start/end columns disagree on declared type; child
	// and parent columns disagree pairwise.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrDependency: RESTRICT drop with live dependents; forbidden
	// referential action.
	ErrDependency = errors.New("dependency error")

	// ErrIntegrity: overlapping unique-key ranges, uncovered child range,
	// MATCH FULL with partial NULLs.
	ErrIntegrity = errors.New("integrity violation")

	// ErrConsistency: DDL would orphan catalog state, or a catalog row
	// references a key or era that no longer exists.
	ErrConsistency = errors.New("consistency error")

	// ErrPlanExecute: unreachable plan row or host error surfaced with
	// plan-seq context.
	ErrPlanExecute = errors.New("plan execution error")

	// ErrNotImplemented covers reserved surface (MATCH PARTIAL).
	ErrNotImplemented = errors.New("not implemented")
)
