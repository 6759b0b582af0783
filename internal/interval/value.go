// Package interval implements half-open interval algebra over the scalar
// domains an era column can have, plus the gap-free coverage aggregate used
// by temporal foreign-key validation.
package interval

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind identifies the scalar domain of an era's boundary columns.
type Kind string

const (
	// KindInteger is a discrete domain with minimal step 1.
	KindInteger Kind = "integer"
	// KindReal is a continuous numeric domain.
	KindReal Kind = "real"
	// KindText holds RFC 3339 timestamps or YYYY-MM-DD dates. Continuous
	// for coverage purposes; compared as parsed instants.
	KindText Kind = "text"
)

// IsValid reports whether k is a recognized kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindInteger, KindReal, KindText:
		return true
	}
	return false
}

// Discrete reports whether the domain has a minimal step.
func (k Kind) Discrete() bool {
	return k == KindInteger
}

// textInfinity is the canonical open-ended bound for text domains.
const textInfinity = "infinity"

// Value is a nullable scalar in one of the supported domains.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	t    time.Time // parsed form of s, zero when s is not a timestamp
	null bool
}

// Null returns the NULL value of the given kind.
func Null(k Kind) Value {
	return Value{kind: k, null: true}
}

// Int returns an integer-domain value.
func Int(v int64) Value {
	return Value{kind: KindInteger, i: v}
}

// Real returns a real-domain value.
func Real(v float64) Value {
	return Value{kind: KindReal, f: v}
}

// Text returns a text-domain value. Timestamps are parsed eagerly so
// comparisons are instant-based rather than lexicographic.
func Text(s string) Value {
	v := Value{kind: KindText, s: s}
	if t, ok := parseInstant(s); ok {
		v.t = t
	}
	return v
}

// Infinity returns the canonical open-ended upper bound for the kind.
func Infinity(k Kind) Value {
	switch k {
	case KindInteger:
		return Int(math.MaxInt64)
	case KindReal:
		return Real(math.Inf(1))
	default:
		return Value{kind: KindText, s: textInfinity}
	}
}

// parseInstant accepts the timestamp layouts era columns are stored in.
func parseInstant(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FromSQL converts a database/sql scan result into a Value of kind k.
func FromSQL(k Kind, raw any) (Value, error) {
	if raw == nil {
		return Null(k), nil
	}
	switch k {
	case KindInteger:
		switch v := raw.(type) {
		case int64:
			return Int(v), nil
		case int:
			return Int(int64(v)), nil
		case float64:
			return Int(int64(v)), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("value %q is not an integer: %w", v, err)
			}
			return Int(n), nil
		}
	case KindReal:
		switch v := raw.(type) {
		case float64:
			return Real(v), nil
		case int64:
			return Real(float64(v)), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return Value{}, fmt.Errorf("value %q is not a real: %w", v, err)
			}
			return Real(f), nil
		}
	case KindText:
		switch v := raw.(type) {
		case string:
			return Text(v), nil
		case []byte:
			return Text(string(v)), nil
		case time.Time:
			return Text(v.UTC().Format(time.RFC3339Nano)), nil
		}
	}
	return Value{}, fmt.Errorf("cannot read %T as %s era bound", raw, k)
}

// Kind returns the value's domain.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is NULL.
func (v Value) IsNull() bool { return v.null }

// IsInfinity reports whether the value is the domain's open-ended bound.
func (v Value) IsInfinity() bool {
	if v.null {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == math.MaxInt64
	case KindReal:
		return math.IsInf(v.f, 1)
	default:
		return v.s == textInfinity
	}
}

// SQL returns the driver-bindable representation of the value.
func (v Value) SQL() any {
	if v.null {
		return nil
	}
	switch v.kind {
	case KindInteger:
		return v.i
	case KindReal:
		return v.f
	default:
		return v.s
	}
}

// Int64 returns the integer payload. Only meaningful for KindInteger.
func (v Value) Int64() int64 { return v.i }

// String renders the value for error messages and listings.
func (v Value) String() string {
	if v.null {
		return "NULL"
	}
	if v.IsInfinity() {
		return "infinity"
	}
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return v.s
	}
}

// Compare orders two values of the same kind. The boolean is false when the
// values are not comparable (NULL involved or kinds disagree).
func Compare(a, b Value) (int, bool) {
	if a.null || b.null || a.kind != b.kind {
		return 0, false
	}
	switch a.kind {
	case KindInteger:
		switch {
		case a.i < b.i:
			return -1, true
		case a.i > b.i:
			return 1, true
		}
		return 0, true
	case KindReal:
		switch {
		case a.f < b.f:
			return -1, true
		case a.f > b.f:
			return 1, true
		}
		return 0, true
	default:
		// Both parsed as instants: compare instants, so that equivalent
		// spellings (offset vs UTC) order correctly.
		if !a.t.IsZero() && !b.t.IsZero() {
			switch {
			case a.t.Before(b.t):
				return -1, true
			case a.t.After(b.t):
				return 1, true
			}
			return 0, true
		}
		if a.s == textInfinity || b.s == textInfinity {
			switch {
			case a.s == b.s:
				return 0, true
			case a.s == textInfinity:
				return 1, true
			}
			return -1, true
		}
		switch {
		case a.s < b.s:
			return -1, true
		case a.s > b.s:
			return 1, true
		}
		return 0, true
	}
}

// Equal reports whether two values are equal and comparable.
func Equal(a, b Value) bool {
	c, ok := Compare(a, b)
	return ok && c == 0
}

// Succ returns the successor of v in a discrete domain. ok is false for
// continuous domains, NULL, and the infinite bound.
func (v Value) Succ() (Value, bool) {
	if v.kind != KindInteger || v.null || v.IsInfinity() {
		return Value{}, false
	}
	return Int(v.i + 1), true
}
