package interval

import (
	"math"
	"testing"
)

func TestFromSQL(t *testing.T) {
	v, err := FromSQL(KindInteger, int64(42))
	if err != nil || v.Int64() != 42 {
		t.Errorf("int64: %v, %v", v, err)
	}
	v, err = FromSQL(KindInteger, "17")
	if err != nil || v.Int64() != 17 {
		t.Errorf("numeric string: %v, %v", v, err)
	}
	if _, err := FromSQL(KindInteger, "not a number"); err == nil {
		t.Error("garbage integer must fail")
	}

	v, err = FromSQL(KindReal, 1.5)
	if err != nil || v.SQL() != 1.5 {
		t.Errorf("real: %v, %v", v, err)
	}

	v, err = FromSQL(KindText, []byte("2024-01-01"))
	if err != nil || v.String() != "2024-01-01" {
		t.Errorf("bytes: %v, %v", v, err)
	}

	v, err = FromSQL(KindText, nil)
	if err != nil || !v.IsNull() {
		t.Errorf("nil must scan as NULL: %v, %v", v, err)
	}
}

func TestInfinityPerKind(t *testing.T) {
	if !Infinity(KindInteger).IsInfinity() || Infinity(KindInteger).Int64() != math.MaxInt64 {
		t.Error("integer infinity")
	}
	if !Infinity(KindReal).IsInfinity() {
		t.Error("real infinity")
	}
	inf := Infinity(KindText)
	if !inf.IsInfinity() || inf.String() != "infinity" {
		t.Error("text infinity")
	}
	if c, ok := Compare(Text("2999-12-31"), inf); !ok || c != -1 {
		t.Error("every timestamp precedes infinity")
	}
}

func TestSucc(t *testing.T) {
	if s, ok := Int(4).Succ(); !ok || s.Int64() != 5 {
		t.Error("integer successor")
	}
	if _, ok := Real(4).Succ(); ok {
		t.Error("continuous domains have no successor")
	}
	if _, ok := Infinity(KindInteger).Succ(); ok {
		t.Error("infinity has no successor")
	}
	if _, ok := Null(KindInteger).Succ(); ok {
		t.Error("NULL has no successor")
	}
}

func TestCompareMixedAndNull(t *testing.T) {
	if _, ok := Compare(Int(1), Real(1)); ok {
		t.Error("mixed kinds are incomparable")
	}
	if _, ok := Compare(Null(KindInteger), Int(1)); ok {
		t.Error("NULL is incomparable")
	}
}
