package interval

import "testing"

func TestCoverageExactCover(t *testing.T) {
	target := dateRange(t, "2024-03-01", "2024-10-01")
	parents := []Range{
		dateRange(t, "2024-01-01", "2024-07-01"),
		dateRange(t, "2024-07-01", "2025-01-01"),
	}
	if !CoversWithoutGaps(parents, target) {
		t.Error("contiguous parents must cover the contained target")
	}
}

func TestCoverageGap(t *testing.T) {
	target := dateRange(t, "2024-01-01", "2024-12-01")
	parents := []Range{
		dateRange(t, "2024-01-01", "2024-05-01"),
		dateRange(t, "2024-06-01", "2025-01-01"), // one-month hole
	}
	if CoversWithoutGaps(parents, target) {
		t.Error("gap inside the target must fail coverage")
	}
}

func TestCoverageTargetExtendsPastParents(t *testing.T) {
	target := dateRange(t, "2024-03-01", "2025-03-01")
	parents := []Range{
		dateRange(t, "2024-01-01", "2024-07-01"),
		dateRange(t, "2024-07-01", "2025-01-01"),
	}
	if CoversWithoutGaps(parents, target) {
		t.Error("target reaching past the last parent must fail")
	}
}

func TestCoverageOverlappingAndUnsortedParents(t *testing.T) {
	target := mustRange(t, Int(0), Int(100))
	parents := []Range{
		mustRange(t, Int(50), Int(100)),
		mustRange(t, Int(0), Int(60)),
		mustRange(t, Int(40), Int(80)),
	}
	if !CoversWithoutGaps(parents, target) {
		t.Error("overlapping parents fed unsorted must still cover")
	}
}

func TestCoverageEqualFromTieBreak(t *testing.T) {
	// Two parents share From; either processing order must succeed.
	target := mustRange(t, Int(0), Int(10))
	a := mustRange(t, Int(0), Int(2))
	b := mustRange(t, Int(0), Int(6))
	tail := mustRange(t, Int(6), Int(10))

	for _, order := range [][]Range{{a, b, tail}, {b, a, tail}} {
		state := NewCoverage(target)
		for _, p := range order {
			state.Step(p)
		}
		if !state.Result() {
			t.Error("result must be independent of equal-From order")
		}
	}
}

func TestCoverageEmptyTargetTriviallyCovered(t *testing.T) {
	target := mustRange(t, Int(5), Int(5))
	if !CoversWithoutGaps(nil, target) {
		t.Error("empty target is trivially covered")
	}
}

func TestCoverageIllFormedInputsReturnFalse(t *testing.T) {
	target := Range{From: Int(5), Until: Int(1)} // from > until
	if CoversWithoutGaps([]Range{mustRange(t, Int(0), Int(10))}, target) {
		t.Error("ill-formed target must yield false, not panic")
	}

	ok := mustRange(t, Int(0), Int(10))
	nullParent := Range{From: Null(KindInteger), Until: Int(3)}
	if !CoversWithoutGaps([]Range{nullParent, ok}, ok) {
		t.Error("NULL parents are skipped, not fatal")
	}
}

func TestCoverageDiscreteStepAdjacency(t *testing.T) {
	// Integer domain: a parent starting one step past the watermark counts
	// as contiguous.
	target := mustRange(t, Int(1), Int(10))
	parents := []Range{
		mustRange(t, Int(1), Int(5)),
		mustRange(t, Int(6), Int(10)),
	}
	if !CoversWithoutGaps(parents, target) {
		t.Error("integer step adjacency must count as contiguous")
	}

	// Continuous domains must not bridge the same shape.
	ctarget := dateRange(t, "2024-01-01", "2024-01-10")
	cparents := []Range{
		dateRange(t, "2024-01-01", "2024-01-05"),
		dateRange(t, "2024-01-06", "2024-01-10"),
	}
	if CoversWithoutGaps(cparents, ctarget) {
		t.Error("continuous domain must not bridge a one-day hole")
	}
}

func TestCoverageInfiniteParent(t *testing.T) {
	target := dateRange(t, "2024-06-01", "2030-01-01")
	parents := []Range{
		mustRange(t, Text("2024-01-01"), Infinity(KindText)),
	}
	if !CoversWithoutGaps(parents, target) {
		t.Error("open-ended parent covers any later bounded target")
	}
}

func TestCoverageStreamingMatchesConvenience(t *testing.T) {
	target := mustRange(t, Int(0), Int(50))
	parents := []Range{
		mustRange(t, Int(0), Int(20)),
		mustRange(t, Int(20), Int(35)),
		mustRange(t, Int(35), Int(50)),
	}
	state := NewCoverage(target)
	for _, p := range parents {
		state.Step(p)
	}
	if state.Result() != CoversWithoutGaps(parents, target) {
		t.Error("streaming and convenience forms disagree")
	}
}
