package interval

import "slices"

// CoverageState is the streaming aggregate deciding whether a sequence of
// parent ranges, fed in ascending From order, contiguously covers a target
// range. The state transition never fails: ill-formed input poisons the
// state and the finalizer reports false.
type CoverageState struct {
	target    Range
	watermark Value
	started   bool
	poisoned  bool
	gapped    bool
}

// NewCoverage initializes the sweep for target. An empty target is trivially
// covered; an invalid one poisons the state.
func NewCoverage(target Range) *CoverageState {
	s := &CoverageState{target: target}
	if !target.Valid() {
		s.poisoned = true
		return s
	}
	s.watermark = target.From
	return s
}

// Step feeds one parent range. Parents must arrive sorted by From; ties may
// arrive in any order (the monotone watermark makes the result independent
// of tie order). NULL or invalid parents are skipped.
func (s *CoverageState) Step(parent Range) {
	if s.poisoned || s.gapped {
		return
	}
	if !parent.Valid() || parent.IsEmpty() {
		return
	}
	if s.target.IsEmpty() {
		return
	}
	// A parent entirely before the uncovered region contributes nothing.
	if c, ok := Compare(parent.Until, s.watermark); ok && c <= 0 {
		return
	}
	reaches := false
	if c, ok := Compare(parent.From, s.watermark); ok && c <= 0 {
		reaches = true
	} else if s.target.Kind().Discrete() {
		if succ, ok := s.watermark.Succ(); ok && Equal(parent.From, succ) {
			reaches = true
		}
	}
	if !reaches {
		// Gap before this parent; no later parent can close it since input
		// is ordered by From.
		s.gapped = true
		return
	}
	s.started = true
	if c, ok := Compare(parent.Until, s.watermark); ok && c > 0 {
		s.watermark = parent.Until
	}
}

// Result finalizes the sweep.
func (s *CoverageState) Result() bool {
	if s.poisoned || s.gapped {
		return false
	}
	if s.target.IsEmpty() {
		return true
	}
	c, ok := Compare(s.watermark, s.target.Until)
	return ok && c >= 0
}

// CoversWithoutGaps reports whether the union of parents contiguously covers
// target. Unlike the streaming form it accepts unsorted input and sorts it
// first. Never returns an error: ill-formed input yields false.
func CoversWithoutGaps(parents []Range, target Range) bool {
	sorted := make([]Range, 0, len(parents))
	for _, p := range parents {
		if p.Valid() && !p.IsEmpty() {
			sorted = append(sorted, p)
		}
	}
	slices.SortStableFunc(sorted, func(a, b Range) int {
		c, ok := Compare(a.From, b.From)
		if !ok {
			return 0
		}
		return c
	})
	state := NewCoverage(target)
	for _, p := range sorted {
		state.Step(p)
	}
	return state.Result()
}
