package oracle

// SequenceValidator guards per-pool observation ordering.
// Stale sequences are ignored, gaps are tolerated and counted.
// Not thread-safe; callers hold the oracle lock.
type SequenceValidator struct {
	lastSeq map[string]int64 // pool -> last accepted sequence
	gaps    map[string]int64 // pool -> gap count
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		lastSeq: make(map[string]int64),
		gaps:    make(map[string]int64),
	}
}

// Accept reports whether an observation with this sequence should be applied
func (sv *SequenceValidator) Accept(pool string, seq int64) bool {
	last, seen := sv.lastSeq[pool]
	if seen && seq <= last {
		return false
	}
	if seen && seq > last+1 {
		sv.gaps[pool]++
	}
	sv.lastSeq[pool] = seq
	return true
}

// LastSequence returns the last accepted sequence for a pool
func (sv *SequenceValidator) LastSequence(pool string) (int64, bool) {
	seq, ok := sv.lastSeq[pool]
	return seq, ok
}

// Gaps returns how many sequence gaps were seen for a pool
func (sv *SequenceValidator) Gaps(pool string) int64 {
	return sv.gaps[pool]
}
