package counter

// Aggregator owns the monotone enter/exit counters. Commit is the single
// chokepoint through which they are incremented, enforcing the at-most-once
// invariant via the track record's Counted flag.
type Aggregator struct {
	enter uint64
	exit  uint64
}

// NewAggregator creates an aggregator with zeroed counters.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Commit credits a crossing to the given track. If the track has already been
// credited it is a no-op returning false. Direction must be DirectionEnter or
// DirectionExit; the frame driver never forwards DirectionNone.
func (a *Aggregator) Commit(rec *TrackRecord, dir Direction) bool {
	if rec.Counted {
		return false
	}

	switch dir {
	case DirectionEnter:
		a.enter++
	case DirectionExit:
		a.exit++
	default:
		return false
	}

	rec.Counted = true
	return true
}

// Counts returns a snapshot of the counters.
func (a *Aggregator) Counts() Counts {
	return Counts{Enter: a.enter, Exit: a.exit}
}

// Reset zeroes both counters.
func (a *Aggregator) Reset() {
	a.enter = 0
	a.exit = 0
}
