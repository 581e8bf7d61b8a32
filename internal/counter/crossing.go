package counter

import "github.com/crosswatch-data/crossing.report/internal/geom"

// Polarity fixes, once per run, which side-sign transition is labelled as
// entering. The mapping is a configuration choice, never decided per track.
type Polarity string

const (
	// NegativeToPositiveEnters labels a negative-to-positive side transition
	// as entering. This is the default.
	NegativeToPositiveEnters Polarity = "neg_to_pos_enters"
	// PositiveToNegativeEnters labels a positive-to-negative side transition
	// as entering.
	PositiveToNegativeEnters Polarity = "pos_to_neg_enters"
)

// Detector decides whether a track's latest motion crossed the counting line
// and in which direction. It is stateless; all state lives in the TrackRecord.
type Detector struct {
	line     geom.Line
	polarity Polarity
}

// NewDetector creates a crossing detector for the given line and polarity.
func NewDetector(line geom.Line, polarity Polarity) *Detector {
	if polarity == "" {
		polarity = NegativeToPositiveEnters
	}
	return &Detector{line: line, polarity: polarity}
}

// Line returns the configured counting line.
func (d *Detector) Line() geom.Line {
	return d.line
}

// Evaluate returns the crossing direction implied by the track's recent
// motion, or DirectionNone.
//
// A crossing requires a side-sign change between the current centroid and the
// most recent prior centroid with a definitive side, combined with a geometric
// intersection of the motion path against the line segment. A centroid lying
// exactly on the line has no definitive side; the decision is deferred to a
// later frame rather than guessed, so a box oscillating exactly on the line
// never produces a crossing.
//
// Evaluate is idempotent over the same history. Re-evaluating an
// already-counted track still computes a direction; the aggregator discards it.
func (d *Detector) Evaluate(rec *TrackRecord) Direction {
	n := len(rec.History)
	if n < 2 {
		return DirectionNone
	}

	cur := rec.History[n-1]
	curSide := geom.SideOfLine(cur.Pos, d.line)
	if curSide == 0 {
		return DirectionNone
	}

	// Anchor on the most recent prior point with a definitive side. Points
	// exactly on the line are skipped, so a slow crossing that pauses on the
	// boundary is still resolved once it comes off the line.
	for i := n - 2; i >= 0; i-- {
		prev := rec.History[i]
		prevSide := geom.SideOfLine(prev.Pos, d.line)
		if prevSide == 0 {
			continue
		}

		if (prevSide > 0) == (curSide > 0) {
			return DirectionNone
		}
		if !geom.SegmentsIntersect(prev.Pos, cur.Pos, d.line) {
			return DirectionNone
		}
		return d.label(prevSide, curSide)
	}

	return DirectionNone
}

// label maps a sign transition to a direction under the configured polarity.
func (d *Detector) label(prevSide, curSide float64) Direction {
	negToPos := prevSide < 0 && curSide > 0
	switch d.polarity {
	case PositiveToNegativeEnters:
		if negToPos {
			return DirectionExit
		}
		return DirectionEnter
	default:
		if negToPos {
			return DirectionEnter
		}
		return DirectionExit
	}
}
