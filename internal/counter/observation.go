// Package counter implements the line-crossing attribution engine: it consumes
// per-frame tracked-object observations from an external detector+tracker and
// maintains direction-split vehicle counts, crediting each track at most once
// regardless of tracker identity churn or detection jitter.
package counter

import "github.com/crosswatch-data/crossing.report/internal/geom"

// Direction labels a credited crossing.
type Direction string

const (
	DirectionNone  Direction = "none"
	DirectionEnter Direction = "enter"
	DirectionExit  Direction = "exit"
)

// Observation is one tracked detection in one frame, as supplied by the
// external detector+tracker. The engine never mutates observations.
type Observation struct {
	TrackID    int64     `json:"track_id"`
	Box        geom.BBox `json:"bbox"`
	FrameIndex int64     `json:"frame_index"`
}

// Counts holds the two monotone counters. They never decrease over a run.
type Counts struct {
	Enter uint64 `json:"enter"`
	Exit  uint64 `json:"exit"`
}

// Total returns the combined number of credited crossings.
func (c Counts) Total() uint64 {
	return c.Enter + c.Exit
}

// CrossingEvent records a single credited crossing for persistence and
// live-update sinks.
type CrossingEvent struct {
	TrackID    int64      `json:"track_id"`
	FrameIndex int64      `json:"frame_index"`
	Direction  Direction  `json:"direction"`
	Position   geom.Point `json:"position"`
}
