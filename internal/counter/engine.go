package counter

import (
	"fmt"
	"time"

	"github.com/crosswatch-data/crossing.report/internal/geom"
	"github.com/crosswatch-data/crossing.report/internal/monitoring"
)

// Defaults for the engine's tunable parameters. The staleness default assumes
// a roughly 30fps feed and matches the original deployment's five-second
// track cleanup.
const (
	DefaultHistoryDepth     = 4
	DefaultStaleAfterFrames = 150
)

// Config holds the fixed-per-run configuration of the engine.
type Config struct {
	// Line is the counting line in pixel coordinates.
	Line geom.Line
	// Polarity maps side-sign transitions to enter/exit labels.
	Polarity Polarity
	// HistoryDepth is how many centroid samples are retained per track.
	// Zero selects DefaultHistoryDepth.
	HistoryDepth int
	// StaleAfterFrames is the frame gap after which an unseen track is
	// evicted. Zero selects DefaultStaleAfterFrames.
	StaleAfterFrames int64
}

// FrameSummary reports the outcome of processing one frame of observations.
// Crossings lists the tracks newly credited this frame, for on-frame
// annotation by a visualization sink.
type FrameSummary struct {
	FrameIndex int64           `json:"frame_index"`
	Counts     Counts          `json:"counts"`
	Crossings  []CrossingEvent `json:"crossings,omitempty"`
	Rejected   int             `json:"rejected,omitempty"`
	Evicted    int             `json:"evicted,omitempty"`
}

// RunStats is a snapshot of a run's aggregate statistics.
type RunStats struct {
	Counts               Counts        `json:"counts"`
	Total                uint64        `json:"total"`
	FramesProcessed      uint64        `json:"frames_processed"`
	RejectedObservations uint64        `json:"rejected_observations"`
	ActiveTracks         int           `json:"active_tracks"`
	Elapsed              time.Duration `json:"elapsed_ns"`
	PerMinute            float64       `json:"vehicles_per_minute"`
}

// Engine is the frame driver: it owns the track store, the crossing detector,
// and the count aggregator, and sequences them once per incoming frame.
//
// The engine is single-threaded by contract: frames must be fed in
// non-decreasing frame order and calls must not overlap. It performs no I/O
// and never terminates the process; malformed observations are rejected,
// logged, and skipped.
type Engine struct {
	cfg      Config
	store    *Store
	detector *Detector
	agg      *Aggregator

	lastFrame       int64
	framesProcessed uint64
	rejected        uint64

	startedAt time.Time
	now       func() time.Time
}

// NewEngine creates an engine for the given configuration.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Line.Start == cfg.Line.End {
		return nil, fmt.Errorf("counting line is degenerate: start == end (%v)", cfg.Line.Start)
	}
	if cfg.HistoryDepth == 0 {
		cfg.HistoryDepth = DefaultHistoryDepth
	}
	if cfg.HistoryDepth < 2 {
		return nil, fmt.Errorf("history depth must be at least 2, got %d", cfg.HistoryDepth)
	}
	if cfg.StaleAfterFrames == 0 {
		cfg.StaleAfterFrames = DefaultStaleAfterFrames
	}
	if cfg.StaleAfterFrames < 1 {
		return nil, fmt.Errorf("staleness threshold must be positive, got %d", cfg.StaleAfterFrames)
	}

	e := &Engine{
		cfg:       cfg,
		store:     NewStore(cfg.HistoryDepth, cfg.StaleAfterFrames),
		detector:  NewDetector(cfg.Line, cfg.Polarity),
		agg:       NewAggregator(),
		lastFrame: -1,
		now:       time.Now,
	}
	e.startedAt = e.now()
	return e, nil
}

// ProcessFrame runs one frame of observations through the pipeline: validate,
// update track state, evaluate crossings, commit credits, evict stale tracks.
// A single bad observation never aborts the frame, and a regressed frame
// index rejects only that frame.
func (e *Engine) ProcessFrame(frameIndex int64, observations []Observation) FrameSummary {
	summary := FrameSummary{FrameIndex: frameIndex}

	if frameIndex < e.lastFrame {
		monitoring.Logf("rejecting frame %d: frame index regressed (last processed %d)", frameIndex, e.lastFrame)
		e.rejected += uint64(len(observations))
		summary.Rejected = len(observations)
		summary.Counts = e.agg.Counts()
		return summary
	}

	for _, obs := range observations {
		if obs.FrameIndex != frameIndex {
			monitoring.Logf("rejecting observation for track %d: frame index %d does not match frame %d",
				obs.TrackID, obs.FrameIndex, frameIndex)
			summary.Rejected++
			continue
		}
		if !obs.Box.Valid() {
			monitoring.Logf("rejecting observation for track %d in frame %d: degenerate bbox %+v",
				obs.TrackID, frameIndex, obs.Box)
			summary.Rejected++
			continue
		}

		rec := e.store.Update(obs.TrackID, obs.Box.Centroid(), frameIndex)

		dir := e.detector.Evaluate(rec)
		if dir == DirectionNone {
			continue
		}
		if e.agg.Commit(rec, dir) {
			summary.Crossings = append(summary.Crossings, CrossingEvent{
				TrackID:    rec.TrackID,
				FrameIndex: frameIndex,
				Direction:  dir,
				Position:   rec.Last().Pos,
			})
		}
	}

	summary.Evicted = e.store.EvictStale(frameIndex)

	e.rejected += uint64(summary.Rejected)
	e.lastFrame = frameIndex
	e.framesProcessed++
	summary.Counts = e.agg.Counts()
	return summary
}

// Counts returns the current monotone counters.
func (e *Engine) Counts() Counts {
	return e.agg.Counts()
}

// Line returns the configured counting line, for drawing by output sinks.
func (e *Engine) Line() geom.Line {
	return e.detector.Line()
}

// Stats returns a snapshot of the run's aggregate statistics. The per-minute
// rate is measured against wall time since engine creation or the last Reset.
func (e *Engine) Stats() RunStats {
	counts := e.agg.Counts()
	elapsed := e.now().Sub(e.startedAt)

	perMinute := 0.0
	if elapsed > 0 {
		perMinute = float64(counts.Total()) / elapsed.Minutes()
	}

	return RunStats{
		Counts:               counts,
		Total:                counts.Total(),
		FramesProcessed:      e.framesProcessed,
		RejectedObservations: e.rejected,
		ActiveTracks:         e.store.Len(),
		Elapsed:              elapsed,
		PerMinute:            perMinute,
	}
}

// Reset clears all counters and track state so the engine can attribute a new
// run without cross-contamination.
func (e *Engine) Reset() {
	e.store.Reset()
	e.agg.Reset()
	e.lastFrame = -1
	e.framesProcessed = 0
	e.rejected = 0
	e.startedAt = e.now()
}
