package counter

import (
	"os"
	"testing"
	"time"

	"github.com/crosswatch-data/crossing.report/internal/geom"
	"github.com/crosswatch-data/crossing.report/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// Rejection paths log through the package logger; keep test output clean.
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// boxAt returns a 10x10 bbox centred on (x, y).
func boxAt(x, y float64) geom.BBox {
	return geom.BBox{XMin: x - 5, YMin: y - 5, XMax: x + 5, YMax: y + 5}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Line.Start == cfg.Line.End {
		cfg.Line = testLine
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err, "degenerate line must be rejected")

	_, err = NewEngine(Config{Line: testLine, HistoryDepth: 1})
	assert.Error(t, err, "history depth 1 must be rejected")

	_, err = NewEngine(Config{Line: testLine, StaleAfterFrames: -3})
	assert.Error(t, err, "negative staleness must be rejected")
}

// Scenario A: a track moving from the negative to the positive side through
// the line segment is credited as entering.
func TestCrossingCreditsEnter(t *testing.T) {
	e := newTestEngine(t, Config{})

	s := e.ProcessFrame(10, []Observation{{TrackID: 1, Box: boxAt(100, 90), FrameIndex: 10}})
	assert.Empty(t, s.Crossings)

	s = e.ProcessFrame(11, []Observation{{TrackID: 1, Box: boxAt(100, 110), FrameIndex: 11}})
	require.Len(t, s.Crossings, 1)
	assert.Equal(t, int64(1), s.Crossings[0].TrackID)
	assert.Equal(t, DirectionEnter, s.Crossings[0].Direction)
	assert.Equal(t, Counts{Enter: 1}, e.Counts())
}

// Scenario B: a counted track moving back across the line changes nothing.
func TestCountedTrackIsNotRecredited(t *testing.T) {
	e := newTestEngine(t, Config{})

	e.ProcessFrame(1, []Observation{{TrackID: 1, Box: boxAt(100, 90), FrameIndex: 1}})
	e.ProcessFrame(2, []Observation{{TrackID: 1, Box: boxAt(100, 110), FrameIndex: 2}})
	require.Equal(t, Counts{Enter: 1}, e.Counts())

	s := e.ProcessFrame(3, []Observation{{TrackID: 1, Box: boxAt(100, 90), FrameIndex: 3}})
	assert.Empty(t, s.Crossings, "reverse crossing of a counted track must not be credited")
	assert.Equal(t, Counts{Enter: 1}, e.Counts())
}

// Scenario C: two tracks crossing in opposite directions in the same frame are
// both credited, independent of observation order.
func TestOppositeCrossingsSameFrame(t *testing.T) {
	forward := []Observation{
		{TrackID: 1, Box: boxAt(50, 110), FrameIndex: 2},
		{TrackID: 2, Box: boxAt(150, 90), FrameIndex: 2},
	}
	reversed := []Observation{forward[1], forward[0]}

	for name, frame2 := range map[string][]Observation{"forward": forward, "reversed": reversed} {
		t.Run(name, func(t *testing.T) {
			e := newTestEngine(t, Config{})
			e.ProcessFrame(1, []Observation{
				{TrackID: 1, Box: boxAt(50, 90), FrameIndex: 1},
				{TrackID: 2, Box: boxAt(150, 110), FrameIndex: 1},
			})

			s := e.ProcessFrame(2, frame2)
			assert.Len(t, s.Crossings, 2)
			assert.Equal(t, Counts{Enter: 1, Exit: 1}, e.Counts())
		})
	}
}

// Scenario D: a track observed exactly once is never evaluated or counted and
// is eventually evicted without error.
func TestSingleObservationTrack(t *testing.T) {
	e := newTestEngine(t, Config{StaleAfterFrames: 3})

	e.ProcessFrame(1, []Observation{{TrackID: 2, Box: boxAt(100, 90), FrameIndex: 1}})

	var lastEvicted int
	for f := int64(2); f <= 6; f++ {
		s := e.ProcessFrame(f, nil)
		lastEvicted += s.Evicted
	}
	assert.Equal(t, 1, lastEvicted, "the lone track should be evicted once stale")
	assert.Equal(t, Counts{}, e.Counts())
}

func TestMonotonicity(t *testing.T) {
	e := newTestEngine(t, Config{})

	// A busy mixed sequence: crossings, reversals, jitter, disappearances.
	frames := [][]Observation{
		{{TrackID: 1, Box: boxAt(100, 90), FrameIndex: 0}},
		{{TrackID: 1, Box: boxAt(100, 110), FrameIndex: 1}, {TrackID: 2, Box: boxAt(60, 120), FrameIndex: 1}},
		{{TrackID: 1, Box: boxAt(100, 95), FrameIndex: 2}, {TrackID: 2, Box: boxAt(60, 80), FrameIndex: 2}},
		{{TrackID: 2, Box: boxAt(60, 115), FrameIndex: 3}},
		{{TrackID: 3, Box: boxAt(30, 100), FrameIndex: 4}},
		{{TrackID: 3, Box: boxAt(30, 100), FrameIndex: 5}},
	}

	var prev Counts
	for i, obs := range frames {
		s := e.ProcessFrame(int64(i), obs)
		if s.Counts.Enter < prev.Enter || s.Counts.Exit < prev.Exit {
			t.Fatalf("frame %d: counts decreased from %+v to %+v", i, prev, s.Counts)
		}
		prev = s.Counts
	}
}

func TestAtMostOncePerTrack(t *testing.T) {
	e := newTestEngine(t, Config{})

	// Track 1 oscillates across the line for many frames; it contributes to
	// the counters exactly once, on its first genuine crossing.
	y := []float64{90, 110, 90, 110, 90, 110, 90, 110}
	for f, yy := range y {
		e.ProcessFrame(int64(f), []Observation{{TrackID: 1, Box: boxAt(100, yy), FrameIndex: int64(f)}})
	}

	assert.Equal(t, uint64(1), e.Counts().Total())
}

func TestJitterOnLineNeverCounts(t *testing.T) {
	e := newTestEngine(t, Config{})

	// Centroid sits exactly on the line frame after frame: every side test is
	// zero, so no crossing is ever declared.
	for f := int64(0); f < 10; f++ {
		x := 40 + float64(f%3)*10
		s := e.ProcessFrame(f, []Observation{{TrackID: 5, Box: boxAt(x, 100), FrameIndex: f}})
		assert.Empty(t, s.Crossings)
	}
	assert.Equal(t, Counts{}, e.Counts())
}

func TestGapToleranceWithinThreshold(t *testing.T) {
	e := newTestEngine(t, Config{StaleAfterFrames: 10})

	e.ProcessFrame(1, []Observation{{TrackID: 1, Box: boxAt(100, 90), FrameIndex: 1}})

	// Occluded for several frames, within the staleness threshold.
	for f := int64(2); f <= 8; f++ {
		e.ProcessFrame(f, nil)
	}

	s := e.ProcessFrame(9, []Observation{{TrackID: 1, Box: boxAt(100, 110), FrameIndex: 9}})
	require.Len(t, s.Crossings, 1, "track should resume history and be credited")
	assert.Equal(t, Counts{Enter: 1}, e.Counts())
}

func TestEvictionBeyondThresholdTreatsTrackAsNew(t *testing.T) {
	e := newTestEngine(t, Config{StaleAfterFrames: 3})

	e.ProcessFrame(1, []Observation{{TrackID: 1, Box: boxAt(100, 90), FrameIndex: 1}})

	// Absent long enough to be evicted.
	for f := int64(2); f <= 6; f++ {
		e.ProcessFrame(f, nil)
	}

	// Reappearing on the far side: with no retained history there is no
	// motion to evaluate, so nothing is credited.
	s := e.ProcessFrame(7, []Observation{{TrackID: 1, Box: boxAt(100, 110), FrameIndex: 7}})
	assert.Empty(t, s.Crossings)
	assert.Equal(t, Counts{}, e.Counts())
}

func TestMalformedObservationsAreSkipped(t *testing.T) {
	e := newTestEngine(t, Config{})

	e.ProcessFrame(1, []Observation{{TrackID: 1, Box: boxAt(100, 90), FrameIndex: 1}})

	s := e.ProcessFrame(2, []Observation{
		{TrackID: 9, Box: geom.BBox{XMin: 50, YMin: 50, XMax: 50, YMax: 80}, FrameIndex: 2}, // degenerate
		{TrackID: 8, Box: boxAt(20, 90), FrameIndex: 99},                                    // frame mismatch
		{TrackID: 1, Box: boxAt(100, 110), FrameIndex: 2},                                   // valid crossing
	})

	assert.Equal(t, 2, s.Rejected)
	require.Len(t, s.Crossings, 1, "valid observations in the frame must still be processed")
	assert.Equal(t, Counts{Enter: 1}, e.Counts())

	_, tracked := e.store.Get(8)
	assert.False(t, tracked, "rejected observations must not create track state")
}

func TestFrameRegressionRejectsFrame(t *testing.T) {
	e := newTestEngine(t, Config{})

	e.ProcessFrame(5, []Observation{{TrackID: 1, Box: boxAt(100, 90), FrameIndex: 5}})

	s := e.ProcessFrame(3, []Observation{{TrackID: 1, Box: boxAt(100, 110), FrameIndex: 3}})
	assert.Equal(t, 1, s.Rejected)
	assert.Equal(t, Counts{}, s.Counts)

	// The engine keeps working on subsequent in-order frames.
	s = e.ProcessFrame(6, []Observation{{TrackID: 1, Box: boxAt(100, 110), FrameIndex: 6}})
	assert.Len(t, s.Crossings, 1)
}

func TestStatsAndReset(t *testing.T) {
	e := newTestEngine(t, Config{})

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	e.now = func() time.Time { return now }
	e.startedAt = base

	e.ProcessFrame(1, []Observation{{TrackID: 1, Box: boxAt(100, 90), FrameIndex: 1}})
	e.ProcessFrame(2, []Observation{{TrackID: 1, Box: boxAt(100, 110), FrameIndex: 2}})

	now = base.Add(30 * time.Second)
	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Total)
	assert.Equal(t, uint64(2), stats.FramesProcessed)
	assert.Equal(t, 1, stats.ActiveTracks)
	assert.InDelta(t, 2.0, stats.PerMinute, 1e-9) // 1 crossing in 30s

	e.Reset()
	stats = e.Stats()
	assert.Equal(t, uint64(0), stats.Total)
	assert.Equal(t, uint64(0), stats.FramesProcessed)
	assert.Equal(t, 0, stats.ActiveTracks)

	// Counting works again after a reset, with no cross-run contamination.
	e.ProcessFrame(1, []Observation{{TrackID: 1, Box: boxAt(100, 90), FrameIndex: 1}})
	e.ProcessFrame(2, []Observation{{TrackID: 1, Box: boxAt(100, 110), FrameIndex: 2}})
	assert.Equal(t, Counts{Enter: 1}, e.Counts())
}
