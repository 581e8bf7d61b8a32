package counter

import "github.com/crosswatch-data/crossing.report/internal/geom"

// TrackPoint is a single centroid sample in a track's history.
type TrackPoint struct {
	FrameIndex int64
	Pos        geom.Point
}

// TrackRecord is the engine-owned state for one tracker identity.
//
// Counted transitions false to true at most once per track id, ever. A record
// may be evicted without ever being counted, which is not an error: the
// vehicle never crossed, or the tracker lost it for good.
type TrackRecord struct {
	TrackID int64

	// History holds the most recent centroid samples, oldest first, bounded
	// by the store's retention depth.
	History []TrackPoint

	Counted bool

	FirstSeenFrame int64
	LastSeenFrame  int64
}

// Last returns the most recent history point. Callers must check that the
// history is non-empty.
func (r *TrackRecord) Last() TrackPoint {
	return r.History[len(r.History)-1]
}

// Store owns all per-track mutable state, keyed by tracker identity. It is
// not safe for concurrent use; the frame driver is the only caller and frames
// are processed strictly in order.
type Store struct {
	tracks      map[int64]*TrackRecord
	retention   int
	staleFrames int64
}

// NewStore creates a track store retaining at most retention history points
// per track and evicting records not seen for more than staleFrames frames.
func NewStore(retention int, staleFrames int64) *Store {
	if retention < 2 {
		retention = 2
	}
	return &Store{
		tracks:      make(map[int64]*TrackRecord),
		retention:   retention,
		staleFrames: staleFrames,
	}
}

// Update appends a centroid sample to the track's history, creating the record
// on first sight of the id, and returns the record. History beyond the
// retention depth is evicted oldest-first.
func (s *Store) Update(trackID int64, pos geom.Point, frameIndex int64) *TrackRecord {
	rec, ok := s.tracks[trackID]
	if !ok {
		rec = &TrackRecord{
			TrackID:        trackID,
			History:        make([]TrackPoint, 0, s.retention),
			FirstSeenFrame: frameIndex,
		}
		s.tracks[trackID] = rec
	}

	rec.History = append(rec.History, TrackPoint{FrameIndex: frameIndex, Pos: pos})
	if len(rec.History) > s.retention {
		rec.History = rec.History[len(rec.History)-s.retention:]
	}
	rec.LastSeenFrame = frameIndex
	return rec
}

// Get returns the record for a track id, if present.
func (s *Store) Get(trackID int64) (*TrackRecord, bool) {
	rec, ok := s.tracks[trackID]
	return rec, ok
}

// EvictStale removes records whose last observation is more than the staleness
// threshold behind currentFrame and returns how many were removed. The tracker
// contract guarantees an id is not reused for the same physical object after
// such a gap, so a reappearing id is treated as a brand-new track.
func (s *Store) EvictStale(currentFrame int64) int {
	evicted := 0
	for id, rec := range s.tracks {
		if currentFrame-rec.LastSeenFrame > s.staleFrames {
			delete(s.tracks, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live track records.
func (s *Store) Len() int {
	return len(s.tracks)
}

// Reset discards all track records.
func (s *Store) Reset() {
	s.tracks = make(map[int64]*TrackRecord)
}
