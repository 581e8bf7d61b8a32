// Package feed supplies tracked-object observations to the counting engine.
//
// The canonical wire format is JSON lines: one Observation per line, emitted
// by the external detector+tracker in non-decreasing frame order. The package
// mirrors the real/mock source split used for hardware feeds so the engine
// can be driven by synthetic sequences in tests.
package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/crosswatch-data/crossing.report/internal/counter"
	"github.com/crosswatch-data/crossing.report/internal/monitoring"
)

// Frame is one frame's worth of observations, grouped by frame index.
type Frame struct {
	Index        int64
	Observations []counter.Observation
}

// Source yields frames in non-decreasing frame order. Next returns io.EOF
// once the feed is exhausted.
type Source interface {
	Next() (Frame, error)
	Close() error
}

// JSONLSource reads observations from a JSON-lines stream and groups
// consecutive lines by frame index. Malformed lines are logged and skipped;
// a bad line never aborts the feed.
type JSONLSource struct {
	scanner *bufio.Scanner
	closer  io.Closer

	pending   *counter.Observation
	lineNum   int
	malformed int
	done      bool
}

// NewJSONLSource wraps a reader producing one JSON observation per line.
func NewJSONLSource(rc io.ReadCloser) *JSONLSource {
	scanner := bufio.NewScanner(rc)
	// Observation lines are small, but leave headroom for future fields.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &JSONLSource{scanner: scanner, closer: rc}
}

// Open opens a JSON-lines observation file. The path "-" selects stdin.
func Open(path string) (*JSONLSource, error) {
	if path == "-" {
		return NewJSONLSource(io.NopCloser(os.Stdin)), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open observation feed: %w", err)
	}
	return NewJSONLSource(f), nil
}

// Next returns the next frame of observations. Lines whose frame index
// regresses below the frame being assembled are dropped at this boundary.
func (s *JSONLSource) Next() (Frame, error) {
	if s.done {
		return Frame{}, io.EOF
	}

	var frame Frame
	started := false

	if s.pending != nil {
		frame.Index = s.pending.FrameIndex
		frame.Observations = append(frame.Observations, *s.pending)
		s.pending = nil
		started = true
	}

	for s.scanner.Scan() {
		s.lineNum++
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var obs counter.Observation
		if err := json.Unmarshal(line, &obs); err != nil {
			monitoring.Logf("feed: skipping malformed line %d: %v", s.lineNum, err)
			s.malformed++
			continue
		}

		if !started {
			frame.Index = obs.FrameIndex
			frame.Observations = append(frame.Observations, obs)
			started = true
			continue
		}

		if obs.FrameIndex == frame.Index {
			frame.Observations = append(frame.Observations, obs)
			continue
		}
		if obs.FrameIndex < frame.Index {
			monitoring.Logf("feed: dropping line %d: frame index %d regressed below %d",
				s.lineNum, obs.FrameIndex, frame.Index)
			s.malformed++
			continue
		}

		// A later frame begins; hold the observation for the next call.
		held := obs
		s.pending = &held
		return frame, nil
	}

	if err := s.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("read observation feed: %w", err)
	}

	s.done = true
	if started {
		return frame, nil
	}
	return Frame{}, io.EOF
}

// Malformed returns how many lines were skipped so far.
func (s *JSONLSource) Malformed() int {
	return s.malformed
}

// Close closes the underlying reader.
func (s *JSONLSource) Close() error {
	return s.closer.Close()
}

// MockSource replays canned frames, for tests and dev mode.
type MockSource struct {
	frames []Frame
	next   int
}

// NewMockSource creates a source that yields the given frames in order.
func NewMockSource(frames ...Frame) *MockSource {
	return &MockSource{frames: frames}
}

// Next returns the next canned frame or io.EOF.
func (m *MockSource) Next() (Frame, error) {
	if m.next >= len(m.frames) {
		return Frame{}, io.EOF
	}
	f := m.frames[m.next]
	m.next++
	return f, nil
}

// Close is a no-op.
func (m *MockSource) Close() error {
	return nil
}
