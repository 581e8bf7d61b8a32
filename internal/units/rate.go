// Package units provides rate conversions and traffic-level banding for
// crossing counts.
package units

import "time"

// TrafficLevel bands a vehicles-per-minute rate for at-a-glance reporting.
type TrafficLevel string

const (
	TrafficLow    TrafficLevel = "low"
	TrafficMedium TrafficLevel = "medium"
	TrafficHigh   TrafficLevel = "high"
)

// Banding thresholds in vehicles per minute.
const (
	mediumThreshold = 20.0
	highThreshold   = 30.0
)

// PerMinute converts a total count over an elapsed duration to a per-minute
// rate. Returns 0 for non-positive durations.
func PerMinute(total uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(total) / elapsed.Minutes()
}

// LevelFor maps a vehicles-per-minute rate to a traffic level band.
func LevelFor(perMinute float64) TrafficLevel {
	switch {
	case perMinute < mediumThreshold:
		return TrafficLow
	case perMinute < highThreshold:
		return TrafficMedium
	default:
		return TrafficHigh
	}
}
