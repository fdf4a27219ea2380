// Package logic contains pure business logic for camera occlusion detection.
// This package has NO external dependencies (no ISP, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// HistogramBuckets is the number of exposure histogram buckets reported by the ISP.
const HistogramBuckets = 5

// BrightBucket is the index of the brightest histogram bucket.
const BrightBucket = HistogramBuckets - 1

// Histogram is one exposure statistics snapshot (bucket counts, darkest first).
type Histogram [HistogramBuckets]uint16

// Bright returns the occupancy of the brightest bucket.
func (h Histogram) Bright() uint16 {
	return h[BrightBucket]
}

// State represents the confirmed occlusion state of a region.
type State string

const (
	StateClear    State = "CLEAR"
	StateOccluded State = "OCCLUDED"
)

// EventType represents a confirmed state transition.
type EventType string

const (
	EventOccluded EventType = "OCCLUDED"
	EventCleared  EventType = "CLEARED"
)

// Event is emitted once per confirmed transition.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Region    int
	Occluded  bool
	// Variance and Bright describe the sample that confirmed the transition.
	Variance uint32
	Bright   uint16
}

// Input represents a single statistics sample.
type Input struct {
	Hist Histogram
	Time time.Time
}

// RegionConfig is the per-region detector configuration.
type RegionConfig struct {
	Sensitivity int
}

// EventCounts tracks the number of each event type since the detector started.
type EventCounts struct {
	Occluded int
	Cleared  int
}

// Snapshot is a point-in-time view of a detector.
type Snapshot struct {
	Region        int
	State         State
	DebounceCount int
	Thresholds    Thresholds
	LastHist      Histogram
	LastVariance  uint32
	Samples       int
	Counts        EventCounts
}
