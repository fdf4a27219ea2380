package logic

// Detector converts per-sample evidence into a debounced occlusion state.
// It is not safe for concurrent use; a single polling worker owns it.
type Detector struct {
	region     int
	thresholds Thresholds
	occluded   bool
	count      int

	lastHist     Histogram
	lastVariance uint32
	samples      int
	eventCounts  EventCounts
}

// NewDetector creates a detector for one region, starting CLEAR with an empty debounce counter.
func NewDetector(region int, thresholds Thresholds) *Detector {
	return &Detector{
		region:     region,
		thresholds: thresholds,
	}
}

// Process evaluates one sample. It returns the event and true when the sample
// confirms a transition, otherwise false.
func (d *Detector) Process(input Input) (Event, bool) {
	variance := Variance(input.Hist[:])
	bright := input.Hist.Bright()

	d.lastHist = input.Hist
	d.lastVariance = variance
	d.samples++

	switch {
	case d.occluded && d.thresholds.SupportsClear(variance, bright):
		d.count++
		if d.count > ClearDebounce {
			return d.transition(false, input, variance), true
		}
	case !d.occluded && d.thresholds.SupportsOccluded(variance, bright):
		d.count++
		if d.count > OccludedDebounce {
			return d.transition(true, input, variance), true
		}
	default:
		// No evidence for the pending transition
		d.count = 0
	}
	return Event{}, false
}

func (d *Detector) transition(occluded bool, input Input, variance uint32) Event {
	d.occluded = occluded
	d.count = 0

	event := Event{
		Timestamp: input.Time,
		Region:    d.region,
		Occluded:  occluded,
		Variance:  variance,
		Bright:    input.Hist.Bright(),
	}
	if occluded {
		event.Type = EventOccluded
		d.eventCounts.Occluded++
	} else {
		event.Type = EventCleared
		d.eventCounts.Cleared++
	}
	return event
}

// Occluded returns the current confirmed state.
func (d *Detector) Occluded() bool {
	return d.occluded
}

// CurrentState returns the current confirmed state.
func (d *Detector) CurrentState() State {
	if d.occluded {
		return StateOccluded
	}
	return StateClear
}

// DebounceCount returns the number of consecutive samples supporting the pending transition.
func (d *Detector) DebounceCount() int {
	return d.count
}

// Thresholds returns the variance band in use.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// Snapshot returns a copy of the detector's state.
func (d *Detector) Snapshot() Snapshot {
	return Snapshot{
		Region:        d.region,
		State:         d.CurrentState(),
		DebounceCount: d.count,
		Thresholds:    d.thresholds,
		LastHist:      d.lastHist,
		LastVariance:  d.lastVariance,
		Samples:       d.samples,
		Counts:        d.eventCounts,
	}
}
