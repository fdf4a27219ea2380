// Package status provides a thread-safe status tracker for the occlusion-sensor daemon.
// It is written by the polling worker and read by HTTP handlers, MQTT system
// events and control commands.
package status

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sweeney/occlusion-sensor/internal/logic"
)

// trendWindow is the number of recent variance values kept for trend statistics.
const trendWindow = 50

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	WarmupMs    int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Serial      string
	LEDPin      int
}

// Trend summarises recent variance values.
type Trend struct {
	Samples int
	Mean    float64
	StdDev  float64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Running       bool
	Detector      logic.Snapshot
	Counts        logic.EventCounts
	Samples       int
	SampleErrors  int
	LastSample    time.Time
	Trend         Trend
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// State returns the detector state, or "STOPPED" when the worker is not running.
func (s Snapshot) State() string {
	if !s.Running {
		return "STOPPED"
	}
	return string(s.Detector.State)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time

	// Totals from runs that have already stopped
	baseCounts  logic.EventCounts
	baseSamples int

	variances []float64
	next      int
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now:       time.Now,
		variances: make([]float64, 0, trendWindow),
	}
}

// Started records a fresh detector run.
func (t *Tracker) Started(det logic.Snapshot) {
	t.mu.Lock()
	t.snap.Running = true
	t.snap.Detector = det
	t.mu.Unlock()
}

// Stopped folds the finished run into the totals.
func (t *Tracker) Stopped() {
	t.mu.Lock()
	t.snap.Running = false
	t.baseCounts.Occluded += t.snap.Detector.Counts.Occluded
	t.baseCounts.Cleared += t.snap.Detector.Counts.Cleared
	t.baseSamples += t.snap.Detector.Samples
	t.snap.Detector.Counts = logic.EventCounts{}
	t.snap.Detector.Samples = 0
	t.mu.Unlock()
}

// Update records the detector state after a successful sample.
func (t *Tracker) Update(det logic.Snapshot) {
	t.mu.Lock()
	t.snap.Detector = det
	t.snap.LastSample = t.now()
	if len(t.variances) < trendWindow {
		t.variances = append(t.variances, float64(det.LastVariance))
	} else {
		t.variances[t.next] = float64(det.LastVariance)
	}
	t.next = (t.next + 1) % trendWindow
	t.mu.Unlock()
}

// SampleFailed counts a failed statistics query.
func (t *Tracker) SampleFailed() {
	t.mu.Lock()
	t.snap.SampleErrors++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Counts = logic.EventCounts{
		Occluded: t.baseCounts.Occluded + s.Detector.Counts.Occluded,
		Cleared:  t.baseCounts.Cleared + s.Detector.Counts.Cleared,
	}
	s.Samples = t.baseSamples + s.Detector.Samples
	s.Trend = trend(t.variances)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}

func trend(values []float64) Trend {
	tr := Trend{Samples: len(values)}
	switch len(values) {
	case 0:
	case 1:
		tr.Mean = values[0]
	default:
		tr.Mean, tr.StdDev = stat.MeanStdDev(values, nil)
	}
	return tr
}
