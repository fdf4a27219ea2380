// Package monitor runs the occlusion detector against a statistics source on
// a single background worker and delivers confirmed transitions to sinks.
package monitor

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/occlusion-sensor/internal/isp"
	"github.com/sweeney/occlusion-sensor/internal/logic"
	"github.com/sweeney/occlusion-sensor/internal/status"
)

// Default cadence.
const (
	DefaultInterval = 100 * time.Millisecond
	DefaultWarmup   = 2 * time.Second
)

var (
	ErrAlreadyRunning = errors.New("monitor: already running")
	ErrNotRunning     = errors.New("monitor: not running")
	ErrNoRegions      = errors.New("monitor: no regions configured")
)

// Sink receives confirmed transitions. Publish must not block indefinitely.
type Sink interface {
	Publish(event logic.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event logic.Event) error

// Publish calls f(event).
func (f SinkFunc) Publish(event logic.Event) error {
	return f(event)
}

// Options configures a Monitor.
type Options struct {
	Source isp.Source
	Sinks  []Sink
	// Tracker, if set, is updated after every cycle.
	Tracker *status.Tracker
	// Interval is the delay between cycles; Warmup delays the first sample.
	Interval time.Duration
	Warmup   time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Monitor owns the polling worker. Start, Stop and Reconfigure may be called
// from any goroutine; detector state is only touched by the worker.
type Monitor struct {
	source   isp.Source
	sinks    []Sink
	tracker  *status.Tracker
	interval time.Duration
	warmup   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	regions []logic.RegionConfig
}

// New creates a stopped Monitor.
func New(opts Options) *Monitor {
	m := &Monitor{
		source:   opts.Source,
		sinks:    opts.Sinks,
		tracker:  opts.Tracker,
		interval: opts.Interval,
		warmup:   opts.Warmup,
		now:      opts.Now,
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.warmup < 0 {
		m.warmup = 0
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Start validates regions, derives thresholds from the first region and
// starts the worker. Only region 0 is monitored.
func (m *Monitor) Start(regions []logic.RegionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(regions)
}

func (m *Monitor) startLocked(regions []logic.RegionConfig) error {
	if m.stop != nil {
		return ErrAlreadyRunning
	}
	if len(regions) == 0 {
		return ErrNoRegions
	}

	thresholds, err := logic.NewThresholds(regions[0].Sensitivity)
	if err != nil {
		return fmt.Errorf("region 0: %w", err)
	}
	if len(regions) > 1 {
		log.Printf("monitor: %d regions configured, only region 0 is monitored", len(regions))
	}

	m.regions = append([]logic.RegionConfig(nil), regions...)
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	log.Printf("monitor: starting sensitivity=%d threshold=%d upper=%d lower=%d interval=%v warmup=%v",
		thresholds.Sensitivity, thresholds.Base, thresholds.Upper, thresholds.Lower, m.interval, m.warmup)

	det := logic.NewDetector(0, thresholds)
	if m.tracker != nil {
		m.tracker.Started(det.Snapshot())
	}

	w := &worker{
		det:      det,
		source:   m.source,
		sinks:    m.sinks,
		tracker:  m.tracker,
		interval: m.interval,
		warmup:   m.warmup,
		now:      m.now,
	}
	go w.run(m.stop, m.done)
	return nil
}

// Stop signals the worker and blocks until it has exited. An in-flight cycle
// is allowed to finish; no further cycle starts.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

func (m *Monitor) stopLocked() error {
	if m.stop == nil {
		return ErrNotRunning
	}

	close(m.stop)
	<-m.done
	m.stop = nil
	m.done = nil

	if m.tracker != nil {
		m.tracker.Stopped()
	}
	log.Printf("monitor: stopped")
	return nil
}

// Reconfigure is Stop followed by Start. Hysteresis state restarts at CLEAR.
// Invalid regions are rejected before the running worker is touched.
func (m *Monitor) Reconfigure(regions []logic.RegionConfig) error {
	if len(regions) == 0 {
		return ErrNoRegions
	}
	if _, err := logic.NewThresholds(regions[0].Sensitivity); err != nil {
		return fmt.Errorf("region 0: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.stopLocked(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return m.startLocked(regions)
}

// Running reports whether the worker is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

// Regions returns the configuration of the most recent Start.
func (m *Monitor) Regions() []logic.RegionConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logic.RegionConfig(nil), m.regions...)
}
