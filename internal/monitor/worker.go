package monitor

import (
	"log"
	"time"

	"github.com/sweeney/occlusion-sensor/internal/isp"
	"github.com/sweeney/occlusion-sensor/internal/logic"
	"github.com/sweeney/occlusion-sensor/internal/status"
)

// worker is the single writer of one detector's state.
type worker struct {
	det      *logic.Detector
	source   isp.Source
	sinks    []Sink
	tracker  *status.Tracker
	interval time.Duration
	warmup   time.Duration
	now      func() time.Time

	failing bool // last query failed; used to log only the first of a run
}

func (w *worker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// Let the imaging pipeline settle before the first sample
	if !sleep(stop, w.warmup) {
		return
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		w.cycle()

		if !sleep(stop, w.interval) {
			return
		}
	}
}

// cycle runs one query and, if it succeeded, one detector step.
func (w *worker) cycle() {
	hist, err := w.source.Statistics()
	if err != nil {
		// No evidence: the debounce counter is neither advanced nor reset
		if !w.failing {
			log.Printf("monitor: statistics query failed: %v", err)
			w.failing = true
		}
		if w.tracker != nil {
			w.tracker.SampleFailed()
		}
		return
	}
	if w.failing {
		log.Printf("monitor: statistics query recovered")
		w.failing = false
	}

	event, ok := w.det.Process(logic.Input{Hist: hist, Time: w.now()})
	if w.tracker != nil {
		w.tracker.Update(w.det.Snapshot())
	}
	if !ok {
		return
	}

	if event.Occluded {
		log.Printf("monitor: occlusion detected region=%d variance=%d bright=%d", event.Region, event.Variance, event.Bright)
	} else {
		log.Printf("monitor: occlusion removed region=%d variance=%d bright=%d", event.Region, event.Variance, event.Bright)
	}
	w.notify(event)
}

// notify delivers event to every sink. Delivery is best-effort: failures are
// logged and the confirmed state is kept.
func (w *worker) notify(event logic.Event) {
	if len(w.sinks) == 0 {
		log.Printf("monitor: no sink configured, %s event not delivered", event.Type)
		return
	}
	for _, sink := range w.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Publish(event); err != nil {
			log.Printf("monitor: publish error: %v", err)
		}
	}
}

// sleep waits for d or until stop is closed. It returns false if stopped.
func sleep(stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
