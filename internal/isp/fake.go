package isp

import (
	"errors"
	"sync"

	"github.com/sweeney/occlusion-sensor/internal/logic"
)

// Sample is one scripted query result: a histogram, or Err if the query fails.
type Sample struct {
	Hist logic.Histogram
	Err  error
}

// FakeSource is a test double that returns scripted statistics.
// It is safe for use from the polling worker and the test goroutine at once.
type FakeSource struct {
	mu      sync.Mutex
	samples []Sample
	index   int
	calls   int
	closed  bool
}

// NewFakeSource creates a FakeSource with the given samples.
func NewFakeSource(samples ...Sample) *FakeSource {
	return &FakeSource{samples: samples}
}

// Repeat returns n copies of sample.
func Repeat(sample Sample, n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = sample
	}
	return out
}

// Statistics returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeSource) Statistics() (logic.Histogram, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if len(f.samples) == 0 {
		return logic.Histogram{}, errors.New("no samples configured")
	}

	sample := f.samples[f.index]
	if f.index < len(f.samples)-1 {
		f.index++
	}
	return sample.Hist, sample.Err
}

// Append adds samples to the end of the script.
func (f *FakeSource) Append(samples ...Sample) {
	f.mu.Lock()
	f.samples = append(f.samples, samples...)
	f.mu.Unlock()
}

// Calls returns the number of Statistics calls so far.
func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeSource) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset rewinds the script and clears counters.
func (f *FakeSource) Reset() {
	f.mu.Lock()
	f.index = 0
	f.calls = 0
	f.closed = false
	f.mu.Unlock()
}
