package gpio

import "sync"

// FakeIndicator records indicator changes for test assertions.
type FakeIndicator struct {
	mu      sync.Mutex
	history []bool
	on      bool
	closed  bool
	err     error
}

// NewFakeIndicator creates an indicator that starts off.
func NewFakeIndicator() *FakeIndicator {
	return &FakeIndicator{}
}

// Set records the requested state.
func (f *FakeIndicator) Set(occluded bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.on = occluded
	f.history = append(f.history, occluded)
	return nil
}

// On reports the current indicator state.
func (f *FakeIndicator) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// History returns every state passed to Set, oldest first.
func (f *FakeIndicator) History() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.history...)
}

// SetError makes Set fail with err.
func (f *FakeIndicator) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Close turns the indicator off and marks it closed.
func (f *FakeIndicator) Close() error {
	f.mu.Lock()
	f.on = false
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeIndicator) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
