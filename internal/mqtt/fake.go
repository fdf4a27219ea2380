package mqtt

import (
	"sync"

	"github.com/sweeney/occlusion-sensor/internal/logic"
)

// RawMessage is a message sent with PublishRaw.
type RawMessage struct {
	Topic   string
	Payload []byte
}

// FakePublisher records published events for test assertions.
// It is safe for concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	events         []logic.Event
	payloads       [][]byte
	systemEvents   []SystemEvent
	systemPayloads [][]byte
	raw            []RawMessage
	subs           map[string]func([]byte)

	publishErr       error
	publishSystemErr error
	closed           bool
	connected        bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{subs: make(map[string]func([]byte))}
}

// Publish records the occlusion event.
func (f *FakePublisher) Publish(event logic.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.publishErr != nil {
		return f.publishErr
	}

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.publishSystemErr != nil {
		return f.publishSystemErr
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// PublishRaw records a raw message.
func (f *FakePublisher) PublishRaw(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = append(f.raw, RawMessage{Topic: topic, Payload: payload})
	return nil
}

// Subscribe records fn so tests can Deliver messages to it.
func (f *FakePublisher) Subscribe(topic string, fn func(payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = fn
	return nil
}

// Deliver calls the subscriber for topic, if any, and reports whether one existed.
func (f *FakePublisher) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	fn := f.subs[topic]
	f.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(payload)
	return true
}

// Events returns a copy of the recorded occlusion events.
func (f *FakePublisher) Events() []logic.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.Event(nil), f.events...)
}

// Payloads returns a copy of the recorded occlusion payloads.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

// SystemEvents returns a copy of the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns a copy of the recorded system payloads.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Raw returns a copy of the recorded raw messages.
func (f *FakePublisher) Raw() []RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RawMessage(nil), f.raw...)
}

// SetPublishError makes Publish fail with err (nil restores success).
func (f *FakePublisher) SetPublishError(err error) {
	f.mu.Lock()
	f.publishErr = err
	f.mu.Unlock()
}

// SetPublishSystemError makes PublishSystem fail with err.
func (f *FakePublisher) SetPublishSystemError(err error) {
	f.mu.Lock()
	f.publishSystemErr = err
	f.mu.Unlock()
}

// SetConnected controls the return value of IsConnected.
func (f *FakePublisher) SetConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded events and injected errors.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
	f.payloads = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.raw = nil
	f.closed = false
	f.publishErr = nil
	f.publishSystemErr = nil
	f.connected = false
}
