package mqtt

import (
	"sync"

	"github.com/sweeney/boiler-control/internal/logic"
)

// FakePublisher records published events for test assertions.
// Safe for concurrent use; read recorded values through the accessors.
type FakePublisher struct {
	mu sync.Mutex

	events         []logic.Event
	payloads       [][]byte
	systemEvents   []SystemEvent
	systemPayloads [][]byte

	publishErr       error
	publishSystemErr error
	closed           bool
	connected        bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the cycle event.
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

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected controls IsConnected.
func (f *FakePublisher) SetConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// SetErrors makes Publish and PublishSystem fail.
func (f *FakePublisher) SetErrors(publish, system error) {
	f.mu.Lock()
	f.publishErr = publish
	f.publishSystemErr = system
	f.mu.Unlock()
}

// Events returns the recorded cycle events.
func (f *FakePublisher) Events() []logic.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.Event(nil), f.events...)
}

// Payloads returns the recorded cycle event payloads.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

// SystemEvents returns the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns the recorded system event payloads.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
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
	f.closed = false
	f.publishErr = nil
	f.publishSystemErr = nil
	f.connected = false
}

// FakeSubscriber stands in for the broker side of telemetry: tests call
// Deliver to push a message to the handler if its topic is subscribed.
type FakeSubscriber struct {
	mu      sync.Mutex
	handler MessageHandler
	topics  map[string]bool
	calls   int
	err     error
}

// NewFakeSubscriber creates a FakeSubscriber feeding handler.
func NewFakeSubscriber(handler MessageHandler) *FakeSubscriber {
	return &FakeSubscriber{handler: handler, topics: map[string]bool{}}
}

// Resubscribe records the topic set.
func (f *FakeSubscriber) Resubscribe(topics []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.topics = make(map[string]bool, len(topics))
	for _, t := range topics {
		f.topics[t] = true
	}
	return nil
}

// SetError makes Resubscribe fail.
func (f *FakeSubscriber) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Subscribed reports whether topic is in the current set.
func (f *FakeSubscriber) Subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topics[topic]
}

// Calls returns how many times Resubscribe was called.
func (f *FakeSubscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Deliver hands a message to the handler if topic is subscribed. It
// reports whether the message was delivered.
func (f *FakeSubscriber) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	ok := f.topics[topic]
	h := f.handler
	f.mu.Unlock()

	if !ok || h == nil {
		return false
	}
	h(topic, payload)
	return true
}
