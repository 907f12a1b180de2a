package gpio

import "sync"

// FakeRelay is a test double that records every output change.
// Safe for concurrent use.
type FakeRelay struct {
	mu sync.Mutex

	on     bool
	writes []bool
	closed bool

	// SetError, if set, is returned by SetOutput and the output is left unchanged.
	SetError error

	// FailOn, if non-nil, is consulted before each write; a non-nil
	// result is returned and the output is left unchanged.
	FailOn func(on bool) error
}

// NewFakeRelay creates a FakeRelay in the off state.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{}
}

// SetOutput records the requested state.
func (f *FakeRelay) SetOutput(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetError != nil {
		return f.SetError
	}
	if f.FailOn != nil {
		if err := f.FailOn(on); err != nil {
			return err
		}
	}
	f.on = on
	f.writes = append(f.writes, on)
	return nil
}

// Close drives the fake off and marks it closed.
func (f *FakeRelay) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = false
	f.closed = true
	return nil
}

// On reports the current output.
func (f *FakeRelay) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// Writes returns a copy of all successful writes, oldest first.
func (f *FakeRelay) Writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.writes))
	copy(out, f.writes)
	return out
}

// Closed reports whether Close was called.
func (f *FakeRelay) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SetFailure replaces SetError under the lock.
func (f *FakeRelay) SetFailure(err error) {
	f.mu.Lock()
	f.SetError = err
	f.mu.Unlock()
}
