package gpio

import "sync"

// FakeInputs is a test double that delivers scripted edges and levels. It
// is wired to callbacks at construction, mirroring how the real inputs are
// opened. Safe for concurrent use.
type FakeInputs struct {
	onPulse      func()
	onRunoutEdge func()

	mu       sync.Mutex
	asserted bool
	readErr  error
	closed   bool
}

// NewFakeInputs creates a fake delivering to the given callbacks. Either
// callback may be nil.
func NewFakeInputs(onPulse, onRunoutEdge func()) *FakeInputs {
	return &FakeInputs{onPulse: onPulse, onRunoutEdge: onRunoutEdge}
}

// Pulse delivers n motion pulses.
func (f *FakeInputs) Pulse(n int) {
	for i := 0; i < n; i++ {
		if f.onPulse != nil {
			f.onPulse()
		}
	}
}

// RunoutEdge delivers one runout edge.
func (f *FakeInputs) RunoutEdge() {
	if f.onRunoutEdge != nil {
		f.onRunoutEdge()
	}
}

// SetAsserted scripts the level returned by RunoutAsserted.
func (f *FakeInputs) SetAsserted(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asserted = v
}

// SetReadError makes RunoutAsserted return err until cleared with nil.
func (f *FakeInputs) SetReadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// RunoutAsserted returns the scripted level.
func (f *FakeInputs) RunoutAsserted() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return false, f.readErr
	}
	return f.asserted, nil
}

// Close marks the inputs as closed.
func (f *FakeInputs) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (f *FakeInputs) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
