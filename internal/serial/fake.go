package serial

import (
	"sync"
	"time"
)

// FakePort is an in-memory Port for tests. Reads block briefly when no
// bytes are queued and then return ErrTimeout, mimicking the poll behavior
// of the real device. Safe for concurrent use.
type FakePort struct {
	mu       sync.Mutex
	pending  []byte
	writes   []string
	readErr  error
	writeErr error

	data   chan struct{}
	closed chan struct{}
}

// NewFakePort creates an open fake port with nothing to read.
func NewFakePort() *FakePort {
	return &FakePort{
		data:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Feed queues bytes for subsequent reads and wakes any blocked reader.
func (f *FakePort) Feed(s string) {
	f.mu.Lock()
	f.pending = append(f.pending, s...)
	f.mu.Unlock()
	f.wake()
}

// FailReads makes every subsequent Read return err.
func (f *FakePort) FailReads(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
	f.wake()
}

// FailWrites makes every subsequent Write return err.
func (f *FakePort) FailWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// Writes returns the raw byte strings written so far.
func (f *FakePort) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	copy(out, f.writes)
	return out
}

// Closed reports whether Close was called.
func (f *FakePort) Closed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *FakePort) wake() {
	select {
	case f.data <- struct{}{}:
	default:
	}
}

func (f *FakePort) Read(b []byte) (int, error) {
	for {
		if f.Closed() {
			return 0, ErrClosed
		}

		f.mu.Lock()
		if f.readErr != nil {
			err := f.readErr
			f.mu.Unlock()
			return 0, err
		}
		if len(f.pending) > 0 {
			n := copy(b, f.pending)
			f.pending = f.pending[n:]
			f.mu.Unlock()
			return n, nil
		}
		f.mu.Unlock()

		select {
		case <-f.data:
		case <-f.closed:
			return 0, ErrClosed
		case <-time.After(5 * time.Millisecond):
			return 0, ErrTimeout
		}
	}
}

func (f *FakePort) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, string(b))
	return len(b), nil
}

func (f *FakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}
