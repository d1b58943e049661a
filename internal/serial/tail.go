package serial

import (
	"sync"
	"time"
)

// TailLine is one received line with its arrival time.
type TailLine struct {
	Time time.Time
	Text string
}

// lineTail is a fixed-capacity ring of recently received lines. The doctor
// uses it to verify the printer echoes announcements back. Safe for
// concurrent use.
type lineTail struct {
	mu    sync.Mutex
	buf   []TailLine
	head  int // next write position
	count int
}

func newLineTail(capacity int) *lineTail {
	return &lineTail{
		buf: make([]TailLine, capacity),
	}
}

func (t *lineTail) push(ts time.Time, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf[t.head] = TailLine{Time: ts, Text: text}
	t.head = (t.head + 1) % len(t.buf)
	if t.count < len(t.buf) {
		t.count++
	}
}

// since returns the retained lines received at or after cutoff, oldest
// first.
func (t *lineTail) since(cutoff time.Time) []TailLine {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []TailLine
	// Oldest item is at (head - count) mod capacity.
	start := (t.head - t.count + len(t.buf)) % len(t.buf)
	for i := 0; i < t.count; i++ {
		line := t.buf[(start+i)%len(t.buf)]
		if line.Time.Before(cutoff) {
			continue
		}
		result = append(result, line)
	}
	return result
}
