// Package serial owns the printer link: opening the USB serial device,
// framing received bytes into lines, reconnecting with geometric backoff
// after any failure, and best-effort command delivery. The link never gives
// up; printers reboot and USB cables re-enumerate mid-print.
package serial

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotConnected is returned by Send while the link has no open port.
	ErrNotConnected = errors.New("serial: not connected")
	// ErrTimeout is returned by Port.Read when no bytes arrived within the
	// read timeout. It is not a disconnect.
	ErrTimeout = errors.New("serial: read timeout")
	// ErrClosed is returned by operations on a closed port.
	ErrClosed = errors.New("serial: port closed")
)

const (
	backoffFactor = 1.8
	tailCapacity  = 512
	// maxLineBytes bounds the accumulator when a connection streams garbage
	// with no newline in it.
	maxLineBytes = 4096
)

// Port is a byte-stream connection to the printer. Read blocks up to the
// configured read timeout and returns ErrTimeout when idle.
type Port interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// Dialer opens a fresh Port. The supervisor calls it once per connection
// attempt.
type Dialer func() (Port, error)

// PortConfig describes how to open the printer's serial device.
type PortConfig struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
	// AssertDTR and AssertRTS raise the modem control lines on open. They
	// default to deasserted because many printer boards wire DTR to the MCU
	// reset line and would reboot mid-print.
	AssertDTR bool
	AssertRTS bool
}

// Link is the self-healing connection to the printer. A supervisor
// goroutine dials (and redials) the port; a reader goroutine frames bytes
// into lines and hands them to the callback given to Start.
type Link struct {
	name string
	dial Dialer
	log  *slog.Logger

	onLine func(line string)

	mu   sync.Mutex
	port Port

	connected atomic.Bool

	tail *lineTail

	stop chan struct{}
	wg   sync.WaitGroup

	// Loop pacing, shortened by tests.
	idleDelay      time.Duration
	checkDelay     time.Duration
	backoffInitial time.Duration
	backoffCap     time.Duration
}

// NewLink creates a link for the named device. Nothing happens until Start.
func NewLink(name string, dial Dialer, logger *slog.Logger) *Link {
	return &Link{
		name:           name,
		dial:           dial,
		log:            logger,
		tail:           newLineTail(tailCapacity),
		stop:           make(chan struct{}),
		idleDelay:      100 * time.Millisecond,
		checkDelay:     200 * time.Millisecond,
		backoffInitial: 250 * time.Millisecond,
		backoffCap:     5 * time.Second,
	}
}

// Start launches the supervisor and reader goroutines. Received lines are
// delivered to onLine from the reader goroutine, one at a time, stripped of
// trailing whitespace; empty lines are dropped.
func (l *Link) Start(onLine func(line string)) {
	l.onLine = onLine
	l.wg.Add(2)
	go l.supervise()
	go l.readLines()
}

// Shutdown stops both goroutines and closes the port. Call at most once.
func (l *Link) Shutdown() {
	close(l.stop)
	l.closePort()
	l.wg.Wait()
}

// Connected reports whether the link currently has an open port.
func (l *Link) Connected() bool {
	return l.connected.Load()
}

// Send writes one command line to the printer, appending the newline the
// firmware expects if the caller did not. A write failure tears the port
// down so the supervisor redials.
func (l *Link) Send(line string) error {
	port := l.currentPort()
	if port == nil {
		return ErrNotConnected
	}
	out := line
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	if _, err := port.Write([]byte(out)); err != nil {
		l.log.Warn("serial write failed", "device", l.name, "err", err)
		l.closePort()
		return fmt.Errorf("serial: write %q: %w", line, err)
	}
	return nil
}

// Tail returns the retained recent lines received at or after since, oldest
// first.
func (l *Link) Tail(since time.Time) []TailLine {
	return l.tail.since(since)
}

// supervise keeps the port open: dial, back off on failure, and redial
// whenever the reader or a writer tears the connection down.
func (l *Link) supervise() {
	defer l.wg.Done()
	backoff := l.backoffInitial
	for {
		if l.stopped() {
			return
		}
		if l.Connected() {
			if !l.sleep(l.checkDelay) {
				return
			}
			continue
		}
		port, err := l.dial()
		if err != nil {
			l.log.Warn("serial open failed", "device", l.name, "err", err, "retry_in", backoff)
			if !l.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff, l.backoffCap)
			continue
		}
		l.setPort(port)
		backoff = l.backoffInitial
		l.log.Info("serial connected", "device", l.name)
	}
}

// readLines drains the port and frames complete lines. Read timeouts are
// normal idle; any other error drops the connection and discards the
// partial line, since a new connection starts mid-stream anyway.
func (l *Link) readLines() {
	defer l.wg.Done()
	buf := make([]byte, 512)
	var acc []byte
	for {
		if l.stopped() {
			return
		}
		port := l.currentPort()
		if port == nil {
			if !l.sleep(l.idleDelay) {
				return
			}
			continue
		}
		n, err := port.Read(buf)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			if l.stopped() {
				return
			}
			l.log.Warn("serial read failed", "device", l.name, "err", err)
			l.closePort()
			acc = acc[:0]
			if !l.sleep(l.checkDelay) {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}
		acc = append(acc, buf[:n]...)
		for {
			i := bytes.IndexByte(acc, '\n')
			if i < 0 {
				break
			}
			line := strings.TrimRight(string(acc[:i]), " \t\r")
			acc = append(acc[:0], acc[i+1:]...)
			if line == "" {
				continue
			}
			l.tail.push(time.Now(), line)
			if l.onLine != nil {
				l.onLine(line)
			}
		}
		if len(acc) > maxLineBytes {
			acc = acc[:0]
		}
	}
}

func (l *Link) currentPort() Port {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

func (l *Link) setPort(p Port) {
	l.mu.Lock()
	l.port = p
	l.mu.Unlock()
	l.connected.Store(true)
}

// closePort tears down the current port. Safe to call from any goroutine;
// extra calls are no-ops.
func (l *Link) closePort() {
	l.mu.Lock()
	p := l.port
	l.port = nil
	l.mu.Unlock()
	l.connected.Store(false)
	if p != nil {
		p.Close()
	}
}

func (l *Link) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

// sleep waits for d, returning false if the link was shut down first.
func (l *Link) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.stop:
		return false
	case <-timer.C:
		return true
	}
}

// nextBackoff grows the retry delay geometrically up to limit.
func nextBackoff(d, limit time.Duration) time.Duration {
	next := time.Duration(float64(d) * backoffFactor)
	if next > limit {
		return limit
	}
	return next
}
