//go:build linux

package serial

import (
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// devicePort is a raw 8N1 termios serial port.
type devicePort struct {
	mu          sync.Mutex
	fd          int
	closed      bool
	readTimeout time.Duration
}

// OpenPort opens and configures the printer's serial device.
func OpenPort(cfg PortConfig) (Port, error) {
	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS2)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	// Input flags - disable all input processing
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY

	// Output flags - disable all output processing
	t.Oflag &^= unix.OPOST

	// Control flags - 8N1, no hardware flow control
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	// Local flags - raw mode
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	// BOTHER with explicit speed fields takes any rate, including the
	// 250000 baud common on printer boards.
	t.Cflag &^= unix.CBAUD
	t.Cflag |= unix.BOTHER
	t.Ispeed = uint32(cfg.Baud)
	t.Ospeed = uint32(cfg.Baud)

	// Reads return whatever is buffered; poll supplies the timeout.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1

	if err := unix.IoctlSetTermios(fd, unix.TCSETS2, t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}

	// Clear non-blocking flag after configuration
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 100 * time.Millisecond
	}
	p := &devicePort{fd: fd, readTimeout: readTimeout}

	setModemLine(fd, unix.TIOCM_DTR, cfg.AssertDTR)
	setModemLine(fd, unix.TIOCM_RTS, cfg.AssertRTS)

	return p, nil
}

// setModemLine asserts or deasserts one modem control bit. Errors are
// ignored: many USB serial adapters reject the modem control ioctls.
func setModemLine(fd, bit int, assert bool) {
	status, err := unix.IoctlGetInt(fd, unix.TIOCMGET)
	if err != nil {
		return
	}
	if assert {
		status |= bit
	} else {
		status &^= bit
	}
	_ = unix.IoctlSetPointerInt(fd, unix.TIOCMSET, status)
}

// Read reads up to len(buf) bytes, waiting at most the read timeout.
// Returns ErrTimeout when the port is merely idle.
func (p *devicePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	timeout := p.readTimeout
	p.mu.Unlock()

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return 0, ErrTimeout
		}
		return 0, fmt.Errorf("serial: poll: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return 0, io.EOF
	}

	n, err = unix.Read(fd, buf)
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return 0, ErrTimeout
		}
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	if n == 0 {
		// Poll said readable but nothing came: the device is gone.
		return 0, io.EOF
	}
	return n, nil
}

// Write writes buf to the port in full.
func (p *devicePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}

	total := 0
	for total < len(buf) {
		n, err := unix.Write(p.fd, buf[total:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return total, fmt.Errorf("serial: write: %w", err)
		}
		total += n
	}
	return total, nil
}

// Close closes the device. Further reads and writes return ErrClosed.
func (p *devicePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := unix.Close(p.fd); err != nil {
		return fmt.Errorf("serial: close: %w", err)
	}
	return nil
}
