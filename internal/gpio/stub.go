//go:build !linux

package gpio

import "errors"

// RealInputs is not available on non-Linux platforms.
type RealInputs struct{}

// NewRealInputs returns an error on non-Linux platforms.
func NewRealInputs(cfg Config, onPulse func(), onRunoutEdge func()) (*RealInputs, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// RunoutAsserted is not implemented on non-Linux platforms.
func (r *RealInputs) RunoutAsserted() (bool, error) {
	return false, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealInputs) Close() error {
	return nil
}
