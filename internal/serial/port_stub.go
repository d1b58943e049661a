//go:build !linux

package serial

import "errors"

// OpenPort returns an error on non-Linux platforms.
func OpenPort(cfg PortConfig) (Port, error) {
	return nil, errors.New("serial: not supported on this platform (requires Linux)")
}
