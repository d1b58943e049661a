// Package gpio provides the filament sensor's inputs with hardware
// abstraction. The real implementation uses the Linux GPIO character device
// and delivers edges as kernel events. The fake implementation allows
// testing without hardware.
package gpio

// Pin defaults (BCM numbering, stock SFS v2.0 hookup).
const (
	DefaultChip      = "gpiochip0"
	DefaultMotionPin = 26 // motion encoder output
	DefaultRunoutPin = 27 // runout switch output
)

// Config describes the sensor wiring.
type Config struct {
	Chip      string
	MotionPin int

	// RunoutPin is ignored when RunoutEnabled is false (two-wire hookups
	// that only connect the motion signal).
	RunoutPin     int
	RunoutEnabled bool

	// RunoutActiveLow marks wiring where a low level means filament
	// absent. The stock SFS switch grounds the line and relies on the
	// pull-up, so this defaults on.
	RunoutActiveLow bool
}

// Inputs is the hardware side of the sensor. Edges are delivered to the
// callbacks registered at open time.
type Inputs interface {
	// RunoutAsserted reads the live, polarity-normalized runout level
	// (true = filament absent). Returns false when no runout line is
	// wired.
	RunoutAsserted() (bool, error)

	// Close releases GPIO resources and stops edge delivery.
	Close() error
}
