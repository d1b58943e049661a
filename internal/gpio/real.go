//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealInputs owns the sensor's GPIO lines on actual hardware.
type RealInputs struct {
	chip            *gpiocdev.Chip
	motion          *gpiocdev.Line
	runout          *gpiocdev.Line
	runoutActiveLow bool
}

// NewRealInputs requests the sensor lines and begins edge delivery. Motion
// pulses arrive on falling edges: the SFS encoder output is open-collector,
// so the line idles high on the pull-up and each pulse yanks it low. Runout
// edges arrive on both transitions so the debounced settle check can read
// whichever level the line ends up at.
//
// Callbacks run on the gpiocdev event goroutine and must not block.
func NewRealInputs(cfg Config, onPulse func(), onRunoutEdge func()) (*RealInputs, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	motion, err := chip.RequestLine(cfg.MotionPin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { onPulse() }),
	)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request motion pin %d: %w", cfg.MotionPin, err)
	}

	r := &RealInputs{
		chip:            chip,
		motion:          motion,
		runoutActiveLow: cfg.RunoutActiveLow,
	}

	if cfg.RunoutEnabled {
		// Active-low wiring needs the pull-up so the open switch reads
		// high; active-high wiring gets a pull-down for the same reason.
		bias := gpiocdev.WithPullDown
		if cfg.RunoutActiveLow {
			bias = gpiocdev.WithPullUp
		}
		runout, err := chip.RequestLine(cfg.RunoutPin,
			gpiocdev.AsInput,
			bias,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { onRunoutEdge() }),
		)
		if err != nil {
			motion.Close()
			chip.Close()
			return nil, fmt.Errorf("request runout pin %d: %w", cfg.RunoutPin, err)
		}
		r.runout = runout
	}

	return r, nil
}

// RunoutAsserted reads the live runout level, normalized for polarity.
func (r *RealInputs) RunoutAsserted() (bool, error) {
	if r.runout == nil {
		return false, nil
	}
	v, err := r.runout.Value()
	if err != nil {
		return false, fmt.Errorf("read runout pin: %w", err)
	}
	if r.runoutActiveLow {
		return v == 0, nil
	}
	return v != 0, nil
}

// Close releases GPIO resources.
// Reconfigures pins to input with pull-down (matching Pi boot defaults)
// before closing so edge delivery stops and the pins rest in a known state.
func (r *RealInputs) Close() error {
	var errs []error

	if r.motion != nil {
		if err := r.motion.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure motion pin: %w", err))
		}
		if err := r.motion.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close motion pin: %w", err))
		}
	}
	if r.runout != nil {
		if err := r.runout.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure runout pin: %w", err))
		}
		if err := r.runout.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close runout pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
