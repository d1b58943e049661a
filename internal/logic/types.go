// Package logic contains pure fault-detection logic for the filament monitor.
// This package has NO external dependencies (no GPIO, serial, OS, or
// time.Sleep). Time is always injectable via time.Time parameters.
package logic

import "time"

// Reason identifies which fault latched the monitor.
type Reason string

const (
	ReasonNone   Reason = "none"
	ReasonJam    Reason = "jam"
	ReasonRunout Reason = "runout"
)

// Command is a control request parsed from a firmware echo line or typed at
// the interactive console.
type Command string

const (
	CommandEnable  Command = "enable"
	CommandDisable Command = "disable"
	CommandReset   Command = "reset"
)

// EventType represents a monitor state transition.
type EventType string

const (
	EventJam       EventType = "JAM"
	EventRunout    EventType = "RUNOUT"
	EventAutoReset EventType = "AUTO_RESET"
)

// Event represents a state transition to be acted on by the caller
// (announced, published, and for faults delivered to the printer). Events
// are produced under the monitor lock but carry plain values so all I/O
// happens outside it.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Reason    Reason
	// SilentFor is the armed silence that declared a jam.
	SilentFor time.Duration
	// Sustained and Pulses describe the motion that satisfied an auto-reset.
	Sustained time.Duration
	Pulses    uint64
}

// IsFault reports whether the event latched a fault that needs the pause
// command delivered.
func (e Event) IsFault() bool {
	return e.Type == EventJam || e.Type == EventRunout
}

// Config holds the detection tunables. Durations are wall-clock.
type Config struct {
	// JamTimeout is the armed silence that declares a jam.
	JamTimeout time.Duration
	// ArmHold is how long a pulse keeps detection armed.
	ArmHold time.Duration

	// RequireActive gates arming on recent activity evidence from the
	// printer. ActiveRecent is how fresh that evidence must be.
	RequireActive bool
	ActiveRecent  time.Duration

	// AutoReset allows a jam latch to clear itself when motion resumes.
	AutoReset      bool
	ResetSustain   time.Duration
	ResetMinPulses uint64
	PostResetGrace time.Duration

	// PostTriggerGrace suppresses jam re-declaration after any trigger.
	PostTriggerGrace time.Duration
}

// DefaultConfig returns the stock tuning for an SFS v2.0 at typical print
// speeds.
func DefaultConfig() Config {
	return Config{
		JamTimeout:       850 * time.Millisecond,
		ArmHold:          1250 * time.Millisecond,
		RequireActive:    true,
		ActiveRecent:     120 * time.Second,
		AutoReset:        false,
		ResetSustain:     1500 * time.Millisecond,
		ResetMinPulses:   25,
		PostResetGrace:   600 * time.Millisecond,
		PostTriggerGrace: 2 * time.Second,
	}
}

// Snapshot is a point-in-time copy of the observable monitor state.
type Snapshot struct {
	Enabled        bool
	Latched        bool
	Reason         Reason
	Armed          bool
	Active         bool
	EverPulsed     bool
	PulseTotal     uint64
	LastPulseAge   time.Duration
	RunoutAsserted bool
	JamCount       uint64
	RunoutCount    uint64
	PendingAction  bool
	StartTime      time.Time
	Now            time.Time
}

// Uptime returns how long the monitor has been running at snapshot time.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}
