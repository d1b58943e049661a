// Package status provides a thread-safe status tracker for the filament-sensor daemon.
// It is designed to be read by HTTP handlers, MQTT system events, and one-shot
// status mode without touching the monitor directly.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/filament-sensor/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Port             string
	Baud             int
	MotionPin        int
	RunoutPin        int
	RunoutEnabled    bool
	JamTimeoutMs     int64
	ArmHoldMs        int64
	RunoutDebounceMs int64
	HeartbeatMs      int64
	RequireActive    bool
	AutoReset        bool
	DryRun           bool
	PauseGcode       string
	Broker           string
	HTTPAddr         string
	MetricsFile      string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Monitor         logic.Snapshot
	SerialConnected bool
	MQTTConnected   bool
	StartTime       time.Time
	Now             time.Time
	Config          Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the monitor snapshot and printer link state.
// Called from runLoop on every tick.
func (t *Tracker) Update(mon logic.Snapshot, serialConnected bool) {
	t.mu.Lock()
	t.snap.Monitor = mon
	t.snap.SerialConnected = serialConnected
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call; the
// Monitor field is as of the last Update.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
