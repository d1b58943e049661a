// Package metrics exposes daemon state as Prometheus metrics. The tick loop
// feeds it status snapshots; collection reads the last stored copy, so a
// scrape never contends with the monitor or the serial link.
package metrics

import (
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/filament-sensor/internal/logic"
	"github.com/sweeney/filament-sensor/internal/status"
)

// Recorder mirrors the latest status snapshot into a Prometheus registry.
type Recorder struct {
	mu   sync.RWMutex
	snap status.Snapshot

	reg *prom.Registry
}

// NewRecorder constructs a Recorder and registers its metrics with reg
// (a fresh registry when nil). All metrics are collect-time functions over
// the last observed snapshot.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{reg: reg}

	gauge := func(name, help string, value func(status.Snapshot) float64) prom.GaugeFunc {
		return prom.NewGaugeFunc(prom.GaugeOpts{
			Namespace: "sfs",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(r.latest()) })
	}
	counter := func(name, help string, value func(status.Snapshot) float64) prom.CounterFunc {
		return prom.NewCounterFunc(prom.CounterOpts{
			Namespace: "sfs",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(r.latest()) })
	}

	reg.MustRegister(
		gauge("connected", "Serial link to the printer is up.", func(s status.Snapshot) float64 {
			return boolValue(s.SerialConnected)
		}),
		gauge("enabled", "Detection is enabled.", func(s status.Snapshot) float64 {
			return boolValue(s.Monitor.Enabled)
		}),
		gauge("latched", "A fault is latched.", func(s status.Snapshot) float64 {
			return boolValue(s.Monitor.Latched)
		}),
		gauge("trigger_reason", "Latched fault reason: 0 none, 1 jam, 2 runout.", func(s status.Snapshot) float64 {
			return reasonValue(s.Monitor.Reason)
		}),
		gauge("armed", "Jam detection is armed by recent motion.", func(s status.Snapshot) float64 {
			return boolValue(s.Monitor.Armed)
		}),
		counter("pulse_total", "Motion pulses observed since startup.", func(s status.Snapshot) float64 {
			return float64(s.Monitor.PulseTotal)
		}),
		counter("jam_count", "Jam faults declared since startup.", func(s status.Snapshot) float64 {
			return float64(s.Monitor.JamCount)
		}),
		gauge("runout_asserted", "Runout switch currently reads no filament.", func(s status.Snapshot) float64 {
			return boolValue(s.Monitor.RunoutAsserted)
		}),
		counter("runout_count", "Runout faults declared since startup.", func(s status.Snapshot) float64 {
			return float64(s.Monitor.RunoutCount)
		}),
		gauge("last_pulse_age_seconds", "Seconds since the last motion pulse.", func(s status.Snapshot) float64 {
			age := s.Monitor.LastPulseAge.Seconds()
			if age < 0 {
				return 0
			}
			return age
		}),
		gauge("pending_action", "A pause command is queued for the next reconnect.", func(s status.Snapshot) float64 {
			return boolValue(s.Monitor.PendingAction)
		}),
	)
	return r
}

// Observe stores the snapshot that subsequent collections will report.
func (r *Recorder) Observe(snap status.Snapshot) {
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
}

// Registry returns the registry the Recorder's metrics are registered with.
func (r *Recorder) Registry() *prom.Registry {
	return r.reg
}

func (r *Recorder) latest() status.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func reasonValue(reason logic.Reason) float64 {
	switch reason {
	case logic.ReasonJam:
		return 1
	case logic.ReasonRunout:
		return 2
	default:
		return 0
	}
}
