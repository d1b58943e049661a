package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event            string       `json:"event,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	Enabled          bool         `json:"enabled"`
	Latched          bool         `json:"latched"`
	TriggerReason    string       `json:"trigger_reason"`
	Armed            bool         `json:"armed"`
	Active           bool         `json:"active"`
	PulseTotal       uint64       `json:"pulse_total"`
	LastPulseAgeSecs float64      `json:"last_pulse_age_seconds"`
	RunoutAsserted   bool         `json:"runout_asserted"`
	PendingAction    bool         `json:"pending_action"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
	StartTime        string       `json:"start_time"`
	Timestamp        string       `json:"timestamp"`
	Serial           SerialStatus `json:"serial"`
	MQTT             MQTTStatus   `json:"mqtt"`
	Counts           CountsJSON   `json:"event_counts"`
	Config           ConfigJSON   `json:"config"`
}

// SerialStatus reports printer link state.
type SerialStatus struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port"`
	Baud      int    `json:"baud"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of fault counts.
type CountsJSON struct {
	Jams    uint64 `json:"jams"`
	Runouts uint64 `json:"runouts"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	MotionPin        int    `json:"motion_gpio"`
	RunoutPin        int    `json:"runout_gpio"`
	RunoutEnabled    bool   `json:"runout_enabled"`
	JamTimeoutMs     int64  `json:"jam_timeout_ms"`
	ArmHoldMs        int64  `json:"arm_hold_ms"`
	RunoutDebounceMs int64  `json:"runout_debounce_ms"`
	HeartbeatMs      int64  `json:"heartbeat_ms"`
	RequireActive    bool   `json:"require_active"`
	AutoReset        bool   `json:"auto_reset"`
	DryRun           bool   `json:"dry_run"`
	PauseGcode       string `json:"pause_gcode"`
	HTTPAddr         string `json:"http_addr,omitempty"`
	MetricsFile      string `json:"metrics_file,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	reason := string(snap.Monitor.Reason)
	if reason == "" {
		reason = "none"
	}

	// A reset re-seeds the pulse clock, so the age can briefly run negative
	// against a stale snapshot time. Report it as zero.
	age := snap.Monitor.LastPulseAge
	if age < 0 {
		age = 0
	}

	return StatusInner{
		Enabled:          snap.Monitor.Enabled,
		Latched:          snap.Monitor.Latched,
		TriggerReason:    reason,
		Armed:            snap.Monitor.Armed,
		Active:           snap.Monitor.Active,
		PulseTotal:       snap.Monitor.PulseTotal,
		LastPulseAgeSecs: roundSeconds(age),
		RunoutAsserted:   snap.Monitor.RunoutAsserted,
		PendingAction:    snap.Monitor.PendingAction,
		UptimeSeconds:    int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:        snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:        snap.Now.UTC().Format(time.RFC3339),
		Serial:           SerialStatus{Connected: snap.SerialConnected, Port: snap.Config.Port, Baud: snap.Config.Baud},
		MQTT:             MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:           CountsJSON{Jams: snap.Monitor.JamCount, Runouts: snap.Monitor.RunoutCount},
		Config: ConfigJSON{
			MotionPin:        snap.Config.MotionPin,
			RunoutPin:        snap.Config.RunoutPin,
			RunoutEnabled:    snap.Config.RunoutEnabled,
			JamTimeoutMs:     snap.Config.JamTimeoutMs,
			ArmHoldMs:        snap.Config.ArmHoldMs,
			RunoutDebounceMs: snap.Config.RunoutDebounceMs,
			HeartbeatMs:      snap.Config.HeartbeatMs,
			RequireActive:    snap.Config.RequireActive,
			AutoReset:        snap.Config.AutoReset,
			DryRun:           snap.Config.DryRun,
			PauseGcode:       snap.Config.PauseGcode,
			HTTPAddr:         snap.Config.HTTPAddr,
			MetricsFile:      snap.Config.MetricsFile,
		},
	}
}

// roundSeconds converts a duration to seconds with millisecond precision.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
