// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/filament-sensor/internal/logic"
)

// Topic is the MQTT topic for filament fault events.
const Topic = "printer/filament/sensor/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "printer/filament/sensor/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a fault event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Sensor SensorPayload `json:"sensor"`
}

// SensorPayload contains the fault event details. SilentForSeconds is set
// for JAM events, SustainedSeconds and Pulses for AUTO_RESET events.
type SensorPayload struct {
	Timestamp        string  `json:"timestamp"`
	Event            string  `json:"event"`
	Reason           string  `json:"reason"`
	SilentForSeconds float64 `json:"silent_for_seconds,omitempty"`
	SustainedSeconds float64 `json:"sustained_seconds,omitempty"`
	Pulses           uint64  `json:"pulses,omitempty"`
}

// FormatPayload creates the JSON payload for a fault event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Sensor: SensorPayload{
			Timestamp:        event.Timestamp.UTC().Format(time.RFC3339),
			Event:            string(event.Type),
			Reason:           string(event.Reason),
			SilentForSeconds: event.SilentFor.Seconds(),
			SustainedSeconds: event.Sustained.Seconds(),
			Pulses:           event.Pulses,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (the broker last will among them) that don't carry a
// full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
