// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/occlusion-sensor/internal/logic"
)

// EventName identifies occlusion notifications on the wire.
const EventName = "video_occlusion_event"

// Topics holds the MQTT topics used by the daemon.
type Topics struct {
	Events   string // occlusion events
	System   string // lifecycle events (STARTUP, HEARTBEAT, SHUTDOWN, OFFLINE)
	Control  string // inbound control commands
	Response string // control command responses
}

// DefaultTopics returns the default topic layout.
func DefaultTopics() Topics {
	return Topics{
		Events:   "camera/occlusion/events",
		System:   "camera/occlusion/system",
		Control:  "camera/occlusion/control",
		Response: "camera/occlusion/response",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an occlusion event to the broker.
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

// Payload is the MQTT message for an occlusion event.
type Payload struct {
	Event     string      `json:"event"`
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Body      PayloadBody `json:"body"`
}

// PayloadBody wraps the region state.
type PayloadBody struct {
	Event RegionState `json:"event"`
}

// RegionState is the confirmed state of one region.
type RegionState struct {
	Region int  `json:"region"`
	State  bool `json:"state"`
}

// newEventID is replaced in tests.
var newEventID = uuid.NewString

// FormatPayload creates the JSON payload for an occlusion event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Event:     EventName,
		ID:        newEventID(),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Body: PayloadBody{
			Event: RegionState{Region: event.Region, State: event.Occluded},
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (OFFLINE, RECONNECTED) that don't carry a full status snapshot.
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
