// Package mqtt carries sensor telemetry in and cycle events out, with
// abstractions for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/boiler-control/internal/logic"
)

// Topic is the MQTT topic for heating cycle events.
const Topic = "home/boiler/control/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "home/boiler/control/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a heating cycle event to the broker.
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

// MessageHandler receives one telemetry message.
type MessageHandler func(topic string, payload []byte)

// Subscriber delivers telemetry for a changing set of topics.
type Subscriber interface {
	// Resubscribe replaces the subscribed topic set.
	Resubscribe(topics []string) error
}

// SystemEvent represents a system lifecycle event (startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g. "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // pre-formatted JSON; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload is the MQTT message payload for a cycle event.
type Payload struct {
	Cycle CyclePayload `json:"cycle"`
}

// CyclePayload contains the cycle event details.
type CyclePayload struct {
	Timestamp       string `json:"timestamp"`
	Event           string `json:"event"`
	CycleID         string `json:"cycle_id"`
	Trigger         string `json:"trigger"`
	DurationSeconds int64  `json:"duration_seconds"`
	ElapsedSeconds  *int64 `json:"elapsed_seconds,omitempty"`
}

// FormatPayload creates the JSON payload for a cycle event.
func FormatPayload(event logic.Event) ([]byte, error) {
	p := CyclePayload{
		Timestamp:       event.Timestamp.UTC().Format(time.RFC3339),
		Event:           string(event.Type),
		CycleID:         event.CycleID,
		Trigger:         event.Trigger,
		DurationSeconds: int64(event.Duration / time.Second),
	}
	if event.Type != logic.EventCycleStart {
		elapsed := int64(event.Elapsed.Round(time.Second) / time.Second)
		p.ElapsedSeconds = &elapsed
	}
	return json.Marshal(Payload{Cycle: p})
}

// SystemPayload is the payload for system events that don't carry a full
// status snapshot (LWT, RECONNECTED).
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
// If event.RawPayload is set, it is returned directly.
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
