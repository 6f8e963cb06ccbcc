// Package mqtt publishes flight telemetry and mode transitions to an MQTT
// broker and accepts operator commands from it.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/kite-pilot/internal/command"
	"github.com/sweeney/kite-pilot/internal/logic"
)

// Topics used by the pilot.
const (
	TopicEvents    = "kite/pilot/events"
	TopicTelemetry = "kite/pilot/telemetry"
	TopicSystem    = "kite/pilot/system"
	TopicCommands  = "kite/pilot/commands"
)

// System event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventOffline     = "OFFLINE"
	EventReconnected = "RECONNECTED"
)

// Publisher publishes pilot output to MQTT.
type Publisher interface {
	// Publish sends a mode transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(tr logic.Transition) error

	// PublishTelemetry sends a pre-formatted telemetry frame.
	PublishTelemetry(payload []byte) error

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

// Payload is the MQTT message for a mode transition.
type Payload struct {
	Transition TransitionPayload `json:"transition"`
}

// TransitionPayload contains the transition details.
type TransitionPayload struct {
	Timestamp string `json:"timestamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason"`
	Label     string `json:"label"`
}

// FormatPayload creates the JSON payload for a mode transition.
func FormatPayload(tr logic.Transition) ([]byte, error) {
	payload := Payload{
		Transition: TransitionPayload{
			Timestamp: tr.Timestamp.UTC().Format(time.RFC3339Nano),
			From:      string(tr.From),
			To:        string(tr.To),
			Reason:    tr.Reason,
			Label:     tr.To.Label(),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
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

// willPayload is the retained last-will message the broker publishes if the
// pilot drops off without a clean shutdown.
func willPayload(connectedAt time.Time) []byte {
	data, _ := FormatSystemPayload(SystemEvent{
		Timestamp: connectedAt,
		Event:     EventOffline,
		Reason:    "LWT",
	})
	return data
}

// HandleCommand decodes a command message and dispatches it to h.
func HandleCommand(h command.Handler, payload []byte) error {
	c, err := command.Parse(payload)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	log.Printf("mqtt: command %s received", c.Kind)
	if err := command.Dispatch(h, c); err != nil {
		return fmt.Errorf("command %s: %w", c.Kind, err)
	}
	return nil
}
