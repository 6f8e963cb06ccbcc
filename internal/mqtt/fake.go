package mqtt

import (
	"github.com/sweeney/kite-pilot/internal/logic"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	// Transitions contains all mode transitions that were published.
	Transitions []logic.Transition

	// Payloads contains the JSON payloads of the transitions.
	Payloads [][]byte

	// Telemetry contains every telemetry frame.
	Telemetry [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// TelemetryError, if set, will be returned by PublishTelemetry.
	TelemetryError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the transition.
func (f *FakePublisher) Publish(tr logic.Transition) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(tr)
	if err != nil {
		return err
	}
	f.Transitions = append(f.Transitions, tr)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishTelemetry records the frame.
func (f *FakePublisher) PublishTelemetry(payload []byte) error {
	if f.TelemetryError != nil {
		return f.TelemetryError
	}
	f.Telemetry = append(f.Telemetry, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages and errors.
func (f *FakePublisher) Reset() {
	f.Transitions = nil
	f.Payloads = nil
	f.Telemetry = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.TelemetryError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
