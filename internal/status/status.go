// Package status provides a thread-safe status tracker for the kite-pilot
// daemon. It is read by the HTTP handlers, the websocket stream and the
// telemetry publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/kite-pilot/internal/logic"
)

// NetworkInfo contains the ground station's network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	CycleMs     int64
	TelemetryMs int64
	HeartbeatMs int64
	WatchdogMs  int64
	Broker      string
	HTTPAddr    string
	Source      string
	WindPort    string
	Hardware    bool
	MaxTension  float64
	Escalate    bool
}

// Flight is the control-side part of a snapshot.
type Flight struct {
	Pilot    logic.State
	Targets  logic.Targets
	Outputs  logic.Targets
	Attached bool
	Reading  logic.Reading
	Warnings []logic.Warning
	Cycles   uint64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	SessionID     string
	Flight        Flight
	MissingStages []string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker for one flight session.
func NewTracker(startTime time.Time, sessionID string, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			SessionID: sessionID,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetClock replaces the clock used to stamp snapshots.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Update stores the latest flight state. Called from runLoop after each
// control cycle.
func (t *Tracker) Update(f Flight) {
	warnings := make([]logic.Warning, len(f.Warnings))
	copy(warnings, f.Warnings)
	f.Warnings = warnings

	t.mu.Lock()
	t.snap.Flight = f
	t.mu.Unlock()
}

// SetMissingStages records the pipeline stages that missed their liveness
// deadline.
func (t *Tracker) SetMissingStages(stages []string) {
	missing := make([]string, len(stages))
	copy(missing, stages)

	t.mu.Lock()
	t.snap.MissingStages = missing
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set from the tracker's clock at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
