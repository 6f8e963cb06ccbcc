package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/kite-pilot/internal/logic"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sampleFlight() Flight {
	var r logic.Reading
	r.Orientation = logic.OrientationSample{Freshness: logic.Freshness{Timestamp: start, Valid: true}, Roll: 5, Pitch: 40, Yaw: 180}
	r.Line.Valid = true
	r.Line.TensionValid = true
	r.Line.Tension = 320
	r.Line.MaxTensionSeen = 410
	r.Wind.Valid = true
	r.Wind.Speed = 9
	r.Wind.GustSpeed = 12

	return Flight{
		Pilot: logic.State{
			Mode:           logic.ModeFigureEight,
			StatusMessage:  "Figure eight pattern",
			PowerGenerated: 1234.5,
			TotalEnergy:    2.5,
			CycleCounter:   400,
			PatternStep:    400,
			FlightCycles:   1,
		},
		Targets:  logic.Targets{Direction: 12, Trim: 15, Winch: logic.WinchGenerator, Power: 62},
		Outputs:  logic.Targets{Direction: 12, Trim: 15, Winch: logic.WinchGenerator, Power: 62},
		Attached: true,
		Reading:  r,
		Warnings: []logic.Warning{{Kind: logic.WarnHighTension, Message: "tension 410.0 N above 400.0 N"}},
		Cycles:   400,
	}
}

func TestNewTracker(t *testing.T) {
	cfg := Config{CycleMs: 50, TelemetryMs: 250, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, "session-1", cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.SessionID != "session-1" {
		t.Errorf("SessionID: got %q", snap.SessionID)
	}
	if snap.Config.CycleMs != 50 || snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config: got %+v", snap.Config)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.Flight.Pilot.Mode != "" {
		t.Errorf("expected empty flight initially, got %+v", snap.Flight.Pilot)
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(start, "", Config{})
	f := sampleFlight()
	tr.Update(f)

	snap := tr.Snapshot()
	if snap.Flight.Pilot.Mode != logic.ModeFigureEight {
		t.Errorf("Mode: got %q", snap.Flight.Pilot.Mode)
	}
	if snap.Flight.Targets != f.Targets {
		t.Errorf("Targets: got %+v, want %+v", snap.Flight.Targets, f.Targets)
	}
	if len(snap.Flight.Warnings) != 1 {
		t.Errorf("Warnings: got %v", snap.Flight.Warnings)
	}
}

func TestUpdateCopiesWarnings(t *testing.T) {
	tr := NewTracker(start, "", Config{})
	f := sampleFlight()
	tr.Update(f)

	f.Warnings[0].Message = "changed"
	if got := tr.Snapshot().Flight.Warnings[0].Message; got == "changed" {
		t.Error("tracker shares the caller's warning slice")
	}
}

func TestSetMissingStages(t *testing.T) {
	tr := NewTracker(start, "", Config{})
	stages := []string{"display"}
	tr.SetMissingStages(stages)
	stages[0] = "sensor"

	snap := tr.Snapshot()
	if len(snap.MissingStages) != 1 || snap.MissingStages[0] != "display" {
		t.Errorf("MissingStages: got %v", snap.MissingStages)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(start, "", Config{})
	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}
	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUsesClock(t *testing.T) {
	tr := NewTracker(start, "", Config{})
	tr.SetClock(fixedClock(start.Add(90 * time.Second)))

	snap := tr.Snapshot()
	if snap.Uptime() != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", snap.Uptime())
	}
}

func TestSnapshotNowDefaultsToWallClock(t *testing.T) {
	tr := NewTracker(time.Now(), "", Config{})
	before := time.Now()
	snap := tr.Snapshot()
	if snap.Now.Before(before) {
		t.Errorf("Now %v is before %v", snap.Now, before)
	}
}

func TestFormatJSON(t *testing.T) {
	snap := Snapshot{
		SessionID:     "abc",
		Flight:        sampleFlight(),
		MissingStages: []string{"display"},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{CycleMs: 50, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", MaxTension: 500},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status

	if s.SessionID != "abc" {
		t.Errorf("SessionID: got %q", s.SessionID)
	}
	if s.Pilot.Mode != "FIGURE_EIGHT" || s.Pilot.Label != "Figure eight" {
		t.Errorf("Pilot: got %+v", s.Pilot)
	}
	if s.Pilot.Energy != 2.5 || s.Pilot.FlightCycles != 1 || s.Pilot.Cycles != 400 {
		t.Errorf("Pilot counters: got %+v", s.Pilot)
	}
	if s.Targets.Winch != "GENERATOR" || s.Targets.Power != 62 {
		t.Errorf("Targets: got %+v", s.Targets)
	}
	if !s.Outputs.Attached || s.Outputs.Direction != 12 {
		t.Errorf("Outputs: got %+v", s.Outputs)
	}
	if s.Sensors.Line.MaxTension != 410 || s.Sensors.Wind.Gust != 12 {
		t.Errorf("Sensors: got %+v", s.Sensors)
	}
	if len(s.Warnings) != 1 || s.Warnings[0].Kind != "HIGH_TENSION" {
		t.Errorf("Warnings: got %+v", s.Warnings)
	}
	if len(s.StagesMissing) != 1 || s.StagesMissing[0] != "display" {
		t.Errorf("StagesMissing: got %v", s.StagesMissing)
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if !s.MQTT.Connected || s.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("MQTT: got %+v", s.MQTT)
	}
	if s.Event != "" || s.Reason != "" {
		t.Errorf("expected no event/reason for web format, got %q/%q", s.Event, s.Reason)
	}
	if s.Network != nil {
		t.Error("expected network omitted when nil")
	}
}

func TestFormatJSONEmptyFlight(t *testing.T) {
	snap := Snapshot{StartTime: start, Now: start.Add(time.Second)}
	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Pilot.Mode != "OFF" || parsed.Status.Targets.Winch != "UNKNOWN" {
		t.Errorf("got %+v / %+v", parsed.Status.Pilot, parsed.Status.Targets)
	}
	// Empty lists are rendered as [] so the dashboard can iterate them.
	for _, key := range []string{`"warnings": []`, `"stages_missing": []`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("expected %s in %s", key, data)
		}
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{Flight: sampleFlight(), StartTime: start, Now: start.Add(time.Hour)}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")
	if strings.Contains(string(data), "\n") {
		t.Error("system event payload should be compact")
	}

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("event/reason: got %q/%q", parsed.Status.Event, parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 3600 {
		t.Errorf("UptimeSeconds: got %d", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	data := FormatStatusEvent(Snapshot{StartTime: start, Now: start}, "STARTUP", "")

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["status"]["reason"]; ok {
		t.Error("reason should be omitted when empty")
	}
	if raw["status"]["event"] != "STARTUP" {
		t.Errorf("event: got %v", raw["status"]["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: start,
		Now:       start,
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.4.1", Status: "connected", SSID: "field"},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Network == nil {
		t.Fatal("expected network")
	}
	if parsed.Status.Network.IP != "192.168.4.1" || parsed.Status.Network.SSID != "field" {
		t.Errorf("Network: got %+v", parsed.Status.Network)
	}
}

func TestFormatTelemetry(t *testing.T) {
	snap := Snapshot{Flight: sampleFlight(), StartTime: start, Now: start.Add(1500 * time.Millisecond)}

	var parsed TelemetryJSON
	if err := json.Unmarshal(FormatTelemetry(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	tel := parsed.Telemetry
	if tel.Timestamp != "2026-01-01T00:00:01.5Z" {
		t.Errorf("Timestamp: got %q", tel.Timestamp)
	}
	if tel.Mode != "FIGURE_EIGHT" || tel.Power != 1234.5 {
		t.Errorf("got %+v", tel)
	}
	if tel.Targets.Direction != 12 || tel.Sensors.Orientation.Pitch != 40 {
		t.Errorf("targets/sensors: %+v %+v", tel.Targets, tel.Sensors)
	}
	if len(tel.Warnings) != 1 {
		t.Errorf("Warnings: got %v", tel.Warnings)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), "", Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		f := sampleFlight()
		for i := 0; i < 1000; i++ {
			f.Cycles = uint64(i)
			tr.Update(f)
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetMissingStages([]string{"display"})
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = FormatTelemetry(snap)
		}
	}()

	wg.Wait()
}
