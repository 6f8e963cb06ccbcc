package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/kite-pilot/internal/actuator"
	"github.com/sweeney/kite-pilot/internal/control"
	"github.com/sweeney/kite-pilot/internal/logic"
	"github.com/sweeney/kite-pilot/internal/mqtt"
	"github.com/sweeney/kite-pilot/internal/pipeline"
	"github.com/sweeney/kite-pilot/internal/sensors"
	"github.com/sweeney/kite-pilot/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "Field")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "Field",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoUnset(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestParseLines(t *testing.T) {
	tests := []struct {
		in      string
		want    [4]int
		wantErr bool
	}{
		{"17,27,22,23", [4]int{17, 27, 22, 23}, false},
		{" 5, 6 ,13,19", [4]int{5, 6, 13, 19}, false},
		{"17,27,22", [4]int{}, true},
		{"17,27,22,23,24", [4]int{}, true},
		{"17,x,22,23", [4]int{}, true},
		{"17,-1,22,23", [4]int{}, true},
	}
	for _, tt := range tests {
		got, err := parseLines(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLines(%q): err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseLines(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOpenSource(t *testing.T) {
	src, err := openSource("sim", time.Now())
	if err != nil {
		t.Fatalf("sim source: %v", err)
	}
	src.Close()

	if _, err := openSource("imu", time.Now()); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestOpenActuatorsWithoutHardware(t *testing.T) {
	act, err := openActuators(config{winchLines: "17,27,22,23", winchRate: 400})
	if err != nil {
		t.Fatalf("openActuators: %v", err)
	}
	if err := act.Begin(); err == nil {
		t.Error("expected Begin to fail with no devices")
	}
	if act.Attached() {
		t.Error("actuators should not be attached")
	}
}

func TestFlightFrom(t *testing.T) {
	v := control.View{
		State:    logic.State{Mode: logic.ModeLaunch, Completion: 40},
		Targets:  logic.Targets{Direction: 3, Trim: 5, Winch: logic.WinchReelOut, Power: 30},
		Outputs:  logic.Targets{Direction: 2},
		Attached: true,
		Warnings: []logic.Warning{{Kind: logic.WarnHighTension, Message: "high"}},
		Cycles:   12,
	}
	f := flightFrom(v)
	if f.Pilot.Mode != logic.ModeLaunch || f.Pilot.Completion != 40 {
		t.Errorf("pilot = %+v", f.Pilot)
	}
	if f.Targets != v.Targets || f.Outputs != v.Outputs {
		t.Errorf("targets/outputs not copied: %+v %+v", f.Targets, f.Outputs)
	}
	if !f.Attached || f.Cycles != 12 || len(f.Warnings) != 1 {
		t.Errorf("flight = %+v", f)
	}
}

// --- runSensors tests ---

func TestRunSensorsPublishesLatest(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := sensors.NewFakeSource(
		testReading(1),
		testReading(2),
	)
	slot := pipeline.NewSlot[logic.Reading]()
	wd := pipeline.NewWatchdog(t0, pipeline.StageSensor)
	tick := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- runSensors(ctx, src, slot, wd, func() time.Time { return t0.Add(time.Second) }, tick)
	}()
	tick <- time.Time{}
	tick <- time.Time{}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("runSensors: %v", err)
	}

	r, ok := slot.Take()
	if !ok {
		t.Fatal("expected a reading in the slot")
	}
	if r.Line.Tension != 2 {
		t.Errorf("tension = %v, want latest sample 2", r.Line.Tension)
	}
	if slot.Overwritten() != 1 {
		t.Errorf("overwritten = %d, want 1", slot.Overwritten())
	}
	if last, ok := wd.LastBeat(pipeline.StageSensor); !ok || !last.Equal(t0.Add(time.Second)) {
		t.Errorf("sensor beat = %v, %v", last, ok)
	}
}

func TestRunSensorsReadError(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := sensors.NewFakeSource(testReading(1))
	src.ReadError = errors.New("bus fault")
	slot := pipeline.NewSlot[logic.Reading]()
	wd := pipeline.NewWatchdog(t0, pipeline.StageSensor)
	tick := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- runSensors(ctx, src, slot, wd, func() time.Time { return t0 }, tick)
	}()
	tick <- time.Time{}
	tick <- time.Time{}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("runSensors: %v", err)
	}

	if src.Reads != 2 {
		t.Errorf("reads = %d, want 2", src.Reads)
	}
	if _, ok := slot.Take(); ok {
		t.Error("no reading should be published on error")
	}
	if _, ok := wd.LastBeat(pipeline.StageSensor); ok {
		t.Error("sensor stage should not beat on error")
	}
}

// --- runLoop tests ---

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testReading(tension float64) logic.Reading {
	var r logic.Reading
	r.Orientation.Valid = true
	r.Orientation.Pitch = 30
	r.Line.Valid = true
	r.Line.LengthValid = true
	r.Line.Length = 50
	r.Line.ObserveTension(tension)
	r.Wind.Valid = true
	r.Wind.Direction = 270
	r.Wind.ObserveSpeed(8)
	return r
}

// loopRig runs runLoop in a goroutine against fakes.
type loopRig struct {
	t         *testing.T
	clock     *testClock
	ctl       *control.Controller
	slot      *pipeline.Slot[logic.Reading]
	wd        *pipeline.Watchdog
	pub       *mqtt.FakePublisher
	tracker   *status.Tracker
	telemetry chan time.Time
	watch     chan time.Time
	sig       chan os.Signal
	errCh     chan error
}

func newLoopRig(t *testing.T, pub *mqtt.FakePublisher, heartbeat time.Duration) *loopRig {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &testClock{t: start}
	act := actuator.New(actuator.NewFakeServo(), actuator.NewFakeServo(), actuator.NewFakeStepper(), 400)
	ctl := control.New(control.DefaultConfig(), act, start, clock.now)
	if err := ctl.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tracker := status.NewTracker(start, "test-session", status.Config{Broker: "tcp://test:1883"})
	tracker.SetClock(clock.now)

	r := &loopRig{
		t:         t,
		clock:     clock,
		ctl:       ctl,
		slot:      pipeline.NewSlot[logic.Reading](),
		wd:        pipeline.NewWatchdog(start, pipeline.StageSensor, pipeline.StageControl, pipeline.StageDisplay),
		pub:       pub,
		tracker:   tracker,
		telemetry: make(chan time.Time),
		watch:     make(chan time.Time),
		sig:       make(chan os.Signal, 1),
		errCh:     make(chan error, 1),
	}
	go func() {
		r.errCh <- runLoop(loopDeps{
			ctl:             ctl,
			slot:            r.slot,
			watchdog:        r.wd,
			publisher:       pub,
			mqttStatus:      pub,
			tracker:         tracker,
			heartbeat:       heartbeat,
			watchdogTimeout: 5 * time.Second,
			now:             clock.now,
		}, r.telemetry, r.watch, r.sig)
	}()
	return r
}

// sample publishes a reading stamped with the current clock and waits for the
// loop to run a cycle on it.
func (r *loopRig) sample(tension float64) {
	r.t.Helper()
	want := r.ctl.View().Cycles + 1
	reading := testReading(tension)
	now := r.clock.now()
	reading.Orientation.Timestamp = now
	reading.Line.Timestamp = now
	reading.Wind.Timestamp = now
	r.slot.Put(reading)

	deadline := time.Now().Add(2 * time.Second)
	for r.ctl.View().Cycles < want {
		if time.Now().After(deadline) {
			r.t.Fatalf("timed out waiting for cycle %d", want)
		}
		time.Sleep(time.Millisecond)
	}
}

// stop signals the loop and waits for it to return.
func (r *loopRig) stop(s os.Signal) {
	r.t.Helper()
	r.sig <- s
	if err := <-r.errCh; err != nil {
		r.t.Fatalf("runLoop returned error: %v", err)
	}
}

func TestRunLoopShutdown(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			pub := mqtt.NewFakePublisher()
			pub.Connected = true
			r := newLoopRig(t, pub, 0)
			r.stop(tt.sig)

			if len(pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
			}
			ev := pub.SystemEvents[0]
			if ev.Event != mqtt.EventShutdown || ev.Reason != tt.want || !ev.Retained {
				t.Errorf("event = %+v", ev)
			}
			if !bytes.Contains(ev.RawPayload, []byte(`"event":"SHUTDOWN"`)) {
				t.Errorf("payload missing event: %s", ev.RawPayload)
			}
			if !bytes.Contains(ev.RawPayload, []byte(`"reason":"`+tt.want+`"`)) {
				t.Errorf("payload missing reason: %s", ev.RawPayload)
			}
			if !bytes.Contains(ev.RawPayload, []byte(`"connected":true`)) {
				t.Errorf("payload should report mqtt connected: %s", ev.RawPayload)
			}
		})
	}
}

func TestRunLoopCyclePublishesTransitions(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	r := newLoopRig(t, pub, 0)

	if err := r.ctl.OnModeChange(logic.ModeStandby); err != nil {
		t.Fatalf("OnModeChange: %v", err)
	}
	r.sample(100)
	r.clock.advance(50 * time.Millisecond)
	r.sample(120)
	r.stop(syscall.SIGTERM)

	if len(pub.Transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(pub.Transitions))
	}
	tr := pub.Transitions[0]
	if tr.From != logic.ModeOff || tr.To != logic.ModeStandby || tr.Reason != logic.ReasonCommand {
		t.Errorf("transition = %+v", tr)
	}

	snap := r.tracker.Snapshot()
	if snap.Flight.Pilot.Mode != logic.ModeStandby {
		t.Errorf("tracker mode = %s, want STANDBY", snap.Flight.Pilot.Mode)
	}
	if snap.Flight.Cycles != 2 {
		t.Errorf("tracker cycles = %d, want 2", snap.Flight.Cycles)
	}
	if _, ok := r.wd.LastBeat(pipeline.StageControl); !ok {
		t.Error("control stage should have beaten")
	}
}

func TestRunLoopPublishError(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	r := newLoopRig(t, pub, 0)

	if err := r.ctl.OnModeChange(logic.ModeStandby); err != nil {
		t.Fatalf("OnModeChange: %v", err)
	}
	r.sample(100)
	r.sample(100)
	r.stop(syscall.SIGTERM)

	if len(pub.Transitions) != 0 {
		t.Errorf("expected no recorded transitions, got %d", len(pub.Transitions))
	}
	if r.ctl.CurrentMode() != logic.ModeStandby {
		t.Errorf("mode = %s, want STANDBY despite publish failure", r.ctl.CurrentMode())
	}
	if len(pub.SystemEvents) != 1 {
		t.Errorf("shutdown event should still be published, got %d", len(pub.SystemEvents))
	}
}

func TestRunLoopTelemetry(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	r := newLoopRig(t, pub, 0)

	r.sample(150)
	r.telemetry <- time.Time{}
	r.clock.advance(250 * time.Millisecond)
	r.telemetry <- time.Time{}
	r.stop(syscall.SIGTERM)

	if len(pub.Telemetry) != 2 {
		t.Fatalf("expected 2 telemetry frames, got %d", len(pub.Telemetry))
	}
	if !bytes.Contains(pub.Telemetry[0], []byte(`"mode":"OFF"`)) {
		t.Errorf("frame missing mode: %s", pub.Telemetry[0])
	}
	if !bytes.Contains(pub.Telemetry[1], []byte(`"tension_n":150`)) {
		t.Errorf("frame missing tension: %s", pub.Telemetry[1])
	}
	last, ok := r.wd.LastBeat(pipeline.StageDisplay)
	if !ok || !last.Equal(r.clock.now()) {
		t.Errorf("display beat = %v, %v", last, ok)
	}
}

func TestRunLoopTelemetryErrorKeepsRunning(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.TelemetryError = errors.New("offline")
	r := newLoopRig(t, pub, 0)

	r.telemetry <- time.Time{}
	r.telemetry <- time.Time{}
	r.sample(100)
	r.stop(syscall.SIGTERM)

	if len(pub.Telemetry) != 0 {
		t.Errorf("expected no frames, got %d", len(pub.Telemetry))
	}
	if _, ok := r.wd.LastBeat(pipeline.StageDisplay); !ok {
		t.Error("display stage should beat even when publishing fails")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	r := newLoopRig(t, pub, time.Minute)

	r.sample(100)
	r.clock.advance(time.Minute)
	r.sample(100)
	r.clock.advance(time.Second)
	r.sample(100)
	r.stop(syscall.SIGTERM)

	var heartbeats []mqtt.SystemEvent
	for _, ev := range pub.SystemEvents {
		if ev.Event == mqtt.EventHeartbeat {
			heartbeats = append(heartbeats, ev)
		}
	}
	if len(heartbeats) != 1 {
		t.Fatalf("expected 1 heartbeat, got %d", len(heartbeats))
	}
	if !bytes.Contains(heartbeats[0].RawPayload, []byte(`"event":"HEARTBEAT"`)) {
		t.Errorf("heartbeat payload: %s", heartbeats[0].RawPayload)
	}
	if heartbeats[0].Retained {
		t.Error("heartbeat should not be retained")
	}
}

func TestRunLoopHeartbeatIncludesNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "10.0.0.7")

	pub := mqtt.NewFakePublisher()
	r := newLoopRig(t, pub, time.Minute)
	r.clock.advance(time.Minute)
	r.sample(100)
	r.stop(syscall.SIGTERM)

	if len(pub.SystemEvents) != 2 {
		t.Fatalf("expected heartbeat and shutdown, got %d events", len(pub.SystemEvents))
	}
	if !bytes.Contains(pub.SystemEvents[0].RawPayload, []byte(`"ip":"10.0.0.7"`)) {
		t.Errorf("heartbeat payload missing network: %s", pub.SystemEvents[0].RawPayload)
	}
}

func TestRunLoopWatchdog(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	r := newLoopRig(t, pub, 0)

	r.clock.advance(6 * time.Second)
	r.watch <- time.Time{}
	// The watch case runs to completion before the next receive.
	r.watch <- time.Time{}

	missing := r.tracker.Snapshot().MissingStages
	want := []string{"control", "display", "sensor"}
	if len(missing) != len(want) {
		t.Fatalf("missing = %v, want %v", missing, want)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Errorf("missing[%d] = %q, want %q", i, missing[i], want[i])
		}
	}

	r.wd.Beat(pipeline.StageSensor, r.clock.now())
	r.sample(100)
	r.telemetry <- time.Time{}
	r.watch <- time.Time{}
	r.watch <- time.Time{}

	if missing := r.tracker.Snapshot().MissingStages; len(missing) != 0 {
		t.Errorf("missing = %v, want none", missing)
	}
	r.stop(syscall.SIGTERM)
}

func TestRunLoopEmergencyDuringFlight(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	r := newLoopRig(t, pub, 0)

	if err := r.ctl.OnModeChange(logic.ModeLaunch); err != nil {
		t.Fatalf("OnModeChange: %v", err)
	}
	r.sample(100)
	r.ctl.OnEmergency()
	r.sample(100)
	r.stop(syscall.SIGTERM)

	if len(pub.Transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(pub.Transitions))
	}
	if tr := pub.Transitions[1]; tr.To != logic.ModeOff || tr.Reason != logic.ReasonEmergency {
		t.Errorf("second transition = %+v", tr)
	}
	if msg := r.tracker.Snapshot().Flight.Pilot.StatusMessage; msg != "Emergency stop" {
		t.Errorf("status message = %q", msg)
	}
}
