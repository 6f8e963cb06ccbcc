// Package logic contains the pure flight logic for the kite autopilot.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrNotInitialized is returned by operations that need Begin to have run.
var ErrNotInitialized = errors.New("autopilot not initialized")

// ErrUnknownMode is returned when a mode name cannot be parsed.
var ErrUnknownMode = errors.New("unknown flight mode")

// Freshness is the validity capability shared by every sample type.
type Freshness struct {
	Timestamp time.Time
	Valid     bool
}

// IsRecent reports whether the sample is valid and no older than maxAge at now.
func (f Freshness) IsRecent(now time.Time, maxAge time.Duration) bool {
	if !f.Valid || f.Timestamp.IsZero() {
		return false
	}
	return now.Sub(f.Timestamp) <= maxAge
}

// OrientationSample is one attitude reading in degrees.
type OrientationSample struct {
	Freshness
	Roll  float64 // [-180, 180]
	Pitch float64 // [-90, 90]
	Yaw   float64 // [0, 360)
}

// LineSample is one tether reading. Freshness.Valid means a sample arrived;
// each channel carries its own validity.
type LineSample struct {
	Freshness
	Tension        float64 // Newtons
	Length         float64 // metres
	TensionValid   bool
	LengthValid    bool
	MaxTensionSeen float64
}

// ObserveTension records a raw tension value and raises the high-water mark.
func (l *LineSample) ObserveTension(tension float64) {
	if tension < 0 {
		tension = 0
	}
	l.Tension = tension
	l.TensionValid = true
	if tension > l.MaxTensionSeen {
		l.MaxTensionSeen = tension
	}
}

// WindSample is one anemometer reading.
type WindSample struct {
	Freshness
	Speed     float64 // m/s
	Direction float64 // degrees [0, 360)
	GustSpeed float64 // high-water mark of Speed
}

// ObserveSpeed records a raw wind speed and raises the gust high-water mark.
func (w *WindSample) ObserveSpeed(speed float64) {
	if speed < 0 {
		speed = 0
	}
	w.Speed = speed
	if speed > w.GustSpeed {
		w.GustSpeed = speed
	}
}

// Reading is the set of samples delivered to the control cycle.
type Reading struct {
	Orientation OrientationSample
	Line        LineSample
	Wind        WindSample
}

// WinchMode is the operating mode of the line-spooling actuator.
type WinchMode string

const (
	WinchGenerator WinchMode = "GENERATOR"
	WinchReelIn    WinchMode = "REEL_IN"
	WinchReelOut   WinchMode = "REEL_OUT"
	WinchBrake     WinchMode = "BRAKE"
	WinchIdle      WinchMode = "IDLE"
)

// Valid reports whether w is a known winch mode.
func (w WinchMode) Valid() bool {
	switch w {
	case WinchGenerator, WinchReelIn, WinchReelOut, WinchBrake, WinchIdle:
		return true
	}
	return false
}

// Mode is the autopilot flight mode.
type Mode string

const (
	ModeOff             Mode = "OFF"
	ModeStandby         Mode = "STANDBY"
	ModeLaunch          Mode = "LAUNCH"
	ModeLand            Mode = "LAND"
	ModeFigureEight     Mode = "FIGURE_EIGHT"
	ModeCircular        Mode = "CIRCULAR"
	ModePowerGeneration Mode = "POWER_GENERATION"
)

var modeLabels = map[Mode]string{
	ModeOff:             "Off",
	ModeStandby:         "Standby",
	ModeLaunch:          "Launching",
	ModeLand:            "Landing",
	ModeFigureEight:     "Figure eight",
	ModeCircular:        "Circular",
	ModePowerGeneration: "Power generation",
}

// Label is the human-readable status text for the mode.
func (m Mode) Label() string {
	if l, ok := modeLabels[m]; ok {
		return l
	}
	return "Unknown"
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := modeLabels[m]
	return ok
}

// Autonomous reports whether the autopilot computes its own targets in m.
func (m Mode) Autonomous() bool {
	return m != ModeOff
}

// ParseMode accepts a mode name in any case, with '-' or ' ' for '_'.
func ParseMode(s string) (Mode, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	m := Mode(norm)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

var modeCycle = []Mode{
	ModeOff, ModeStandby, ModeLaunch, ModeFigureEight,
	ModeCircular, ModePowerGeneration, ModeLand,
}

// NextMode returns the mode after m in the manual cycling order.
func NextMode(m Mode) Mode {
	for i, c := range modeCycle {
		if c == m {
			return modeCycle[(i+1)%len(modeCycle)]
		}
	}
	return ModeOff
}

// Actuator limits.
const (
	DirectionMin = -45.0
	DirectionMax = 45.0
	TrimMin      = -30.0
	TrimMax      = 30.0
	PowerMin     = 0.0
	PowerMax     = 100.0
)

// Targets is the actuator command produced by one control cycle.
type Targets struct {
	Direction float64
	Trim      float64
	Winch     WinchMode
	Power     float64
}

// Clamp returns t with every field inside its actuator limit.
func (t Targets) Clamp() Targets {
	t.Direction = Clamp(t.Direction, DirectionMin, DirectionMax)
	t.Trim = Clamp(t.Trim, TrimMin, TrimMax)
	t.Power = Clamp(t.Power, PowerMin, PowerMax)
	if !t.Winch.Valid() {
		t.Winch = WinchIdle
	}
	return t
}

// Clamp limits v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// State is the autopilot's externally visible state.
type State struct {
	Mode           Mode
	Completion     float64 // percent, Launch and Land only
	PowerGenerated float64 // watts, smoothed
	TotalEnergy    float64 // watt-hours
	SequenceStart  time.Time
	CycleCounter   uint32
	PatternStep    uint32
	FlightCycles   uint16
	StatusMessage  string
}

// Transition reasons.
const (
	ReasonCommand          = "COMMAND"
	ReasonSequenceComplete = "SEQUENCE_COMPLETE"
	ReasonEmergency        = "EMERGENCY"
)

// Transition records one mode change.
type Transition struct {
	Timestamp time.Time
	From      Mode
	To        Mode
	Reason    string
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp    time.Time
	Uptime       time.Duration
	Mode         Mode
	Transitions  int
	FlightCycles uint16
	TotalEnergy  float64
}
