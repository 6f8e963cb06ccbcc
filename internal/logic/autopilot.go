package logic

import (
	"math"
	"time"
)

// Flight pattern constants.
const (
	EightAmplitude = 35.0 // degrees
	EightTrim      = 15.0
	EightPowerBase = 50.0
	EightPowerSpan = 30.0

	CircularRadius = 30.0 // degrees
	CircularTrim   = 10.0
	CircularPower  = 60.0

	GenerationEfficiency = 0.8
	generationPhaseLen   = 100 // cycles per power-generation phase

	nominalWindSpeed = 10.0  // m/s, wind factor 1.0
	nominalTension   = 500.0 // N, tension factor 1.0
	patternLoop      = 360   // pattern steps per completed loop

	InitialStatus   = "Inactive"
	EmergencyStatus = "Emergency stop"
)

// Config holds autopilot timing.
type Config struct {
	// CycleDuration is the control period used for energy integration.
	CycleDuration  time.Duration
	LaunchDuration time.Duration
	LandDuration   time.Duration
}

// DefaultConfig returns the 20 Hz flight configuration.
func DefaultConfig() Config {
	return Config{
		CycleDuration:  50 * time.Millisecond,
		LaunchDuration: 30 * time.Second,
		LandDuration:   30 * time.Second,
	}
}

// Autopilot is the flight-mode state machine. It is not safe for concurrent
// use; callers serialize Update, SetMode and EmergencyStop.
type Autopilot struct {
	cfg         Config
	initialized bool
	state       State
	targets     Targets

	pending       []Transition
	transitions   int
	startTime     time.Time
	lastHeartbeat time.Time
}

// NewAutopilot creates an autopilot in mode Off. The startTime is used for
// calculating uptime in heartbeat events.
func NewAutopilot(cfg Config, startTime time.Time) *Autopilot {
	return &Autopilot{
		cfg: cfg,
		state: State{
			Mode:          ModeOff,
			StatusMessage: InitialStatus,
		},
		targets:       Targets{Winch: WinchIdle},
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Begin marks the autopilot ready to accept mode changes.
func (a *Autopilot) Begin() {
	a.initialized = true
}

// Initialized reports whether Begin has run.
func (a *Autopilot) Initialized() bool {
	return a.initialized
}

// SetMode switches to mode. Setting the current mode again is a no-op.
func (a *Autopilot) SetMode(mode Mode, now time.Time) error {
	if !a.initialized {
		return ErrNotInitialized
	}
	if !mode.Valid() {
		return ErrUnknownMode
	}
	if mode == a.state.Mode {
		return nil
	}
	a.enter(mode, now, ReasonCommand)
	return nil
}

// enter performs the transition and the per-mode resets.
func (a *Autopilot) enter(mode Mode, now time.Time, reason string) {
	a.pending = append(a.pending, Transition{
		Timestamp: now,
		From:      a.state.Mode,
		To:        mode,
		Reason:    reason,
	})
	a.transitions++

	a.state.Mode = mode
	a.state.StatusMessage = mode.Label()
	a.state.SequenceStart = now

	switch mode {
	case ModeLaunch, ModeLand:
		a.state.Completion = 0
	case ModeFigureEight, ModeCircular:
		a.state.PatternStep = 0
	case ModePowerGeneration:
		a.state.PowerGenerated = 0
	}
}

// EmergencyStop forces mode Off with the kite depowered and the winch
// holding. It works in every state, initialized or not.
func (a *Autopilot) EmergencyStop(now time.Time) {
	if a.state.Mode != ModeOff {
		a.pending = append(a.pending, Transition{
			Timestamp: now,
			From:      a.state.Mode,
			To:        ModeOff,
			Reason:    ReasonEmergency,
		})
		a.transitions++
	}
	a.state.Mode = ModeOff
	a.state.SequenceStart = now
	a.state.PowerGenerated = 0
	a.state.StatusMessage = EmergencyStatus
	a.targets = SafeTargets()
}

// SafeTargets is the emergency configuration: centred, minimum power, winch
// braked.
func SafeTargets() Targets {
	return Targets{Direction: 0, Trim: TrimMin, Winch: WinchBrake, Power: 0}
}

// Update runs one control cycle on filtered samples. It does nothing while
// uninitialized or Off.
func (a *Autopilot) Update(now time.Time, r Reading) {
	if !a.initialized || a.state.Mode == ModeOff {
		return
	}

	switch a.state.Mode {
	case ModeStandby:
		a.targets = Targets{Winch: WinchIdle}
	case ModeLaunch:
		a.updateLaunch(now)
	case ModeLand:
		a.updateLand(now)
	case ModeFigureEight:
		a.updateFigureEight(r)
	case ModeCircular:
		a.updateCircular(r)
	case ModePowerGeneration:
		a.updatePowerGeneration(r)
	}

	a.targets = a.targets.Clamp()
	a.state.CycleCounter++
}

func (a *Autopilot) progress(now time.Time, d time.Duration) float64 {
	if d <= 0 {
		return 1
	}
	p := float64(now.Sub(a.state.SequenceStart)) / float64(d)
	return Clamp(p, 0, 1)
}

func (a *Autopilot) updateLaunch(now time.Time) {
	p := a.progress(now, a.cfg.LaunchDuration)
	a.state.Completion = p * 100

	switch {
	case p < 0.3:
		a.targets = Targets{Trim: -10, Winch: WinchIdle}
	case p < 0.7:
		local := (p - 0.3) / 0.4
		a.targets = Targets{Trim: lerp(-10, 20, local), Winch: WinchReelOut}
	default:
		a.targets = Targets{Trim: 10, Winch: WinchBrake}
	}

	if p >= 1 {
		a.enter(ModeFigureEight, now, ReasonSequenceComplete)
	}
}

func (a *Autopilot) updateLand(now time.Time) {
	p := a.progress(now, a.cfg.LandDuration)
	a.state.Completion = p * 100

	switch {
	case p < 0.3:
		a.targets = Targets{Trim: lerp(10, -15, p/0.3), Winch: WinchBrake}
	case p < 0.8:
		a.targets = Targets{Trim: -15, Winch: WinchReelIn}
	default:
		a.targets = Targets{Trim: -20, Winch: WinchBrake}
	}

	if p >= 1 {
		a.enter(ModeOff, now, ReasonSequenceComplete)
	}
}

// FigureEightDirection is the steering angle of the figure-eight pattern
// at a cycle counter value.
func FigureEightDirection(counter uint32) float64 {
	return EightAmplitude * math.Sin(2*radians(float64(counter%360)))
}

// FigureEightPower is the winch power of the figure-eight pattern at a cycle
// counter value. It peaks as the kite crosses the pattern centre.
func FigureEightPower(counter uint32) float64 {
	return EightPowerBase + EightPowerSpan*math.Abs(math.Cos(2*radians(float64(counter%360))))
}

func (a *Autopilot) updateFigureEight(r Reading) {
	power := FigureEightPower(a.state.CycleCounter)
	a.targets = Targets{
		Direction: FigureEightDirection(a.state.CycleCounter),
		Trim:      EightTrim,
		Winch:     WinchGenerator,
		Power:     power,
	}

	instant := power * windFactor(r.Wind) * tensionFactor(r.Line)
	a.smoothPower(instant, 0.9)
	a.integrateEnergy()
	a.advancePattern()
}

func (a *Autopilot) updateCircular(r Reading) {
	theta := radians(float64(a.state.CycleCounter % 360))
	a.targets = Targets{
		Direction: CircularRadius * math.Sin(theta),
		Trim:      CircularTrim,
		Winch:     WinchGenerator,
		Power:     CircularPower,
	}

	a.smoothPower(CircularPower*windFactor(r.Wind), 0.8)
	a.integrateEnergy()
	a.advancePattern()
}

// GenerationPhase returns the power-generation phase (0, 1 or 2) for a
// cycle counter value.
func GenerationPhase(counter uint32) int {
	return int((counter / generationPhaseLen) % 3)
}

func (a *Autopilot) updatePowerGeneration(r Reading) {
	counter := a.state.CycleCounter
	switch GenerationPhase(counter) {
	case 0:
		// fast figure-eight traversal
		pos := radians(float64((counter % 180) * 2))
		a.targets = Targets{Direction: EightAmplitude * math.Sin(2*pos), Trim: 20, Power: 70}
	case 1:
		// centred, maximum traction
		a.targets = Targets{Direction: 0, Trim: 25, Power: 90}
	default:
		// return transition
		a.targets = Targets{Direction: 0, Trim: 10, Power: 40}
	}
	a.targets.Winch = WinchGenerator

	instant := a.targets.Power * windFactor(r.Wind) * tensionFactor(r.Line) * GenerationEfficiency
	a.smoothPower(instant, 0.9)
	a.integrateEnergy()
}

func (a *Autopilot) smoothPower(instant, keep float64) {
	a.state.PowerGenerated = keep*a.state.PowerGenerated + (1-keep)*instant
}

// integrateEnergy adds one cycle of generated power as watt-hours.
// Negative estimates never drain the total.
func (a *Autopilot) integrateEnergy() {
	if a.state.PowerGenerated <= 0 {
		return
	}
	a.state.TotalEnergy += a.state.PowerGenerated * a.cfg.CycleDuration.Seconds() / 3600
}

func (a *Autopilot) advancePattern() {
	a.state.PatternStep++
	if a.state.PatternStep%patternLoop == 0 && a.state.FlightCycles < math.MaxUint16 {
		a.state.FlightCycles++
	}
}

func windFactor(w WindSample) float64 {
	if !w.Valid {
		return 1
	}
	return w.Speed / nominalWindSpeed
}

func tensionFactor(l LineSample) float64 {
	if !l.TensionValid {
		return 1
	}
	return l.Tension / nominalTension
}

func lerp(from, to, frac float64) float64 {
	return from + (to-from)*Clamp(frac, 0, 1)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// State returns a copy of the current autopilot state.
func (a *Autopilot) State() State {
	return a.state
}

// Targets returns the last computed actuator targets.
func (a *Autopilot) Targets() Targets {
	return a.targets
}

// Mode returns the current flight mode.
func (a *Autopilot) Mode() Mode {
	return a.state.Mode
}

// DrainTransitions returns and clears the transitions recorded since the
// last call.
func (a *Autopilot) DrainTransitions() []Transition {
	out := a.pending
	a.pending = nil
	return out
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed
// or if interval is <= 0 (disabled).
func (a *Autopilot) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(a.lastHeartbeat) < interval {
		return nil
	}

	a.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp:    now,
		Uptime:       now.Sub(a.startTime),
		Mode:         a.state.Mode,
		Transitions:  a.transitions,
		FlightCycles: a.state.FlightCycles,
		TotalEnergy:  a.state.TotalEnergy,
	}
}
