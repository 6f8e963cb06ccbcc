// Package control runs the flight control cycle and applies operator
// commands to it.
package control

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sweeney/kite-pilot/internal/actuator"
	"github.com/sweeney/kite-pilot/internal/logic"
)

// Config holds the tunables of one controller.
type Config struct {
	Autopilot logic.Config
	Filter    logic.FilterConfig
	Safety    logic.SafetyConfig

	// EscalateViolations turns a safety violation (tension over the ceiling
	// or implausible orientation) into an emergency stop.
	EscalateViolations bool
}

// DefaultConfig returns the stock tuning with escalation disabled.
func DefaultConfig() Config {
	return Config{
		Autopilot: logic.DefaultConfig(),
		Filter:    logic.DefaultFilterConfig(),
		Safety:    logic.DefaultSafetyConfig(),
	}
}

// View is a consistent copy of the controller's state for display.
type View struct {
	State    logic.State
	Targets  logic.Targets
	Outputs  logic.Targets
	Attached bool
	Reading  logic.Reading
	Warnings []logic.Warning
	Cycles   uint64
}

// Controller owns the filter, autopilot, safety monitor and actuators. Cycle
// and the command methods share one mutex so a command never interleaves
// with an update.
type Controller struct {
	mu       sync.Mutex
	cfg      Config
	now      func() time.Time
	filter   *logic.Filter
	pilot    *logic.Autopilot
	safety   *logic.SafetyMonitor
	act      *actuator.Actuators
	reading  logic.Reading
	warnings []logic.Warning
	cycles   uint64
	outErr   bool
}

// New creates a controller. now stamps commands that arrive between cycles.
func New(cfg Config, act *actuator.Actuators, start time.Time, now func() time.Time) *Controller {
	return &Controller{
		cfg:    cfg,
		now:    now,
		filter: logic.NewFilter(cfg.Filter),
		pilot:  logic.NewAutopilot(cfg.Autopilot, start),
		safety: logic.NewSafetyMonitor(cfg.Safety),
		act:    act,
	}
}

// Begin initializes the autopilot and attaches the actuators. An actuator
// failure is returned but the autopilot stays usable; the controller then
// runs without driving outputs.
func (c *Controller) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pilot.Begin()
	if err := c.act.Begin(); err != nil {
		log.Printf("control: actuators unavailable, running without outputs: %v", err)
		return err
	}
	return nil
}

// Cycle runs one control cycle on a raw reading and returns the mode
// transitions it produced (including those from commands since the last
// cycle).
func (c *Controller) Cycle(now time.Time, raw logic.Reading) []logic.Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := raw
	report := c.safety.Check(now, &r, c.act.State())
	for _, w := range report.Raised {
		log.Printf("safety: %s", w.Message)
	}
	for _, k := range report.Cleared {
		log.Printf("safety: %s cleared", k)
	}

	c.filter.Apply(&r)
	c.reading = r
	c.warnings = report.Warnings

	if report.Violation && c.cfg.EscalateViolations && c.pilot.Mode() != logic.ModeOff {
		log.Printf("control: safety violation, emergency stop")
		c.emergencyLocked(now)
	}

	// Final targets of a sequence that ends in Off this cycle still go out.
	wasFlying := c.pilot.Mode() != logic.ModeOff
	c.pilot.Update(now, r)
	if wasFlying && c.act.Attached() {
		c.applyLocked(c.pilot.Targets())
	}
	c.cycles++

	transitions := c.pilot.DrainTransitions()
	for _, tr := range transitions {
		log.Printf("autopilot: mode %s -> %s (%s)", tr.From, tr.To, tr.Reason)
	}
	return transitions
}

func (c *Controller) applyLocked(t logic.Targets) {
	err := c.act.Apply(t)
	switch {
	case err != nil && !c.outErr:
		log.Printf("control: applying targets: %v", err)
		c.outErr = true
	case err == nil && c.outErr:
		log.Printf("control: outputs recovered")
		c.outErr = false
	}
}

// OnModeChange requests a new flight mode.
func (c *Controller) OnModeChange(mode logic.Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.pilot.SetMode(mode, c.now()); err != nil {
		log.Printf("control: mode change to %s rejected: %v", mode, err)
		return err
	}
	return nil
}

// OnDirectionOverride drives the steering outputs directly. Outside
// autonomous flight nothing else touches them, so the override holds.
func (c *Controller) OnDirectionOverride(direction, trim float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.act.Attached() {
		return actuator.ErrNotAttached
	}
	return errors.Join(
		c.act.SetDirectionAngle(direction),
		c.act.SetTrimAngle(trim),
	)
}

// OnEmergency stops the kite immediately.
func (c *Controller) OnEmergency() {
	c.mu.Lock()
	defer c.mu.Unlock()

	log.Printf("control: emergency stop requested")
	c.emergencyLocked(c.now())
}

func (c *Controller) emergencyLocked(now time.Time) {
	c.pilot.EmergencyStop(now)
	c.act.EmergencyStop()
}

// CurrentMode returns the flight mode.
func (c *Controller) CurrentMode() logic.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pilot.Mode()
}

// CheckHeartbeat returns heartbeat data once per interval.
func (c *Controller) CheckHeartbeat(now time.Time, interval time.Duration) *logic.HeartbeatData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pilot.CheckHeartbeat(now, interval)
}

// View returns a copy of the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	warnings := make([]logic.Warning, len(c.warnings))
	copy(warnings, c.warnings)
	return View{
		State:    c.pilot.State(),
		Targets:  c.pilot.Targets(),
		Outputs:  c.act.State(),
		Attached: c.act.Attached(),
		Reading:  c.reading,
		Warnings: warnings,
		Cycles:   c.cycles,
	}
}

// Close drives the outputs to neutral and releases them.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.act.Attached() {
		if err := c.act.Neutral(); err != nil {
			log.Printf("control: neutral on close: %v", err)
		}
	}
	return c.act.Close()
}
