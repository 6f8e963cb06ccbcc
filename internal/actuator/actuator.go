// Package actuator drives the steering servos and the winch stepper.
// The real implementations use periph PWM and the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package actuator

import (
	"errors"
	"fmt"
	"log"

	"github.com/sweeney/kite-pilot/internal/logic"
)

var (
	// ErrNotAttached is returned by setters when Begin has not succeeded.
	ErrNotAttached = errors.New("actuator not attached")
	// ErrWrongWinchMode is returned by SetWinchPower outside generator mode.
	ErrWrongWinchMode = errors.New("winch power requires generator mode")
	// ErrUnknownWinchMode is returned for an unrecognised winch mode.
	ErrUnknownWinchMode = errors.New("unknown winch mode")
)

// Servo positions a hobby servo.
type Servo interface {
	// SetPulse moves the servo to units in [0, 180].
	SetPulse(units float64) error
	// Close releases the output.
	Close() error
}

// Stepper drives the winch stepper motor.
type Stepper interface {
	Drive(cmd StepperCommand) error
	Close() error
}

// DefaultMaxStepRate is the winch top speed in steps per second.
const DefaultMaxStepRate = 400.0

// Actuators is the kite's output set: direction servo, trim servo and winch.
// It is not safe for concurrent use.
type Actuators struct {
	direction Servo
	trim      Servo
	winch     Stepper
	maxRate   float64
	attached  bool
	state     logic.Targets
}

// New creates an actuator set. Any device may be nil if its hardware failed
// to initialize; Begin then reports the failure.
func New(direction, trim Servo, winch Stepper, maxRate float64) *Actuators {
	if maxRate <= 0 {
		maxRate = DefaultMaxStepRate
	}
	return &Actuators{
		direction: direction,
		trim:      trim,
		winch:     winch,
		maxRate:   maxRate,
		state:     logic.Targets{Winch: logic.WinchIdle},
	}
}

// Begin attaches the devices and drives them to neutral.
func (a *Actuators) Begin() error {
	var missing []string
	if a.direction == nil {
		missing = append(missing, "direction servo")
	}
	if a.trim == nil {
		missing = append(missing, "trim servo")
	}
	if a.winch == nil {
		missing = append(missing, "winch stepper")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrNotAttached, missing)
	}
	a.attached = true
	if err := a.Neutral(); err != nil {
		a.attached = false
		return fmt.Errorf("drive neutral: %w", err)
	}
	return nil
}

// Attached reports whether Begin succeeded.
func (a *Actuators) Attached() bool {
	return a.attached
}

// SetDirectionAngle steers to deg, clamped to [-45, 45].
func (a *Actuators) SetDirectionAngle(deg float64) error {
	if !a.attached {
		return ErrNotAttached
	}
	deg = logic.Clamp(deg, logic.DirectionMin, logic.DirectionMax)
	if err := a.direction.SetPulse(MapAngle(deg, logic.DirectionMin, logic.DirectionMax)); err != nil {
		return fmt.Errorf("direction servo: %w", err)
	}
	a.state.Direction = deg
	return nil
}

// SetTrimAngle sets the angle of attack to deg, clamped to [-30, 30].
func (a *Actuators) SetTrimAngle(deg float64) error {
	if !a.attached {
		return ErrNotAttached
	}
	deg = logic.Clamp(deg, logic.TrimMin, logic.TrimMax)
	if err := a.trim.SetPulse(MapAngle(deg, logic.TrimMin, logic.TrimMax)); err != nil {
		return fmt.Errorf("trim servo: %w", err)
	}
	a.state.Trim = deg
	return nil
}

// SetWinchMode switches the winch. Leaving generator mode zeroes the power.
func (a *Actuators) SetWinchMode(mode logic.WinchMode) error {
	if !a.attached {
		return ErrNotAttached
	}
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownWinchMode, mode)
	}
	power := a.state.Power
	if mode != logic.WinchGenerator {
		power = 0
	}
	if err := a.winch.Drive(WinchCommand(mode, power, a.maxRate)); err != nil {
		return fmt.Errorf("winch: %w", err)
	}
	a.state.Winch = mode
	a.state.Power = power
	return nil
}

// SetWinchPower sets generator resistance to percent, clamped to [0, 100].
func (a *Actuators) SetWinchPower(percent float64) error {
	if !a.attached {
		return ErrNotAttached
	}
	if a.state.Winch != logic.WinchGenerator {
		return ErrWrongWinchMode
	}
	percent = logic.Clamp(percent, logic.PowerMin, logic.PowerMax)
	if err := a.winch.Drive(WinchCommand(logic.WinchGenerator, percent, a.maxRate)); err != nil {
		return fmt.Errorf("winch: %w", err)
	}
	a.state.Power = percent
	return nil
}

// Apply drives t: direction and trim first, then winch mode, then power.
// Every output is attempted; the errors are joined.
func (a *Actuators) Apply(t logic.Targets) error {
	if !a.attached {
		return ErrNotAttached
	}
	var errs []error
	if err := a.SetDirectionAngle(t.Direction); err != nil {
		errs = append(errs, err)
	}
	if err := a.SetTrimAngle(t.Trim); err != nil {
		errs = append(errs, err)
	}
	if err := a.SetWinchMode(t.Winch); err != nil {
		errs = append(errs, err)
	} else if t.Winch == logic.WinchGenerator {
		if err := a.SetWinchPower(t.Power); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Neutral centres the servos and releases the winch.
func (a *Actuators) Neutral() error {
	return a.Apply(logic.Targets{Winch: logic.WinchIdle})
}

// EmergencyStop drives the safe configuration. It never fails: output errors
// are logged and the remaining outputs are still driven.
func (a *Actuators) EmergencyStop() {
	if !a.attached {
		log.Printf("actuator: emergency stop with outputs not attached")
		return
	}
	if err := a.Apply(logic.SafeTargets()); err != nil {
		log.Printf("actuator: emergency stop: %v", err)
	}
}

// State returns the last successfully applied outputs.
func (a *Actuators) State() logic.Targets {
	return a.state
}

// Close releases all devices.
func (a *Actuators) Close() error {
	var errs []error
	if a.winch != nil {
		if err := a.winch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close winch: %w", err))
		}
	}
	for _, s := range []Servo{a.direction, a.trim} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close servo: %w", err))
		}
	}
	a.attached = false
	return errors.Join(errs...)
}
