package actuator

import (
	"time"

	"github.com/sweeney/kite-pilot/internal/logic"
)

// Servo pulse range at 50 Hz.
const (
	PulseMin    = 500 * time.Microsecond
	PulseMax    = 2500 * time.Microsecond
	ServoPeriod = 20 * time.Millisecond
	ServoUnits  = 180.0
)

// GeneratorMinFraction is the share of the maximum step rate applied in
// generator mode at zero power.
const GeneratorMinFraction = 0.1

// MapAngle converts an angle in [domainMin, domainMax] to servo units in
// [0, 180]. The angle is clamped to its domain first.
func MapAngle(angle, domainMin, domainMax float64) float64 {
	if domainMax <= domainMin {
		return ServoUnits / 2
	}
	angle = logic.Clamp(angle, domainMin, domainMax)
	return (angle - domainMin) / (domainMax - domainMin) * ServoUnits
}

// PulseWidth converts servo units to a pulse width.
func PulseWidth(units float64) time.Duration {
	units = logic.Clamp(units, 0, ServoUnits)
	return PulseMin + time.Duration(units/ServoUnits*float64(PulseMax-PulseMin))
}

// MapPower converts a power percentage to a step rate in [speedMin, speedMax].
func MapPower(percent, speedMin, speedMax float64) float64 {
	percent = logic.Clamp(percent, logic.PowerMin, logic.PowerMax)
	return speedMin + percent/logic.PowerMax*(speedMax-speedMin)
}

// StepperCommand is the native winch command.
type StepperCommand struct {
	Rate      float64 // steps per second, >= 0
	Direction int     // +1 reel in, -1 pay out, 0 stationary
	Energized bool    // coils driven
}

// WinchCommand translates a winch mode and power into a stepper command.
func WinchCommand(mode logic.WinchMode, power, maxRate float64) StepperCommand {
	switch mode {
	case logic.WinchGenerator:
		return StepperCommand{
			Rate:      MapPower(power, GeneratorMinFraction*maxRate, maxRate),
			Direction: -1,
			Energized: true,
		}
	case logic.WinchReelIn:
		return StepperCommand{Rate: maxRate, Direction: 1, Energized: true}
	case logic.WinchReelOut:
		return StepperCommand{Rate: maxRate, Direction: -1, Energized: true}
	case logic.WinchBrake:
		return StepperCommand{Energized: true}
	default:
		return StepperCommand{}
	}
}
