package actuator

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// ServoFrequency is the hobby-servo PWM frame rate.
const ServoFrequency = 50 * physic.Hertz

// PWMServo drives a servo from a hardware PWM pin through periph.
type PWMServo struct {
	name string
	pin  gpio.PinIO
}

// NewPWMServo initializes periph and looks up the named pin (e.g. "GPIO18").
func NewPWMServo(name string) (*PWMServo, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("servo pin %q not found", name)
	}
	return &PWMServo{name: name, pin: pin}, nil
}

// SetPulse outputs the pulse width for units in [0, 180].
func (s *PWMServo) SetPulse(units float64) error {
	if err := s.pin.PWM(DutyFor(PulseWidth(units)), ServoFrequency); err != nil {
		return fmt.Errorf("pwm %s: %w", s.name, err)
	}
	return nil
}

// Close stops the PWM output.
func (s *PWMServo) Close() error {
	return s.pin.Halt()
}

// DutyFor converts a pulse width to a duty cycle at the servo frame rate.
func DutyFor(pulse time.Duration) gpio.Duty {
	return gpio.Duty(float64(gpio.DutyMax) * float64(pulse) / float64(ServoPeriod))
}
