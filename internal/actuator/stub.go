//go:build !linux

package actuator

import "errors"

// GPIOStepper is not available on non-Linux platforms.
type GPIOStepper struct{}

// NewGPIOStepper returns an error on non-Linux platforms.
func NewGPIOStepper(chipName string, offsets [4]int) (*GPIOStepper, error) {
	return nil, errors.New("winch: not supported on this platform (requires Linux)")
}

// Drive is not implemented on non-Linux platforms.
func (g *GPIOStepper) Drive(cmd StepperCommand) error {
	return errors.New("winch: not supported")
}

// Close is not implemented on non-Linux platforms.
func (g *GPIOStepper) Close() error {
	return nil
}
