//go:build linux

package actuator

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOStepper drives the winch stepper driver through four GPIO output lines
// on the Linux GPIO character device.
type GPIOStepper struct {
	*coilStepper
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
}

// NewGPIOStepper requests the four coil lines on the named chip.
func NewGPIOStepper(chipName string, offsets [4]int) (*GPIOStepper, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	lines, err := chip.RequestLines(offsets[:], gpiocdev.AsOutput(0, 0, 0, 0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request coil lines %v: %w", offsets, err)
	}

	return &GPIOStepper{
		coilStepper: newCoilStepper(lines),
		chip:        chip,
		lines:       lines,
	}, nil
}

// Close stops stepping, releases the coils and returns the lines to inputs
// with pull-down, matching Pi boot defaults.
func (g *GPIOStepper) Close() error {
	var errs []error

	if err := g.coilStepper.stop(); err != nil {
		errs = append(errs, fmt.Errorf("release coils: %w", err))
	}
	if g.lines != nil {
		if err := g.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure coil lines: %w", err))
		}
		if err := g.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close coil lines: %w", err))
		}
	}
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
