package actuator

// FakeServo is a test double that records servo pulses.
type FakeServo struct {
	// Pulses contains every unit value passed to SetPulse.
	Pulses []float64

	// SetError, if set, will be returned by SetPulse.
	SetError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeServo creates a FakeServo.
func NewFakeServo() *FakeServo {
	return &FakeServo{}
}

// SetPulse records the pulse.
func (f *FakeServo) SetPulse(units float64) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.Pulses = append(f.Pulses, units)
	return nil
}

// Last returns the most recent pulse, or -1 if none was recorded.
func (f *FakeServo) Last() float64 {
	if len(f.Pulses) == 0 {
		return -1
	}
	return f.Pulses[len(f.Pulses)-1]
}

// Close marks the servo as closed.
func (f *FakeServo) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded pulses and errors.
func (f *FakeServo) Reset() {
	f.Pulses = nil
	f.SetError = nil
	f.Closed = false
}

// FakeStepper is a test double that records stepper commands.
type FakeStepper struct {
	// Commands contains every command passed to Drive.
	Commands []StepperCommand

	// DriveError, if set, will be returned by Drive.
	DriveError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeStepper creates a FakeStepper.
func NewFakeStepper() *FakeStepper {
	return &FakeStepper{}
}

// Drive records the command.
func (f *FakeStepper) Drive(cmd StepperCommand) error {
	if f.DriveError != nil {
		return f.DriveError
	}
	f.Commands = append(f.Commands, cmd)
	return nil
}

// Last returns the most recent command.
func (f *FakeStepper) Last() StepperCommand {
	if len(f.Commands) == 0 {
		return StepperCommand{}
	}
	return f.Commands[len(f.Commands)-1]
}

// Close marks the stepper as closed.
func (f *FakeStepper) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded commands and errors.
func (f *FakeStepper) Reset() {
	f.Commands = nil
	f.DriveError = nil
	f.Closed = false
}
