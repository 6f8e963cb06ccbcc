package actuator

import (
	"errors"
	"testing"
)

func TestFakeServoRecords(t *testing.T) {
	f := NewFakeServo()
	if f.Last() != -1 {
		t.Errorf("expected -1 with no pulses, got %v", f.Last())
	}

	f.SetPulse(10)
	f.SetPulse(90)
	if len(f.Pulses) != 2 || f.Last() != 90 {
		t.Errorf("unexpected pulses %v", f.Pulses)
	}

	f.SetError = errors.New("simulated error")
	if err := f.SetPulse(45); err == nil || err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}
	if len(f.Pulses) != 2 {
		t.Error("failed pulse should not be recorded")
	}

	f.Close()
	if !f.Closed {
		t.Error("should be closed after Close()")
	}

	f.Reset()
	if f.Pulses != nil || f.SetError != nil || f.Closed {
		t.Error("Reset should clear everything")
	}
}

func TestFakeStepperRecords(t *testing.T) {
	f := NewFakeStepper()
	if f.Last() != (StepperCommand{}) {
		t.Error("expected zero command with none recorded")
	}

	f.Drive(StepperCommand{Rate: 100, Direction: 1, Energized: true})
	if f.Last().Rate != 100 {
		t.Errorf("unexpected last command %+v", f.Last())
	}

	f.DriveError = errors.New("stalled")
	if err := f.Drive(StepperCommand{}); err == nil {
		t.Error("expected error to be returned")
	}
	if len(f.Commands) != 1 {
		t.Error("failed command should not be recorded")
	}

	f.Reset()
	if f.Commands != nil || f.DriveError != nil {
		t.Error("Reset should clear everything")
	}
}
