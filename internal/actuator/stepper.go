package actuator

import (
	"log"
	"sync"
	"time"
)

// coilWriter sets the four coil lines at once.
type coilWriter interface {
	SetValues(values []int) error
}

// coilStepper runs the step loop for a four-line stepper driver.
// Drive may be called from any goroutine.
type coilStepper struct {
	out coilWriter

	mu       sync.Mutex
	cmd      StepperCommand
	seq      coilSequencer
	position int64
	failing  bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newCoilStepper(out coilWriter) *coilStepper {
	s := &coilStepper{
		out:  out,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// Drive replaces the current command. Brake holds the present coil pattern,
// de-energizing releases all coils.
func (s *coilStepper) Drive(cmd StepperCommand) error {
	s.mu.Lock()
	s.cmd = cmd
	var err error
	switch {
	case !cmd.Energized:
		err = s.write(released)
	case cmd.Rate <= 0 || cmd.Direction == 0:
		err = s.write(s.seq.hold())
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return err
}

// Position returns the net steps taken, positive towards reel-in.
func (s *coilStepper) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *coilStepper) write(pattern [4]int) error {
	return s.out.SetValues(pattern[:])
}

func (s *coilStepper) run() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		s.mu.Lock()
		cmd := s.cmd
		moving := cmd.Energized && cmd.Rate > 0 && cmd.Direction != 0
		if moving {
			err := s.write(s.seq.step(cmd.Direction))
			switch {
			case err != nil && !s.failing:
				log.Printf("winch: step write failed: %v", err)
				s.failing = true
			case err == nil:
				s.failing = false
				s.position += int64(cmd.Direction)
			}
		}
		s.mu.Unlock()

		if moving {
			timer.Reset(stepInterval(cmd.Rate))
		}
		select {
		case <-s.quit:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// stop ends the step loop and releases the coils.
func (s *coilStepper) stop() error {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(released)
}

func stepInterval(rate float64) time.Duration {
	d := time.Duration(float64(time.Second) / rate)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
