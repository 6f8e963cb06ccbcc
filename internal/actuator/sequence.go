package actuator

// fullStep is the two-coils-on full-step drive sequence for a bipolar
// stepper, one column per coil line.
var fullStep = [4][4]int{
	{1, 0, 1, 0},
	{0, 1, 1, 0},
	{0, 1, 0, 1},
	{1, 0, 0, 1},
}

// coilSequencer tracks the position in the drive sequence.
type coilSequencer struct {
	index int
}

// step advances one step in direction dir (+1 or -1) and returns the coil
// pattern to drive. A zero dir holds the current pattern.
func (s *coilSequencer) step(dir int) [4]int {
	switch {
	case dir > 0:
		s.index = (s.index + 1) % len(fullStep)
	case dir < 0:
		s.index = (s.index + len(fullStep) - 1) % len(fullStep)
	}
	return fullStep[s.index]
}

// hold returns the current pattern without moving.
func (s *coilSequencer) hold() [4]int {
	return fullStep[s.index]
}

// released is the de-energized pattern.
var released = [4]int{0, 0, 0, 0}
