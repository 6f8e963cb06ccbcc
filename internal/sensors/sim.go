package sensors

import (
	"math"
	"time"

	"github.com/sweeney/kite-pilot/internal/logic"
)

// SimSource generates smoothly changing kite readings for bench runs.
type SimSource struct {
	start time.Time
	line  logic.LineSample
	wind  logic.WindSample
}

// NewSimSource creates a simulated source whose motion starts at start.
func NewSimSource(start time.Time) *SimSource {
	return &SimSource{start: start}
}

// Read returns the simulated reading at now.
func (s *SimSource) Read(now time.Time) (logic.Reading, error) {
	e := now.Sub(s.start).Seconds()
	fresh := logic.Freshness{Timestamp: now, Valid: true}

	s.line.Freshness = fresh
	s.line.ObserveTension(250 + 100*math.Sin(e*0.5))
	s.line.Length = 100 + 10*math.Sin(e*0.1)
	s.line.LengthValid = true

	s.wind.Freshness = fresh
	s.wind.ObserveSpeed(8 + 2*math.Sin(e*0.2))
	s.wind.Direction = logic.NormalizeDegrees(270 + 20*math.Sin(e*0.05))

	return logic.Reading{
		Orientation: logic.OrientationSample{
			Freshness: fresh,
			Roll:      20 * math.Sin(e),
			Pitch:     30 + 15*math.Cos(e*0.7),
			Yaw:       logic.NormalizeDegrees(e * 30),
		},
		Line: s.line,
		Wind: s.wind,
	}, nil
}

// Close does nothing.
func (s *SimSource) Close() error {
	return nil
}
