package logic

import "math"

// FilterConfig holds the smoothing factor per channel. Higher alpha means
// more smoothing and slower response.
type FilterConfig struct {
	Orientation float64
	Tension     float64
	Length      float64
	Wind        float64
}

// DefaultFilterConfig returns the flight-tuned smoothing factors.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Orientation: 0.8,
		Tension:     0.7,
		Length:      0.9,
		Wind:        0.7,
	}
}

// ema is one exponential moving-average channel. The first valid sample
// seeds the channel.
type ema struct {
	alpha  float64
	value  float64
	seeded bool
}

func (e *ema) next(raw float64) float64 {
	if !e.seeded {
		e.value = raw
		e.seeded = true
		return e.value
	}
	e.value = e.alpha*e.value + (1-e.alpha)*raw
	return e.value
}

// Filter smooths readings in place, one channel at a time. Channels whose
// samples are invalid keep their previous filtered value.
type Filter struct {
	roll, pitch, yaw ema
	tension, length  ema
	windSpeed        ema
	windSin, windCos ema

	peakTension float64
	peakWind    float64
}

// NewFilter creates a filter with the given smoothing factors.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{
		roll:      ema{alpha: cfg.Orientation},
		pitch:     ema{alpha: cfg.Orientation},
		yaw:       ema{alpha: cfg.Orientation},
		tension:   ema{alpha: cfg.Tension},
		length:    ema{alpha: cfg.Length},
		windSpeed: ema{alpha: cfg.Wind},
		windSin:   ema{alpha: cfg.Wind},
		windCos:   ema{alpha: cfg.Wind},
	}
}

// Apply filters r in place.
func (f *Filter) Apply(r *Reading) {
	f.applyOrientation(&r.Orientation)
	f.applyLine(&r.Line)
	f.applyWind(&r.Wind)
}

func (f *Filter) applyOrientation(o *OrientationSample) {
	if !o.Valid {
		o.Roll, o.Pitch, o.Yaw = f.roll.value, f.pitch.value, f.yaw.value
		return
	}
	o.Roll = f.roll.next(o.Roll)
	o.Pitch = f.pitch.next(o.Pitch)
	o.Yaw = f.yaw.next(o.Yaw)
}

func (f *Filter) applyLine(l *LineSample) {
	if l.TensionValid {
		f.peakTension = math.Max(f.peakTension, l.Tension)
		l.Tension = f.tension.next(l.Tension)
	} else {
		l.Tension = f.tension.value
	}
	l.MaxTensionSeen = math.Max(l.MaxTensionSeen, f.peakTension)

	if l.LengthValid {
		l.Length = f.length.next(l.Length)
	} else {
		l.Length = f.length.value
	}
}

func (f *Filter) applyWind(w *WindSample) {
	if !w.Valid {
		w.Speed = f.windSpeed.value
		w.Direction = f.windDirection()
		w.GustSpeed = math.Max(w.GustSpeed, f.peakWind)
		return
	}
	f.peakWind = math.Max(f.peakWind, math.Max(w.Speed, w.GustSpeed))
	w.Speed = f.windSpeed.next(w.Speed)
	w.GustSpeed = f.peakWind

	rad := w.Direction * math.Pi / 180
	f.windSin.next(math.Sin(rad))
	f.windCos.next(math.Cos(rad))
	w.Direction = f.windDirection()
}

// windDirection recombines the filtered sin/cos components into [0, 360).
func (f *Filter) windDirection() float64 {
	if !f.windSin.seeded {
		return 0
	}
	return NormalizeDegrees(math.Atan2(f.windSin.value, f.windCos.value) * 180 / math.Pi)
}

// Orientation returns the current filtered orientation.
func (f *Filter) Orientation() (roll, pitch, yaw float64) {
	return f.roll.value, f.pitch.value, f.yaw.value
}

// NormalizeDegrees maps any angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}
