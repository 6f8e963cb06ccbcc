package logic

import (
	"fmt"
	"time"
)

// WarningKind identifies a safety condition.
type WarningKind string

const (
	WarnStaleOrientation WarningKind = "STALE_ORIENTATION"
	WarnStaleLine        WarningKind = "STALE_LINE"
	WarnStaleWind        WarningKind = "STALE_WIND"
	WarnOverTension      WarningKind = "OVER_TENSION"
	WarnHighTension      WarningKind = "HIGH_TENSION"
	WarnOrientationRange WarningKind = "ORIENTATION_RANGE"
	WarnWindLow          WarningKind = "WIND_LOW"
	WarnWindHigh         WarningKind = "WIND_HIGH"
	WarnGust             WarningKind = "GUST"
	WarnActuatorLimit    WarningKind = "ACTUATOR_LIMIT"
)

// Warning is one active safety condition.
type Warning struct {
	Kind    WarningKind
	Message string
}

// SafetyConfig holds the safety thresholds.
type SafetyConfig struct {
	Freshness      time.Duration
	MaxTension     float64 // N, ceiling
	WarningTension float64 // N
	MinWind        float64 // m/s
	MaxWind        float64 // m/s
	MaxGust        float64 // m/s
}

// DefaultSafetyConfig returns the reference thresholds.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		Freshness:      2000 * time.Millisecond,
		MaxTension:     500,
		WarningTension: 400,
		MinWind:        3,
		MaxWind:        15,
		MaxGust:        20,
	}
}

// Report is the outcome of one safety check.
type Report struct {
	// Warnings lists every active condition.
	Warnings []Warning
	// Raised lists conditions that were not active on the previous check.
	Raised []Warning
	// Cleared lists conditions that were active on the previous check and are not now.
	Cleared []WarningKind
	// Violation is set when tension exceeds the ceiling or orientation is
	// outside plausible bounds.
	Violation bool
}

// SafetyMonitor validates sensor freshness and ranges and actuator limits.
// It never changes the flight mode itself.
type SafetyMonitor struct {
	cfg    SafetyConfig
	active map[WarningKind]bool
}

// NewSafetyMonitor creates a monitor with the given thresholds.
func NewSafetyMonitor(cfg SafetyConfig) *SafetyMonitor {
	return &SafetyMonitor{cfg: cfg, active: make(map[WarningKind]bool)}
}

// Config returns the monitor thresholds.
func (m *SafetyMonitor) Config() SafetyConfig {
	return m.cfg
}

// Check marks stale samples in r invalid, then checks ranges on what is left
// and audits the actuator state.
func (m *SafetyMonitor) Check(now time.Time, r *Reading, actuators Targets) Report {
	var warnings []Warning
	var violation bool

	if r.Orientation.Valid && !r.Orientation.IsRecent(now, m.cfg.Freshness) {
		r.Orientation.Valid = false
		warnings = append(warnings, Warning{WarnStaleOrientation, "orientation data stale"})
	}
	if (r.Line.TensionValid || r.Line.LengthValid) && !r.Line.IsRecent(now, m.cfg.Freshness) {
		r.Line.Valid = false
		r.Line.TensionValid = false
		r.Line.LengthValid = false
		warnings = append(warnings, Warning{WarnStaleLine, "line data stale"})
	}
	if r.Wind.Valid && !r.Wind.IsRecent(now, m.cfg.Freshness) {
		r.Wind.Valid = false
		warnings = append(warnings, Warning{WarnStaleWind, "wind data stale"})
	}

	if o := r.Orientation; o.Valid {
		if o.Roll < -180 || o.Roll > 180 || o.Pitch < -90 || o.Pitch > 90 || o.Yaw < 0 || o.Yaw >= 360 {
			violation = true
			warnings = append(warnings, Warning{WarnOrientationRange,
				fmt.Sprintf("orientation out of range (roll %.1f, pitch %.1f, yaw %.1f)", o.Roll, o.Pitch, o.Yaw)})
		}
	}

	if l := r.Line; l.TensionValid {
		switch {
		case l.Tension > m.cfg.MaxTension:
			violation = true
			warnings = append(warnings, Warning{WarnOverTension,
				fmt.Sprintf("tension %.1f N exceeds ceiling %.1f N", l.Tension, m.cfg.MaxTension)})
		case l.Tension > m.cfg.WarningTension:
			warnings = append(warnings, Warning{WarnHighTension,
				fmt.Sprintf("tension %.1f N above %.1f N", l.Tension, m.cfg.WarningTension)})
		}
	}

	if w := r.Wind; w.Valid {
		switch {
		case w.Speed < m.cfg.MinWind:
			warnings = append(warnings, Warning{WarnWindLow,
				fmt.Sprintf("wind %.1f m/s below %.1f m/s", w.Speed, m.cfg.MinWind)})
		case w.Speed > m.cfg.MaxWind:
			warnings = append(warnings, Warning{WarnWindHigh,
				fmt.Sprintf("wind %.1f m/s above %.1f m/s", w.Speed, m.cfg.MaxWind)})
		}
		if w.GustSpeed > m.cfg.MaxGust {
			warnings = append(warnings, Warning{WarnGust,
				fmt.Sprintf("gust %.1f m/s above %.1f m/s", w.GustSpeed, m.cfg.MaxGust)})
		}
	}

	if actuators != actuators.Clamp() {
		warnings = append(warnings, Warning{WarnActuatorLimit,
			fmt.Sprintf("actuator state out of limits (direction %.1f, trim %.1f, power %.1f)",
				actuators.Direction, actuators.Trim, actuators.Power)})
	}

	return m.track(warnings, violation)
}

// track diffs the new warning set against the previous one.
func (m *SafetyMonitor) track(warnings []Warning, violation bool) Report {
	rep := Report{Warnings: warnings, Violation: violation}
	now := make(map[WarningKind]bool, len(warnings))
	for _, w := range warnings {
		now[w.Kind] = true
		if !m.active[w.Kind] {
			rep.Raised = append(rep.Raised, w)
		}
	}
	for k := range m.active {
		if !now[k] {
			rep.Cleared = append(rep.Cleared, k)
		}
	}
	m.active = now
	return rep
}

// Has reports whether the report contains a warning of kind k.
func (r Report) Has(k WarningKind) bool {
	for _, w := range r.Warnings {
		if w.Kind == k {
			return true
		}
	}
	return false
}
