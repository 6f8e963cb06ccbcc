package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/kite-pilot/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	SessionID     string        `json:"session_id"`
	Pilot         PilotJSON     `json:"pilot"`
	Targets       TargetsJSON   `json:"targets"`
	Outputs       OutputsJSON   `json:"outputs"`
	Sensors       SensorsJSON   `json:"sensors"`
	Warnings      []WarningJSON `json:"warnings"`
	StagesMissing []string      `json:"stages_missing"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// PilotJSON is the autopilot state.
type PilotJSON struct {
	Mode          string  `json:"mode"`
	Label         string  `json:"label"`
	StatusMessage string  `json:"status_message"`
	Completion    float64 `json:"completion_percent"`
	Power         float64 `json:"power_generated_w"`
	Energy        float64 `json:"total_energy_wh"`
	CycleCounter  uint32  `json:"cycle_counter"`
	PatternStep   uint32  `json:"pattern_step"`
	FlightCycles  uint16  `json:"flight_cycles"`
	Cycles        uint64  `json:"control_cycles"`
}

// TargetsJSON is a set of actuator commands.
type TargetsJSON struct {
	Direction float64 `json:"direction_deg"`
	Trim      float64 `json:"trim_deg"`
	Winch     string  `json:"winch"`
	Power     float64 `json:"winch_power_percent"`
}

// OutputsJSON is what the actuators were last driven to.
type OutputsJSON struct {
	TargetsJSON
	Attached bool `json:"attached"`
}

// SensorsJSON is the filtered sensor view.
type SensorsJSON struct {
	Orientation OrientationJSON `json:"orientation"`
	Line        LineJSON        `json:"line"`
	Wind        WindJSON        `json:"wind"`
}

// OrientationJSON is the kite attitude.
type OrientationJSON struct {
	Valid bool    `json:"valid"`
	Roll  float64 `json:"roll_deg"`
	Pitch float64 `json:"pitch_deg"`
	Yaw   float64 `json:"yaw_deg"`
}

// LineJSON is the tether state.
type LineJSON struct {
	TensionValid bool    `json:"tension_valid"`
	LengthValid  bool    `json:"length_valid"`
	Tension      float64 `json:"tension_n"`
	Length       float64 `json:"length_m"`
	MaxTension   float64 `json:"max_tension_n"`
}

// WindJSON is the wind state.
type WindJSON struct {
	Valid     bool    `json:"valid"`
	Speed     float64 `json:"speed_ms"`
	Direction float64 `json:"direction_deg"`
	Gust      float64 `json:"gust_ms"`
}

// WarningJSON is one active safety warning.
type WarningJSON struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	CycleMs     int64   `json:"cycle_ms"`
	TelemetryMs int64   `json:"telemetry_ms"`
	HeartbeatMs int64   `json:"heartbeat_ms"`
	WatchdogMs  int64   `json:"watchdog_ms"`
	Broker      string  `json:"broker"`
	HTTPAddr    string  `json:"http_addr"`
	Source      string  `json:"source"`
	WindPort    string  `json:"wind_port,omitempty"`
	Hardware    bool    `json:"hardware"`
	MaxTension  float64 `json:"max_tension_n"`
	Escalate    bool    `json:"escalate"`
}

func targetsJSON(t logic.Targets) TargetsJSON {
	winch := string(t.Winch)
	if winch == "" {
		winch = "UNKNOWN"
	}
	return TargetsJSON{Direction: t.Direction, Trim: t.Trim, Winch: winch, Power: t.Power}
}

func sensorsJSON(r logic.Reading) SensorsJSON {
	return SensorsJSON{
		Orientation: OrientationJSON{
			Valid: r.Orientation.Valid,
			Roll:  r.Orientation.Roll,
			Pitch: r.Orientation.Pitch,
			Yaw:   r.Orientation.Yaw,
		},
		Line: LineJSON{
			TensionValid: r.Line.TensionValid,
			LengthValid:  r.Line.LengthValid,
			Tension:      r.Line.Tension,
			Length:       r.Line.Length,
			MaxTension:   r.Line.MaxTensionSeen,
		},
		Wind: WindJSON{
			Valid:     r.Wind.Valid,
			Speed:     r.Wind.Speed,
			Direction: r.Wind.Direction,
			Gust:      r.Wind.GustSpeed,
		},
	}
}

func warningsJSON(ws []logic.Warning) []WarningJSON {
	out := make([]WarningJSON, 0, len(ws))
	for _, w := range ws {
		out = append(out, WarningJSON{Kind: string(w.Kind), Message: w.Message})
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	f := snap.Flight
	mode := f.Pilot.Mode
	if mode == "" {
		mode = logic.ModeOff
	}
	missing := snap.MissingStages
	if missing == nil {
		missing = []string{}
	}

	inner := StatusInner{
		SessionID: snap.SessionID,
		Pilot: PilotJSON{
			Mode:          string(mode),
			Label:         mode.Label(),
			StatusMessage: f.Pilot.StatusMessage,
			Completion:    f.Pilot.Completion,
			Power:         f.Pilot.PowerGenerated,
			Energy:        f.Pilot.TotalEnergy,
			CycleCounter:  f.Pilot.CycleCounter,
			PatternStep:   f.Pilot.PatternStep,
			FlightCycles:  f.Pilot.FlightCycles,
			Cycles:        f.Cycles,
		},
		Targets:       targetsJSON(f.Targets),
		Outputs:       OutputsJSON{TargetsJSON: targetsJSON(f.Outputs), Attached: f.Attached},
		Sensors:       sensorsJSON(f.Reading),
		Warnings:      warningsJSON(f.Warnings),
		StagesMissing: missing,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			CycleMs:     snap.Config.CycleMs,
			TelemetryMs: snap.Config.TelemetryMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			WatchdogMs:  snap.Config.WatchdogMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Source:      snap.Config.Source,
			WindPort:    snap.Config.WindPort,
			Hardware:    snap.Config.Hardware,
			MaxTension:  snap.Config.MaxTension,
			Escalate:    snap.Config.Escalate,
		},
	}
	if n := snap.Network; n != nil {
		inner.Network = &NetworkJSON{
			Type:       n.Type,
			IP:         n.IP,
			Status:     n.Status,
			Gateway:    n.Gateway,
			WifiStatus: n.WifiStatus,
			SSID:       n.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// TelemetryJSON is the compact live frame sent at the display rate.
type TelemetryJSON struct {
	Telemetry TelemetryInner `json:"telemetry"`
}

// TelemetryInner holds one telemetry frame.
type TelemetryInner struct {
	Timestamp     string        `json:"timestamp"`
	Mode          string        `json:"mode"`
	Label         string        `json:"label"`
	StatusMessage string        `json:"status_message"`
	Completion    float64       `json:"completion_percent"`
	Power         float64       `json:"power_generated_w"`
	Energy        float64       `json:"total_energy_wh"`
	FlightCycles  uint16        `json:"flight_cycles"`
	Targets       TargetsJSON   `json:"targets"`
	Sensors       SensorsJSON   `json:"sensors"`
	Warnings      []WarningJSON `json:"warnings"`
}

// FormatTelemetry returns the compact telemetry frame for MQTT and the
// websocket stream.
func FormatTelemetry(snap Snapshot) []byte {
	f := snap.Flight
	mode := f.Pilot.Mode
	if mode == "" {
		mode = logic.ModeOff
	}
	data, _ := json.Marshal(TelemetryJSON{Telemetry: TelemetryInner{
		Timestamp:     snap.Now.UTC().Format(time.RFC3339Nano),
		Mode:          string(mode),
		Label:         mode.Label(),
		StatusMessage: f.Pilot.StatusMessage,
		Completion:    f.Pilot.Completion,
		Power:         f.Pilot.PowerGenerated,
		Energy:        f.Pilot.TotalEnergy,
		FlightCycles:  f.Pilot.FlightCycles,
		Targets:       targetsJSON(f.Targets),
		Sensors:       sensorsJSON(f.Reading),
		Warnings:      warningsJSON(f.Warnings),
	}})
	return data
}
