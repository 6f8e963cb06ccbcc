package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/kite-pilot/internal/logic"
	"github.com/sweeney/kite-pilot/internal/status"
)

// modeButtons lists the modes offered on the dashboard, in flight order.
var modeButtons = []logic.Mode{
	logic.ModeStandby,
	logic.ModeLaunch,
	logic.ModeFigureEight,
	logic.ModeCircular,
	logic.ModePowerGeneration,
	logic.ModeLand,
	logic.ModeOff,
}

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"modeOrOff": func(m logic.Mode) logic.Mode {
		if m == "" {
			return logic.ModeOff
		}
		return m
	},
	"f1": func(v float64) string {
		return fmt.Sprintf("%.1f", v)
	},
	"valid": func(ok bool) string {
		if ok {
			return ""
		}
		return "stale"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Kite Pilot</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.stale { color: #888; text-decoration: line-through; }
.warn { color: #b00; }
.connected { color: green; }
.disconnected { color: red; }
.controls button { margin: 2px; font-family: monospace; }
.controls .stop { background: #c00; color: #fff; font-weight: bold; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Kite Pilot{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Flight</h2>
<table>
<tr><th>Mode</th><td id="mode">{{(modeOrOff .Flight.Pilot.Mode).Label}}</td></tr>
<tr><th>Status</th><td id="status-message">{{.Flight.Pilot.StatusMessage}}</td></tr>
<tr><th>Completion</th><td id="completion">{{f1 .Flight.Pilot.Completion}}%</td></tr>
<tr><th>Power</th><td id="power">{{f1 .Flight.Pilot.PowerGenerated}} W</td></tr>
<tr><th>Energy</th><td id="energy">{{f1 .Flight.Pilot.TotalEnergy}} Wh</td></tr>
<tr><th>Flight cycles</th><td id="flight-cycles">{{.Flight.Pilot.FlightCycles}}</td></tr>
</table>

{{if .Controls}}
<div class="controls">
{{range .Modes}}<button data-mode="{{.}}">{{.Label}}</button>{{end}}
<button data-next="1">Next</button>
<button class="stop" id="emergency">EMERGENCY STOP</button>
</div>
{{end}}

<h2>Targets</h2>
<table>
<tr><th>Direction</th><td id="direction">{{f1 .Flight.Targets.Direction}}&deg;</td></tr>
<tr><th>Trim</th><td id="trim">{{f1 .Flight.Targets.Trim}}&deg;</td></tr>
<tr><th>Winch</th><td id="winch">{{.Flight.Targets.Winch}} {{f1 .Flight.Targets.Power}}%</td></tr>
<tr><th>Outputs</th><td>{{if .Flight.Attached}}{{f1 .Flight.Outputs.Direction}}&deg; / {{f1 .Flight.Outputs.Trim}}&deg; / {{.Flight.Outputs.Winch}}{{else}}<span class="warn">not attached</span>{{end}}</td></tr>
</table>

<h2>Sensors</h2>
<table>
<tr><th>Attitude</th><td class="{{valid .Flight.Reading.Orientation.Valid}}">roll {{f1 .Flight.Reading.Orientation.Roll}} pitch {{f1 .Flight.Reading.Orientation.Pitch}} yaw {{f1 .Flight.Reading.Orientation.Yaw}}</td></tr>
<tr><th>Tension</th><td class="{{valid .Flight.Reading.Line.TensionValid}}">{{f1 .Flight.Reading.Line.Tension}} N (max {{f1 .Flight.Reading.Line.MaxTensionSeen}} N)</td></tr>
<tr><th>Line length</th><td class="{{valid .Flight.Reading.Line.LengthValid}}">{{f1 .Flight.Reading.Line.Length}} m</td></tr>
<tr><th>Wind</th><td class="{{valid .Flight.Reading.Wind.Valid}}">{{f1 .Flight.Reading.Wind.Speed}} m/s from {{f1 .Flight.Reading.Wind.Direction}}&deg; (gust {{f1 .Flight.Reading.Wind.GustSpeed}})</td></tr>
</table>

{{if or .Flight.Warnings .MissingStages}}
<h2>Warnings</h2>
<ul id="warnings">
{{range .Flight.Warnings}}<li class="warn">{{.Message}}</li>{{end}}
{{range .MissingStages}}<li class="warn">{{.}} stage not responding</li>{{end}}
</ul>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Session</th><td>{{.SessionID}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Control cycle</th><td>{{.Config.CycleMs}}ms ({{.Flight.Cycles}} run)</td></tr>
<tr><th>Source</th><td>{{.Config.Source}}{{if .Config.WindPort}} + {{.Config.WindPort}}{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  function post(path, body) {
    return fetch(path, { method: "POST", headers: { "Content-Type": "application/x-www-form-urlencoded" }, body: body })
      .then(function(r) { return r.json(); })
      .then(function(res) { if (!res.ok) { alert(res.error); } });
  }
  document.querySelectorAll("button[data-mode]").forEach(function(b) {
    b.onclick = function() { post("/api/mode", "mode=" + encodeURIComponent(b.dataset.mode)); };
  });
  document.querySelectorAll("button[data-next]").forEach(function(b) {
    b.onclick = function() { post("/api/next", ""); };
  });
  var stop = document.getElementById("emergency");
  if (stop) { stop.onclick = function() { post("/api/emergency", ""); }; }
})();
</script>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) { dot.className = "live-dot " + cls; dot.title = title; }
  function set(id, text) { var el = document.getElementById(id); if (el) { el.textContent = text; } }

  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() { setDot("err", "offline"); setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      try {
        var t = JSON.parse(ev.data).telemetry;
        set("mode", t.label);
        set("status-message", t.status_message);
        set("completion", t.completion_percent.toFixed(1) + "%");
        set("power", t.power_generated_w.toFixed(1) + " W");
        set("energy", t.total_energy_wh.toFixed(1) + " Wh");
        set("flight-cycles", t.flight_cycles);
        set("direction", t.targets.direction_deg.toFixed(1) + "°");
        set("trim", t.targets.trim_deg.toFixed(1) + "°");
        set("winch", t.targets.winch + " " + t.targets.winch_power_percent.toFixed(1) + "%");
      } catch (e) {}
    };
  }
  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, controls, live bool) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime   time.Duration
		Modes    []logic.Mode
		Controls bool
		Live     bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Modes:    modeButtons,
		Controls: controls,
		Live:     live,
	}
	return indexTmpl.Execute(w, data)
}
