package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/filament-sensor/internal/status"
)

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
	"age": func(d time.Duration) string {
		if d < 0 {
			d = 0
		}
		return fmt.Sprintf("%.1fs", d.Seconds())
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Filament Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.fault { color: red; font-weight: bold; }
.idle { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Filament Sensor<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Monitor</h2>
<table>
<tr><th>Latch</th><td id="latch-state" class="{{if .Monitor.Latched}}fault{{else}}ok{{end}}">{{if .Monitor.Latched}}LATCHED ({{.Monitor.Reason}}){{else}}clear{{end}}</td></tr>
<tr><th>Detection</th><td id="enabled-state" class="{{if .Monitor.Enabled}}ok{{else}}idle{{end}}">{{if .Monitor.Enabled}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>Jam watch</th><td id="armed-state" class="{{if .Monitor.Armed}}ok{{else}}idle{{end}}">{{if .Monitor.Armed}}armed{{else}}idle{{end}}</td></tr>
<tr><th>Runout switch</th><td id="runout-state" class="{{if .Monitor.RunoutAsserted}}fault{{else}}ok{{end}}">{{if .Monitor.RunoutAsserted}}NO FILAMENT{{else}}filament present{{end}}</td></tr>
<tr><th>Motion pulses</th><td id="pulse-total">{{.Monitor.PulseTotal}}</td></tr>
<tr><th>Last pulse</th><td id="pulse-age">{{age .Monitor.LastPulseAge}} ago</td></tr>
<tr><th>Pending pause</th><td id="pending-state">{{if .Monitor.PendingAction}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Printer</th><td id="serial-state" class="{{if .SerialConnected}}connected{{else}}disconnected{{end}}">{{if .SerialConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Port</th><td>{{.Config.Port}} @ {{.Config.Baud}}</td></tr>
<tr><th>MQTT</th><td id="mqtt-state" class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Jams</th><td id="jam-count">{{.Monitor.JamCount}}</td></tr>
<tr><th>Runouts</th><td id="runout-count">{{.Monitor.RunoutCount}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Jam timeout</th><td>{{.Config.JamTimeoutMs}}ms</td></tr>
<tr><th>Arm hold</th><td>{{.Config.ArmHoldMs}}ms</td></tr>
<tr><th>Runout debounce</th><td>{{if .Config.RunoutEnabled}}{{.Config.RunoutDebounceMs}}ms{{else}}switch disabled{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Pause G-code</th><td>{{.Config.PauseGcode}}{{if .Config.DryRun}} (dry run){{end}}</td></tr>
<tr><th>Auto reset</th><td>{{if .Config.AutoReset}}on{{else}}off{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> &middot; <a href="/metrics">Metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");

  function text(id, value) {
    var el = document.getElementById(id);
    if (el) el.textContent = value;
  }
  function cls(id, value) {
    var el = document.getElementById(id);
    if (el) el.className = value;
  }

  function apply(s) {
    if (s.latched) {
      text("latch-state", "LATCHED (" + s.trigger_reason + ")");
      cls("latch-state", "fault");
    } else {
      text("latch-state", "clear");
      cls("latch-state", "ok");
    }
    text("enabled-state", s.enabled ? "enabled" : "disabled");
    cls("enabled-state", s.enabled ? "ok" : "idle");
    text("armed-state", s.armed ? "armed" : "idle");
    cls("armed-state", s.armed ? "ok" : "idle");
    text("runout-state", s.runout_asserted ? "NO FILAMENT" : "filament present");
    cls("runout-state", s.runout_asserted ? "fault" : "ok");
    text("pulse-total", s.pulse_total);
    text("pulse-age", s.last_pulse_age_seconds.toFixed(1) + "s ago");
    text("pending-state", s.pending_action ? "yes" : "no");
    text("jam-count", s.event_counts.jams);
    text("runout-count", s.event_counts.runouts);
    text("serial-state", s.serial.connected ? "connected" : "disconnected");
    cls("serial-state", s.serial.connected ? "connected" : "disconnected");
    text("mqtt-state", s.mqtt.connected ? "connected" : "disconnected");
    cls("mqtt-state", s.mqtt.connected ? "connected" : "disconnected");
  }

  function poll() {
    fetch("/index.json").then(function(r) { return r.json(); }).then(function(data) {
      dot.className = "live-dot ok";
      dot.title = "live";
      apply(data.status);
    }).catch(function() {
      dot.className = "live-dot err";
      dot.title = "offline";
    });
  }

  poll();
  setInterval(poll, 2000);
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
