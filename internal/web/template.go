package web

import (
	"html/template"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/occlusion-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime":     humanDuration,
	"stateClass": func(s string) string {
		switch s {
		case "OCCLUDED":
			return "occluded"
		case "CLEAR":
			return "clear"
		}
		return "stopped"
	},
	"ts": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format(time.RFC3339)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="5">
<meta name="viewport" content="width=device-width">
<title>Occlusion Sensor</title>
<style>
body { font: 14px/1.4 ui-monospace, monospace; margin: 1.5em auto; max-width: 40em; padding: 0 1em; }
h1 { font-size: 1.3em; border-bottom: 2px solid #444; }
h2 { font-size: 1.05em; margin-top: 1.5em; }
table { width: 100%; border-spacing: 0; }
th, td { padding: 3px 6px; text-align: left; vertical-align: top; }
th { color: #555; font-weight: normal; width: 35%; }
tr:nth-child(odd) td, tr:nth-child(odd) th { background: #f4f4f4; }
.occluded { color: #b00; font-weight: bold; }
.clear { color: #080; font-weight: bold; }
.stopped { color: #c60; }
.up { color: #080; }
.down { color: #b00; }
</style>
</head>
<body>
<h1>Occlusion Sensor</h1>

<h2>State</h2>
<table>
<tr><th>Region</th><td>{{.Detector.Region}}</td></tr>
<tr><th>State</th><td id="state" class="{{stateClass .State}}">{{.State}}</td></tr>
<tr><th>Debounce</th><td>{{.Detector.DebounceCount}}</td></tr>
<tr><th>Sensitivity</th><td>{{.Detector.Thresholds.Sensitivity}}</td></tr>
<tr><th>Variance band</th><td>{{.Detector.Thresholds.Lower}} / {{.Detector.Thresholds.Base}} / {{.Detector.Thresholds.Upper}}</td></tr>
</table>

<h2>Last Sample</h2>
<table>
<tr><th>Time</th><td>{{ts .LastSample}}</td></tr>
<tr><th>Histogram</th><td>{{range $i, $v := .Detector.LastHist}}{{if $i}} {{end}}{{$v}}{{end}}</td></tr>
<tr><th>Variance</th><td>{{.Detector.LastVariance}}</td></tr>
<tr><th>Variance trend</th><td>{{printf "%.1f" .Trend.Mean}} &plusmn; {{printf "%.1f" .Trend.StdDev}} ({{.Trend.Samples}} samples)</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Link</th><td class="{{if .MQTTConnected}}up{{else}}down{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Serial</th><td>{{.Config.Serial}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Occluded</th><td>{{.Counts.Occluded}}</td></tr>
<tr><th>Cleared</th><td>{{.Counts.Cleared}}</td></tr>
<tr><th>Samples</th><td>{{.Samples}}</td></tr>
<tr><th>Failed queries</th><td>{{.SampleErrors}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{ts .StartTime}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}} ms</td></tr>
<tr><th>Warmup</th><td>{{.Config.WarmupMs}} ms</td></tr>
<tr><th>Heartbeat</th><td>{{.Config.HeartbeatMs}} ms</td></tr>
<tr><th>LED pin</th><td>{{if lt .Config.LEDPin 0}}disabled{{else}}{{.Config.LEDPin}}{{end}}</td></tr>
</table>

<p>Raw data: <a href="/index.json">index.json</a> &middot; <a href="/healthz">healthz</a></p>
</body>
</html>
`

// page flattens the Snapshot accessors into fields the template can read.
type page struct {
	status.Snapshot
	Uptime time.Duration
	State  string
}

// humanDuration renders d as "1d 2h 3m 4s", omitting leading zero units.
func humanDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	units := []struct {
		suffix string
		size   int64
	}{{"d", 86400}, {"h", 3600}, {"m", 60}, {"s", 1}}

	var parts []string
	for _, u := range units {
		n := secs / u.size
		secs %= u.size
		if n == 0 && len(parts) == 0 && u.suffix != "s" {
			continue
		}
		parts = append(parts, strconv.FormatInt(n, 10)+u.suffix)
	}
	return strings.Join(parts, " ")
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	p := page{Snapshot: snap, Uptime: snap.Uptime(), State: snap.State()}
	if err := indexTmpl.Execute(w, p); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
