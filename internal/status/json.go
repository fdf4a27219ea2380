package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	State         string         `json:"state"`
	Region        int            `json:"region"`
	Running       bool           `json:"running"`
	DebounceCount int            `json:"debounce_count"`
	Thresholds    ThresholdsJSON `json:"thresholds"`
	LastSample    *SampleJSON    `json:"last_sample,omitempty"`
	Trend         TrendJSON      `json:"variance_trend"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Counts        CountsJSON     `json:"counts"`
	Config        ConfigJSON     `json:"config"`
}

// ThresholdsJSON is the JSON representation of the variance band.
type ThresholdsJSON struct {
	Sensitivity int    `json:"sensitivity"`
	Base        uint32 `json:"base"`
	Upper       uint32 `json:"upper"`
	Lower       uint32 `json:"lower"`
}

// SampleJSON describes the most recent successful sample.
type SampleJSON struct {
	Timestamp string    `json:"timestamp"`
	Histogram [5]uint16 `json:"histogram"`
	Variance  uint32    `json:"variance"`
}

// TrendJSON is the JSON representation of recent variance statistics.
type TrendJSON struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Occluded     int `json:"occluded"`
	Cleared      int `json:"cleared"`
	Samples      int `json:"samples"`
	SampleErrors int `json:"sample_errors"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	WarmupMs    int64  `json:"warmup_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Serial      string `json:"serial"`
	LEDPin      int    `json:"led_pin"`
}

func buildInner(snap Snapshot) StatusInner {
	det := snap.Detector
	inner := StatusInner{
		State:         snap.State(),
		Region:        det.Region,
		Running:       snap.Running,
		DebounceCount: det.DebounceCount,
		Thresholds: ThresholdsJSON{
			Sensitivity: det.Thresholds.Sensitivity,
			Base:        det.Thresholds.Base,
			Upper:       det.Thresholds.Upper,
			Lower:       det.Thresholds.Lower,
		},
		Trend: TrendJSON{
			Samples: snap.Trend.Samples,
			Mean:    round2(snap.Trend.Mean),
			StdDev:  round2(snap.Trend.StdDev),
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Occluded:     snap.Counts.Occluded,
			Cleared:      snap.Counts.Cleared,
			Samples:      snap.Samples,
			SampleErrors: snap.SampleErrors,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			WarmupMs:    snap.Config.WarmupMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Serial:      snap.Config.Serial,
			LEDPin:      snap.Config.LEDPin,
		},
	}

	if !snap.LastSample.IsZero() {
		inner.LastSample = &SampleJSON{
			Timestamp: snap.LastSample.UTC().Format(time.RFC3339),
			Histogram: det.LastHist,
			Variance:  det.LastVariance,
		}
	}
	return inner
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
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

// FormatMap returns the status as a generic map, for embedding in other documents.
func FormatMap(snap Snapshot) map[string]interface{} {
	var m map[string]interface{}
	data, _ := json.Marshal(buildInner(snap))
	json.Unmarshal(data, &m)
	return m
}
