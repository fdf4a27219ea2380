package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/occlusion-sensor/internal/config"
	"github.com/sweeney/occlusion-sensor/internal/isp"
	"github.com/sweeney/occlusion-sensor/internal/logic"
	"github.com/sweeney/occlusion-sensor/internal/monitor"
	"github.com/sweeney/occlusion-sensor/internal/mqtt"
	"github.com/sweeney/occlusion-sensor/internal/status"
)

// --- runLoop tests ---

// runRunLoop drives runLoop with nBeats heartbeat ticks followed by signal.
func runRunLoop(t *testing.T, pub *mqtt.FakePublisher, tracker *status.Tracker, nBeats int, signal os.Signal) error {
	t.Helper()
	heartbeat := make(chan time.Time)
	refresh := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(pub, pub, tracker, heartbeat, refresh, sig)
	}()

	for i := 0; i < nBeats; i++ {
		heartbeat <- time.Time{}
	}
	sig <- signal

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return after signal")
		return nil
	}
}

func newTracker() *status.Tracker {
	return status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{PollMs: 100})
}

func decodeStatus(t *testing.T, payload []byte) status.StatusJSON {
	t.Helper()
	var sj status.StatusJSON
	if err := json.Unmarshal(payload, &sj); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	return sj
}

func TestRunLoopShutdownOnSignal(t *testing.T) {
	tests := []struct {
		signal os.Signal
		reason string
	}{
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGINT, "SIGINT"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			pub := mqtt.NewFakePublisher()

			if err := runRunLoop(t, pub, newTracker(), 0, tt.signal); err != nil {
				t.Fatalf("runLoop returned error: %v", err)
			}

			events := pub.SystemEvents()
			if len(events) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(events))
			}
			ev := events[0]
			if ev.Event != "SHUTDOWN" || ev.Reason != tt.reason || !ev.Retained {
				t.Errorf("unexpected shutdown event: %+v", ev)
			}

			sj := decodeStatus(t, pub.SystemPayloads()[0])
			if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != tt.reason {
				t.Errorf("payload event/reason: got %q/%q", sj.Status.Event, sj.Status.Reason)
			}
		})
	}
}

func TestRunLoopHeartbeats(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.SetConnected(true)
	tracker := newTracker()

	if err := runRunLoop(t, pub, tracker, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	events := pub.SystemEvents()
	if len(events) != 4 {
		t.Fatalf("expected 3 heartbeats + shutdown, got %d events", len(events))
	}
	for i := 0; i < 3; i++ {
		if events[i].Event != "HEARTBEAT" {
			t.Errorf("event %d: got %q, want HEARTBEAT", i, events[i].Event)
		}
		if events[i].Retained {
			t.Errorf("heartbeat %d should not be retained", i)
		}
	}
	if events[3].Event != "SHUTDOWN" {
		t.Errorf("last event: got %q, want SHUTDOWN", events[3].Event)
	}

	sj := decodeStatus(t, pub.SystemPayloads()[0])
	if !sj.Status.MQTT.Connected {
		t.Error("heartbeat should carry refreshed MQTT connectivity")
	}
	if !tracker.Snapshot().MQTTConnected {
		t.Error("tracker should record MQTT connectivity")
	}
}

func TestRunLoopRefreshUpdatesConnectivity(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	tracker := newTracker()
	refresh := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- runLoop(pub, pub, tracker, nil, refresh, sig) }()

	pub.SetConnected(true)
	refresh <- time.Time{}
	// The second send only proceeds once the first has been handled.
	refresh <- time.Time{}

	if !tracker.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true after refresh")
	}
	if len(pub.SystemEvents()) != 0 {
		t.Error("refresh must not publish events")
	}

	sig <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func TestRunLoopPublishFailureDoesNotExit(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.SetPublishSystemError(errors.New("broker down"))

	if err := runRunLoop(t, pub, newTracker(), 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(pub.SystemEvents()) != 0 {
		t.Errorf("expected no recorded events, got %d", len(pub.SystemEvents()))
	}
}

func TestSignalName(t *testing.T) {
	if got := signalName(syscall.SIGINT); got != "SIGINT" {
		t.Errorf("SIGINT: got %q", got)
	}
	if got := signalName(syscall.SIGTERM); got != "SIGTERM" {
		t.Errorf("SIGTERM: got %q", got)
	}
	if got := signalName(syscall.SIGHUP); got != "UNKNOWN" {
		t.Errorf("SIGHUP: got %q", got)
	}
}

// --- control wiring ---

func TestControlCallbacksDriveMonitor(t *testing.T) {
	src := isp.NewFakeSource(isp.Sample{Hist: logic.Histogram{3000, 3000, 3000, 3000, 500}})
	tracker := newTracker()
	mon := monitor.New(monitor.Options{Source: src, Tracker: tracker, Interval: time.Millisecond})
	defaults := []logic.RegionConfig{{Sensitivity: 50}}

	cb := controlCallbacks(mon, tracker, defaults)

	// No config and no previous run: fall back to defaults
	if err := cb.OnStart(nil); err != nil {
		t.Fatalf("OnStart: %v", err)
	}
	if got := tracker.Snapshot().Detector.Thresholds.Sensitivity; got != 50 {
		t.Errorf("sensitivity: got %d, want 50", got)
	}

	if err := cb.OnUpdateConfig([]logic.RegionConfig{{Sensitivity: 80}}); err != nil {
		t.Fatalf("OnUpdateConfig: %v", err)
	}
	if got := tracker.Snapshot().Detector.Thresholds.Sensitivity; got != 80 {
		t.Errorf("sensitivity after update: got %d, want 80", got)
	}

	if err := cb.OnStop(); err != nil {
		t.Fatalf("OnStop: %v", err)
	}
	if err := cb.OnStop(); !errors.Is(err, monitor.ErrNotRunning) {
		t.Errorf("second OnStop: got %v, want ErrNotRunning", err)
	}

	// No config: resume the last configuration
	if err := cb.OnStart(nil); err != nil {
		t.Fatalf("OnStart: %v", err)
	}
	defer mon.Stop()
	if got := tracker.Snapshot().Detector.Thresholds.Sensitivity; got != 80 {
		t.Errorf("sensitivity after restart: got %d, want 80", got)
	}

	data := cb.OnGetStatus()
	if data["state"] != "CLEAR" {
		t.Errorf("status state: got %v, want CLEAR", data["state"])
	}
}

// --- print-stats ---

func TestPrintStats(t *testing.T) {
	tests := []struct {
		name     string
		hist     logic.Histogram
		evidence string
		variance string
	}{
		{"dark", logic.Histogram{60000, 0, 0, 0, 0}, "evidence: occluded", "variance: 26832"},
		{"bright", logic.Histogram{3000, 3000, 3000, 3000, 3000}, "evidence: clear", "variance: 0"},
		{"neutral", logic.Histogram{3000, 3000, 3000, 3000, 500}, "evidence: none", "variance: 1118"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			src := isp.NewFakeSource(isp.Sample{Hist: tt.hist})

			if err := printStats(&buf, src, 50); err != nil {
				t.Fatalf("printStats: %v", err)
			}

			out := buf.String()
			for _, want := range []string{tt.evidence, tt.variance, "lower=18000"} {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestPrintStatsErrors(t *testing.T) {
	var buf bytes.Buffer

	src := isp.NewFakeSource(isp.Sample{Err: isp.ErrTimeout})
	if err := printStats(&buf, src, 50); !errors.Is(err, isp.ErrTimeout) {
		t.Errorf("query failure: got %v, want ErrTimeout", err)
	}

	if err := printStats(&buf, isp.NewFakeSource(), 150); !errors.Is(err, logic.ErrSensitivityRange) {
		t.Errorf("bad sensitivity: got %v, want ErrSensitivityRange", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output on error, got %q", buf.String())
	}
}

// --- CLI ---

func TestOverrideFlagsOnlyChanged(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	f := &overrideFlags{}
	bindOverrideFlags(cmd, f)

	if ov := f.toOverrides(cmd); ov != (config.Overrides{}) {
		t.Errorf("expected empty overrides, got %+v", ov)
	}

	if err := cmd.Flags().Parse([]string{"--sensitivity", "75", "--poll", "250ms", "--http", "", "--led-pin", "17"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	ov := f.toOverrides(cmd)
	if ov.Sensitivity == nil || *ov.Sensitivity != 75 {
		t.Errorf("Sensitivity: got %v", ov.Sensitivity)
	}
	if ov.Poll == nil || *ov.Poll != 250*time.Millisecond {
		t.Errorf("Poll: got %v", ov.Poll)
	}
	if ov.HTTP == nil || *ov.HTTP != "" {
		t.Errorf("HTTP: got %v", ov.HTTP)
	}
	if ov.LEDPin == nil || *ov.LEDPin != 17 {
		t.Errorf("LEDPin: got %v", ov.LEDPin)
	}
	if ov.Broker != nil || ov.Serial != nil || ov.Warmup != nil {
		t.Error("unchanged flags must stay nil")
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"run", "print-stats"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not found: %v", name, err)
			continue
		}
		if cmd.Flags().Lookup("sensitivity") == nil {
			t.Errorf("%s: missing --sensitivity flag", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("missing --config flag")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Regions[0].Sensitivity = 101

	err := runDaemon(cfg)
	if !errors.Is(err, logic.ErrSensitivityRange) {
		t.Errorf("got %v, want ErrSensitivityRange", err)
	}
}

func TestStatusConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LEDPin = 17

	sc := statusConfig(cfg)
	if sc.PollMs != 100 || sc.WarmupMs != 2000 || sc.HeartbeatMs != 900000 {
		t.Errorf("durations: got %+v", sc)
	}
	if sc.Serial != "/dev/ttyUSB0" || sc.HTTPAddr != ":8080" || sc.LEDPin != 17 {
		t.Errorf("fields: got %+v", sc)
	}
}
