package internal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/sweeney/occlusion-sensor/internal/control"
	"github.com/sweeney/occlusion-sensor/internal/gpio"
	"github.com/sweeney/occlusion-sensor/internal/isp"
	"github.com/sweeney/occlusion-sensor/internal/logic"
	"github.com/sweeney/occlusion-sensor/internal/monitor"
	"github.com/sweeney/occlusion-sensor/internal/mqtt"
	"github.com/sweeney/occlusion-sensor/internal/status"
)

var (
	dark    = isp.Sample{Hist: logic.Histogram{60000, 0, 0, 0, 0}}
	bright  = isp.Sample{Hist: logic.Histogram{3000, 3000, 3000, 3000, 3000}}
	neutral = isp.Sample{Hist: logic.Histogram{3000, 3000, 3000, 3000, 500}}
)

type rig struct {
	src     *isp.FakeSource
	pub     *mqtt.FakePublisher
	led     *gpio.FakeIndicator
	tracker *status.Tracker
	mon     *monitor.Monitor
}

// newRig wires a fake source through the monitor to a fake publisher and LED,
// the same way the daemon does.
func newRig(t *testing.T, samples ...[]isp.Sample) *rig {
	t.Helper()
	var script []isp.Sample
	for _, s := range samples {
		script = append(script, s...)
	}

	r := &rig{
		src:     isp.NewFakeSource(script...),
		pub:     mqtt.NewFakePublisher(),
		led:     gpio.NewFakeIndicator(),
		tracker: status.NewTracker(time.Now(), status.Config{}),
	}
	r.mon = monitor.New(monitor.Options{
		Source:   r.src,
		Sinks:    []monitor.Sink{r.pub, monitor.SinkFunc(gpio.Follow(r.led))},
		Tracker:  r.tracker,
		Interval: time.Millisecond,
	})
	t.Cleanup(func() { r.mon.Stop() })
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func payloadStates(t *testing.T, payloads [][]byte) []bool {
	t.Helper()
	out := make([]bool, len(payloads))
	for i, p := range payloads {
		var parsed mqtt.Payload
		if err := json.Unmarshal(p, &parsed); err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		out[i] = parsed.Body.Event.State
	}
	return out
}

// TestIntegrationFullFlow tests the complete flow from statistics to MQTT and LED using fakes.
func TestIntegrationFullFlow(t *testing.T) {
	r := newRig(t,
		isp.Repeat(neutral, 5),
		isp.Repeat(dark, 11),   // occluded on the 11th
		isp.Repeat(bright, 21), // cleared on the 21st
		isp.Repeat(dark, 11),   // occluded again
		[]isp.Sample{neutral},
	)
	if err := r.mon.Start([]logic.RegionConfig{{Sensitivity: 50}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "three events", func() bool { return len(r.pub.Events()) == 3 })

	want := []bool{true, false, true}
	if diff := cmp.Diff(want, payloadStates(t, r.pub.Payloads())); diff != "" {
		t.Errorf("published states (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, r.led.History()); diff != "" {
		t.Errorf("LED history (-want +got):\n%s", diff)
	}

	snap := r.tracker.Snapshot()
	if snap.State() != "OCCLUDED" {
		t.Errorf("state: got %q, want OCCLUDED", snap.State())
	}
	if snap.Counts.Occluded != 2 || snap.Counts.Cleared != 1 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
}

func TestIntegrationBounceRejection(t *testing.T) {
	// Ten supporting samples never exceed the occlusion window.
	r := newRig(t,
		isp.Repeat(dark, 10),
		[]isp.Sample{neutral},
		isp.Repeat(dark, 10),
		[]isp.Sample{neutral},
	)
	if err := r.mon.Start([]logic.RegionConfig{{Sensitivity: 50}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "script consumed", func() bool { return r.src.Calls() > 30 })

	if n := len(r.pub.Events()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
	if r.led.On() {
		t.Error("LED should stay off")
	}
}

func TestIntegrationQueryFailuresDoNotReset(t *testing.T) {
	r := newRig(t,
		isp.Repeat(dark, 6),
		isp.Repeat(isp.Sample{Err: isp.ErrDevice}, 4),
		isp.Repeat(dark, 5),
		[]isp.Sample{neutral},
	)
	if err := r.mon.Start([]logic.RegionConfig{{Sensitivity: 50}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "occlusion event", func() bool { return len(r.pub.Events()) == 1 })

	if got := r.tracker.Snapshot().SampleErrors; got != 4 {
		t.Errorf("SampleErrors: got %d, want 4", got)
	}
}

func TestIntegrationPublishFailureDoesNotCrash(t *testing.T) {
	r := newRig(t, isp.Repeat(dark, 11), isp.Repeat(bright, 21), []isp.Sample{neutral})
	r.pub.SetPublishError(errors.New("broker unreachable"))

	if err := r.mon.Start([]logic.RegionConfig{{Sensitivity: 50}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "LED cycle", func() bool { return len(r.led.History()) == 2 })

	if got := r.tracker.Snapshot().State(); got != "CLEAR" {
		t.Errorf("state: got %q, want CLEAR (transitions are kept despite publish errors)", got)
	}
	if !r.mon.Running() {
		t.Error("monitor should keep running")
	}
}

func TestIntegrationPayloadFormat(t *testing.T) {
	r := newRig(t, isp.Repeat(dark, 11), []isp.Sample{neutral})
	if err := r.mon.Start([]logic.RegionConfig{{Sensitivity: 50}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "occlusion event", func() bool { return len(r.pub.Payloads()) == 1 })

	var parsed mqtt.Payload
	if err := json.Unmarshal(r.pub.Payloads()[0], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Event != mqtt.EventName {
		t.Errorf("event: got %q", parsed.Event)
	}
	if _, err := uuid.Parse(parsed.ID); err != nil {
		t.Errorf("id: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, parsed.Timestamp); err != nil {
		t.Errorf("timestamp: %v", err)
	}
	if parsed.Body.Event.Region != 0 || !parsed.Body.Event.State {
		t.Errorf("body: got %+v", parsed.Body.Event)
	}
}

func TestIntegrationControlPlane(t *testing.T) {
	r := newRig(t, isp.Repeat(dark, 11), []isp.Sample{neutral})
	topics := mqtt.DefaultTopics()

	h := control.NewHandler(r.pub, topics.Control, topics.Response, control.Callbacks{
		OnStart:        r.mon.Start,
		OnStop:         r.mon.Stop,
		OnUpdateConfig: r.mon.Reconfigure,
		OnGetStatus:    func() map[string]interface{} { return status.FormatMap(r.tracker.Snapshot()) },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.Start(ctx); err != nil {
		t.Fatalf("control Start: %v", err)
	}

	send := func(msg string) {
		t.Helper()
		if !r.pub.Deliver(topics.Control, []byte(msg)) {
			t.Fatal("control topic not subscribed")
		}
	}
	responses := func() []control.Response {
		var out []control.Response
		for _, m := range r.pub.Raw() {
			var resp control.Response
			if err := json.Unmarshal(m.Payload, &resp); err != nil {
				t.Fatalf("invalid response: %v", err)
			}
			out = append(out, resp)
		}
		return out
	}

	send(`{"command":"start","config":{"regions":[{"sensitivity":50}]}}`)
	waitFor(t, "occlusion event", func() bool { return len(r.pub.Events()) == 1 })

	send(`{"command":"update_config","config":{"regions":[{"sensitivity":120}]}}`)
	send(`{"command":"update_config","config":{"regions":[{"sensitivity":60}]}}`)
	send(`{"command":"get_status"}`)
	waitFor(t, "four responses", func() bool { return len(r.pub.Raw()) == 4 })

	got := responses()
	wantAcks := []string{"start:success", "update_config:error", "update_config:success", "get_status:success"}
	var acks []string
	for _, resp := range got {
		acks = append(acks, resp.CommandAck+":"+resp.Status)
	}
	if diff := cmp.Diff(wantAcks, acks); diff != "" {
		t.Errorf("responses (-want +got):\n%s", diff)
	}

	// The accepted update restarted hysteresis at CLEAR
	if got[3].Data["state"] != "CLEAR" {
		t.Errorf("state after update_config: got %v, want CLEAR", got[3].Data["state"])
	}
	if th, ok := got[3].Data["thresholds"].(map[string]interface{}); !ok || th["sensitivity"] != float64(60) {
		t.Errorf("thresholds after update_config: got %v", got[3].Data["thresholds"])
	}
}
