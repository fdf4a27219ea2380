package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/occlusion-sensor/internal/config"
	"github.com/sweeney/occlusion-sensor/internal/control"
	"github.com/sweeney/occlusion-sensor/internal/gpio"
	"github.com/sweeney/occlusion-sensor/internal/isp"
	"github.com/sweeney/occlusion-sensor/internal/logic"
	"github.com/sweeney/occlusion-sensor/internal/monitor"
	"github.com/sweeney/occlusion-sensor/internal/mqtt"
	"github.com/sweeney/occlusion-sensor/internal/status"
	"github.com/sweeney/occlusion-sensor/internal/web"
)

// connectivityRefresh is how often the tracker's MQTT flag is refreshed.
const connectivityRefresh = 5 * time.Second

func runDaemon(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	source, err := isp.OpenSerial(cfg.Source.Serial, cfg.Source.Baud, cfg.Source.Timeout)
	if err != nil {
		return fmt.Errorf("open statistics source: %w", err)
	}
	defer source.Close()

	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Topics:     mqtt.Topics(cfg.MQTT.Topics),
		BufferSize: cfg.MQTT.Buffer,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	tracker.SetMQTTConnected(publisher.IsConnected())

	sinks := []monitor.Sink{publisher}
	if cfg.LEDPin != gpio.Disabled {
		led, err := gpio.NewRealIndicator(gpio.DefaultChip, cfg.LEDPin)
		if err != nil {
			return fmt.Errorf("init indicator: %w", err)
		}
		defer led.Close()
		sinks = append(sinks, monitor.SinkFunc(gpio.Follow(led)))
	}

	mon := monitor.New(monitor.Options{
		Source:   source,
		Sinks:    sinks,
		Tracker:  tracker,
		Interval: cfg.Poll,
		Warmup:   cfg.Warmup,
	})
	if err := mon.Start(cfg.DetectorRegions()); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	defer mon.Stop()

	publishSystem(publisher, tracker, "STARTUP", "", true)

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP)
	}

	ctx, cancel := context.WithCancel(context.Background())
	handler := control.NewHandler(publisher, cfg.MQTT.Topics.Control, cfg.MQTT.Topics.Response,
		controlCallbacks(mon, tracker, cfg.DetectorRegions()))
	if err := handler.Start(ctx); err != nil {
		// The detector keeps running without a control plane
		log.Printf("control plane unavailable: %v", err)
	}
	// Control commands finish before mon.Stop runs
	defer func() {
		cancel()
		handler.Wait()
	}()

	log.Printf("started: poll=%v warmup=%v broker=%s heartbeat=%v serial=%s",
		cfg.Poll, cfg.Warmup, cfg.MQTT.Broker, cfg.Heartbeat, cfg.Source.Serial)

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		t := time.NewTicker(cfg.Heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}
	refresh := time.NewTicker(connectivityRefresh)
	defer refresh.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(publisher, publisher, tracker, heartbeat, refresh.C, sigCh)
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		PollMs:      cfg.Poll.Milliseconds(),
		WarmupMs:    cfg.Warmup.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP,
		Serial:      cfg.Source.Serial,
		LEDPin:      cfg.LEDPin,
	}
}

// detector is the part of monitor.Monitor driven by control commands.
type detector interface {
	Start(regions []logic.RegionConfig) error
	Stop() error
	Reconfigure(regions []logic.RegionConfig) error
	Regions() []logic.RegionConfig
}

func controlCallbacks(d detector, tracker *status.Tracker, defaults []logic.RegionConfig) control.Callbacks {
	return control.Callbacks{
		OnStart: func(regions []logic.RegionConfig) error {
			if regions == nil {
				regions = d.Regions()
			}
			if len(regions) == 0 {
				regions = defaults
			}
			return d.Start(regions)
		},
		OnStop:         d.Stop,
		OnUpdateConfig: d.Reconfigure,
		OnGetStatus: func() map[string]interface{} {
			return status.FormatMap(tracker.Snapshot())
		},
	}
}

// runLoop publishes heartbeats and keeps the tracker's connectivity flag
// fresh until a signal arrives, then publishes SHUTDOWN.
func runLoop(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat, refresh <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			reason := signalName(s)
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			publishSystem(publisher, tracker, "SHUTDOWN", reason, true)
			return nil

		case <-heartbeat:
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			snap := tracker.Snapshot()
			log.Printf("heartbeat: state=%s uptime=%v occluded=%d cleared=%d samples=%d errors=%d",
				snap.State(), snap.Uptime().Truncate(time.Second), snap.Counts.Occluded, snap.Counts.Cleared,
				snap.Samples, snap.SampleErrors)
			publishSystem(publisher, tracker, "HEARTBEAT", "", false)

		case <-refresh:
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
		}
	}
}

// publishSystem sends a lifecycle event carrying a full status snapshot.
func publishSystem(publisher mqtt.Publisher, tracker *status.Tracker, event, reason string, retained bool) {
	snap := tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := publisher.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
