package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/occlusion-sensor/internal/config"
)

// overrideFlags holds flag values before they become config overrides.
type overrideFlags struct {
	sensitivity int
	poll        time.Duration
	warmup      time.Duration
	heartbeat   time.Duration
	serial      string
	baud        int
	broker      string
	clientID    string
	http        string
	ledPin      int
}

func bindOverrideFlags(cmd *cobra.Command, f *overrideFlags) {
	cmd.Flags().IntVar(&f.sensitivity, "sensitivity", 50, "Region 0 sensitivity (0-100, higher detects sooner)")
	cmd.Flags().DurationVar(&f.poll, "poll", 100*time.Millisecond, "Statistics polling interval")
	cmd.Flags().DurationVar(&f.warmup, "warmup", 2*time.Second, "Delay before the first sample")
	cmd.Flags().DurationVar(&f.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	cmd.Flags().StringVar(&f.serial, "serial", "/dev/ttyUSB0", "Serial device of the statistics bridge")
	cmd.Flags().IntVar(&f.baud, "baud", 115200, "Serial baud rate")
	cmd.Flags().StringVar(&f.broker, "broker", "tcp://127.0.0.1:1883", "MQTT broker address")
	cmd.Flags().StringVar(&f.clientID, "client-id", "occlusion-sensor", "MQTT client ID")
	cmd.Flags().StringVar(&f.http, "http", ":8080", "HTTP status address (empty to disable)")
	cmd.Flags().IntVar(&f.ledPin, "led-pin", -1, "GPIO line for the occlusion LED (-1 to disable)")
}

// toOverrides returns only the flags set on the command line, so defaults
// shown in help never mask file or environment values.
func (f *overrideFlags) toOverrides(cmd *cobra.Command) config.Overrides {
	var ov config.Overrides
	changed := cmd.Flags().Changed

	if changed("sensitivity") {
		ov.Sensitivity = &f.sensitivity
	}
	if changed("poll") {
		ov.Poll = &f.poll
	}
	if changed("warmup") {
		ov.Warmup = &f.warmup
	}
	if changed("heartbeat") {
		ov.Heartbeat = &f.heartbeat
	}
	if changed("serial") {
		ov.Serial = &f.serial
	}
	if changed("baud") {
		ov.Baud = &f.baud
	}
	if changed("broker") {
		ov.Broker = &f.broker
	}
	if changed("client-id") {
		ov.ClientID = &f.clientID
	}
	if changed("http") {
		ov.HTTP = &f.http
	}
	if changed("led-pin") {
		ov.LEDPin = &f.ledPin
	}
	return ov
}
