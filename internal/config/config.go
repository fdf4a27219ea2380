// Package config resolves daemon settings from defaults, a YAML file,
// OCCLUSION_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/occlusion-sensor/internal/logic"
)

const (
	DefaultConfigPath = "occlusion-sensor.yml"

	envSensitivity = "OCCLUSION_SENSITIVITY"
	envPoll        = "OCCLUSION_POLL"
	envWarmup      = "OCCLUSION_WARMUP"
	envHeartbeat   = "OCCLUSION_HEARTBEAT"
	envSerial      = "OCCLUSION_SERIAL"
	envBaud        = "OCCLUSION_BAUD"
	envBroker      = "OCCLUSION_MQTT_BROKER"
	envClientID    = "OCCLUSION_MQTT_CLIENT_ID"
	envHTTP        = "OCCLUSION_HTTP"
	envLEDPin      = "OCCLUSION_LED_PIN"
)

// Region is the per-region detector setting.
type Region struct {
	Sensitivity int `yaml:"sensitivity"`
}

// Source configures the serial statistics bridge.
type Source struct {
	Serial  string
	Baud    int
	Timeout time.Duration
}

// Topics holds the MQTT topic names.
type Topics struct {
	Events   string `yaml:"events"`
	System   string `yaml:"system"`
	Control  string `yaml:"control"`
	Response string `yaml:"response"`
}

// MQTT configures the broker connection.
type MQTT struct {
	Broker   string
	ClientID string
	Topics   Topics
	Buffer   int
}

// Config is the fully merged daemon configuration.
type Config struct {
	Regions   []Region
	Poll      time.Duration
	Warmup    time.Duration
	Heartbeat time.Duration // 0 disables heartbeats
	Source    Source
	MQTT      MQTT
	HTTP      string // empty disables the status server
	LEDPin    int    // -1 disables the indicator
}

// Overrides captures values coming from env vars or CLI flags. Nil means unset.
type Overrides struct {
	Sensitivity *int
	Poll        *time.Duration
	Warmup      *time.Duration
	Heartbeat   *time.Duration
	Serial      *string
	Baud        *int
	Broker      *string
	ClientID    *string
	HTTP        *string
	LEDPin      *int
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Regions:   []Region{{Sensitivity: 50}},
		Poll:      100 * time.Millisecond,
		Warmup:    2 * time.Second,
		Heartbeat: 15 * time.Minute,
		Source: Source{
			Serial:  "/dev/ttyUSB0",
			Baud:    115200,
			Timeout: 500 * time.Millisecond,
		},
		MQTT: MQTT{
			Broker:   "tcp://127.0.0.1:1883",
			ClientID: "occlusion-sensor",
			Topics: Topics{
				Events:   "camera/occlusion/events",
				System:   "camera/occlusion/system",
				Control:  "camera/occlusion/control",
				Response: "camera/occlusion/response",
			},
			Buffer: 100,
		},
		HTTP:   ":8080",
		LEDPin: -1,
	}
}

// Loader merges configuration coming from files, environment variables, and CLI flags.
type Loader struct {
	// Path is the YAML file to read. If empty, DefaultConfigPath is read
	// when it exists.
	Path string
}

// Load resolves the final configuration. It does not validate it.
func (l Loader) Load(override Overrides) (Config, error) {
	cfg := Default()

	path := l.Path
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	if explicit || fileExists(path) {
		if err := loadFromFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	env, err := overridesFromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.apply(env)
	cfg.apply(override)

	return cfg, nil
}

// Validate checks ranges and required values.
func (c Config) Validate() error {
	if len(c.Regions) == 0 {
		return errors.New("no regions configured")
	}
	for i, r := range c.Regions {
		if _, err := logic.NewThresholds(r.Sensitivity); err != nil {
			return fmt.Errorf("region %d: %w", i, err)
		}
	}

	if c.Poll <= 0 {
		return fmt.Errorf("poll must be positive (got %v)", c.Poll)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("warmup cannot be negative (got %v)", c.Warmup)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("heartbeat cannot be negative (got %v)", c.Heartbeat)
	}

	if c.Source.Serial == "" {
		return errors.New("source.serial must be set")
	}
	if c.Source.Baud <= 0 {
		return fmt.Errorf("source.baud must be positive (got %d)", c.Source.Baud)
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be positive (got %v)", c.Source.Timeout)
	}

	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker must be set")
	}
	t := c.MQTT.Topics
	if t.Events == "" || t.System == "" || t.Control == "" || t.Response == "" {
		return errors.New("mqtt.topics: all topics must be set")
	}
	if c.MQTT.Buffer <= 0 {
		return fmt.Errorf("mqtt.buffer must be positive (got %d)", c.MQTT.Buffer)
	}

	if c.LEDPin < -1 {
		return fmt.Errorf("led_pin must be -1 (disabled) or a GPIO line (got %d)", c.LEDPin)
	}
	return nil
}

// DetectorRegions converts the region list for the monitor.
func (c Config) DetectorRegions() []logic.RegionConfig {
	out := make([]logic.RegionConfig, len(c.Regions))
	for i, r := range c.Regions {
		out[i] = logic.RegionConfig{Sensitivity: r.Sensitivity}
	}
	return out
}

func (c *Config) apply(src Overrides) {
	if src.Sensitivity != nil {
		if len(c.Regions) == 0 {
			c.Regions = []Region{{}}
		}
		c.Regions[0].Sensitivity = *src.Sensitivity
	}
	if src.Poll != nil {
		c.Poll = *src.Poll
	}
	if src.Warmup != nil {
		c.Warmup = *src.Warmup
	}
	if src.Heartbeat != nil {
		c.Heartbeat = *src.Heartbeat
	}
	if src.Serial != nil {
		c.Source.Serial = *src.Serial
	}
	if src.Baud != nil {
		c.Source.Baud = *src.Baud
	}
	if src.Broker != nil {
		c.MQTT.Broker = *src.Broker
	}
	if src.ClientID != nil {
		c.MQTT.ClientID = *src.ClientID
	}
	if src.HTTP != nil {
		c.HTTP = *src.HTTP
	}
	if src.LEDPin != nil {
		c.LEDPin = *src.LEDPin
	}
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	type rawSource struct {
		Serial  *string `yaml:"serial"`
		Baud    *int    `yaml:"baud"`
		Timeout string  `yaml:"timeout"`
	}
	type rawMQTT struct {
		Broker   *string `yaml:"broker"`
		ClientID *string `yaml:"client_id"`
		Topics   Topics  `yaml:"topics"`
		Buffer   *int    `yaml:"buffer"`
	}
	type rawConfig struct {
		Regions   []Region  `yaml:"regions"`
		Poll      string    `yaml:"poll"`
		Warmup    string    `yaml:"warmup"`
		Heartbeat string    `yaml:"heartbeat"`
		Source    rawSource `yaml:"source"`
		MQTT      rawMQTT   `yaml:"mqtt"`
		HTTP      *string   `yaml:"http"`
		LEDPin    *int      `yaml:"led_pin"`
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if raw.Regions != nil {
		cfg.Regions = raw.Regions
	}

	durations := []struct {
		key string
		in  string
		out *time.Duration
	}{
		{"poll", raw.Poll, &cfg.Poll},
		{"warmup", raw.Warmup, &cfg.Warmup},
		{"heartbeat", raw.Heartbeat, &cfg.Heartbeat},
		{"source.timeout", raw.Source.Timeout, &cfg.Source.Timeout},
	}
	for _, d := range durations {
		if d.in == "" {
			continue
		}
		v, err := time.ParseDuration(d.in)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.key, err)
		}
		*d.out = v
	}

	if raw.Source.Serial != nil {
		cfg.Source.Serial = *raw.Source.Serial
	}
	if raw.Source.Baud != nil {
		cfg.Source.Baud = *raw.Source.Baud
	}
	if raw.MQTT.Broker != nil {
		cfg.MQTT.Broker = *raw.MQTT.Broker
	}
	if raw.MQTT.ClientID != nil {
		cfg.MQTT.ClientID = *raw.MQTT.ClientID
	}
	if raw.MQTT.Buffer != nil {
		cfg.MQTT.Buffer = *raw.MQTT.Buffer
	}
	mergeTopic(&cfg.MQTT.Topics.Events, raw.MQTT.Topics.Events)
	mergeTopic(&cfg.MQTT.Topics.System, raw.MQTT.Topics.System)
	mergeTopic(&cfg.MQTT.Topics.Control, raw.MQTT.Topics.Control)
	mergeTopic(&cfg.MQTT.Topics.Response, raw.MQTT.Topics.Response)
	if raw.HTTP != nil {
		cfg.HTTP = *raw.HTTP
	}
	if raw.LEDPin != nil {
		cfg.LEDPin = *raw.LEDPin
	}
	return nil
}

func mergeTopic(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func overridesFromEnv() (Overrides, error) {
	var ov Overrides

	for _, e := range []struct {
		name string
		out  **int
	}{
		{envSensitivity, &ov.Sensitivity},
		{envBaud, &ov.Baud},
		{envLEDPin, &ov.LEDPin},
	} {
		value := os.Getenv(e.name)
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return ov, fmt.Errorf("%s: %w", e.name, err)
		}
		*e.out = &parsed
	}

	for _, e := range []struct {
		name string
		out  **time.Duration
	}{
		{envPoll, &ov.Poll},
		{envWarmup, &ov.Warmup},
		{envHeartbeat, &ov.Heartbeat},
	} {
		value := os.Getenv(e.name)
		if value == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return ov, fmt.Errorf("%s: %w", e.name, err)
		}
		*e.out = &parsed
	}

	for _, e := range []struct {
		name string
		out  **string
	}{
		{envSerial, &ov.Serial},
		{envBroker, &ov.Broker},
		{envClientID, &ov.ClientID},
		{envHTTP, &ov.HTTP},
	} {
		if value, ok := os.LookupEnv(e.name); ok {
			v := value
			*e.out = &v
		}
	}

	return ov, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
