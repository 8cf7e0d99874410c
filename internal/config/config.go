// Package config handles Floriva configuration loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/floriva/config.yaml, /etc/floriva/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "floriva", "config.yaml"))
	}

	paths = append(paths, "/etc/floriva/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Floriva configuration. It is loaded once at startup
// and never reloaded.
type Config struct {
	Hardware    HardwareConfig    `yaml:"hardware"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Sampling    SamplingConfig    `yaml:"sampling"`
	Network     NetworkConfig     `yaml:"network"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"` // text (default) or json
}

// HardwareConfig selects the driver backend and the pin/channel
// assignments it uses.
type HardwareConfig struct {
	// Driver is "raspi" for real hardware or "sim" for a simulated board.
	Driver string `yaml:"driver"`
	// SoilADCChannel is the ADS1115 input the soil probe is wired to.
	SoilADCChannel string `yaml:"soil_adc_channel"`
	// SoilPowerPin is the header pin that powers the soil probe during a read.
	SoilPowerPin string `yaml:"soil_power_pin"`
	// SoilSettle is how long the probe is powered before it is read.
	SoilSettle time.Duration `yaml:"soil_settle"`
	// PumpPin is the header pin driving the pump relay.
	PumpPin string `yaml:"pump_pin"`
	// PumpActiveLow inverts the relay: a low level runs the pump.
	PumpActiveLow *bool `yaml:"pump_active_low"`
}

// PumpInverted reports whether the pump relay is active-low. Defaults
// to true, matching the common opto-isolated relay boards.
func (h HardwareConfig) PumpInverted() bool {
	return h.PumpActiveLow == nil || *h.PumpActiveLow
}

// CalibrationConfig holds the sensor calibration constants.
type CalibrationConfig struct {
	// DryRaw is the raw soil reading that maps to 0% moisture.
	DryRaw int `yaml:"dry_raw"`
	// WetRaw is the raw soil reading that maps to 100% moisture.
	WetRaw int `yaml:"wet_raw"`
	// TempOffset is added to every valid air temperature reading.
	TempOffset *float64 `yaml:"temp_offset"`
}

// SamplingConfig holds the sampling cadences.
type SamplingConfig struct {
	EnvInterval       time.Duration `yaml:"env_interval"`
	SoilInterval      time.Duration `yaml:"soil_interval"`
	SoilSamples       int           `yaml:"soil_samples"`
	SoilSampleDelay   time.Duration `yaml:"soil_sample_delay"`
	Tick              time.Duration `yaml:"tick"`
	ReportSoilPercent *bool         `yaml:"report_soil_percent"`
}

// SoilPercentEnabled reports whether telemetry carries soil_percent.
func (s SamplingConfig) SoilPercentEnabled() bool {
	return s.ReportSoilPercent == nil || *s.ReportSoilPercent
}

// NetworkConfig describes the network link the device depends on.
type NetworkConfig struct {
	// Interface is the OS network interface to watch (e.g. wlan0). Empty
	// means any non-loopback interface with an address.
	Interface        string        `yaml:"interface"`
	AssociateTimeout time.Duration `yaml:"associate_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
}

// MQTTConfig defines the broker connection and topic layout.
type MQTTConfig struct {
	Broker           string        `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	CAFile           string        `yaml:"ca_file"`
	ClientIDPrefix   string        `yaml:"client_id_prefix"`
	KeepAlive        uint16        `yaml:"keep_alive"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
	RetryMultiplier  float64       `yaml:"retry_multiplier"`
	TelemetryTopic   string        `yaml:"telemetry_topic"`
	PumpCommandTopic string        `yaml:"pump_command_topic"`
	PumpStatusTopic  string        `yaml:"pump_status_topic"`
	DeviceName       string        `yaml:"device_name"`
	DiscoveryPrefix  string        `yaml:"discovery_prefix"`
	InboundRateLimit int           `yaml:"inbound_rate_limit"` // messages per second
	InboxSize        int           `yaml:"inbox_size"`
}

// DiagnosticsConfig controls the local status HTTP server.
type DiagnosticsConfig struct {
	// Listen is the bind address. Empty disables the server.
	Listen   string `yaml:"listen"`
	MaxConns int    `yaml:"max_conns"`
}

// Load reads configuration from a YAML file, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so credentials can stay out of the file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration for the simulated board. The
// broker must still be filled in before it validates.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Hardware.Driver == "" {
		c.Hardware.Driver = "sim"
	}
	if c.Hardware.SoilADCChannel == "" {
		c.Hardware.SoilADCChannel = "0"
	}
	if c.Hardware.SoilPowerPin == "" {
		c.Hardware.SoilPowerPin = "37"
	}
	if c.Hardware.SoilSettle == 0 {
		c.Hardware.SoilSettle = 100 * time.Millisecond
	}
	if c.Hardware.PumpPin == "" {
		c.Hardware.PumpPin = "7"
	}

	if c.Calibration.DryRaw == 0 && c.Calibration.WetRaw == 0 {
		c.Calibration.DryRaw = 3020
		c.Calibration.WetRaw = 2200
	}
	if c.Calibration.TempOffset == nil {
		off := -1.2
		c.Calibration.TempOffset = &off
	}

	if c.Sampling.EnvInterval == 0 {
		c.Sampling.EnvInterval = 5 * time.Second
	}
	if c.Sampling.SoilInterval == 0 {
		c.Sampling.SoilInterval = 30 * time.Minute
	}
	if c.Sampling.SoilSamples == 0 {
		c.Sampling.SoilSamples = 5
	}
	if c.Sampling.SoilSampleDelay == 0 {
		c.Sampling.SoilSampleDelay = 50 * time.Millisecond
	}
	if c.Sampling.Tick == 0 {
		c.Sampling.Tick = 100 * time.Millisecond
	}

	if c.Network.AssociateTimeout == 0 {
		c.Network.AssociateTimeout = 10 * time.Second
	}
	if c.Network.PollInterval == 0 {
		c.Network.PollInterval = 500 * time.Millisecond
	}

	if c.MQTT.ClientIDPrefix == "" {
		c.MQTT.ClientIDPrefix = "floriva"
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 15
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}
	if c.MQTT.RetryDelay == 0 {
		c.MQTT.RetryDelay = 3 * time.Second
	}
	if c.MQTT.RetryMaxDelay == 0 {
		c.MQTT.RetryMaxDelay = 60 * time.Second
	}
	if c.MQTT.RetryMultiplier == 0 {
		c.MQTT.RetryMultiplier = 1.0
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "floriva"
	}
	if c.MQTT.TelemetryTopic == "" {
		c.MQTT.TelemetryTopic = "monitor/" + c.MQTT.DeviceName + "/telemetry"
	}
	if c.MQTT.PumpCommandTopic == "" {
		c.MQTT.PumpCommandTopic = "monitor/" + c.MQTT.DeviceName + "/pompa/cmd"
	}
	if c.MQTT.PumpStatusTopic == "" {
		c.MQTT.PumpStatusTopic = "monitor/" + c.MQTT.DeviceName + "/pompa/status"
	}
	if c.MQTT.InboundRateLimit == 0 {
		c.MQTT.InboundRateLimit = 10
	}
	if c.MQTT.InboxSize == 0 {
		c.MQTT.InboxSize = 32
	}

	if c.Diagnostics.MaxConns == 0 {
		c.Diagnostics.MaxConns = 16
	}
}

// Validate reports configuration mistakes that must stop startup.
// These are programming or deployment errors, never runtime conditions.
func (c *Config) Validate() error {
	var errs []error

	switch c.Hardware.Driver {
	case "raspi", "sim":
	default:
		errs = append(errs, fmt.Errorf("hardware.driver %q invalid (valid: raspi, sim)", c.Hardware.Driver))
	}

	if c.Calibration.DryRaw == c.Calibration.WetRaw {
		errs = append(errs, fmt.Errorf("calibration.dry_raw and calibration.wet_raw must differ (both %d)", c.Calibration.DryRaw))
	} else if c.Calibration.DryRaw < c.Calibration.WetRaw {
		errs = append(errs, fmt.Errorf("calibration.dry_raw (%d) must be greater than calibration.wet_raw (%d)",
			c.Calibration.DryRaw, c.Calibration.WetRaw))
	}

	if c.Sampling.EnvInterval < 0 || c.Sampling.SoilInterval < 0 || c.Sampling.SoilSampleDelay < 0 || c.Sampling.Tick < 0 {
		errs = append(errs, errors.New("sampling durations must not be negative"))
	}
	if c.Sampling.SoilSamples < 1 {
		errs = append(errs, fmt.Errorf("sampling.soil_samples must be at least 1 (got %d)", c.Sampling.SoilSamples))
	}

	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	} else if u, err := url.Parse(c.MQTT.Broker); err != nil {
		errs = append(errs, fmt.Errorf("mqtt.broker: %w", err))
	} else {
		switch u.Scheme {
		case "mqtt", "tcp", "mqtts", "ssl", "tls":
		default:
			errs = append(errs, fmt.Errorf("mqtt.broker scheme %q unsupported (valid: mqtt, tcp, mqtts, ssl, tls)", u.Scheme))
		}
	}
	if c.MQTT.PumpCommandTopic == c.MQTT.PumpStatusTopic {
		errs = append(errs, errors.New("mqtt.pump_status_topic must differ from mqtt.pump_command_topic"))
	}
	if c.MQTT.RetryMultiplier < 1 {
		errs = append(errs, fmt.Errorf("mqtt.retry_multiplier must be >= 1 (got %v)", c.MQTT.RetryMultiplier))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLogFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
