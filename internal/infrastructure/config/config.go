package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Vivarium Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Habitat  HabitatConfig  `yaml:"habitat"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Control  ControlConfig  `yaml:"control"`
}

// HabitatConfig contains habitat-specific information.
type HabitatConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ControlConfig contains the control-loop configuration: the sensor
// settings, actuator retry policy, and the device/policy declarations.
type ControlConfig struct {
	Sensor  SensorConfig   `yaml:"sensor"`
	Retry   RetryConfig    `yaml:"retry"`
	Devices []DeviceConfig `yaml:"devices"`
}

// SensorConfig contains settings for the habitat sensor reader.
type SensorConfig struct {
	// Staleness is the maximum age (seconds) of a cached reading before
	// a read is treated as a sensor fault.
	Staleness int `yaml:"staleness"`

	// TemperatureMin/Max bound plausible readings (°C). Values outside
	// the range are rejected as faults rather than acted on.
	TemperatureMin float64 `yaml:"temperature_min"`
	TemperatureMax float64 `yaml:"temperature_max"`

	// HumidityMin/Max bound plausible readings (%RH).
	HumidityMin float64 `yaml:"humidity_min"`
	HumidityMax float64 `yaml:"humidity_max"`
}

// RetryConfig contains actuator command retry settings.
type RetryConfig struct {
	// MaxAttempts is the total number of command attempts per transition
	// (first try plus retries).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoffMS is the delay before the first retry, in
	// milliseconds. Subsequent retries double the delay. The backoff is
	// always capped so a retrying device never blocks past its next
	// scheduled tick.
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
}

// DeviceConfig declares a single controllable device.
type DeviceConfig struct {
	ID        string       `yaml:"id"`
	Name      string       `yaml:"name"`
	Transport string       `yaml:"transport"`
	Interval  int          `yaml:"interval"`
	Policy    PolicyConfig `yaml:"policy"`
}

// Device transport values.
const (
	TransportGPIO  = "gpio"
	TransportCloud = "cloud"
)

// Policy kind values.
const (
	PolicyKindThreshold     = "threshold"
	PolicyKindTimeWindow    = "time_window"
	PolicyKindFixedDuration = "fixed_duration"
)

// PolicyConfig declares the policy governing a device. Exactly one kind
// is active; the populated fields depend on the kind.
type PolicyConfig struct {
	Kind string `yaml:"kind"`

	// Threshold fields. Exactly one of OnAbove/OnBelow must be set.
	Metric     string   `yaml:"metric"`
	OnAbove    *float64 `yaml:"on_above"`
	OnBelow    *float64 `yaml:"on_below"`
	Hysteresis float64  `yaml:"hysteresis"`

	// OnLevel/OffLevel set a variable-speed level (e.g. fan speed) for
	// the on and off states. Optional; nil means plain on/off.
	OnLevel  *int `yaml:"on_level"`
	OffLevel *int `yaml:"off_level"`

	// Time window fields ("HH:MM", 24-hour clock, may wrap midnight).
	OnTime  string `yaml:"on_time"`
	OffTime string `yaml:"off_time"`

	// Fixed duration fields.
	RunSeconds int            `yaml:"run_seconds"`
	Trigger    *TriggerConfig `yaml:"trigger"`
}

// TriggerConfig declares the start condition of a fixed-duration run.
// Exactly one of Above, Below, or At must be set.
type TriggerConfig struct {
	Metric string   `yaml:"metric"`
	Above  *float64 `yaml:"above"`
	Below  *float64 `yaml:"below"`

	// At triggers the run at a fixed time of day ("HH:MM"), the way the
	// morning mist cycle works.
	At string `yaml:"at"`
}

// Metric values accepted by threshold policies and triggers.
const (
	MetricTemperature = "temperature"
	MetricHumidity    = "humidity"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VIVARIUM_SECTION_KEY
// For example: VIVARIUM_DATABASE_PATH, VIVARIUM_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Habitat: HabitatConfig{
			ID:       "habitat-001",
			Name:     "Vivarium",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/vivarium.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vivarium-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Control: ControlConfig{
			Sensor: SensorConfig{
				Staleness:      120,
				TemperatureMin: -10,
				TemperatureMax: 60,
				HumidityMin:    0,
				HumidityMax:    100,
			},
			Retry: RetryConfig{
				MaxAttempts:      3,
				InitialBackoffMS: 500,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VIVARIUM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("VIVARIUM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("VIVARIUM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VIVARIUM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VIVARIUM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("VIVARIUM_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("VIVARIUM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Device and policy validation is deliberately strict: a device with a
// malformed or missing policy must stop the process at startup rather
// than run under an undefined policy.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Habitat validation
	if c.Habitat.ID == "" {
		errs = append(errs, "habitat.id is required")
	}
	if _, err := time.LoadLocation(c.Habitat.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("habitat.timezone: unknown time zone %q", c.Habitat.Timezone))
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Control validation
	if c.Control.Sensor.Staleness < 1 {
		errs = append(errs, "control.sensor.staleness must be at least 1 second")
	}
	if c.Control.Retry.MaxAttempts < 1 {
		errs = append(errs, "control.retry.max_attempts must be at least 1")
	}
	if c.Control.Retry.InitialBackoffMS < 1 {
		errs = append(errs, "control.retry.initial_backoff_ms must be at least 1")
	}
	if len(c.Control.Devices) == 0 {
		errs = append(errs, "control.devices must declare at least one device")
	}

	seen := make(map[string]bool, len(c.Control.Devices))
	for i, dev := range c.Control.Devices {
		errs = append(errs, validateDevice(i, dev, seen)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateDevice checks a single device declaration.
func validateDevice(index int, dev DeviceConfig, seen map[string]bool) []string {
	var errs []string
	label := fmt.Sprintf("control.devices[%d]", index)
	if dev.ID != "" {
		label = fmt.Sprintf("%s (%s)", label, dev.ID)
	}

	if dev.ID == "" {
		errs = append(errs, label+": id is required")
	} else if seen[dev.ID] {
		errs = append(errs, label+": duplicate device id")
	}
	seen[dev.ID] = true

	if dev.Transport != TransportGPIO && dev.Transport != TransportCloud {
		errs = append(errs, fmt.Sprintf("%s: transport must be %q or %q", label, TransportGPIO, TransportCloud))
	}
	if dev.Interval < 1 {
		errs = append(errs, label+": interval must be at least 1 second")
	}

	errs = append(errs, validatePolicy(label, dev.Policy)...)
	return errs
}

// validatePolicy checks that a policy declaration is complete for its kind.
func validatePolicy(label string, p PolicyConfig) []string {
	var errs []string

	switch p.Kind {
	case PolicyKindThreshold:
		if p.Metric != MetricTemperature && p.Metric != MetricHumidity {
			errs = append(errs, label+": threshold metric must be temperature or humidity")
		}
		if (p.OnAbove == nil) == (p.OnBelow == nil) {
			errs = append(errs, label+": threshold requires exactly one of on_above or on_below")
		}
		if p.Hysteresis < 0 {
			errs = append(errs, label+": hysteresis must not be negative")
		}

	case PolicyKindTimeWindow:
		if _, err := ParseClock(p.OnTime); err != nil {
			errs = append(errs, fmt.Sprintf("%s: on_time: %v", label, err))
		}
		if _, err := ParseClock(p.OffTime); err != nil {
			errs = append(errs, fmt.Sprintf("%s: off_time: %v", label, err))
		}
		if p.OnTime == p.OffTime {
			errs = append(errs, label+": on_time and off_time must differ")
		}

	case PolicyKindFixedDuration:
		if p.RunSeconds < 1 {
			errs = append(errs, label+": run_seconds must be at least 1")
		}
		if p.Trigger == nil {
			errs = append(errs, label+": fixed_duration requires a trigger")
		} else {
			errs = append(errs, validateTrigger(label, *p.Trigger)...)
		}

	case "":
		errs = append(errs, label+": policy.kind is required")

	default:
		errs = append(errs, fmt.Sprintf("%s: unknown policy kind %q", label, p.Kind))
	}

	return errs
}

// validateTrigger checks a fixed-duration trigger declaration.
func validateTrigger(label string, t TriggerConfig) []string {
	var errs []string

	set := 0
	if t.Above != nil {
		set++
	}
	if t.Below != nil {
		set++
	}
	if t.At != "" {
		set++
	}
	if set != 1 {
		errs = append(errs, label+": trigger requires exactly one of above, below, or at")
	}

	if t.Above != nil || t.Below != nil {
		if t.Metric != MetricTemperature && t.Metric != MetricHumidity {
			errs = append(errs, label+": trigger metric must be temperature or humidity")
		}
	}
	if t.At != "" {
		if _, err := ParseClock(t.At); err != nil {
			errs = append(errs, fmt.Sprintf("%s: trigger at: %v", label, err))
		}
	}

	return errs
}

// ParseClock parses a "HH:MM" time-of-day string into minutes since midnight.
//
// Parameters:
//   - value: Clock string, 24-hour format (e.g. "06:00", "18:30")
//
// Returns:
//   - int: Minutes since midnight (0–1439)
//   - error: If the string is not a valid clock time
func ParseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Location returns the habitat's time zone. Time-window policies and
// time-of-day triggers evaluate against habitat-local wall time, not
// the host's zone.
//
// Validate guarantees the configured name resolves; an unresolvable
// name here falls back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Habitat.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SensorStaleness returns the sensor staleness bound as a Duration.
func (c *Config) SensorStaleness() time.Duration {
	return time.Duration(c.Control.Sensor.Staleness) * time.Second
}

// InitialBackoff returns the first retry delay as a Duration.
func (c *RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}
