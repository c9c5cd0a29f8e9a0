package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validControlYAML is a minimal valid control section shared by tests.
const validControlYAML = `
control:
  devices:
    - id: "grow-light"
      name: "Grow Light"
      transport: "gpio"
      interval: 60
      policy:
        kind: "time_window"
        on_time: "06:00"
        off_time: "18:00"
    - id: "humidifier"
      transport: "cloud"
      interval: 30
      policy:
        kind: "threshold"
        metric: "humidity"
        on_below: 80
        hysteresis: 5
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
habitat:
  id: "test-habitat"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
` + validControlYAML

	cfg, err := Load(writeTestConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Habitat.ID != "test-habitat" {
		t.Errorf("Habitat.ID = %q, want %q", cfg.Habitat.ID, "test-habitat")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if len(cfg.Control.Devices) != 2 {
		t.Fatalf("Control.Devices length = %d, want 2", len(cfg.Control.Devices))
	}
	if cfg.Control.Devices[0].Policy.Kind != PolicyKindTimeWindow {
		t.Errorf("Policy.Kind = %q, want %q", cfg.Control.Devices[0].Policy.Kind, PolicyKindTimeWindow)
	}
	if cfg.Control.Devices[1].Policy.OnBelow == nil || *cfg.Control.Devices[1].Policy.OnBelow != 80 {
		t.Errorf("Policy.OnBelow = %v, want 80", cfg.Control.Devices[1].Policy.OnBelow)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeTestConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_NoDevices(t *testing.T) {
	content := `
habitat:
  id: "test-habitat"
`
	_, err := Load(writeTestConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty device list, got nil")
	}
}

func TestValidate_PolicyErrors(t *testing.T) {
	above := 27.0
	below := 80.0

	tests := []struct {
		name    string
		policy  PolicyConfig
		wantErr string
	}{
		{
			name:    "missing kind",
			policy:  PolicyConfig{},
			wantErr: "policy.kind is required",
		},
		{
			name:    "unknown kind",
			policy:  PolicyConfig{Kind: "astro"},
			wantErr: "unknown policy kind",
		},
		{
			name:    "threshold without bound",
			policy:  PolicyConfig{Kind: PolicyKindThreshold, Metric: MetricHumidity},
			wantErr: "exactly one of on_above or on_below",
		},
		{
			name: "threshold with both bounds",
			policy: PolicyConfig{
				Kind: PolicyKindThreshold, Metric: MetricHumidity,
				OnAbove: &above, OnBelow: &below,
			},
			wantErr: "exactly one of on_above or on_below",
		},
		{
			name: "threshold bad metric",
			policy: PolicyConfig{
				Kind: PolicyKindThreshold, Metric: "pressure", OnAbove: &above,
			},
			wantErr: "metric must be temperature or humidity",
		},
		{
			name: "threshold negative hysteresis",
			policy: PolicyConfig{
				Kind: PolicyKindThreshold, Metric: MetricHumidity,
				OnBelow: &below, Hysteresis: -1,
			},
			wantErr: "hysteresis must not be negative",
		},
		{
			name:    "time window bad clock",
			policy:  PolicyConfig{Kind: PolicyKindTimeWindow, OnTime: "6am", OffTime: "18:00"},
			wantErr: "invalid clock time",
		},
		{
			name:    "time window equal times",
			policy:  PolicyConfig{Kind: PolicyKindTimeWindow, OnTime: "06:00", OffTime: "06:00"},
			wantErr: "must differ",
		},
		{
			name:    "fixed duration without trigger",
			policy:  PolicyConfig{Kind: PolicyKindFixedDuration, RunSeconds: 30},
			wantErr: "requires a trigger",
		},
		{
			name: "fixed duration trigger with two conditions",
			policy: PolicyConfig{
				Kind: PolicyKindFixedDuration, RunSeconds: 30,
				Trigger: &TriggerConfig{Metric: MetricHumidity, Below: &below, At: "08:30"},
			},
			wantErr: "exactly one of above, below, or at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Control.Devices = []DeviceConfig{{
				ID:        "dev-1",
				Transport: TransportGPIO,
				Interval:  30,
				Policy:    tt.policy,
			}}

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_DuplicateDeviceID(t *testing.T) {
	cfg := defaultConfig()
	cfg.Control.Devices = []DeviceConfig{
		{ID: "mister", Transport: TransportGPIO, Interval: 30, Policy: PolicyConfig{
			Kind: PolicyKindTimeWindow, OnTime: "06:00", OffTime: "18:00",
		}},
		{ID: "mister", Transport: TransportGPIO, Interval: 30, Policy: PolicyConfig{
			Kind: PolicyKindTimeWindow, OnTime: "06:00", OffTime: "18:00",
		}},
	}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate device id") {
		t.Errorf("Validate() error = %v, want duplicate device id error", err)
	}
}

func TestValidate_UnknownTimezone(t *testing.T) {
	cfg := defaultConfig()
	cfg.Habitat.Timezone = "Atlantis/Nowhere"
	cfg.Control.Devices = []DeviceConfig{
		{ID: "mister", Transport: TransportGPIO, Interval: 30, Policy: PolicyConfig{
			Kind: PolicyKindTimeWindow, OnTime: "06:00", OffTime: "18:00",
		}},
	}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "habitat.timezone") {
		t.Errorf("Validate() error = %v, want habitat.timezone error", err)
	}
}

func TestLocation(t *testing.T) {
	cfg := defaultConfig()

	if loc := cfg.Location(); loc != time.UTC {
		t.Errorf("Location() = %v, want UTC for default config", loc)
	}

	// An empty timezone resolves to UTC rather than host-local time.
	cfg.Habitat.Timezone = ""
	if got := cfg.Location().String(); got != "UTC" {
		t.Errorf("Location() = %q, want UTC for empty timezone", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VIVARIUM_DATABASE_PATH", "/custom/path.db")
	t.Setenv("VIVARIUM_MQTT_HOST", "broker.local")

	content := `
habitat:
  id: "test-habitat"
database:
  path: "/tmp/test.db"
` + validControlYAML

	cfg, err := Load(writeTestConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		value   string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"06:00", 360, false},
		{"18:30", 1110, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"6:00pm", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseClock(tt.value)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q) expected error, got %d", tt.value, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q) error = %v", tt.value, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}
