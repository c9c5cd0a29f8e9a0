package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("VIVARIUM_CONFIG")
	defer os.Setenv("VIVARIUM_CONFIG", originalEnv)

	os.Setenv("VIVARIUM_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidDeviceConfig verifies run fails when a device declares
// an unknown policy kind.
func TestRun_InvalidDeviceConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
habitat:
  id: test-habitat
  name: Test Habitat

database:
  path: ` + filepath.Join(tmpDir, "test.db") + `
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"
    tls: false
  qos: 1

influxdb:
  enabled: false

logging:
  level: info
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: 8080
  timeouts:
    read: 30
    write: 60
    idle: 120

control:
  sensor:
    staleness: 120
  retry:
    max_attempts: 3
    initial_backoff_ms: 500
  devices:
    - id: mister-1
      name: Mister
      transport: gpio
      interval: 30
      policy:
        kind: sorcery
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("VIVARIUM_CONFIG")
	defer os.Setenv("VIVARIUM_CONFIG", originalEnv)
	os.Setenv("VIVARIUM_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with unknown policy kind")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("VIVARIUM_CONFIG")
	defer os.Setenv("VIVARIUM_CONFIG", originalEnv)

	os.Unsetenv("VIVARIUM_CONFIG")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies the environment variable wins.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("VIVARIUM_CONFIG")
	defer os.Setenv("VIVARIUM_CONFIG", originalEnv)

	os.Setenv("VIVARIUM_CONFIG", "/custom/config.yaml")

	if path := getConfigPath(); path != "/custom/config.yaml" {
		t.Errorf("getConfigPath() = %q, want /custom/config.yaml", path)
	}
}
