package mqtt

import (
	"strings"
	"testing"

	"github.com/mossline/vivarium-core/internal/infrastructure/config"
)

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"sensor reading", topics.SensorReading(), "vivarium/sensor/reading"},
		{"device command gpio", topics.DeviceCommand("gpio", "mister-1"), "vivarium/command/gpio/mister-1"},
		{"device command cloud", topics.DeviceCommand("cloud", "humidifier-1"), "vivarium/command/cloud/humidifier-1"},
		{"device state", topics.DeviceState("fan-1"), "vivarium/state/fan-1"},
		{"override", topics.Override("light-1"), "vivarium/override/light-1"},
		{"system status", topics.SystemStatus(), "vivarium/system/status"},
		{"all overrides", topics.AllOverrides(), "vivarium/override/+"},
		{"all device states", topics.AllDeviceStates(), "vivarium/state/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"vivarium/override/mister-1", "mister-1"},
		{"vivarium/state/fan-1", "fan-1"},
		{"no-slashes", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := DeviceIDFromTopic(tt.topic); got != tt.want {
			t.Errorf("DeviceIDFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "broker.local",
			Port:     1883,
			ClientID: "vivarium-core",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://broker.local:1883" {
		t.Errorf("expected tcp broker URL, got %q", got)
	}
	if opts.ClientID != "vivarium-core" {
		t.Errorf("expected client ID vivarium-core, got %q", opts.ClientID)
	}
	if !opts.AutoReconnect {
		t.Error("expected auto-reconnect enabled")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("expected ssl scheme with TLS, got %q", got)
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("vivarium-core")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, "vivarium-core") {
		t.Errorf("unexpected online payload: %s", online)
	}

	offline := buildOfflinePayload("vivarium-core")
	if !strings.Contains(offline, `"status":"offline"`) || !strings.Contains(offline, "graceful_shutdown") {
		t.Errorf("unexpected offline payload: %s", offline)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Publish("", []byte("x"), 1, false); err != ErrInvalidTopic {
		t.Errorf("expected ErrInvalidTopic, got %v", err)
	}
	if err := c.Publish("vivarium/state/fan-1", []byte("x"), 3, false); err != ErrInvalidQoS {
		t.Errorf("expected ErrInvalidQoS, got %v", err)
	}
	if err := c.Publish("vivarium/state/fan-1", []byte("x"), 1, false); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	handler := func(topic string, payload []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); err != ErrInvalidTopic {
		t.Errorf("expected ErrInvalidTopic, got %v", err)
	}
	if err := c.Subscribe("vivarium/override/+", 1, nil); err == nil {
		t.Error("expected error for nil handler")
	}
	if err := c.Subscribe("vivarium/override/+", 1, handler); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
