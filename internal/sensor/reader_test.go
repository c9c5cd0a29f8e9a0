package sensor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mossline/vivarium-core/internal/infrastructure/config"
)

func testSensorConfig() config.SensorConfig {
	return config.SensorConfig{
		Staleness:      120,
		TemperatureMin: -10,
		TemperatureMax: 60,
		HumidityMin:    0,
		HumidityMax:    100,
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestBridgeReaderNoReading(t *testing.T) {
	reader := NewBridgeReader(testSensorConfig())

	_, err := reader.Read(context.Background())
	if !errors.Is(err, ErrNoReading) {
		t.Errorf("expected ErrNoReading, got %v", err)
	}
}

func TestBridgeReaderHandleAndRead(t *testing.T) {
	reader := NewBridgeReader(testSensorConfig())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	reader.now = func() time.Time { return now }

	payload := []byte(`{"temperature": 24.5, "humidity": 71.2, "captured_at": "2026-03-01T08:00:00Z"}`)
	if err := reader.HandleReading(payload); err != nil {
		t.Fatalf("HandleReading failed: %v", err)
	}

	snap, err := reader.Read(context.Background())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if v, ok := snap.Metric(MetricTemperature); !ok || v != 24.5 {
		t.Errorf("expected temperature 24.5, got %v ok=%v", v, ok)
	}
	if v, ok := snap.Metric(MetricHumidity); !ok || v != 71.2 {
		t.Errorf("expected humidity 71.2, got %v ok=%v", v, ok)
	}
}

func TestBridgeReaderStaleness(t *testing.T) {
	reader := NewBridgeReader(testSensorConfig())
	captured := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	reader.now = func() time.Time { return captured }

	payload := []byte(`{"humidity": 70, "captured_at": "2026-03-01T08:00:00Z"}`)
	if err := reader.HandleReading(payload); err != nil {
		t.Fatalf("HandleReading failed: %v", err)
	}

	// Within the bound.
	reader.now = func() time.Time { return captured.Add(60 * time.Second) }
	if _, err := reader.Read(context.Background()); err != nil {
		t.Errorf("expected fresh read to succeed, got %v", err)
	}

	// Past the bound.
	reader.now = func() time.Time { return captured.Add(121 * time.Second) }
	if _, err := reader.Read(context.Background()); !errors.Is(err, ErrStaleReading) {
		t.Errorf("expected ErrStaleReading, got %v", err)
	}
}

func TestBridgeReaderRejectsMalformed(t *testing.T) {
	reader := NewBridgeReader(testSensorConfig())

	tests := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{not json`},
		{"no metrics", `{"captured_at": "2026-03-01T08:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reader.HandleReading([]byte(tt.payload))
			if !errors.Is(err, ErrMalformedReading) {
				t.Errorf("expected ErrMalformedReading, got %v", err)
			}
		})
	}
}

func TestBridgeReaderRejectsImplausible(t *testing.T) {
	reader := NewBridgeReader(testSensorConfig())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	reader.now = func() time.Time { return now }

	good := []byte(`{"humidity": 70, "captured_at": "2026-03-01T08:00:00Z"}`)
	if err := reader.HandleReading(good); err != nil {
		t.Fatalf("HandleReading good payload failed: %v", err)
	}

	tests := []struct {
		name    string
		payload string
	}{
		{"temperature too high", `{"temperature": 95, "humidity": 70}`},
		{"temperature too low", `{"temperature": -40, "humidity": 70}`},
		{"humidity above 100", `{"humidity": 130}`},
		{"humidity negative", `{"humidity": -5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reader.HandleReading([]byte(tt.payload))
			if !errors.Is(err, ErrImplausibleReading) {
				t.Errorf("expected ErrImplausibleReading, got %v", err)
			}
		})
	}

	// Cache keeps the previous good snapshot after rejections.
	snap, err := reader.Read(context.Background())
	if err != nil {
		t.Fatalf("Read after rejections failed: %v", err)
	}
	if v, _ := snap.Metric(MetricHumidity); v != 70 {
		t.Errorf("expected cached humidity 70, got %v", v)
	}
}

func TestSnapshotMetric(t *testing.T) {
	nan := math.NaN()

	tests := []struct {
		name   string
		snap   Snapshot
		metric string
		wantV  float64
		wantOK bool
	}{
		{"present temperature", Snapshot{Temperature: floatPtr(24)}, MetricTemperature, 24, true},
		{"missing humidity", Snapshot{Temperature: floatPtr(24)}, MetricHumidity, 0, false},
		{"nan humidity", Snapshot{Humidity: &nan}, MetricHumidity, 0, false},
		{"unknown metric", Snapshot{Temperature: floatPtr(24)}, "pressure", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := tt.snap.Metric(tt.metric)
			if ok != tt.wantOK || v != tt.wantV {
				t.Errorf("Metric(%q) = (%v, %v), want (%v, %v)", tt.metric, v, ok, tt.wantV, tt.wantOK)
			}
		})
	}
}
