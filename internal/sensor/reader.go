package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mossline/vivarium-core/internal/infrastructure/config"
)

// BridgeReader caches the latest snapshot published by the sensor
// bridge and serves it to the scheduler.
//
// The bridge publishes readings over MQTT on its own cadence; the
// scheduler reads whenever a tick needs one. Decoupling the two through
// a cache means a slow broker never blocks a tick, at the cost of the
// staleness bound enforced here.
type BridgeReader struct {
	staleness time.Duration
	bounds    config.SensorConfig

	mu     sync.RWMutex
	latest *Snapshot

	// now is swappable for tests.
	now func() time.Time
}

// NewBridgeReader creates a reader enforcing the configured staleness
// bound and plausibility range.
//
// Parameters:
//   - cfg: Sensor settings (staleness seconds, plausible ranges)
//
// Returns:
//   - *BridgeReader: Reader with an empty cache
func NewBridgeReader(cfg config.SensorConfig) *BridgeReader {
	return &BridgeReader{
		staleness: time.Duration(cfg.Staleness) * time.Second,
		bounds:    cfg,
		now:       time.Now,
	}
}

// HandleReading decodes and caches a bridge payload. Intended to be
// called from the MQTT message handler for the sensor reading topic.
//
// Readings with any metric outside the plausible range are rejected
// whole; the cache keeps the previous snapshot so the staleness bound
// eventually surfaces the fault.
//
// Parameters:
//   - payload: JSON-encoded Snapshot from the bridge
//
// Returns:
//   - error: ErrMalformedReading or ErrImplausibleReading on rejection
func (r *BridgeReader) HandleReading(payload []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReading, err)
	}

	if snap.Temperature == nil && snap.Humidity == nil {
		return fmt.Errorf("%w: no metrics present", ErrMalformedReading)
	}

	if err := r.checkPlausible(snap); err != nil {
		return err
	}

	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = r.now().UTC()
	}

	r.mu.Lock()
	r.latest = &snap
	r.mu.Unlock()

	return nil
}

// Read returns the cached snapshot.
//
// Parameters:
//   - ctx: Unused; present to satisfy the Reader port (the cache never
//     blocks)
//
// Returns:
//   - Snapshot: Latest cached reading
//   - error: ErrNoReading before the first payload, ErrStaleReading
//     when the cache has outlived the staleness bound
func (r *BridgeReader) Read(_ context.Context) (Snapshot, error) {
	r.mu.RLock()
	snap := r.latest
	r.mu.RUnlock()

	if snap == nil {
		return Snapshot{}, ErrNoReading
	}

	age := r.now().Sub(snap.CapturedAt)
	if age > r.staleness {
		return Snapshot{}, fmt.Errorf("%w: reading is %s old (bound %s)", ErrStaleReading, age.Round(time.Second), r.staleness)
	}

	return *snap, nil
}

// checkPlausible validates metrics against the configured ranges.
func (r *BridgeReader) checkPlausible(snap Snapshot) error {
	if v, ok := snap.Metric(MetricTemperature); ok {
		if v < r.bounds.TemperatureMin || v > r.bounds.TemperatureMax {
			return fmt.Errorf("%w: temperature %.1f outside [%.1f, %.1f]",
				ErrImplausibleReading, v, r.bounds.TemperatureMin, r.bounds.TemperatureMax)
		}
	}
	if v, ok := snap.Metric(MetricHumidity); ok {
		if v < r.bounds.HumidityMin || v > r.bounds.HumidityMax {
			return fmt.Errorf("%w: humidity %.1f outside [%.1f, %.1f]",
				ErrImplausibleReading, v, r.bounds.HumidityMin, r.bounds.HumidityMax)
		}
	}
	return nil
}
