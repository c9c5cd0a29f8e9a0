package sensor

import (
	"context"
	"math"
	"time"
)

// Metric names recognised in snapshots and policies.
const (
	MetricTemperature = "temperature"
	MetricHumidity    = "humidity"
)

// Snapshot is one coherent set of habitat readings.
//
// Metrics are pointers: a nil metric means the bridge did not report it
// in this reading. Policy evaluation treats missing or NaN metrics as
// indeterminate rather than as zero.
type Snapshot struct {
	// Temperature in degrees Celsius, nil if not reported.
	Temperature *float64 `json:"temperature,omitempty"`

	// Humidity as relative humidity percent, nil if not reported.
	Humidity *float64 `json:"humidity,omitempty"`

	// CapturedAt is when the bridge took the reading (UTC).
	CapturedAt time.Time `json:"captured_at"`
}

// Metric returns the named metric value. The second return is false
// when the metric is missing, NaN or unknown.
func (s Snapshot) Metric(name string) (float64, bool) {
	var v *float64
	switch name {
	case MetricTemperature:
		v = s.Temperature
	case MetricHumidity:
		v = s.Humidity
	default:
		return 0, false
	}

	if v == nil || math.IsNaN(*v) {
		return 0, false
	}
	return *v, true
}

// Reader is the sensor port consumed by the scheduler.
type Reader interface {
	// Read returns the current snapshot. A sensor fault (no reading
	// yet, stale cache, implausible values) is returned as an error;
	// the caller holds state rather than acting on bad data.
	Read(ctx context.Context) (Snapshot, error)
}
