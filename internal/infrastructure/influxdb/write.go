package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSensorReading records one habitat snapshot.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Nil metrics (not reported in this snapshot) are omitted.
//
// Parameters:
//   - habitatID: Habitat identifier tag
//   - temperature: Degrees Celsius, nil if absent
//   - humidity: Percent relative humidity, nil if absent
//   - at: Reading timestamp
func (c *Client) WriteSensorReading(habitatID string, temperature, humidity *float64, at time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{}
	if temperature != nil {
		fields["temperature_c"] = *temperature
	}
	if humidity != nil {
		fields["humidity_pct"] = *humidity
	}
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"sensor_readings",
		map[string]string{
			"habitat_id": habitatID,
		},
		fields,
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WriteTransition records one device transition attempt.
//
// Both committed and failed attempts are recorded so fault rates are
// visible on dashboards.
//
// Parameters:
//   - deviceID: Device identifier tag
//   - origin: "scheduled" or "manual"
//   - outcome: "committed" or "failed"
//   - isOn: Commanded on/off state
//   - level: Commanded level, nil for plain on/off devices
//   - at: Transition timestamp
func (c *Client) WriteTransition(deviceID, origin, outcome string, isOn bool, level *int, at time.Time) {
	if !c.IsConnected() {
		return
	}

	onValue := 0
	if isOn {
		onValue = 1
	}

	fields := map[string]interface{}{
		"is_on": onValue,
	}
	if level != nil {
		fields["level"] = *level
	}

	point := write.NewPoint(
		"transitions",
		map[string]string{
			"device_id": deviceID,
			"origin":    origin,
			"outcome":   outcome,
		},
		fields,
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
