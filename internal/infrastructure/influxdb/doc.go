// Package influxdb provides telemetry recording for Vivarium Core.
//
// Sensor snapshots and device transitions are written to InfluxDB as
// time-series points. Telemetry is optional (influxdb.enabled) and
// strictly best-effort: writes are batched and asynchronous, and a
// telemetry outage never affects the control loop.
package influxdb
