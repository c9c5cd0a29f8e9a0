// Package sensor provides the sensor port: the read side of the control
// loop.
//
// A Snapshot is one coherent set of habitat readings. The BridgeReader
// caches the latest snapshot published by the sensor bridge over MQTT
// and serves it to the scheduler, enforcing a staleness bound and a
// plausibility range so a wedged or faulty probe surfaces as a sensor
// fault rather than as silently frozen data.
//
// The scheduler depends only on the Reader interface, so tests can
// substitute a fake without any broker.
package sensor
