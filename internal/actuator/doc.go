// Package actuator provides the actuator port: the act side of the
// control loop.
//
// BridgePort turns a desired device state into a JSON command published
// to the device's bridge over MQTT. The transport tag (gpio for the
// relay board bridge, cloud for the humidifier bridge) selects the
// command topic; the core never speaks a hardware or vendor protocol
// itself.
//
// A publish confirmed by the broker counts as the command
// acknowledgment. A rejected or timed-out publish is an actuator fault
// and the caller decides whether to retry.
package actuator
