// Package mqtt provides MQTT client connectivity for Vivarium Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Vivarium Core uses MQTT as the bus between the core and the hardware
// bridges: the sensor bridge publishes readings, the actuator bridges
// (GPIO relay board, cloud humidifier) consume commands, and operators
// may inject overrides. The broker decouples the core from
// transport-specific implementations.
//
//	Vivarium Core ↔ MQTT Broker ↔ Hardware Bridges
//
// # Topic Scheme
//
//	vivarium/sensor/reading              sensor snapshots (bridge → core)
//	vivarium/command/{transport}/{id}    actuator commands (core → bridge)
//	vivarium/state/{id}                  committed device state (core → all, retained)
//	vivarium/override/{id}               manual overrides (operator → core)
//	vivarium/system/status               core online/offline status (retained, LWT)
//
// # Security Considerations
//
//   - TLS is required for anything beyond a bench setup (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Message payloads are not encrypted beyond TLS transport
package mqtt
