package sensor

import "errors"

// Domain-specific errors for the sensor port.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoReading is returned when no snapshot has been received yet.
	ErrNoReading = errors.New("sensor: no reading received yet")

	// ErrStaleReading is returned when the cached snapshot is older
	// than the configured staleness bound.
	ErrStaleReading = errors.New("sensor: cached reading is stale")

	// ErrImplausibleReading is returned when a reading falls outside
	// the configured plausibility range and is rejected.
	ErrImplausibleReading = errors.New("sensor: reading outside plausible range")

	// ErrMalformedReading is returned when a bridge payload cannot be
	// decoded.
	ErrMalformedReading = errors.New("sensor: malformed reading payload")
)
