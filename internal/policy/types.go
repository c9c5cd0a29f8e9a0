package policy

import (
	"fmt"
	"time"

	"github.com/mossline/vivarium-core/internal/infrastructure/config"
	"github.com/mossline/vivarium-core/internal/sensor"
	"github.com/mossline/vivarium-core/internal/statestore"
)

// Decision is the desired device state produced by one evaluation.
type Decision struct {
	// IsOn is whether the device should be on.
	IsOn bool

	// Level is the desired variable-speed level, nil for plain on/off.
	Level *int

	// StartedAt marks the start of the current fixed-duration run.
	// Nil for non-duration policies and for the off state.
	StartedAt *time.Time
}

// Policy decides the desired state of one device.
//
// Implementations are pure functions of their inputs: given the same
// snapshot, last state, and clock they always return the same decision.
type Policy interface {
	// Kind returns the policy kind label used in logs and config.
	Kind() string

	// Decide maps a snapshot, the last committed device state (nil if
	// the device has never been commanded), and the current clock to
	// the desired state. Returns ErrIndeterminate when a required
	// metric is missing or NaN.
	Decide(snap sensor.Snapshot, last *statestore.DeviceState, now time.Time) (Decision, error)
}

// FromConfig constructs a Policy from a validated device policy
// declaration.
//
// Parameters:
//   - cfg: Policy declaration from the device configuration
//
// Returns:
//   - Policy: The constructed policy
//   - error: ErrUnknownKind or a field error if the declaration is
//     incomplete (config validation normally catches these first)
func FromConfig(cfg config.PolicyConfig) (Policy, error) {
	switch cfg.Kind {
	case config.PolicyKindThreshold:
		return newThreshold(cfg)
	case config.PolicyKindTimeWindow:
		return newTimeWindow(cfg)
	case config.PolicyKindFixedDuration:
		return newFixedDuration(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
