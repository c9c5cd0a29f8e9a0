package scheduler

import (
	"fmt"
	"time"

	"github.com/mossline/vivarium-core/internal/infrastructure/config"
	"github.com/mossline/vivarium-core/internal/policy"
)

// Device is one controllable device as the loop sees it: identity,
// polling interval, and the policy deciding its state.
type Device struct {
	ID       string
	Name     string
	Interval time.Duration
	Policy   policy.Policy
}

// DevicesFromConfig constructs the loop's devices from validated
// configuration, building each policy from its declaration.
//
// Parameters:
//   - cfgs: Device declarations from configuration
//
// Returns:
//   - []Device: Constructed devices in declaration order
//   - error: The first policy construction failure, naming the device
func DevicesFromConfig(cfgs []config.DeviceConfig) ([]Device, error) {
	devices := make([]Device, 0, len(cfgs))
	for _, cfg := range cfgs {
		p, err := policy.FromConfig(cfg.Policy)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", cfg.ID, err)
		}
		devices = append(devices, Device{
			ID:       cfg.ID,
			Name:     cfg.Name,
			Interval: time.Duration(cfg.Interval) * time.Second,
			Policy:   p,
		})
	}
	return devices, nil
}
