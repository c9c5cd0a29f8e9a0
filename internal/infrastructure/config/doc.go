// Package config handles loading and validating Vivarium Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and device policies
//   - Default value handling
//
// The control section is the heart of the configuration: it declares the
// habitat devices (grow light, mister, humidifier, fans), the policy that
// governs each one, and the polling interval per device. A malformed or
// missing policy for a configured device is a validation error — the
// process refuses to start rather than run a device with an undefined
// policy.
//
// Security Considerations:
//   - Sensitive values (broker passwords, tokens) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Performance Characteristics:
//   - Configuration is loaded once at startup
//   - The loaded Config is immutable; no runtime overhead after load
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Habitat.Name)
package config
