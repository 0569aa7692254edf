// Package config handles loading and validating smartlockd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SMARTLOCK_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// The liveness section carries the offline threshold and sweep interval.
// Every component that needs either value reads it from here; nothing else
// hard-codes them.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens, device API key) should be set via environment variables
//   - The JWT secret must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Liveness.Threshold())
package config
