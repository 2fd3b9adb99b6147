// Package config handles loading and validating GPIO bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML or TOML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - A JWT secret is mandatory whenever the HTTP API is enabled, since it
//     can drive GPIO outputs
//
// Usage:
//
//	cfg, err := config.Load("configs/gpio.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Daemon.ConnectionURL())
package config
