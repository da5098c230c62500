// Package config handles loading and validating the presence service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Optional .env files for local development
//   - Overriding with GRAYLOGIC_PRESENCE_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - A JWT secret, when set, must be at least 32 characters
//
// Usage:
//
//	if err := config.LoadDotEnv(".env"); err != nil {
//	    log.Fatal(err)
//	}
//	cfg, err := config.Load("configs/presence.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Presence.SafeInterval)
package config
