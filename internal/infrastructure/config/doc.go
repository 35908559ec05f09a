// Package config handles loading and validating HMS console configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with HMS_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker and InfluxDB credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/hmsconsole.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.BaseURL)
package config
