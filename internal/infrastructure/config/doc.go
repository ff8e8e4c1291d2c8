// Package config handles loading and validating the RIO bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRAYLOGIC_* environment variables
//   - Validation of required fields (all problems reported together)
//   - Default value handling
//
// The rio section describes the controller connection (host, port,
// reconnect policy, keep-alive and timeouts). The bridge section lists the
// zones and sources that are watched and mirrored onto MQTT.
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/riobridge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.RIO.Host)
package config
