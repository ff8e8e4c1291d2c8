// Package logging provides structured logging for the RIO bridge.
//
// This package wraps Go's standard log/slog package so every component
// (the rio client, the MQTT client, the bridge and the API) logs with the
// same fields and format.
//
// # Features
//
//   - JSON output for production, text output for development
//   - Default fields (service, version) on all log entries
//   - Per-component child loggers via Component
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	client.SetLogger(logger.Component("rio"))
//	logger.Error("failed to connect", "error", err)
//
// Never log secrets such as the MQTT password or InfluxDB token.
package logging
