// Package logging provides structured logging for the HMS console.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in hmsconsole.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("session booted", "route", "/owner")
//	logger.Error("failed to connect", "error", err)
//
// # Security
//
// Never log passwords, access tokens or refresh tokens.
// Log cookie names, never cookie values:
//
//	logger.Info("cookie received", "name", c.Name) // never c.Value
package logging
