// Package logging provides structured logging for the GPIO bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - A trace level below debug for per-packet wire logging
//
// # Configuration
//
//	logging:
//	  level: "info"      # trace, debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8090)
//	logger.Error("failed to connect", "error", err)
//
// A *Logger satisfies pigpio.Logger, so it can be handed straight to
// pigpio.NewSession.
//
// # Security
//
// Never log secrets, tokens, passwords, or API keys.
package logging
