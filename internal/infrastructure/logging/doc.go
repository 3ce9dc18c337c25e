// Package logging provides structured logging for the TouchPortal MQTT plugin.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the plugin.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Runtime level changes, driven by the config watcher
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("subscribed", "topic", "home/+/temp")
//	logger.SetLevel("debug")
//
// # Security
//
// Never log broker passwords. Settings maps from TouchPortal contain the
// MQTT secret and must not be logged whole.
package logging
