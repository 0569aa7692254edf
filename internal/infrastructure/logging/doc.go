// Package logging provides structured logging for smartlockd.
//
// It wraps log/slog so every component logs with the same handler and the
// same default fields (service, version).
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
//	sweepLog := logger.Component("liveness-sweep")
//	sweepLog.Warn("offline entry write failed", "device_id", id, "error", err)
//
// Never log the device API key or JWT secrets.
package logging
