// Package logging provides structured logging for simpit.
//
// It wraps log/slog so every component logs with the same handler, level
// and default fields (service, version).
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
//	logger.Component("stream").Info("connected", "url", url)
//
// Never log broker passwords or InfluxDB tokens.
package logging
