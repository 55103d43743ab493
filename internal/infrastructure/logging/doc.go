// Package logging provides structured logging for Lumen Core.
//
// It wraps log/slog so every component logs with the same handler,
// level filtering and default attributes (service, version).
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("scanner").Info("device discovered", "id", "0x1b2f")
//
// The bridge, scanner and registry accept a narrow Logger interface
// (Debug/Info/Warn/Error), which *Logger satisfies through the embedded
// *slog.Logger.
package logging
