// Package logging provides structured logging for the Netatmo sync service.
//
// It wraps log/slog so every component logs the same way:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("auth").Info("account restored", "account_id", id)
//
// Never log OAuth tokens or the client secret.
package logging
