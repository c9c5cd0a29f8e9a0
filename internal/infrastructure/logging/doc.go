// Package logging provides structured logging for Vivarium Core.
//
// It wraps the standard library's log/slog with configuration-driven
// setup (level, format, output) and default service attributes. All
// components receive a *Logger and add their own component attribute
// via With.
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	loopLog := log.With("component", "scheduler")
//	loopLog.Info("tick complete", "devices", 4)
package logging
