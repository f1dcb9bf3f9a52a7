// Package log provides structured logging for Keel components.
//
// Loggers are constructed explicitly and passed by dependency injection;
// there is no process-global logger. Components attach a component name
// and structured fields:
//
//	logger := log.NewLogger(log.WithLevel(log.InfoLevel), log.WithFormatter(&log.TextFormatter{}))
//	logger = logger.WithComponent("actorcache")
//	logger.Info("flushed dirty set", log.Int("entries", n), log.Duration("elapsed", d))
//
// RedirectStdLog routes standard-library log output (used by Pebble and
// database/sql drivers) through a Logger so all process output shares one
// format.
package log
