/*
Package log provides structured logging for burrow built on zerolog.

Init configures a single global logger (console or JSON output); packages
derive child loggers with WithComponent so every line carries its origin:

	logger := log.WithComponent("reaper")
	logger.Info().Str("hostname", h).Msg("worker demoted")
*/
package log
