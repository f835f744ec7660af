/*
Package log provides structured logging for burrow using zerolog.

A single package-level Logger is configured once by Init from the logging
section of the config file. Packages derive child loggers that carry a fixed
field so lines can be filtered per component or per workload:

	logger := log.WithComponent("executor")
	logger.Info().Str("workload_id", w.ID).Msg("action started")

	wl := log.WithWorkloadID(w.ID)
	wl.Warn().Err(err).Msg("inspect failed")

# Output

JSON output writes one object per line with level, time and message fields.
Console output uses zerolog.ConsoleWriter with RFC3339 timestamps and is the
default for interactive use.

# Levels

debug, info, warn and error. ParseLevel accepts "warning" as an alias for
warn and falls back to info for anything it does not recognise.

These are process logs for operators. Workload history that users read back
(pulling, starting, runtime output) is stored as types.LogEntry records by the
storage package, not written here.
*/
package log
