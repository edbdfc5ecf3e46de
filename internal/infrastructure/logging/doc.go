// Package logging provides structured logging for Gray Logic Relay.
//
// It wraps the standard library's log/slog with:
//   - Configuration-driven level, format, and output selection
//   - Default service/version attributes on every record
//   - Optional mirroring to a size-rotated log file (lumberjack)
//
// Loggers are cheap to derive; components should call With() to attach a
// component attribute rather than threading strings through every call:
//
//	log := logging.New(cfg.Logging, version)
//	workerLog := log.With("component", "worker", "instance", inst.ID)
package logging
