// Package logging provides subsystem-tagged leveled logging for kblocks on top
// of log/slog.
//
// Every message carries a subsystem attribute so worker, router and control
// channel output can be filtered independently:
//
//	logging.Init(logging.LevelInfo, logging.FormatText, os.Stderr)
//	logging.Info("Worker", "Claimed partition %d", 3)
//	logging.Error("Events", err, "Delivery to %s failed", url)
//
// Init also installs a logr bridge so controller-runtime informers and clients
// write through the same handler.
package logging
