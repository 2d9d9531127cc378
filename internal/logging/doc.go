// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (journald socket reachable)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Logs to both when both are available
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"camera":    "debug",
//			"http":      "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("streaming")
//	logger.Info("Capture started", "backend", "v4l2")
//
// Levels can be changed while running with UpdateLevels; the config file
// watcher calls it when the [logging] table changes.
//
// # Modules
//
//	main      - process startup and shutdown
//	camera    - frame sources, backend probe, rpicam-vid output
//	streaming - stream hub lifecycle and capture loop
//	encoder   - JPEG encoding
//	api       - API server
//	http      - request log
//	config    - config loading and reload
//	process   - helper subprocess lifecycle
//
// # Viewing Logs
//
//	journalctl -t camfeed -f
//	journalctl -t camfeed MODULE=streaming
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//	camera = "debug"
package logging
