// Package logging provides structured logging with per-module log levels.
//
// # Overview
//
// Loggers are log/slog loggers with automatic output routing:
//   - stdout (text or JSON) when a terminal, pipe, or file is connected
//   - the systemd journal when journald is reachable
//   - both through a MultiHandler when both are available
//
// # Usage
//
// Initialize once at startup, before the session starts:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"bridge":    "debug",
//			"gstreamer": "warn",
//		},
//	})
//
// Get a logger per module and add session attributes:
//
//	logger := logging.GetLogger("session").With("stream", name, "session_id", id)
//	logger.Info("Relay started", "device", path)
//
// Components accept the Logger interface so tests can hand them a discard logger.
//
// # Viewing Logs
//
//	journalctl -t camrelay -f
//	journalctl -t camrelay MODULE=bridge
//	journalctl -t camrelay STREAM=my_stream -p warning
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	probe = "debug"
package logging
