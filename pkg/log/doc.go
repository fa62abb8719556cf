// Package log provides structured protocol capture for devmon.
//
// This package defines the Logger interface and Event types for recording
// protocol-level events: raw frames on a connection or datagram socket,
// connection state transitions and per-connection errors. It is separate from
// operational logging (slog) - protocol capture is a complete machine-readable
// trace for debugging and analysis.
//
// # Basic Usage
//
//	// For development: mirror events to the console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to a capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/devmon/server.dlog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(adapter, fileLogger)
//
// # File Format
//
// Capture files are a sequence of CBOR-encoded events with integer keys and
// use the .dlog extension. The devmon-log CLI views, filters and exports them.
package log
