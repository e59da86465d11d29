// Package main is the entry point for the cascadeview backend server.
//
// The server watches an IDE's embedded agent surfaces over their local
// remote-debugging endpoints and republishes them to observers:
//
//	Observer (UI / CLI) → Go Backend → DevTools endpoints (loopback)
//
// The server provides:
//   - Port-range discovery of cascade surfaces with a stable session registry
//   - Snapshot polling with fingerprint-based change detection
//   - Incremental display-tree patching that preserves local view state
//   - Command injection (send, back, select, mode switch)
//   - WebSocket streaming of change and idle notifications
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Optional YAML heuristics file for keyword and selector overrides
//
// Usage:
//
//	# Default: listen on 127.0.0.1:8777, scan ports 9222-9232
//	./server
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
