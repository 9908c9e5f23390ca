// Package logger provides structured logging for mchttp-server.
//
// It wraps log/slog:
//
//   - logger.go: handler construction, level control, default logger
//   - context.go: context-carried loggers and connection IDs
//   - redact.go: masking of credentials found in request heads
//
// JSON is the default format; "text" (or "console") selects the slog text
// handler.
package logger
