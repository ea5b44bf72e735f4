// Copyright (C) 2025 Skiff Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for skiff runs.
//
// Every invocation of the CLI owns exactly one run log: a uniquely named,
// append-only file created at run start, written throughout, and never
// rotated or truncated within the run. Entries are echoed to stderr for the
// operator and persisted as JSON lines for later inspection.
//
// Basic usage:
//
//	logger := logging.New(logging.Config{
//	    LogDir:  "~/.skiff/logs",
//	    Service: "deploy",
//	})
//	defer logger.Close()
//	logger.Info("stage complete", "stage", "build")
//
// File logs are named {service}_{timestamp}.log so that repeated runs never
// interleave. Logger is safe for concurrent use; the underlying slog.Logger
// is thread-safe and mutable state is mutex-protected.
//
// This package does NOT redact sensitive data. Callers must make sure
// credentials never reach a log call:
//
//	// BAD:  logger.Info("clone", "token", token)
//	// GOOD: logger.Info("clone", "token_present", token != "")
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages (stage start/end,
	// state changes).
	LevelInfo

	// LevelWarn is for recoverable issues (best-effort step failures,
	// fallback paths taken).
	LevelWarn

	// LevelError is for operation failures.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// toSlogLevel bridges Level to the standard library.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures Logger behavior. A zero-value Config creates a logger
// that writes Info+ messages to stderr in text format with no file output.
type Config struct {
	// Level sets the minimum log level. Messages below it are discarded.
	// Default: LevelInfo.
	Level Level

	// LogDir enables per-run file logging to the specified directory.
	// When set, logs are written to both stderr and a file named
	// "{Service}_{YYYYMMDD_HHMMSS}.log" (JSON lines). The directory is
	// created with 0750 permissions if absent. Supports ~ expansion.
	// Default: "" (file logging disabled).
	LogDir string

	// Service identifies the component generating logs and is included in
	// every entry as the "service" attribute. Default: "" (no attribute).
	Service string

	// JSON switches the stderr stream to JSON format. File logs are always
	// JSON regardless. Default: false (human-readable text on stderr).
	JSON bool

	// Quiet disables stderr output entirely. Logs then go only to the run
	// file (if LogDir is set). Default: false.
	Quiet bool
}

// Logger wraps slog.Logger with multi-destination output and per-run file
// handling. Always Close() a logger that has file logging configured.
type Logger struct {
	slog   *slog.Logger
	config Config

	// file is the run log handle; nil when file logging is disabled.
	file *os.File

	// path is the run log filename; "" when file logging is disabled.
	path string

	mu sync.Mutex
}

// New creates a Logger for one run. If config.LogDir is set, the run file is
// created immediately so that the very first entry lands in it.
func New(config Config) *Logger {
	var handlers []slog.Handler

	opts := &slog.HandlerOptions{
		Level: config.Level.toSlogLevel(),
	}

	if !config.Quiet {
		var stderrHandler slog.Handler
		if config.JSON {
			stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
		} else {
			stderrHandler = slog.NewTextHandler(os.Stderr, opts)
		}
		handlers = append(handlers, stderrHandler)
	}

	logger := &Logger{config: config}

	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err == nil {
			serviceName := config.Service
			if serviceName == "" {
				serviceName = "skiff"
			}
			filename := fmt.Sprintf("%s_%s.log", serviceName, time.Now().Format("20060102_150405"))
			logPath := filepath.Join(logDir, filename)

			// Append-only within the run; a second run with the same
			// second-resolution timestamp appends rather than truncates.
			file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
			if err == nil {
				logger.file = file
				logger.path = logPath
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
			}
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns a stderr-only logger at Info level.
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "skiff",
	})
}

// Debug logs a message at Debug level with key-value attributes.
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

// Info logs a message at Info level with key-value attributes.
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

// Warn logs a message at Warn level with key-value attributes.
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

// Error logs a message at Error level with key-value attributes.
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}

// With returns a new Logger carrying additional attributes. The run file
// handle is shared; only Close the parent.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
		file:   l.file,
		path:   l.path,
	}
}

// Slog returns the underlying slog.Logger for features not exposed here.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Path returns the run log filename, or "" if file logging is disabled.
func (l *Logger) Path() string {
	return l.path
}

// Close syncs and closes the run log file. Safe to call on a logger without
// file logging.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("sync run log: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close run log: %w", err)
	}
	l.file = nil
	return nil
}

// multiHandler fans out log records to multiple slog handlers, enabling
// simultaneous stderr text and run-file JSON output.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled returns true if any handler is enabled for the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all enabled handlers.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs returns a new handler with additional attributes.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

// WithGroup returns a new handler with a group name.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
