// Copyright (C) 2025 Skiff Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo}, // Unknown defaults to Info
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			got := tt.level.toSlogLevel()
			if got != tt.want {
				t.Errorf("Level.toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_CreatesRunFile(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "deploy",
		Quiet:   true,
	})
	defer logger.Close()

	if logger.Path() == "" {
		t.Fatal("expected a run log path")
	}
	base := filepath.Base(logger.Path())
	if !strings.HasPrefix(base, "deploy_") || !strings.HasSuffix(base, ".log") {
		t.Errorf("unexpected run log name %q", base)
	}

	logger.Info("stage complete", "stage", "build")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "stage complete") {
		t.Errorf("run log missing entry, got: %s", content)
	}
	if !strings.Contains(content, `"service":"deploy"`) {
		t.Errorf("run log missing service attribute, got: %s", content)
	}
}

func TestNew_NoLogDir(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	if logger.Path() != "" {
		t.Errorf("Path() = %q, want empty without LogDir", logger.Path())
	}
	// Must not panic without a file.
	logger.Info("hello")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestNew_LevelFilter(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:  LevelWarn,
		LogDir: dir,
		Quiet:  true,
	})
	logger.Debug("too quiet")
	logger.Info("still too quiet")
	logger.Warn("loud enough")
	logger.Close()

	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "too quiet") {
		t.Error("entries below the configured level were persisted")
	}
	if !strings.Contains(content, "loud enough") {
		t.Error("Warn entry missing from run log")
	}
}

func TestWith_SharesRunFile(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{LogDir: dir, Quiet: true})
	child := logger.With("run_id", "abc123")
	child.Info("from child")
	logger.Close()

	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if !strings.Contains(string(data), "abc123") {
		t.Error("child attribute missing from shared run log")
	}
	if child.Path() != logger.Path() {
		t.Error("child logger should share the parent's run file path")
	}
}

func TestMultiHandler_Enabled(t *testing.T) {
	dir := t.TempDir()

	// Quiet=false plus LogDir exercises the fan-out handler.
	logger := New(Config{LogDir: dir, Service: "cleanup"})
	defer logger.Close()

	if !logger.Slog().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info should be enabled at the default level")
	}
	if logger.Slog().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Debug should be filtered at the default level")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/.skiff/logs", filepath.Join(home, ".skiff/logs")},
		{"/var/log", "/var/log"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
