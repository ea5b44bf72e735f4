// Copyright (C) 2025 Skiff Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads ~/.skiff/skiff.yaml, creating it with defaults on first run.
func Load() (FileConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return FileConfig{}, fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return LoadFrom(filepath.Join(home, ".skiff", "skiff.yaml"))
}

// LoadFrom reads the config at an explicit path, creating defaults if the
// file does not exist yet.
func LoadFrom(configPath string) (FileConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return FileConfig{}, err
		}
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	var cfg FileConfig
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to parse the config file: %w", err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
