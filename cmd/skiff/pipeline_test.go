// Copyright (C) 2025 Skiff Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/skiffworks/skiff/cmd/skiff/config"
	"github.com/skiffworks/skiff/cmd/skiff/internal/remote"
	"github.com/skiffworks/skiff/pkg/logging"
	"github.com/skiffworks/skiff/pkg/ux"
)

func init() {
	ux.SetPlain(true)
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func TestRunStages_Order(t *testing.T) {
	var ran []string
	mk := func(name string) stage {
		return stage{name: name, run: func(ctx context.Context) error {
			ran = append(ran, name)
			return nil
		}}
	}

	err := runStages(context.Background(), testLogger(), []stage{
		mk("first"), mk("second"), mk("third"),
	})
	if err != nil {
		t.Fatalf("runStages() = %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(ran) != len(want) {
		t.Fatalf("ran %v, want %v", ran, want)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Errorf("stage %d was %q, want %q", i, ran[i], want[i])
		}
	}
}

func TestRunStages_StopsAtFirstFailure(t *testing.T) {
	boom := errors.New("build exploded")
	var ran []string
	mk := func(name string, err error) stage {
		return stage{name: name, run: func(ctx context.Context) error {
			ran = append(ran, name)
			return err
		}}
	}

	err := runStages(context.Background(), testLogger(), []stage{
		mk("first", nil),
		mk("second", boom),
		mk("third", nil),
	})
	if !errors.Is(err, boom) {
		t.Fatalf("runStages() = %v, want wrapped %v", err, boom)
	}
	if len(ran) != 2 {
		t.Errorf("later stages must not run after a failure, ran %v", ran)
	}
	if err.Error() != "second: build exploded" {
		t.Errorf("error should name the failed stage, got %q", err.Error())
	}
}

func TestExitCodeFor(t *testing.T) {
	wrap := func(sentinel error) error {
		return fmt.Errorf("configure reverse proxy: %w", sentinel)
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"generic", errors.New("something else"), exitFailure},
		{"aborted", config.ErrAborted, exitAborted},
		{"unreachable", wrap(errUnreachable), exitUnreachable},
		{"proxy syntax", wrap(remote.ErrProxySyntax), exitProxySyntax},
		{"engine down", wrap(remote.ErrEngineDown), exitEngineDown},
		{"container start", wrap(remote.ErrContainerStart), exitContainerDown},
		{"container not running", wrap(remote.ErrContainerNotRunning), exitContainerDown},
		{"no probe", wrap(remote.ErrNoProbe), exitNoProbe},
		{"build failure", wrap(remote.ErrBuild), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestParamsFrom_FlagsOverrideFile(t *testing.T) {
	fileCfg := config.FileConfig{
		RepoURL:    "https://github.com/acme/file-app.git",
		Branch:     "main",
		Host:       "198.51.100.4",
		User:       "deploy",
		KeyPath:    "~/.ssh/id_ed25519",
		AppPort:    5000,
		PublicPort: 80,
		WorkDir:    "~/.skiff/checkouts",
	}

	branch = "release"
	appPort = 8080
	defer func() { branch = ""; appPort = 0 }()

	p := paramsFrom(fileCfg)
	if p.Branch != "release" {
		t.Errorf("Branch = %q, flag must win", p.Branch)
	}
	if p.AppPort != 8080 {
		t.Errorf("AppPort = %d, flag must win", p.AppPort)
	}
	if p.RepoURL != fileCfg.RepoURL || p.Host != fileCfg.Host {
		t.Error("file values must survive where no flag is set")
	}
}

func TestParamsFrom_Defaults(t *testing.T) {
	p := paramsFrom(config.FileConfig{})
	if p.WorkDir == "" {
		t.Error("WorkDir must default")
	}
	if p.PublicPort != 80 {
		t.Errorf("PublicPort = %d, want 80", p.PublicPort)
	}
}
