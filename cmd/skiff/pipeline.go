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

	"github.com/skiffworks/skiff/cmd/skiff/config"
	"github.com/skiffworks/skiff/cmd/skiff/internal/remote"
	"github.com/skiffworks/skiff/pkg/logging"
	"github.com/skiffworks/skiff/pkg/ux"
)

// Exit codes. Each fatal failure class maps to its own code so callers can
// branch on the outcome without parsing output.
const (
	exitOK            = 0
	exitFailure       = 1
	exitAborted       = 2
	exitUnreachable   = 3
	exitProxySyntax   = 4
	exitEngineDown    = 5
	exitContainerDown = 6
	exitNoProbe       = 7
)

// errUnreachable marks connection and liveness failures on the remote
// channel, before any remote mutation has happened.
var errUnreachable = errors.New("remote host unreachable")

// exitCodeFor maps a pipeline error to the process exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrAborted):
		return exitAborted
	case errors.Is(err, errUnreachable):
		return exitUnreachable
	case errors.Is(err, remote.ErrProxySyntax):
		return exitProxySyntax
	case errors.Is(err, remote.ErrEngineDown):
		return exitEngineDown
	case errors.Is(err, remote.ErrContainerStart), errors.Is(err, remote.ErrContainerNotRunning):
		return exitContainerDown
	case errors.Is(err, remote.ErrNoProbe):
		return exitNoProbe
	}
	return exitFailure
}

// stage is one named step of the pipeline. Every stage here is fatal: the
// first failure stops the run. Best-effort behavior lives inside the stages
// themselves.
type stage struct {
	name string
	run  func(ctx context.Context) error
}

// runStages executes the stages strictly in order, one at a time, stopping
// at the first failure. The failed stage's name is wrapped into the error.
func runStages(ctx context.Context, log *logging.Logger, stages []stage) error {
	for i, st := range stages {
		ux.Info(fmt.Sprintf("[%d/%d] %s", i+1, len(stages), st.name))
		log.Info("stage start", "stage", st.name)
		if err := st.run(ctx); err != nil {
			log.Error("stage failed", "stage", st.name, "error", err.Error())
			ux.Error(fmt.Sprintf("%s: %v", st.name, err))
			return fmt.Errorf("%s: %w", st.name, err)
		}
		log.Info("stage complete", "stage", st.name)
	}
	return nil
}
