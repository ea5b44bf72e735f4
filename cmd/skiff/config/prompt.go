// Copyright (C) 2025 Skiff Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
)

// ErrAborted is returned when the operator cancels the interactive form or
// declines the final confirmation.
var ErrAborted = errors.New("aborted by operator")

// PromptMissing fills any empty Params fields with an interactive form and
// asks for an optional repository token. Fields already set (by flags or the
// config file) are not asked again. The token goes straight into the enclave
// and is never echoed.
func PromptMissing(p *Params) error {
	var fields []huh.Field

	if p.RepoURL == "" {
		fields = append(fields, huh.NewInput().
			Title("Git repository URL").
			Placeholder("https://github.com/acme/app.git").
			Validate(requireGitRemote).
			Value(&p.RepoURL))
	}
	if p.Branch == "" {
		fields = append(fields, huh.NewInput().
			Title("Branch").
			Placeholder("main").
			Validate(requireNonEmpty("branch")).
			Value(&p.Branch))
	}
	if p.Host == "" {
		fields = append(fields, huh.NewInput().
			Title("Remote host (address or hostname)").
			Validate(requireNonEmpty("host")).
			Value(&p.Host))
	}
	if p.User == "" {
		fields = append(fields, huh.NewInput().
			Title("Remote login user").
			Validate(requireNonEmpty("user")).
			Value(&p.User))
	}
	if p.KeyPath == "" {
		fields = append(fields, huh.NewInput().
			Title("SSH private key path").
			Placeholder("~/.ssh/id_ed25519").
			Validate(requireNonEmpty("key path")).
			Value(&p.KeyPath))
	}

	var appPort string
	if p.AppPort == 0 {
		fields = append(fields, huh.NewInput().
			Title("Application port (inside the container)").
			Placeholder("5000").
			Validate(requirePort).
			Value(&appPort))
	}

	var token string
	if !p.HasToken() {
		fields = append(fields, huh.NewInput().
			Title("Repository access token (optional, HTTPS remotes only)").
			EchoMode(huh.EchoModePassword).
			Value(&token))
	}

	if len(fields) > 0 {
		form := huh.NewForm(huh.NewGroup(fields...))
		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return ErrAborted
			}
			return fmt.Errorf("parameter collection failed: %w", err)
		}
	}

	if appPort != "" {
		port, err := strconv.Atoi(strings.TrimSpace(appPort))
		if err != nil {
			return fmt.Errorf("invalid application port %q", appPort)
		}
		p.AppPort = port
	}
	if token != "" {
		p.SetToken(strings.TrimSpace(token))
		token = "" // the enclave owns it now
	}
	return nil
}

// Confirm shows the collected parameters and asks the operator to proceed.
func Confirm(p *Params) error {
	var ok bool
	confirm := huh.NewConfirm().
		Title(fmt.Sprintf("Deploy %s (%s) to %s@%s?", p.RepoName(), p.Branch, p.User, p.Host)).
		Affirmative("Deploy").
		Negative("Abort").
		Value(&ok)
	if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrAborted
		}
		return err
	}
	if !ok {
		return ErrAborted
	}
	return nil
}

// ConfirmCleanup asks the operator to confirm artifact removal.
func ConfirmCleanup(p *Params) error {
	var ok bool
	confirm := huh.NewConfirm().
		Title(fmt.Sprintf("Remove every skiff deployment artifact from %s@%s?", p.User, p.Host)).
		Affirmative("Remove").
		Negative("Abort").
		Value(&ok)
	if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrAborted
		}
		return err
	}
	if !ok {
		return ErrAborted
	}
	return nil
}

func requireNonEmpty(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func requireGitRemote(s string) error {
	if !isGitRemote(strings.TrimSpace(s)) {
		return errors.New("expected an HTTPS or SSH git remote")
	}
	return nil
}

func requirePort(s string) error {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port <= 0 || port > 65535 {
		return errors.New("expected a port between 1 and 65535")
	}
	return nil
}
