// Copyright (C) 2025 Skiff Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
)

// FileConfig holds the on-disk defaults from ~/.skiff/skiff.yaml.
// Anything left empty here is collected interactively or via flags.
type FileConfig struct {
	RepoURL    string `yaml:"repo_url"`
	Branch     string `yaml:"branch"`
	Host       string `yaml:"host"`
	User       string `yaml:"user"`
	KeyPath    string `yaml:"key_path"`
	AppPort    int    `yaml:"app_port"`
	PublicPort int    `yaml:"public_port"`
	WorkDir    string `yaml:"work_dir"` // local checkout parent directory
	LogDir     string `yaml:"log_dir"`
}

// DefaultConfig returns the first-run defaults.
func DefaultConfig() FileConfig {
	return FileConfig{
		Branch:     "main",
		AppPort:    5000,
		PublicPort: 80,
		WorkDir:    "~/.skiff/checkouts",
		LogDir:     "~/.skiff/logs",
	}
}

// Params is the immutable deployment parameter record. It is built once by
// input collection (file config, flags, interactive prompts), validated, and
// then passed read-only into every pipeline stage. No stage mutates it.
type Params struct {
	// RepoURL is an HTTPS or SSH git remote, e.g.
	// https://github.com/acme/app.git or git@github.com:acme/app.git.
	RepoURL string `validate:"required"`

	// Branch to deploy. Falls back to the repository default branch if the
	// named branch does not exist upstream.
	Branch string `validate:"required"`

	// Host is the remote address (hostname or IP).
	Host string `validate:"required,hostname|ip"`

	// User is the remote login identity.
	User string `validate:"required"`

	// KeyPath is the local private key used for the SSH session.
	KeyPath string `validate:"required,file"`

	// AppPort is the internal port the application listens on inside the
	// container; the reverse proxy routes PublicPort to it.
	AppPort int `validate:"required,gt=0,lte=65535"`

	// PublicPort is the port nginx serves on the remote host.
	PublicPort int `validate:"required,gt=0,lte=65535"`

	// WorkDir is the local directory holding cached checkouts.
	WorkDir string `validate:"required"`

	// token is an optional repository access credential. It lives in a
	// memguard enclave so it never sits in plain memory between uses and is
	// never serialized or logged. Access it only through OpenToken.
	token *memguard.Enclave
}

// SetToken seals the repository credential into the parameter record.
// An empty token leaves the record credential-free.
func (p *Params) SetToken(token string) {
	if token == "" {
		return
	}
	p.token = memguard.NewEnclave([]byte(token))
}

// HasToken reports whether a repository credential was supplied.
func (p *Params) HasToken() bool {
	return p.token != nil
}

// OpenToken opens the credential enclave for a single operation. The caller
// must Destroy the returned buffer as soon as the credential has been used.
func (p *Params) OpenToken() (*memguard.LockedBuffer, error) {
	if p.token == nil {
		return nil, fmt.Errorf("no repository credential configured")
	}
	return p.token.Open()
}

// validate is shared; validator.New is not cheap and the struct cache helps.
var validate = validator.New()

// Validate checks that every field is syntactically well-formed. The
// pipeline relies on this running exactly once, before any stage.
func (p *Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid deployment parameters: %w", err)
	}
	if !isGitRemote(p.RepoURL) {
		return fmt.Errorf("invalid deployment parameters: repo URL %q is neither an HTTPS nor an SSH git remote", p.RepoURL)
	}
	return nil
}

// isGitRemote accepts https:// remotes and scp-like git@host:path remotes.
func isGitRemote(url string) bool {
	if strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://") {
		return true
	}
	if strings.HasPrefix(url, "ssh://") {
		return true
	}
	// scp-like syntax: user@host:path
	at := strings.Index(url, "@")
	colon := strings.Index(url, ":")
	return at > 0 && colon > at
}

// RepoName derives the stable local checkout name from the remote URL by
// taking the last path segment and stripping the .git suffix.
func (p *Params) RepoName() string {
	name := p.RepoURL
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".git")
}

// PublicURL returns the address the deployed application is reachable at.
func (p *Params) PublicURL() string {
	if p.PublicPort == 80 {
		return fmt.Sprintf("http://%s/", p.Host)
	}
	return fmt.Sprintf("http://%s:%d/", p.Host, p.PublicPort)
}
