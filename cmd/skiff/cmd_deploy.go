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
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/skiffworks/skiff/cmd/skiff/config"
	"github.com/skiffworks/skiff/cmd/skiff/internal/remote"
	"github.com/skiffworks/skiff/cmd/skiff/internal/source"
	"github.com/skiffworks/skiff/cmd/skiff/internal/sshchan"
	"github.com/skiffworks/skiff/pkg/logging"
	"github.com/skiffworks/skiff/pkg/ux"
	"github.com/spf13/cobra"
)

// runRoot assembles the deployment parameters from the config file, flags,
// and interactive prompts, then hands the finished record to the selected
// pipeline. The pipeline never re-collects or re-validates input.
func runRoot(cmd *cobra.Command) int {
	ctx := cmd.Context()

	fileCfg, err := loadFileConfig()
	if err != nil {
		ux.Error(err.Error())
		return exitFailure
	}

	params := paramsFrom(fileCfg)
	if token := os.Getenv("SKIFF_TOKEN"); token != "" {
		params.SetToken(token)
	}

	if err := config.PromptMissing(&params); err != nil {
		if errors.Is(err, config.ErrAborted) {
			ux.Warning("Aborted.")
			return exitAborted
		}
		ux.Error(err.Error())
		return exitFailure
	}
	params.KeyPath = config.ExpandPath(params.KeyPath)
	if err := params.Validate(); err != nil {
		ux.Error(err.Error())
		return exitFailure
	}

	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	log := logging.New(logging.Config{
		Level:   level,
		LogDir:  fileCfg.LogDir,
		Service: "skiff",
	})
	defer log.Close()
	log = log.With("run_id", uuid.NewString())
	if path := log.Path(); path != "" {
		ux.Muted("Run log: " + path)
	}

	if cleanup {
		return runCleanup(ctx, log, &params)
	}
	return runDeploy(ctx, log, &params)
}

func loadFileConfig() (config.FileConfig, error) {
	if configPath != "" {
		return config.LoadFrom(config.ExpandPath(configPath))
	}
	return config.Load()
}

// paramsFrom merges the config file with the command-line flags. A flag that
// was set wins over the file value.
func paramsFrom(fileCfg config.FileConfig) config.Params {
	p := config.Params{
		RepoURL:    fileCfg.RepoURL,
		Branch:     fileCfg.Branch,
		Host:       fileCfg.Host,
		User:       fileCfg.User,
		KeyPath:    fileCfg.KeyPath,
		AppPort:    fileCfg.AppPort,
		PublicPort: fileCfg.PublicPort,
		WorkDir:    fileCfg.WorkDir,
	}
	if repoURL != "" {
		p.RepoURL = repoURL
	}
	if branch != "" {
		p.Branch = branch
	}
	if host != "" {
		p.Host = host
	}
	if remoteUser != "" {
		p.User = remoteUser
	}
	if keyPath != "" {
		p.KeyPath = keyPath
	}
	if appPort != 0 {
		p.AppPort = appPort
	}
	if publicPort != 0 {
		p.PublicPort = publicPort
	}
	if p.WorkDir == "" {
		p.WorkDir = config.DefaultConfig().WorkDir
	}
	if p.PublicPort == 0 {
		p.PublicPort = config.DefaultConfig().PublicPort
	}
	return p
}

// dialRemote opens the command channel and probes it with a trivial command.
// Any failure here is a connectivity failure: nothing on the remote host has
// been touched yet.
func dialRemote(ctx context.Context, p *config.Params, log *logging.Logger) (*sshchan.Client, error) {
	client, err := sshchan.Dial(sshchan.Config{
		Host:    p.Host,
		User:    p.User,
		KeyPath: p.KeyPath,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnreachable, err)
	}

	res, err := client.Execute(ctx, "true")
	if err != nil || !res.Ok() {
		client.Close()
		return nil, fmt.Errorf("%w: liveness probe failed on %s@%s", errUnreachable, p.User, p.Host)
	}
	log.Info("connected", "host", p.Host, "user", p.User)
	return client, nil
}

// runDeploy is the forward pipeline: source, host preparation, transfer,
// container, proxy, validation, summary.
func runDeploy(ctx context.Context, log *logging.Logger, p *config.Params) int {
	ux.Title("Skiff deploy")

	if !assumeYes {
		if err := config.Confirm(p); err != nil {
			ux.Warning("Aborted.")
			log.Info("run aborted by operator")
			return exitCodeFor(err)
		}
	}
	startedAt := time.Now()
	log.Info("deploy start",
		"repo", p.RepoURL, "branch", p.Branch,
		"host", p.Host, "user", p.User,
		"app_port", p.AppPort, "public_port", p.PublicPort,
		"token_present", p.HasToken())

	ux.Info(fmt.Sprintf("Connecting to %s@%s", p.User, p.Host))
	client, err := dialRemote(ctx, p, log)
	if err != nil {
		ux.Error(err.Error())
		log.Error("connect failed", "error", err.Error())
		return exitCodeFor(err)
	}
	defer client.Close()

	acquirer := source.New(log)
	engine := remote.NewEngine(client, log)
	transfer := remote.NewTransfer(client, client, remote.Endpoint{
		Host:    p.Host,
		User:    p.User,
		KeyPath: p.KeyPath,
	}, log)
	containers := remote.NewContainers(client, log)
	proxy := remote.NewProxy(client, log)
	validator := remote.NewValidator(client, containers, log)

	var checkoutDir string
	var checks []remote.Check

	stages := []stage{
		{"acquire source", func(ctx context.Context) error {
			dir, err := acquirer.Acquire(ctx, p)
			checkoutDir = dir
			return err
		}},
		{"prepare remote host", func(ctx context.Context) error {
			return engine.Reconcile(ctx, p.User)
		}},
		{"transfer artifacts", func(ctx context.Context) error {
			return transfer.Mirror(ctx, checkoutDir)
		}},
		{"build image", func(ctx context.Context) error {
			return containers.Build(ctx)
		}},
		{"start container", func(ctx context.Context) error {
			return containers.Run(ctx, p.AppPort)
		}},
		{"configure reverse proxy", func(ctx context.Context) error {
			return proxy.Configure(ctx, p.PublicPort, p.AppPort)
		}},
		{"validate deployment", func(ctx context.Context) error {
			result, err := validator.Validate(ctx, p.AppPort, p.PublicURL())
			checks = result
			return err
		}},
	}

	if err := runStages(ctx, log, stages); err != nil {
		log.Error("deploy failed", "error", err.Error())
		return exitCodeFor(err)
	}

	printSummary(log, p, startedAt, checks)
	return exitOK
}

// runCleanup is the inverse pipeline. Every teardown step is best-effort,
// so cleanup always exits zero once it has run through the list.
func runCleanup(ctx context.Context, log *logging.Logger, p *config.Params) int {
	ux.Title("Skiff cleanup")

	if !assumeYes {
		if err := config.ConfirmCleanup(p); err != nil {
			ux.Warning("Aborted.")
			log.Info("cleanup aborted by operator")
			return exitCodeFor(err)
		}
	}
	log.Info("cleanup start", "host", p.Host, "user", p.User)

	ux.Info(fmt.Sprintf("Connecting to %s@%s", p.User, p.Host))
	client, err := dialRemote(ctx, p, log)
	if err != nil {
		ux.Error(err.Error())
		log.Error("connect failed", "error", err.Error())
		return exitCodeFor(err)
	}
	defer client.Close()

	results := remote.NewCleaner(client, log).Teardown(ctx)
	for _, r := range results {
		if r.OK {
			ux.Success(r.Step)
		} else {
			ux.Warning(fmt.Sprintf("%s: %s", r.Step, r.Note))
		}
	}
	log.Info("cleanup complete", "steps", len(results))
	ux.Success("Cleanup complete.")
	return exitOK
}

// printSummary emits the one-shot deployment record to the operator and the
// run log.
func printSummary(log *logging.Logger, p *config.Params, startedAt time.Time, checks []remote.Check) {
	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}

	pairs := [][2]string{
		{"Deployed at", time.Now().Format(time.RFC3339)},
		{"Duration", time.Since(startedAt).Round(time.Second).String()},
		{"Repository", p.RepoURL},
		{"Branch", p.Branch},
		{"Target", fmt.Sprintf("%s@%s", p.User, p.Host)},
		{"Container", remote.ContainerName},
		{"Image", remote.ImageName},
		{"Remote directory", remote.RemoteDir},
		{"Proxy site", remote.ProxySite},
		{"Application port", fmt.Sprintf("%d", p.AppPort)},
		{"Checks passed", fmt.Sprintf("%d/%d", passed, len(checks))},
		{"URL", p.PublicURL()},
	}
	ux.Box(ux.KeyValue(pairs))
	ux.Success("Deployment complete.")

	log.Info("deploy complete",
		"repo", p.RepoURL, "branch", p.Branch,
		"host", p.Host, "user", p.User,
		"container", remote.ContainerName, "image", remote.ImageName,
		"remote_dir", remote.RemoteDir, "proxy_site", remote.ProxySite,
		"app_port", p.AppPort, "public_url", p.PublicURL(),
		"checks_passed", passed, "checks_total", len(checks),
		"duration", time.Since(startedAt).String())
}
