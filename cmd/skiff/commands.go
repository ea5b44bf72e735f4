// Copyright (C) 2025 Skiff Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/skiffworks/skiff/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	repoURL    string
	branch     string
	host       string
	remoteUser string
	keyPath    string
	appPort    int
	publicPort int
	cleanup    bool
	assumeYes  bool
	plain      bool
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "skiff",
		Short: "Deploy a containerized web application to a remote host over SSH",
		Long: `Skiff clones a git repository, prepares a remote host (docker, nginx),
mirrors the working copy, builds and runs the container, and routes a
public port to it through a reverse proxy. Runs are idempotent: every
artifact has a fixed name and is replaced, not duplicated, so a re-run
converges to the same state.

With --cleanup the same artifacts are removed instead.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if plain {
				ux.SetPlain(true)
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			code := runRoot(cmd)
			if code != exitOK {
				os.Exit(code)
			}
		},
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "config file (default ~/.skiff/skiff.yaml)")
	flags.StringVar(&repoURL, "repo", "", "git repository URL (HTTPS or SSH)")
	flags.StringVar(&branch, "branch", "", "branch to deploy")
	flags.StringVar(&host, "host", "", "remote host address")
	flags.StringVar(&remoteUser, "user", "", "remote login user")
	flags.StringVar(&keyPath, "key", "", "SSH private key path")
	flags.IntVar(&appPort, "app-port", 0, "port the application listens on inside the container")
	flags.IntVar(&publicPort, "public-port", 0, "public port nginx serves on")
	flags.BoolVar(&cleanup, "cleanup", false, "remove every deployment artifact instead of deploying")
	flags.BoolVarP(&assumeYes, "yes", "y", false, "skip the interactive confirmation")
	flags.BoolVar(&plain, "plain", false, "disable colored output")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}
