// Package source obtains the local working copy that later stages transfer
// and build. It shells out to the git CLI; the checkout cache lives under
// the configured work directory, keyed by repository name.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/skiffworks/skiff/cmd/skiff/config"
	"github.com/skiffworks/skiff/pkg/logging"
)

var (
	// ErrNoBuildDescriptor means the checkout has nothing to deploy: no
	// Dockerfile and no compose file at its root.
	ErrNoBuildDescriptor = errors.New("no container build descriptor in checkout")

	// ErrClone is wrapped into fatal clone failures.
	ErrClone = errors.New("clone failed")

	// ErrPull is wrapped into fatal pull failures on a cached checkout.
	ErrPull = errors.New("pull failed")
)

// buildDescriptors are the recognized build entry points, checked at the
// checkout root after acquisition.
var buildDescriptors = []string{
	"Dockerfile",
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// gitRunner runs a git subcommand in dir and returns its combined streams.
// The indirection exists for tests; execGit is the real implementation.
type gitRunner func(ctx context.Context, dir string, args ...string) (stdout, stderr string, err error)

func execGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Acquirer produces a ready local working copy of the requested branch.
type Acquirer struct {
	git gitRunner
	log *logging.Logger
}

// New creates an Acquirer backed by the git CLI.
func New(log *logging.Logger) *Acquirer {
	return &Acquirer{git: execGit, log: log}
}

// Acquire returns the path of a working copy of params.Branch, reusing the
// cached checkout when present (switch + pull) and cloning fresh otherwise.
//
// Behavior matches the reconciliation contract:
//   - fetch/checkout of the requested branch on a cached copy is
//     best-effort (logged, run continues on the current branch);
//   - a failed pull is fatal;
//   - clone of a missing branch falls back to the repository's default
//     branch, and the divergence is logged but not an error;
//   - any other clone failure is fatal;
//   - absence of a build descriptor after acquisition is fatal.
func (a *Acquirer) Acquire(ctx context.Context, params *config.Params) (string, error) {
	workDir := config.ExpandPath(params.WorkDir)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", fmt.Errorf("create work directory: %w", err)
	}
	dir := filepath.Join(workDir, params.RepoName())

	if a.isRepo(ctx, dir) {
		if err := a.refresh(ctx, dir, params.Branch); err != nil {
			return "", err
		}
	} else {
		if err := a.clone(ctx, dir, params); err != nil {
			return "", err
		}
	}

	if !hasBuildDescriptor(dir) {
		return "", fmt.Errorf("%w: expected one of %s at %s",
			ErrNoBuildDescriptor, strings.Join(buildDescriptors, ", "), dir)
	}
	return dir, nil
}

// isRepo reports whether dir is a usable git working copy.
func (a *Acquirer) isRepo(ctx context.Context, dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return false
	}
	_, _, err := a.git(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// refresh switches a cached checkout to the requested branch (best-effort)
// and pulls latest (fatal on failure).
func (a *Acquirer) refresh(ctx context.Context, dir, branch string) error {
	a.log.Info("reusing cached checkout", "dir", dir)

	current, _, err := a.git(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	current = strings.TrimSpace(current)
	if err == nil && current != branch {
		if _, stderr, err := a.git(ctx, dir, "fetch", "origin"); err != nil {
			a.log.Warn("fetch failed, continuing with local refs",
				"error", strings.TrimSpace(stderr))
		}
		if _, stderr, err := a.git(ctx, dir, "checkout", branch); err != nil {
			a.log.Warn("branch switch failed, staying on current branch",
				"requested", branch, "current", current,
				"error", strings.TrimSpace(stderr))
		}
	}

	if _, stderr, err := a.git(ctx, dir, "pull", "--ff-only"); err != nil {
		return fmt.Errorf("%w: %s", ErrPull, strings.TrimSpace(stderr))
	}
	return nil
}

// clone creates a fresh checkout, trying the requested branch first and
// falling back to the repository default branch when it does not exist
// upstream.
func (a *Acquirer) clone(ctx context.Context, dir string, params *config.Params) error {
	url, scrub, err := a.cloneURL(params)
	if err != nil {
		return err
	}

	a.log.Info("cloning repository", "repo", params.RepoName(), "branch", params.Branch)
	_, stderr, err := a.git(ctx, "", "clone", "--branch", params.Branch, url, dir)
	if err == nil {
		return nil
	}

	if branchNotFound(stderr) {
		// The requested branch does not exist upstream; deploy the default
		// branch instead. Availability over strictness: divergence is
		// logged, not fatal.
		a.log.Warn("branch not found upstream, cloning default branch",
			"requested", params.Branch)
		_, stderr, err = a.git(ctx, "", "clone", url, dir)
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrClone, scrub(strings.TrimSpace(stderr)))
}

// cloneURL returns the transport URL for the one clone operation, embedding
// the access token for HTTPS remotes when one is configured. The returned
// scrub function removes the credential from any text that might be logged
// or wrapped into an error.
func (a *Acquirer) cloneURL(params *config.Params) (string, func(string) string, error) {
	identity := func(s string) string { return s }
	if !params.HasToken() || !strings.HasPrefix(params.RepoURL, "https://") {
		return params.RepoURL, identity, nil
	}

	buf, err := params.OpenToken()
	if err != nil {
		return "", nil, err
	}
	// The buffer's backing memory is wiped on Destroy; clone the credential
	// for the lifetime of the clone operation only.
	token := strings.Clone(buf.String())
	buf.Destroy()
	url := "https://" + token + "@" + strings.TrimPrefix(params.RepoURL, "https://")
	scrub := func(s string) string {
		return strings.ReplaceAll(s, token, "***")
	}
	return url, scrub, nil
}

func branchNotFound(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "not found in upstream") ||
		strings.Contains(s, "could not find remote branch")
}

func hasBuildDescriptor(dir string) bool {
	for _, name := range buildDescriptors {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
