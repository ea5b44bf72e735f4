// Package sshchan is the remote command channel every deployment stage runs
// through. One Client is opened per run, bound to a single host and login
// identity, and closed when the run ends.
//
// Host verification is trust-on-first-use: the first contact with a host
// records its key in skiff's own known-hosts file and trusts it from then
// on; a later key mismatch is an error, never an interactive prompt.
package sshchan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultDialTimeout bounds the TCP connect plus handshake.
const DefaultDialTimeout = 15 * time.Second

// Result captures one remote command execution.
type Result struct {
	// ExitStatus is the remote process exit code; -1 when the command never
	// ran to completion (channel failure, context cancellation).
	ExitStatus int

	Stdout string
	Stderr string
}

// Ok reports whether the command exited zero.
func (r Result) Ok() bool {
	return r.ExitStatus == 0
}

// Config identifies the remote endpoint and credentials for a session.
type Config struct {
	Host string
	Port int // 0 means 22

	User    string
	KeyPath string

	// KnownHostsPath is where first-use host keys are recorded.
	// Empty means ~/.skiff/known_hosts.
	KnownHostsPath string

	DialTimeout time.Duration
}

// Client is an open SSH session factory. Safe for sequential use; the
// pipeline issues one command at a time.
type Client struct {
	client *ssh.Client
	cfg    Config
}

// Dial connects and authenticates. Errors here are connectivity failures
// (host unreachable, credential rejected, host key mismatch) and the caller
// treats them as fatal before any remote mutation has happened.
func Dial(cfg Config) (*Client, error) {
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", cfg.KeyPath, err)
	}

	hostKeyCallback, err := tofuCallback(cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("prepare known hosts: %w", err)
	}

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))
	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to %s@%s: %w", cfg.User, addr, err)
	}
	return &Client{client: client, cfg: cfg}, nil
}

// Execute runs a command on the remote host under the configured identity.
// A non-zero remote exit is reported through Result, not the error: the
// error is reserved for channel-level failures where the command may not
// have run at all.
func (c *Client) Execute(ctx context.Context, command string) (Result, error) {
	return c.run(ctx, command)
}

// ExecuteSudo runs a command with elevated rights. Non-interactive sudo
// only; a password prompt makes the command fail rather than hang.
func (c *Client) ExecuteSudo(ctx context.Context, command string) (Result, error) {
	return c.run(ctx, "sudo -n sh -c "+Quote(command))
}

// SFTP opens a file-transfer subsystem over the existing connection. The
// caller owns the returned client and must Close it.
func (c *Client) SFTP() (*sftp.Client, error) {
	return sftp.NewClient(c.client)
}

// Close tears down the session. The Client is unusable afterwards.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) run(ctx context.Context, command string) (Result, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return Result{ExitStatus: -1}, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Closing the session tears down the remote process's channel.
		session.Close()
		<-done
		return Result{ExitStatus: -1, Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	case err := <-done:
		result := Result{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if err == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitStatus = exitErr.ExitStatus()
			return result, nil
		}
		result.ExitStatus = -1
		return result, fmt.Errorf("remote execution: %w", err)
	}
}

// Quote wraps s in single quotes for safe interpolation into a remote shell
// command line. Embedded single quotes become the '\'' dance. This is the
// one boundary where untrusted values (paths, branch names, host names) meet
// the remote shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// tofuCallback builds the trust-on-first-use host key policy backed by
// knownHostsPath.
func tofuCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	path := knownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".skiff", "known_hosts")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return nil, err
	}
	f.Close()

	check, err := knownhosts.New(path)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			// First contact: record the key and trust it.
			return appendKnownHost(path, hostname, key)
		}
		return err
	}, nil
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("record host key: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("record host key: %w", err)
	}
	return nil
}
