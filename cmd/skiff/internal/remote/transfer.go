package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"
	"github.com/skiffworks/skiff/cmd/skiff/internal/sshchan"
	"github.com/skiffworks/skiff/pkg/logging"
)

// ErrTransfer is wrapped into fatal artifact transfer failures.
var ErrTransfer = errors.New("artifact transfer failed")

// SFTPDialer opens a file-transfer subsystem on the existing channel.
// Satisfied by *sshchan.Client.
type SFTPDialer interface {
	SFTP() (*sftp.Client, error)
}

// Endpoint describes the transfer target for the rsync command line.
type Endpoint struct {
	Host    string
	Port    int
	User    string
	KeyPath string
}

// Transfer mirrors the local working copy into the fixed remote directory.
// rsync is the preferred path (delta transfer, deletions mirrored); a full
// recursive SFTP copy after clearing the remote directory is the fallback.
// Both paths end in the same remote state.
type Transfer struct {
	r        Runner
	dialer   SFTPDialer
	endpoint Endpoint
	log      *logging.Logger

	// lookPath, runLocal, and openFS are exec.LookPath, local command
	// execution, and the SFTP subsystem opener — injectable for tests.
	lookPath func(string) (string, error)
	runLocal func(ctx context.Context, name string, args ...string) (string, error)
	openFS   func() (remoteFS, func() error, error)
}

// NewTransfer creates the transfer reconciler.
func NewTransfer(r Runner, dialer SFTPDialer, endpoint Endpoint, log *logging.Logger) *Transfer {
	return &Transfer{
		r:        r,
		dialer:   dialer,
		endpoint: endpoint,
		log:      log,
		lookPath: exec.LookPath,
		runLocal: runLocalCommand,
		openFS: func() (remoteFS, func() error, error) {
			client, err := dialer.SFTP()
			if err != nil {
				return nil, nil, err
			}
			return sftpFS{client}, client.Close, nil
		},
	}
}

func runLocalCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// Mirror synchronizes localDir to the remote working directory.
func (t *Transfer) Mirror(ctx context.Context, localDir string) error {
	if res, err := t.r.Execute(ctx, "mkdir -p "+sshchan.Quote(RemoteDir)); err != nil || !res.Ok() {
		return fmt.Errorf("%w: create remote directory: %s", ErrTransfer, res.Stderr)
	}

	if _, err := t.lookPath("rsync"); err == nil {
		return t.rsync(ctx, localDir)
	}
	t.log.Warn("rsync not found locally, falling back to full copy")
	return t.sftpCopy(ctx, localDir)
}

// rsync performs the delta transfer. Deletions are mirrored so removed
// files do not linger on the host.
func (t *Transfer) rsync(ctx context.Context, localDir string) error {
	port := t.endpoint.Port
	if port == 0 {
		port = 22
	}
	sshCmd := fmt.Sprintf("ssh -i %s -p %d -o StrictHostKeyChecking=accept-new", t.endpoint.KeyPath, port)
	target := fmt.Sprintf("%s@%s:%s/", t.endpoint.User, t.endpoint.Host, RemoteDir)

	// .git is excluded on both transfer paths; the host needs the working
	// tree, not the history.
	args := []string{"-az", "--delete", "--exclude=.git", "-e", sshCmd, localDir + "/", target}
	t.log.Info("mirroring working copy", "method", "rsync", "target", target)

	out, err := t.runLocal(ctx, "rsync", args...)
	if err != nil {
		return fmt.Errorf("%w: rsync: %s", ErrTransfer, strings.TrimSpace(out))
	}
	return nil
}

// sftpCopy clears the remote directory and re-uploads the tree in full.
// Clearing first is what makes the fallback converge to the same state as
// the delta path.
func (t *Transfer) sftpCopy(ctx context.Context, localDir string) error {
	clear := fmt.Sprintf("rm -rf %s && mkdir -p %s", sshchan.Quote(RemoteDir), sshchan.Quote(RemoteDir))
	if res, err := t.r.Execute(ctx, clear); err != nil || !res.Ok() {
		return fmt.Errorf("%w: clear remote directory: %s", ErrTransfer, res.Stderr)
	}

	fs, closeFS, err := t.openFS()
	if err != nil {
		return fmt.Errorf("%w: open sftp: %v", ErrTransfer, err)
	}
	defer closeFS()

	t.log.Info("mirroring working copy", "method", "sftp", "target", RemoteDir)
	if err := uploadTree(ctx, fs, localDir, RemoteDir); err != nil {
		return fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	return nil
}

// remoteFS is the minimal surface uploadTree needs; sftpFS adapts the real
// client, tests use an in-memory fake.
type remoteFS interface {
	MkdirAll(path string) error
	Create(path string) (io.WriteCloser, error)
}

type sftpFS struct {
	c *sftp.Client
}

func (f sftpFS) MkdirAll(path string) error {
	return f.c.MkdirAll(path)
}

func (f sftpFS) Create(path string) (io.WriteCloser, error) {
	return f.c.Create(path)
}

// uploadTree copies every regular file under localDir to remoteDir,
// recreating the directory structure. The .git directory is skipped; the
// host needs the working tree, not the history.
func uploadTree(ctx context.Context, fs remoteFS, localDir, remoteDir string) error {
	return filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}

		target := path.Join(remoteDir, filepath.ToSlash(rel))
		if d.IsDir() {
			return fs.MkdirAll(target)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := fs.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			return err
		}
		return dst.Close()
	})
}
