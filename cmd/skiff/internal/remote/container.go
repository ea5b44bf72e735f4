package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/skiffworks/skiff/cmd/skiff/internal/sshchan"
	"github.com/skiffworks/skiff/pkg/logging"
)

var (
	// ErrBuild means the image build failed; nothing can be deployed.
	ErrBuild = errors.New("image build failed")

	// ErrContainerStart means neither bind variant produced a running
	// container.
	ErrContainerStart = errors.New("container failed to start")
)

// Containers drives the application container through its lifecycle:
// absent -> built -> running, with the replace step making repeat runs
// converge on exactly one container under the fixed name.
type Containers struct {
	r   Runner
	log *logging.Logger
}

// NewContainers creates the container lifecycle manager.
func NewContainers(r Runner, log *logging.Logger) *Containers {
	return &Containers{r: r, log: log}
}

// Build builds the image from the transferred working copy under the fixed
// image tag. Build failure is fatal.
func (c *Containers) Build(ctx context.Context) error {
	cmd := fmt.Sprintf("docker build -t %s %s", ImageName, sshchan.Quote(RemoteDir))
	c.log.Info("building image", "image", ImageName)

	res, err := engineExec(ctx, c.r, cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if !res.Ok() {
		return fmt.Errorf("%w: %v", ErrBuild,
			NewCommandError("docker build", res.ExitStatus, res.Stderr, nil))
	}
	return nil
}

// Replace force-removes any container under the fixed name. Absence is not
// an error; this is the idempotent-replace half of Run.
func (c *Containers) Replace(ctx context.Context) {
	cmd := "docker rm -f " + ContainerName
	res, err := engineExec(ctx, c.r, cmd)
	if err != nil || !res.Ok() {
		// "No such container" lands here on engines that treat rm -f of a
		// missing name as an error. Either way there is nothing left.
		c.log.Debug("no previous container to remove", "container", ContainerName)
		return
	}
	c.log.Info("replaced previous container", "container", ContainerName)
}

// Run starts a fresh container from the built image, binding the
// application port. The loopback-only bind is preferred so only the local
// reverse proxy can reach the application; binding on all interfaces is the
// fallback. Restart policy: always restart unless explicitly stopped.
func (c *Containers) Run(ctx context.Context, appPort int) error {
	// Idempotent replace: clear the fixed name first so a redeploy starts a
	// fresh container instead of colliding with the previous one.
	c.Replace(ctx)

	binds := []struct {
		flag string
		note string
	}{
		{fmt.Sprintf("127.0.0.1:%d:%d", appPort, appPort), "loopback"},
		{fmt.Sprintf("%d:%d", appPort, appPort), "all interfaces"},
	}

	var lastErr error
	for _, bind := range binds {
		cmd := fmt.Sprintf("docker run -d --name %s --restart unless-stopped -p %s %s",
			ContainerName, bind.flag, ImageName)

		res, err := engineExec(ctx, c.r, cmd)
		if err == nil && res.Ok() {
			c.log.Info("container running", "container", ContainerName,
				"bind", bind.note, "port", appPort)
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = NewCommandError("docker run", res.ExitStatus, res.Stderr, nil)
		}
		c.log.Warn("container start failed, trying next bind variant",
			"bind", bind.note, "error", lastErr.Error())

		// A failed run can leave a created-but-dead container holding the
		// name; clear it before the next attempt.
		c.Replace(ctx)
	}
	return fmt.Errorf("%w: %v", ErrContainerStart, lastErr)
}

// Logs captures recent container output for failure diagnostics. Returns
// an empty string when logs cannot be fetched.
func (c *Containers) Logs(ctx context.Context) string {
	res, err := engineExec(ctx, c.r, "docker logs --tail 50 "+ContainerName)
	if err != nil {
		return ""
	}
	// docker logs writes container output on both streams.
	return strings.TrimSpace(res.Stdout + res.Stderr)
}
