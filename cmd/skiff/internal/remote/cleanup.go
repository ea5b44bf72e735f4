package remote

import (
	"context"
	"fmt"

	"github.com/skiffworks/skiff/cmd/skiff/internal/sshchan"
	"github.com/skiffworks/skiff/pkg/logging"
)

// CleanupResult reports one teardown step.
type CleanupResult struct {
	Step string
	OK   bool
	Note string
}

// Cleaner is the inverse pipeline: it removes every artifact the deploy
// pipeline creates. Each step is best-effort — cleanup tries everything and
// reports nothing as fatal, so it always runs to the end regardless of how
// much of a deployment actually exists.
type Cleaner struct {
	r          Runner
	containers *Containers
	log        *logging.Logger
}

// NewCleaner creates the cleanup reconciler.
func NewCleaner(r Runner, log *logging.Logger) *Cleaner {
	return &Cleaner{
		r:          r,
		containers: NewContainers(r, log),
		log:        log,
	}
}

// Teardown removes the container, image, proxy site (available and
// enabled), reloads the proxy, and deletes the remote working directory.
func (c *Cleaner) Teardown(ctx context.Context) []CleanupResult {
	var results []CleanupResult
	step := func(name, command string, sudo bool) {
		var res sshchan.Result
		var err error
		if sudo {
			res, err = c.r.ExecuteSudo(ctx, command)
		} else {
			res, err = engineExec(ctx, c.r, command)
		}
		ok := err == nil && res.Ok()
		note := ""
		if !ok {
			if err != nil {
				note = err.Error()
			} else {
				note = res.Stderr
			}
			c.log.Warn("cleanup step failed, continuing", "step", name, "note", note)
		} else {
			c.log.Info("cleanup step complete", "step", name)
		}
		results = append(results, CleanupResult{Step: name, OK: ok, Note: note})
	}

	step("remove container", "docker rm -f "+ContainerName, false)
	step("remove image", "docker rmi "+ImageName, false)
	step("remove proxy site", fmt.Sprintf("rm -f %s %s", siteEnabledPath, siteAvailablePath), true)
	step("reload proxy", "nginx -t && systemctl reload nginx", true)
	step("remove working directory", "rm -rf "+sshchan.Quote(RemoteDir), false)

	return results
}
