// Package remote holds the reconcilers that mutate the deployment host:
// prerequisite install, artifact transfer, container lifecycle, reverse
// proxy configuration, validation, and teardown. Everything goes through a
// Runner so the reconcilers never know about transport details.
package remote

import (
	"context"
	"strings"

	"github.com/skiffworks/skiff/cmd/skiff/internal/sshchan"
)

// Fixed remote artifact names. These are the reconciliation keys: every
// stage that creates a resource first removes whatever exists under the
// same name, which is what makes repeat runs converge instead of piling up
// duplicates.
const (
	// ContainerName is the single application container.
	ContainerName = "skiff-app"

	// ImageName tags the built application image.
	ImageName = "skiff-app:latest"

	// RemoteDir is the working directory on the host, relative to the
	// login user's home.
	RemoteDir = "skiff/app"

	// ProxySite is the nginx site identifier.
	ProxySite = "skiff-app"
)

// Remote proxy file paths derived from ProxySite.
const (
	siteAvailablePath = "/etc/nginx/sites-available/" + ProxySite
	siteEnabledPath   = "/etc/nginx/sites-enabled/" + ProxySite
)

// Runner executes one command at a time on the deployment host.
// *sshchan.Client is the production implementation; tests substitute a
// scripted fake.
type Runner interface {
	// Execute runs a command under the login identity. A non-zero remote
	// exit comes back in the Result; the error is reserved for channel
	// failures.
	Execute(ctx context.Context, command string) (sshchan.Result, error)

	// ExecuteSudo runs a command with elevated rights (non-interactive).
	ExecuteSudo(ctx context.Context, command string) (sshchan.Result, error)
}

// engineExec runs a container engine command, retrying with elevation when
// the socket denies the login user. Group membership is granted best-effort
// during prerequisite reconciliation, so elevation stays available as the
// fallback path.
func engineExec(ctx context.Context, r Runner, command string) (sshchan.Result, error) {
	res, err := r.Execute(ctx, command)
	if err != nil {
		return res, err
	}
	if !res.Ok() && permissionDenied(res.Stderr) {
		return r.ExecuteSudo(ctx, command)
	}
	return res, nil
}

func permissionDenied(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "permission denied") ||
		strings.Contains(s, "got permission denied while trying to connect")
}
