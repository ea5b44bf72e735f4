package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/skiffworks/skiff/cmd/skiff/internal/sshchan"
	"github.com/skiffworks/skiff/pkg/logging"
)

// ErrInstall is wrapped into fatal prerequisite installation failures.
// There is no partial-install recovery; the operator re-runs after fixing
// the host.
var ErrInstall = errors.New("prerequisite installation failed")

// Engine reconciles the required remote packages: the container engine and
// the reverse proxy. Present packages are skipped; absent ones go through a
// fixed apt installation sequence.
type Engine struct {
	r   Runner
	log *logging.Logger
}

// NewEngine creates a prerequisite reconciler over the given channel.
func NewEngine(r Runner, log *logging.Logger) *Engine {
	return &Engine{r: r, log: log}
}

// dockerInstallSequence is the ordered, all-or-nothing install path for the
// container engine: keyring import, package index registration, package
// install, service enable+start.
var dockerInstallSequence = []string{
	`install -m 0755 -d /etc/apt/keyrings && curl -fsSL https://download.docker.com/linux/ubuntu/gpg -o /etc/apt/keyrings/docker.asc && chmod a+r /etc/apt/keyrings/docker.asc`,
	`echo "deb [arch=$(dpkg --print-architecture) signed-by=/etc/apt/keyrings/docker.asc] https://download.docker.com/linux/ubuntu $(. /etc/os-release && echo "$VERSION_CODENAME") stable" > /etc/apt/sources.list.d/docker.list && apt-get update`,
	`DEBIAN_FRONTEND=noninteractive apt-get install -y docker-ce docker-ce-cli containerd.io docker-buildx-plugin`,
	`systemctl enable --now docker`,
}

// nginxInstallSequence installs the reverse proxy from the distro index.
var nginxInstallSequence = []string{
	`DEBIAN_FRONTEND=noninteractive apt-get install -y nginx`,
	`systemctl enable --now nginx`,
}

// Reconcile ensures docker and nginx are installed and running, and grants
// the login user container-engine group membership (best-effort; elevated
// execution remains the fallback when the grant cannot be applied).
func (e *Engine) Reconcile(ctx context.Context, user string) error {
	// Index refresh ahead of the probes is best-effort: a stale index only
	// matters if an install sequence actually runs, and the docker sequence
	// refreshes again after registering its repository.
	if res, err := e.r.ExecuteSudo(ctx, "apt-get update"); err != nil || !res.Ok() {
		e.log.Warn("package index refresh failed, continuing", "stderr", res.Stderr)
	}

	if err := e.ensure(ctx, "docker", dockerInstallSequence); err != nil {
		return err
	}
	if err := e.ensure(ctx, "nginx", nginxInstallSequence); err != nil {
		return err
	}

	e.grantEngineGroup(ctx, user)
	return nil
}

// ensure probes for a binary and runs its install sequence when absent.
// Every sequence step is fatal.
func (e *Engine) ensure(ctx context.Context, binary string, sequence []string) error {
	res, err := e.r.Execute(ctx, "command -v "+binary)
	if err != nil {
		return fmt.Errorf("probe for %s: %w", binary, err)
	}
	if res.Ok() {
		e.log.Info("prerequisite present, skipping install", "package", binary)
		return nil
	}

	e.log.Info("prerequisite absent, installing", "package", binary)
	for _, step := range sequence {
		res, err := e.r.ExecuteSudo(ctx, step)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInstall, binary, err)
		}
		if !res.Ok() {
			return fmt.Errorf("%w: %s: %v", ErrInstall, binary,
				NewCommandError(step, res.ExitStatus, res.Stderr, nil))
		}
	}
	e.log.Info("prerequisite installed", "package", binary)
	return nil
}

// grantEngineGroup adds the login user to the docker group so later engine
// calls work without elevation. Best-effort: a failure is logged and the
// run continues on the sudo fallback.
func (e *Engine) grantEngineGroup(ctx context.Context, user string) {
	cmd := "usermod -aG docker " + sshchan.Quote(user)
	res, err := e.r.ExecuteSudo(ctx, cmd)
	if err != nil || !res.Ok() {
		e.log.Warn("could not grant docker group membership, will rely on sudo",
			"user", user, "stderr", res.Stderr)
		return
	}
	e.log.Info("docker group membership ensured", "user", user)
}
