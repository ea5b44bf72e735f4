package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skiffworks/skiff/pkg/logging"
)

var (
	// ErrEngineDown means the container engine service is not active.
	ErrEngineDown = errors.New("container engine service is not active")

	// ErrContainerNotRunning means the engine does not report the named
	// container as running.
	ErrContainerNotRunning = errors.New("container is not running")

	// ErrNoProbe means neither the remote loopback probe nor the public
	// probe got any HTTP response.
	ErrNoProbe = errors.New("no HTTP probe succeeded")
)

// Probe timeouts per check.
const (
	remoteProbeTimeout = 5 * time.Second
	publicProbeTimeout = 7 * time.Second
)

// Check is one independently reportable validation result.
type Check struct {
	ID        string
	Name      string
	Passed    bool
	Mandatory bool
	Detail    string
	Timestamp time.Time
}

// Validator confirms service-level health after the pipeline has run.
// Checks 1-2 (engine active, container running) are mandatory; the run
// passes if either HTTP probe answers — full public reachability is not
// required when the application is confirmed responsive on the host itself.
type Validator struct {
	r          Runner
	containers *Containers
	log        *logging.Logger

	// probePublic issues the HTTP probe from the controlling machine.
	// Any response counts, whatever the status code. Injectable for tests.
	probePublic func(ctx context.Context, url string) error
}

// NewValidator creates the deployment validator.
func NewValidator(r Runner, containers *Containers, log *logging.Logger) *Validator {
	return &Validator{
		r:           r,
		containers:  containers,
		log:         log,
		probePublic: probeHTTP,
	}
}

func probeHTTP(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, publicProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Validate runs all four checks and returns every result along with the
// first fatal error, if any. Container logs are captured into the run log
// when a mandatory check fails.
func (v *Validator) Validate(ctx context.Context, appPort int, publicURL string) ([]Check, error) {
	var checks []Check
	record := func(name string, mandatory, passed bool, detail string) {
		checks = append(checks, Check{
			ID:        uuid.NewString(),
			Name:      name,
			Passed:    passed,
			Mandatory: mandatory,
			Detail:    detail,
			Timestamp: time.Now(),
		})
		v.log.Info("validation check", "check", name, "passed", passed, "detail", detail)
	}

	// 1. Engine service active.
	res, err := v.r.Execute(ctx, "systemctl is-active docker")
	engineUp := err == nil && res.Ok()
	record("engine service active", true, engineUp, strings.TrimSpace(res.Stdout+res.Stderr))
	if !engineUp {
		v.captureLogs(ctx)
		return checks, ErrEngineDown
	}

	// 2. Named container reported running by the engine's own listing.
	listCmd := fmt.Sprintf("docker ps --filter name=^%s$ --format '{{.Names}}'", ContainerName)
	res, err = engineExec(ctx, v.r, listCmd)
	containerUp := err == nil && res.Ok() && strings.Contains(res.Stdout, ContainerName)
	record("container running", true, containerUp, strings.TrimSpace(res.Stdout))
	if !containerUp {
		v.captureLogs(ctx)
		return checks, ErrContainerNotRunning
	}

	// 3. HTTP probe from the remote host's loopback.
	remoteCmd := fmt.Sprintf("curl -sS -o /dev/null -m %d http://127.0.0.1:%d/",
		int(remoteProbeTimeout.Seconds()), appPort)
	res, err = v.r.Execute(ctx, remoteCmd)
	remoteOK := err == nil && res.Ok()
	record("remote loopback probe", false, remoteOK, strings.TrimSpace(res.Stderr))

	// 4. HTTP probe from the controlling machine.
	probeErr := v.probePublic(ctx, publicURL)
	publicOK := probeErr == nil
	detail := ""
	if probeErr != nil {
		detail = probeErr.Error()
	}
	record("public probe", false, publicOK, detail)

	if !remoteOK && !publicOK {
		v.captureLogs(ctx)
		return checks, ErrNoProbe
	}
	if !publicOK {
		v.log.Warn("public probe failed but the application answers locally; " +
			"check firewall rules for the public port")
	}
	return checks, nil
}

// captureLogs surfaces recent container output into the run log for
// diagnostics.
func (v *Validator) captureLogs(ctx context.Context) {
	logs := v.containers.Logs(ctx)
	if logs == "" {
		return
	}
	v.log.Error("container logs", "logs", logs)
}
