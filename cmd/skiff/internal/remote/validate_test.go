package remote

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/skiffworks/skiff/cmd/skiff/internal/sshchan"
)

// validateScript answers the four check commands. Unset fields pass.
type validateScript struct {
	engineDown    bool
	containerGone bool
	remoteProbe   bool // true = loopback curl fails
}

func (s validateScript) run(cmd string, sudo bool) (sshchan.Result, error) {
	switch {
	case strings.HasPrefix(cmd, "systemctl is-active docker"):
		if s.engineDown {
			return sshchan.Result{ExitStatus: 3, Stdout: "inactive"}, nil
		}
		return sshchan.Result{Stdout: "active"}, nil
	case strings.Contains(cmd, "docker ps"):
		if s.containerGone {
			return sshchan.Result{Stdout: ""}, nil
		}
		return sshchan.Result{Stdout: ContainerName + "\n"}, nil
	case strings.HasPrefix(cmd, "curl"):
		if s.remoteProbe {
			return sshchan.Result{ExitStatus: 7, Stderr: "Failed to connect"}, nil
		}
		return sshchan.Result{}, nil
	case strings.Contains(cmd, "docker logs"):
		return sshchan.Result{Stdout: "panic: listen failed"}, nil
	}
	return sshchan.Result{}, nil
}

func newTestValidator(fake *fakeRunner, publicErr error) *Validator {
	v := NewValidator(fake, NewContainers(fake, quietLogger()), quietLogger())
	v.probePublic = func(ctx context.Context, url string) error {
		return publicErr
	}
	return v
}

func TestValidate_AllPass(t *testing.T) {
	fake := &fakeRunner{script: validateScript{}.run}
	v := newTestValidator(fake, nil)

	checks, err := v.Validate(context.Background(), 5000, "http://203.0.113.7/")
	if err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if len(checks) != 4 {
		t.Fatalf("got %d checks, want 4", len(checks))
	}
	for _, c := range checks {
		if !c.Passed {
			t.Errorf("check %q failed", c.Name)
		}
		if c.ID == "" || c.Timestamp.IsZero() {
			t.Errorf("check %q missing ID or timestamp", c.Name)
		}
	}
}

func TestValidate_EngineDownIsFatal(t *testing.T) {
	fake := &fakeRunner{script: validateScript{engineDown: true}.run}
	v := newTestValidator(fake, nil)

	checks, err := v.Validate(context.Background(), 5000, "http://203.0.113.7/")
	if !errors.Is(err, ErrEngineDown) {
		t.Fatalf("Validate() = %v, want ErrEngineDown", err)
	}
	if len(checks) != 1 {
		t.Errorf("validation must stop at the failed mandatory check, got %d checks", len(checks))
	}
	if !fake.issued("docker logs") {
		t.Error("container logs must be captured on mandatory failure")
	}
}

func TestValidate_ContainerMissingIsFatal(t *testing.T) {
	fake := &fakeRunner{script: validateScript{containerGone: true}.run}
	v := newTestValidator(fake, nil)

	_, err := v.Validate(context.Background(), 5000, "http://203.0.113.7/")
	if !errors.Is(err, ErrContainerNotRunning) {
		t.Fatalf("Validate() = %v, want ErrContainerNotRunning", err)
	}
	if !fake.issued("docker logs") {
		t.Error("container logs must be captured on mandatory failure")
	}
}

func TestValidate_EitherProbeSuffices(t *testing.T) {
	// Public probe blocked (firewall), loopback answers: still a success.
	fake := &fakeRunner{script: validateScript{}.run}
	v := newTestValidator(fake, errors.New("dial tcp: i/o timeout"))

	checks, err := v.Validate(context.Background(), 5000, "http://203.0.113.7/")
	if err != nil {
		t.Fatalf("Validate() = %v, want success on loopback probe alone", err)
	}

	var publicCheck *Check
	for i := range checks {
		if checks[i].Name == "public probe" {
			publicCheck = &checks[i]
		}
	}
	if publicCheck == nil || publicCheck.Passed {
		t.Error("public probe should be recorded as failed")
	}
}

func TestValidate_NoProbeSucceeds(t *testing.T) {
	fake := &fakeRunner{script: validateScript{remoteProbe: true}.run}
	v := newTestValidator(fake, errors.New("connection refused"))

	checks, err := v.Validate(context.Background(), 5000, "http://203.0.113.7/")
	if !errors.Is(err, ErrNoProbe) {
		t.Fatalf("Validate() = %v, want ErrNoProbe", err)
	}
	if len(checks) != 4 {
		t.Errorf("all checks should still be recorded, got %d", len(checks))
	}
}

func TestValidate_RemoteProbeCommand(t *testing.T) {
	fake := &fakeRunner{script: validateScript{}.run}
	v := newTestValidator(fake, nil)

	if _, err := v.Validate(context.Background(), 9000, "http://203.0.113.7/"); err != nil {
		t.Fatal(err)
	}
	if !fake.issued("curl -sS -o /dev/null -m 5 http://127.0.0.1:9000/") {
		t.Errorf("loopback probe command wrong, calls: %+v", fake.calls)
	}
}
